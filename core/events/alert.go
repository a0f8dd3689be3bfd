package events

// KindAlertNotice identifies a server-initiated user alert.
const KindAlertNotice Kind = "alert.raised"

// AlertNotice carries a server-initiated alert for the user-facing surface.
type AlertNotice struct {
	Base
	Status  string
	Message string
	Emotion string
}

// NewAlertNotice creates an alert notice event.
func NewAlertNotice(status, message, emotion string) AlertNotice {
	return AlertNotice{Base: NewBase(KindAlertNotice), Status: status, Message: message, Emotion: emotion}
}
