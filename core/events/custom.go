package events

import "encoding/json"

// KindCustomMessage identifies an application-defined payload.
const KindCustomMessage Kind = "custom.payload"

// CustomMessage carries an application-defined payload shown on the
// user-facing surface.
type CustomMessage struct {
	Base
	Payload json.RawMessage
}

// NewCustomMessage creates a custom message event.
func NewCustomMessage(payload json.RawMessage) CustomMessage {
	return CustomMessage{Base: NewBase(KindCustomMessage), Payload: payload}
}
