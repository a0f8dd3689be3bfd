package events

// KindSttResult identifies a finalized server-side transcription.
const KindSttResult Kind = "stt.final"

// SttResult carries the server's transcription of what the user said.
type SttResult struct {
	Base
	Text string
}

func (e SttResult) String() string { return e.Text }

// NewSttResult creates an stt result event.
func NewSttResult(text string) SttResult {
	return SttResult{Base: NewBase(KindSttResult), Text: text}
}
