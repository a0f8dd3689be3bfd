package events

// KindTtsStarted identifies the start of server speech synthesis.
const KindTtsStarted Kind = "tts.started"

// TtsStarted marks the server starting to synthesize a reply.
type TtsStarted struct{ Base }

// NewTtsStarted creates a tts started event.
func NewTtsStarted() TtsStarted {
	return TtsStarted{Base: NewBase(KindTtsStarted)}
}

// KindTtsStopped identifies the end of server speech synthesis.
const KindTtsStopped Kind = "tts.stopped"

// TtsStopped marks the server finishing the current reply.
type TtsStopped struct{ Base }

// NewTtsStopped creates a tts stopped event.
func NewTtsStopped() TtsStopped {
	return TtsStopped{Base: NewBase(KindTtsStopped)}
}

// KindTtsSentence identifies the start of a spoken sentence.
const KindTtsSentence Kind = "tts.sentence_started"

// TtsSentence carries the text of the sentence about to be spoken.
type TtsSentence struct {
	Base
	Text string
}

// NewTtsSentence creates a tts sentence event.
func NewTtsSentence(text string) TtsSentence {
	return TtsSentence{Base: NewBase(KindTtsSentence), Text: text}
}
