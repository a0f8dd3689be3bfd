package events

// KindLlmEmotion identifies an emotion hint from the assistant.
const KindLlmEmotion Kind = "llm.emotion_updated"

// LlmEmotion carries an emotion hint for the user-facing surface.
type LlmEmotion struct {
	Base
	Emotion string
}

// NewLlmEmotion creates an llm emotion event.
func NewLlmEmotion(emotion string) LlmEmotion {
	return LlmEmotion{Base: NewBase(KindLlmEmotion), Emotion: emotion}
}
