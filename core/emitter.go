package orchestration

import "github.com/junodevice/juno-core/core/events"

type eventEmitter func(events.Event)

// observerCallbacks let an embedder watch the conversation without owning a
// facade. They run on the session's read goroutine.
type observerCallbacks struct {
	onStateChanged      func(oldState, newState DeviceState)
	onTranscription     func(text string)
	onResponse          func(text string)
	onEmotion           func(emotion string)
	onReminderTriggered func(message string, id int)
}

func WithOnStateChanged(callback func(oldState, newState DeviceState)) OrchestratorOption {
	return func(o *Orchestrator) {
		o.observers.onStateChanged = callback
	}
}

func WithOnTranscription(callback func(text string)) OrchestratorOption {
	return func(o *Orchestrator) {
		o.observers.onTranscription = callback
	}
}

func WithOnResponse(callback func(text string)) OrchestratorOption {
	return func(o *Orchestrator) {
		o.observers.onResponse = callback
	}
}

func WithOnEmotion(callback func(emotion string)) OrchestratorOption {
	return func(o *Orchestrator) {
		o.observers.onEmotion = callback
	}
}

func WithOnReminderTriggered(callback func(message string, id int)) OrchestratorOption {
	return func(o *Orchestrator) {
		o.observers.onReminderTriggered = callback
	}
}

func newCallbackEventEmitter(callbacks observerCallbacks) eventEmitter {
	return func(event events.Event) {
		switch typedEvent := event.(type) {
		case events.SttResult:
			if callbacks.onTranscription != nil {
				callbacks.onTranscription(typedEvent.Text)
			}
		case events.TtsSentence:
			if callbacks.onResponse != nil {
				callbacks.onResponse(typedEvent.Text)
			}
		case events.LlmEmotion:
			if callbacks.onEmotion != nil {
				callbacks.onEmotion(typedEvent.Emotion)
			}
		}
	}
}
