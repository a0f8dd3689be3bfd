package orchestration

import (
	"testing"

	"github.com/junodevice/juno-core/core/events"
)

func TestObserversReceiveConversationEvents(t *testing.T) {
	var transcripts, responses, emotions []string
	h := newTestHarness(t,
		WithOnTranscription(func(text string) { transcripts = append(transcripts, text) }),
		WithOnResponse(func(text string) { responses = append(responses, text) }),
		WithOnEmotion(func(emotion string) { emotions = append(emotions, emotion) }),
	)
	h.attachSession()

	h.orchestrator.dispatchServerEvent(events.NewSttResult("hello"))
	h.orchestrator.dispatchServerEvent(events.NewTtsSentence("hi there"))
	h.orchestrator.dispatchServerEvent(events.NewLlmEmotion("happy"))
	h.drain()

	if len(transcripts) != 1 || transcripts[0] != "hello" {
		t.Errorf("expected transcription observed, got %v", transcripts)
	}
	if len(responses) != 1 || responses[0] != "hi there" {
		t.Errorf("expected response observed, got %v", responses)
	}
	if len(emotions) != 1 || emotions[0] != "happy" {
		t.Errorf("expected emotion observed, got %v", emotions)
	}
}

func TestObserverSeesStateChanges(t *testing.T) {
	var transitions [][2]DeviceState
	h := newTestHarness(t, WithOnStateChanged(func(oldState, newState DeviceState) {
		transitions = append(transitions, [2]DeviceState{oldState, newState})
	}))

	h.orchestrator.stateMachine.RequestTransition(StateStarting)
	h.orchestrator.stateMachine.RequestTransition(StateActivating)
	h.drain()

	if len(transitions) != 2 {
		t.Fatalf("expected two transitions, got %v", transitions)
	}
	if transitions[1] != [2]DeviceState{StateStarting, StateActivating} {
		t.Fatalf("unexpected transition order: %v", transitions)
	}
}
