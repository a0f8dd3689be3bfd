package orchestration

import (
	"slices"
	"sync"
)

// DeviceState is the top-level lifecycle state of the device.
type DeviceState int

const (
	StateUnknown DeviceState = iota
	StateStarting
	StateWifiConfiguring
	StateActivating
	StateIdle
	StateConnecting
	StateListening
	StateSpeaking
	StateUpgrading
	StateAudioTesting
	StateFatalError
)

func (s DeviceState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateStarting:
		return "starting"
	case StateWifiConfiguring:
		return "wifi_configuring"
	case StateActivating:
		return "activating"
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	case StateUpgrading:
		return "upgrading"
	case StateAudioTesting:
		return "audio_testing"
	case StateFatalError:
		return "fatal_error"
	}
	return "invalid"
}

// StateChangeListener is invoked synchronously after a transition commits,
// on the goroutine that requested it, in registration order.
type StateChangeListener func(oldState, newState DeviceState)

type stateMachine struct {
	mu        sync.Mutex
	current   DeviceState
	listeners []StateChangeListener
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StateUnknown}
}

func (m *stateMachine) Current() DeviceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *stateMachine) AddListener(listener StateChangeListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// RequestTransition moves the machine to state and notifies listeners.
// Requesting the current state is a no-op and returns false.
func (m *stateMachine) RequestTransition(state DeviceState) bool {
	m.mu.Lock()
	if m.current == state {
		m.mu.Unlock()
		return false
	}
	oldState := m.current
	m.current = state
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	for _, listener := range listeners {
		listener(oldState, state)
	}
	return true
}
