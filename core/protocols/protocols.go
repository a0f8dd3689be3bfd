// Package protocols defines the contract between the device core and a wire
// protocol session. A session carries audio packets and control messages to
// the conversational backend and reports server messages back through the
// callbacks registered by the core. Implementations live in subpackages; the
// core owns exactly one session at a time.
package protocols

import "github.com/junodevice/juno-core/core/events"

// Transport selects the wire protocol a session speaks.
type Transport string

const (
	TransportWebsocket Transport = "websocket"
	TransportMqtt      Transport = "mqtt"
)

// AbortReason describes why an in-progress speaking or listening turn was
// cancelled.
type AbortReason int

const (
	AbortReasonNone AbortReason = iota
	AbortReasonWakeWordDetected
)

// ListeningMode selects how the audio pipeline decides when a listening turn
// ends.
type ListeningMode int

const (
	// ListeningModeAutoStop lets the server close the turn on detected
	// silence.
	ListeningModeAutoStop ListeningMode = iota
	// ListeningModeManualStop keeps the turn open until the user stops it.
	ListeningModeManualStop
	// ListeningModeRealtime keeps capture and playback open simultaneously
	// and relies on echo cancellation.
	ListeningModeRealtime
)

func (m ListeningMode) String() string {
	switch m {
	case ListeningModeAutoStop:
		return "auto"
	case ListeningModeManualStop:
		return "manual"
	case ListeningModeRealtime:
		return "realtime"
	}
	return "unknown"
}

// AudioPacket is an encoded audio frame exchanged with the server.
type AudioPacket struct {
	Payload   []byte
	Timestamp int
}

// Callbacks are registered by the core before a session starts. All of them
// are invoked from the session's own goroutines; the core marshals any state
// mutation back onto its consuming loop.
type Callbacks struct {
	OnConnected          func()
	OnNetworkError       func(message string)
	OnIncomingAudio      func(packet *AudioPacket)
	OnAudioChannelOpened func()
	OnAudioChannelClosed func()
	OnIncomingEvent      func(event events.Event)
}

// Session is one logical connection to the conversational backend.
type Session interface {
	Start() error
	SetCallbacks(callbacks Callbacks)

	OpenAudioChannel() bool
	CloseAudioChannel()
	IsAudioChannelOpened() bool

	SendAudio(packet *AudioPacket) bool
	SendStartListening(mode ListeningMode)
	SendStopListening()
	SendAbortSpeaking(reason AbortReason)
	SendWakeWordDetected(wakeWord string)
	SendMcpMessage(payload string)

	ServerSampleRate() int

	Close() error
}
