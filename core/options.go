package orchestration

import (
	"context"
	"encoding/json"

	"github.com/junodevice/juno-core/core/ota"
	"github.com/junodevice/juno-core/core/protocols"
	"github.com/junodevice/juno-core/core/protocols/websocket"
	"github.com/junodevice/juno-core/core/reminders"
)

type OrchestratorOption func(*Orchestrator)

func WithConfig(config Config) OrchestratorOption {
	return func(o *Orchestrator) {
		config.applyDefaults()
		o.config = config
	}
}

// Sound names a short built-in cue the audio service can play.
type Sound string

const (
	SoundSuccess     Sound = "success"
	SoundExclamation Sound = "exclamation"
	SoundPopup       Sound = "popup"
	SoundUpgrade     Sound = "upgrade"
	SoundActivation  Sound = "activation"
	SoundVibration   Sound = "vibration"
)

// digitSound maps an activation-code digit to its spoken cue.
func digitSound(digit rune) (Sound, bool) {
	if digit < '0' || digit > '9' {
		return "", false
	}
	return Sound(digit), true
}

// AudioCallbacks are invoked by the audio service from its own goroutines.
// They must only raise signals or enqueue tasks, never touch orchestrator
// state directly.
type AudioCallbacks struct {
	OnSendQueueAvailable func()
	OnWakeWordDetected   func(wakeWord string)
	OnVadChange          func(speaking bool)
}

// AudioService is the capture/playback pipeline facade. Implementations must
// be safe for concurrent use: the orchestrator calls it from its loop while
// session goroutines push decode packets.
type AudioService interface {
	Start()
	Stop()
	SetCallbacks(callbacks AudioCallbacks)

	// PopSendPacket returns the next encoded capture packet, or nil when
	// the send queue is empty.
	PopSendPacket() *protocols.AudioPacket
	PushDecodePacket(packet *protocols.AudioPacket)

	EncodeWakeWord()
	// PopWakeWordPacket returns the next packet of buffered wake word
	// audio, or nil when the buffer is drained.
	PopWakeWordPacket() *protocols.AudioPacket
	LastWakeWord() string

	EnableVoiceProcessing(enabled bool)
	EnableWakeWordDetection(enabled bool)
	EnableDeviceAec(enabled bool)
	EnableAudioTesting(enabled bool)
	IsAudioProcessorRunning() bool

	ResetDecoder()
	WaitForPlaybackQueueEmpty()
	IsIdle() bool

	PlaySound(sound Sound)
}

func WithAudioService(service AudioService) OrchestratorOption {
	return func(o *Orchestrator) {
		o.audio = service
	}
}

// Display is the UI facade. Implementations must be safe for concurrent use;
// the activation worker updates status text alongside the main loop.
type Display interface {
	SetStatus(status string)
	ShowNotification(message string)
	SetEmotion(emotion string)
	SetChatMessage(role, message string)
	ClearChatMessages()
	UpdateStatusBar(immediate bool)

	ShowStandbyScreen()
	HideStandbyScreen()
	UpdateStandbyScreen()
}

func WithDisplay(display Display) OrchestratorOption {
	return func(o *Orchestrator) {
		o.display = display
	}
}

// PowerSaveLevel is the board power policy requested by the orchestrator.
type PowerSaveLevel int

const (
	PowerSaveLow PowerSaveLevel = iota
	PowerSavePerformance
)

// Board abstracts the hardware platform: network bring-up, restarts, power
// policy and state indication (LEDs).
type Board interface {
	StartNetwork()
	SetPowerSaveLevel(level PowerSaveLevel)
	IndicateState(state DeviceState)
	Reboot()
}

func WithBoard(board Board) OrchestratorOption {
	return func(o *Orchestrator) {
		o.board = board
	}
}

// UpdateController checks for firmware updates and drives device activation.
// *ota.Client satisfies it.
type UpdateController interface {
	CheckVersion(ctx context.Context) error
	CheckVersionURL() string
	CurrentVersion() string
	HasNewVersion() bool
	FirmwareURL() string
	FirmwareVersion() string
	MarkCurrentVersionValid()

	HasActivationCode() bool
	HasActivationChallenge() bool
	ActivationCode() string
	ActivationMessage() string
	Activate(ctx context.Context) error

	HasWebsocketConfig() bool
	WebsocketConfig() (url, token string)
	HasMqttConfig() bool

	Upgrade(ctx context.Context, url string, progress func(percent int, bytesPerSecond int)) error
}

var _ UpdateController = (*ota.Client)(nil)

// WithUpdateController overrides how the activation worker obtains its
// update controller. The controller lives only for the duration of the
// activation sequence.
func WithUpdateController(factory func() UpdateController) OrchestratorOption {
	return func(o *Orchestrator) {
		o.controllerFactory = factory
	}
}

// Assets manages the downloadable asset partition (sound banks, wake word
// models).
type Assets interface {
	PartitionValid() bool
	// PendingDownloadURL consumes and returns the queued asset download,
	// if any.
	PendingDownloadURL() (string, bool)
	Download(ctx context.Context, url string, progress func(percent int, bytesPerSecond int)) error
	Apply()
}

func WithAssets(assets Assets) OrchestratorOption {
	return func(o *Orchestrator) {
		o.assets = assets
	}
}

// SessionBuilder constructs a protocol session for the chosen transport.
// The controller carries any server-provided endpoint configuration.
type SessionBuilder func(transport protocols.Transport, controller UpdateController) (protocols.Session, error)

func WithSessionBuilder(builder SessionBuilder) OrchestratorOption {
	return func(o *Orchestrator) {
		o.sessionBuilder = builder
	}
}

// CommandInterpreter turns a final transcription into a reminder command.
// Returning reminders.CommandNone passes the text through untouched.
type CommandInterpreter func(text string) (reminders.CommandType, reminders.Schedule)

func WithCommandInterpreter(interpret CommandInterpreter) OrchestratorOption {
	return func(o *Orchestrator) {
		o.interpret = interpret
	}
}

// McpHandler receives raw MCP payloads from the server. It runs on the
// session's read goroutine; route replies through SendMcpMessage.
type McpHandler func(payload json.RawMessage)

func WithMcpHandler(handler McpHandler) OrchestratorOption {
	return func(o *Orchestrator) {
		o.mcpHandler = handler
	}
}

func defaultControllerFactory(config Config) func() UpdateController {
	return func() UpdateController {
		return ota.NewClient(ota.Config{
			CheckURL:       config.OtaURL,
			AccessToken:    config.AccessToken,
			DeviceID:       config.DeviceID,
			ClientID:       config.ClientID,
			CurrentVersion: config.FirmwareVersion,
			UserAgent:      config.UserAgent,
		})
	}
}

func defaultSessionBuilder(config Config) SessionBuilder {
	return func(transport protocols.Transport, controller UpdateController) (protocols.Session, error) {
		if transport == protocols.TransportMqtt {
			return nil, ErrTransportUnavailable
		}
		url, token := config.WebsocketURL, config.AccessToken
		if controller != nil && controller.HasWebsocketConfig() {
			url, token = controller.WebsocketConfig()
		}
		return websocket.NewSession(websocket.Config{
			URL:           url,
			AccessToken:   token,
			DeviceID:      config.DeviceID,
			ClientID:      config.ClientID,
			SampleRate:    config.SampleRate,
			FrameDuration: config.FrameDuration,
		}), nil
	}
}

// Unconfigured collaborators default to no-ops so embedders can bring up the
// loop before all hardware facades exist.

type nopAudioService struct{}

func (nopAudioService) Start()                                 {}
func (nopAudioService) Stop()                                  {}
func (nopAudioService) SetCallbacks(AudioCallbacks)            {}
func (nopAudioService) PopSendPacket() *protocols.AudioPacket  { return nil }
func (nopAudioService) PushDecodePacket(*protocols.AudioPacket) {}
func (nopAudioService) EncodeWakeWord()                        {}
func (nopAudioService) PopWakeWordPacket() *protocols.AudioPacket { return nil }
func (nopAudioService) LastWakeWord() string                   { return "" }
func (nopAudioService) EnableVoiceProcessing(bool)             {}
func (nopAudioService) EnableWakeWordDetection(bool)           {}
func (nopAudioService) EnableDeviceAec(bool)                   {}
func (nopAudioService) EnableAudioTesting(bool)                {}
func (nopAudioService) IsAudioProcessorRunning() bool          { return false }
func (nopAudioService) ResetDecoder()                          {}
func (nopAudioService) WaitForPlaybackQueueEmpty()             {}
func (nopAudioService) IsIdle() bool                           { return true }
func (nopAudioService) PlaySound(Sound)                        {}

type nopDisplay struct{}

func (nopDisplay) SetStatus(string)           {}
func (nopDisplay) ShowNotification(string)    {}
func (nopDisplay) SetEmotion(string)          {}
func (nopDisplay) SetChatMessage(string, string) {}
func (nopDisplay) ClearChatMessages()         {}
func (nopDisplay) UpdateStatusBar(bool)       {}
func (nopDisplay) ShowStandbyScreen()         {}
func (nopDisplay) HideStandbyScreen()         {}
func (nopDisplay) UpdateStandbyScreen()       {}

type nopBoard struct{}

func (nopBoard) StartNetwork()                  {}
func (nopBoard) SetPowerSaveLevel(PowerSaveLevel) {}
func (nopBoard) IndicateState(DeviceState)      {}
func (nopBoard) Reboot()                        {}
