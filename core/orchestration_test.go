package orchestration

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/junodevice/juno-core/core/events"
	"github.com/junodevice/juno-core/core/protocols"
)

type sessionStub struct {
	mu        sync.Mutex
	callbacks protocols.Callbacks

	open       bool
	openFails  bool
	sendBudget int

	sent           []*protocols.AudioPacket
	startListening []protocols.ListeningMode
	stopListening  int
	aborts         []protocols.AbortReason
	wakeWords      []string
	mcpMessages    []string
	closeChannel   int
	closed         bool
}

func newSessionStub() *sessionStub {
	return &sessionStub{sendBudget: 1 << 30}
}

func (s *sessionStub) Start() error { return nil }

func (s *sessionStub) SetCallbacks(callbacks protocols.Callbacks) {
	s.callbacks = callbacks
}

func (s *sessionStub) OpenAudioChannel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openFails {
		return false
	}
	s.open = true
	return true
}

func (s *sessionStub) CloseAudioChannel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.closeChannel++
}

func (s *sessionStub) IsAudioChannelOpened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *sessionStub) SendAudio(packet *protocols.AudioPacket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendBudget <= 0 {
		return false
	}
	s.sendBudget--
	s.sent = append(s.sent, packet)
	return true
}

func (s *sessionStub) SendStartListening(mode protocols.ListeningMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startListening = append(s.startListening, mode)
}

func (s *sessionStub) SendStopListening() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopListening++
}

func (s *sessionStub) SendAbortSpeaking(reason protocols.AbortReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborts = append(s.aborts, reason)
}

func (s *sessionStub) SendWakeWordDetected(wakeWord string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wakeWords = append(s.wakeWords, wakeWord)
}

func (s *sessionStub) SendMcpMessage(payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mcpMessages = append(s.mcpMessages, payload)
}

func (s *sessionStub) ServerSampleRate() int { return 0 }

func (s *sessionStub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type audioStub struct {
	mu sync.Mutex

	callbacks AudioCallbacks

	sendQueue     []*protocols.AudioPacket
	wakeQueue     []*protocols.AudioPacket
	lastWakeWord  string
	processorOn    bool
	voiceEnabled   []bool
	wakeEnabled    []bool
	testingEnabled []bool
	sounds        []Sound
	encodedWake   int
	decoderResets int
}

func (a *audioStub) Start() {}
func (a *audioStub) Stop()  {}

func (a *audioStub) SetCallbacks(callbacks AudioCallbacks) { a.callbacks = callbacks }

func (a *audioStub) PopSendPacket() *protocols.AudioPacket {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sendQueue) == 0 {
		return nil
	}
	packet := a.sendQueue[0]
	a.sendQueue = a.sendQueue[1:]
	return packet
}

func (a *audioStub) PushDecodePacket(*protocols.AudioPacket) {}

func (a *audioStub) EncodeWakeWord() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.encodedWake++
}

func (a *audioStub) PopWakeWordPacket() *protocols.AudioPacket {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.wakeQueue) == 0 {
		return nil
	}
	packet := a.wakeQueue[0]
	a.wakeQueue = a.wakeQueue[1:]
	return packet
}

func (a *audioStub) LastWakeWord() string { return a.lastWakeWord }

func (a *audioStub) EnableVoiceProcessing(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.voiceEnabled = append(a.voiceEnabled, enabled)
}

func (a *audioStub) EnableWakeWordDetection(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.wakeEnabled = append(a.wakeEnabled, enabled)
}

func (a *audioStub) EnableDeviceAec(bool) {}

func (a *audioStub) EnableAudioTesting(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.testingEnabled = append(a.testingEnabled, enabled)
}

func (a *audioStub) lastWakeEnabled() (bool, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.wakeEnabled) == 0 {
		return false, false
	}
	return a.wakeEnabled[len(a.wakeEnabled)-1], true
}

func (a *audioStub) IsAudioProcessorRunning() bool { return a.processorOn }

func (a *audioStub) ResetDecoder() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.decoderResets++
}

func (a *audioStub) WaitForPlaybackQueueEmpty() {}
func (a *audioStub) IsIdle() bool               { return true }

func (a *audioStub) PlaySound(sound Sound) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sounds = append(a.sounds, sound)
}

func (a *audioStub) playedSounds() []Sound {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.sounds)
}

type displayStub struct {
	mu sync.Mutex

	status        string
	emotion       string
	notifications []string
	chat          [][2]string
	cleared       int
}

func (d *displayStub) SetStatus(status string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = status
}

func (d *displayStub) ShowNotification(message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifications = append(d.notifications, message)
}

func (d *displayStub) SetEmotion(emotion string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emotion = emotion
}

func (d *displayStub) SetChatMessage(role, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chat = append(d.chat, [2]string{role, message})
}

func (d *displayStub) ClearChatMessages() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleared++
}

func (d *displayStub) UpdateStatusBar(bool)  {}
func (d *displayStub) ShowStandbyScreen()    {}
func (d *displayStub) HideStandbyScreen()    {}
func (d *displayStub) UpdateStandbyScreen()  {}

func (d *displayStub) currentStatus() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

type boardStub struct {
	mu          sync.Mutex
	powerLevels []PowerSaveLevel
	indicated   []DeviceState
	rebooted    int
}

func (b *boardStub) StartNetwork() {}

func (b *boardStub) SetPowerSaveLevel(level PowerSaveLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.powerLevels = append(b.powerLevels, level)
}

func (b *boardStub) IndicateState(state DeviceState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.indicated = append(b.indicated, state)
}

func (b *boardStub) Reboot() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rebooted++
}

type controllerStub struct {
	checkGate chan struct{}
	checkErr  error

	newVersion     bool
	activationCode string
	websocketURL   string
}

func (c *controllerStub) CheckVersion(ctx context.Context) error {
	if c.checkGate != nil {
		select {
		case <-c.checkGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.checkErr
}

func (c *controllerStub) CheckVersionURL() string { return "http://example.com/ota" }
func (c *controllerStub) CurrentVersion() string  { return "1.0.0" }
func (c *controllerStub) HasNewVersion() bool     { return c.newVersion }
func (c *controllerStub) FirmwareURL() string     { return "http://example.com/firmware.bin" }
func (c *controllerStub) FirmwareVersion() string { return "2.0.0" }
func (c *controllerStub) MarkCurrentVersionValid() {}

func (c *controllerStub) HasActivationCode() bool      { return c.activationCode != "" }
func (c *controllerStub) HasActivationChallenge() bool { return false }
func (c *controllerStub) ActivationCode() string       { return c.activationCode }
func (c *controllerStub) ActivationMessage() string    { return "Enter the code" }
func (c *controllerStub) Activate(context.Context) error { return nil }

func (c *controllerStub) HasWebsocketConfig() bool { return c.websocketURL != "" }
func (c *controllerStub) WebsocketConfig() (string, string) {
	return c.websocketURL, "token"
}
func (c *controllerStub) HasMqttConfig() bool { return false }

func (c *controllerStub) Upgrade(context.Context, string, func(int, int)) error {
	return nil
}

type testHarness struct {
	orchestrator *Orchestrator
	session      *sessionStub
	audio        *audioStub
	display      *displayStub
	board        *boardStub
}

func newTestHarness(t *testing.T, opts ...OrchestratorOption) *testHarness {
	t.Helper()
	h := &testHarness{
		session: newSessionStub(),
		audio:   &audioStub{},
		display: &displayStub{},
		board:   &boardStub{},
	}
	base := []OrchestratorOption{
		WithAudioService(h.audio),
		WithDisplay(h.display),
		WithBoard(h.board),
	}
	h.orchestrator = NewOrchestrator(append(base, opts...)...)
	return h
}

// attachSession puts the stub session in place and moves the device to
// idle, as if activation had completed.
func (h *testHarness) attachSession() {
	h.orchestrator.session = h.session
	h.orchestrator.stateMachine.RequestTransition(StateIdle)
	h.drain()
}

// drain consumes outstanding signals and runs their handlers, like one
// wakeup of the loop.
func (h *testHarness) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	for {
		bits, ok := h.orchestrator.signals.WaitAndConsume(ctx, signalAll)
		if !ok {
			return
		}
		h.orchestrator.process(ctx, bits)
	}
}

func TestToggleChatFromIdleOpensAudioChannel(t *testing.T) {
	h := newTestHarness(t)
	h.attachSession()

	h.orchestrator.ToggleChat()
	h.drain()

	if got := h.orchestrator.CurrentState(); got != StateListening {
		t.Fatalf("expected listening after toggle, got %s", got)
	}
	if !h.session.IsAudioChannelOpened() {
		t.Fatalf("expected audio channel to be opened")
	}
	if len(h.session.startListening) != 1 || h.session.startListening[0] != protocols.ListeningModeAutoStop {
		t.Fatalf("expected one auto-stop start listening, got %v", h.session.startListening)
	}
}

func TestToggleChatWhileSpeakingAborts(t *testing.T) {
	h := newTestHarness(t)
	h.attachSession()
	h.orchestrator.stateMachine.RequestTransition(StateSpeaking)
	h.drain()

	h.orchestrator.ToggleChat()
	h.drain()

	if len(h.session.aborts) != 1 || h.session.aborts[0] != protocols.AbortReasonNone {
		t.Fatalf("expected one abort without reason, got %v", h.session.aborts)
	}
}

func TestToggleChatWhileListeningClosesChannel(t *testing.T) {
	h := newTestHarness(t)
	h.attachSession()
	h.session.open = true
	h.orchestrator.stateMachine.RequestTransition(StateListening)
	h.drain()

	h.orchestrator.ToggleChat()
	h.drain()

	if h.session.closeChannel != 1 {
		t.Fatalf("expected audio channel closed once, got %d", h.session.closeChannel)
	}
}

func TestStaleOpenContinuationIsDropped(t *testing.T) {
	h := newTestHarness(t)
	h.attachSession()

	h.orchestrator.handleToggleChat()
	if got := h.orchestrator.CurrentState(); got != StateConnecting {
		t.Fatalf("expected connecting, got %s", got)
	}

	// An error arrives before the deferred open runs.
	h.orchestrator.stateMachine.RequestTransition(StateIdle)
	h.drain()

	if h.session.IsAudioChannelOpened() {
		t.Fatalf("expected stale continuation not to open the channel")
	}
	if got := h.orchestrator.CurrentState(); got != StateIdle {
		t.Fatalf("expected device to stay idle, got %s", got)
	}
}

func TestErrorReturnsDeviceToIdleWithAlert(t *testing.T) {
	h := newTestHarness(t)
	h.attachSession()
	h.orchestrator.stateMachine.RequestTransition(StateListening)
	h.drain()

	h.orchestrator.ReportError("server unavailable")
	h.drain()

	if got := h.orchestrator.CurrentState(); got != StateIdle {
		t.Fatalf("expected idle after error, got %s", got)
	}
	if got := h.display.currentStatus(); got != statusStandby && got != statusError {
		t.Fatalf("unexpected status after error: %q", got)
	}
	if !slices.Contains(h.audio.playedSounds(), SoundExclamation) {
		t.Fatalf("expected exclamation sound, got %v", h.audio.playedSounds())
	}
}

func TestDrainSendQueueStopsOnBackpressure(t *testing.T) {
	h := newTestHarness(t)
	h.attachSession()
	h.session.open = true
	h.session.sendBudget = 1
	h.audio.sendQueue = []*protocols.AudioPacket{
		{Payload: []byte{1}}, {Payload: []byte{2}}, {Payload: []byte{3}},
	}

	h.orchestrator.drainSendQueue()

	if len(h.session.sent) != 1 {
		t.Fatalf("expected one packet sent, got %d", len(h.session.sent))
	}
	if len(h.audio.sendQueue) != 1 {
		t.Fatalf("expected one packet left queued, got %d", len(h.audio.sendQueue))
	}
}

func TestWakeWordWhileSpeakingAbortsWithReason(t *testing.T) {
	h := newTestHarness(t)
	h.attachSession()
	h.orchestrator.stateMachine.RequestTransition(StateSpeaking)
	h.drain()

	h.audio.lastWakeWord = "juno"
	h.orchestrator.handleWakeWordDetected()

	if len(h.session.aborts) != 1 || h.session.aborts[0] != protocols.AbortReasonWakeWordDetected {
		t.Fatalf("expected wake-word abort, got %v", h.session.aborts)
	}
}

func TestWakeWordFromIdleOpensTurn(t *testing.T) {
	h := newTestHarness(t)
	h.attachSession()
	h.audio.lastWakeWord = "juno"
	h.audio.wakeQueue = []*protocols.AudioPacket{{Payload: []byte{1}}, {Payload: []byte{2}}}

	h.orchestrator.handleWakeWordDetected()
	h.drain()

	if got := h.orchestrator.CurrentState(); got != StateListening {
		t.Fatalf("expected listening after wake word, got %s", got)
	}
	if len(h.session.wakeWords) != 1 || h.session.wakeWords[0] != "juno" {
		t.Fatalf("expected wake word sent, got %v", h.session.wakeWords)
	}
	if len(h.session.sent) != 2 {
		t.Fatalf("expected buffered wake audio sent, got %d packets", len(h.session.sent))
	}
	if !slices.Contains(h.audio.playedSounds(), SoundPopup) {
		t.Fatalf("expected popup after entering listening, got %v", h.audio.playedSounds())
	}
}

func TestWakeWordWhileListeningRestartsTurn(t *testing.T) {
	h := newTestHarness(t)
	h.attachSession()
	h.session.open = true
	h.orchestrator.stateMachine.RequestTransition(StateListening)
	h.drain()
	h.session.startListening = nil

	h.audio.lastWakeWord = "juno"
	h.audio.sendQueue = []*protocols.AudioPacket{{Payload: []byte{1}}, {Payload: []byte{2}}}
	h.orchestrator.handleWakeWordDetected()

	if len(h.session.aborts) != 1 || h.session.aborts[0] != protocols.AbortReasonWakeWordDetected {
		t.Fatalf("expected wake-word abort, got %v", h.session.aborts)
	}
	if len(h.audio.sendQueue) != 0 {
		t.Fatalf("expected stale send queue cleared, got %d packets", len(h.audio.sendQueue))
	}
	if len(h.session.sent) != 0 {
		t.Fatalf("expected cleared packets not sent, got %d", len(h.session.sent))
	}
	if len(h.session.startListening) != 1 {
		t.Fatalf("expected listening restarted once, got %v", h.session.startListening)
	}
	if !slices.Contains(h.audio.playedSounds(), SoundPopup) {
		t.Fatalf("expected popup on restart, got %v", h.audio.playedSounds())
	}
	if enabled, ok := h.audio.lastWakeEnabled(); !ok || !enabled {
		t.Fatalf("expected wake word detection re-enabled, got %v (ok=%v)", enabled, ok)
	}
}

func TestToggleChatTogglesAudioTesting(t *testing.T) {
	h := newTestHarness(t)
	h.orchestrator.stateMachine.RequestTransition(StateWifiConfiguring)
	h.drain()

	h.orchestrator.ToggleChat()
	h.drain()
	if got := h.orchestrator.CurrentState(); got != StateAudioTesting {
		t.Fatalf("expected audio testing after toggle in wifi configuring, got %s", got)
	}

	h.orchestrator.ToggleChat()
	h.drain()
	if got := h.orchestrator.CurrentState(); got != StateWifiConfiguring {
		t.Fatalf("expected wifi configuring after toggle in audio testing, got %s", got)
	}

	h.audio.mu.Lock()
	defer h.audio.mu.Unlock()
	if len(h.audio.testingEnabled) != 2 || !h.audio.testingEnabled[0] || h.audio.testingEnabled[1] {
		t.Fatalf("expected audio testing enabled then disabled, got %v", h.audio.testingEnabled)
	}
}

func TestStartStopListeningTogglesAudioTesting(t *testing.T) {
	h := newTestHarness(t)
	h.orchestrator.stateMachine.RequestTransition(StateWifiConfiguring)
	h.drain()

	h.orchestrator.StartListening()
	h.drain()
	if got := h.orchestrator.CurrentState(); got != StateAudioTesting {
		t.Fatalf("expected audio testing after start listening, got %s", got)
	}

	h.orchestrator.StopListening()
	h.drain()
	if got := h.orchestrator.CurrentState(); got != StateWifiConfiguring {
		t.Fatalf("expected wifi configuring after stop listening, got %s", got)
	}
}

func TestActivationWorkerRunsOnce(t *testing.T) {
	gate := make(chan struct{})
	controller := &controllerStub{checkGate: gate}

	var factoryCalls atomic.Int32
	session := newSessionStub()
	h := newTestHarness(t,
		WithUpdateController(func() UpdateController {
			factoryCalls.Add(1)
			return controller
		}),
		WithSessionBuilder(func(protocols.Transport, UpdateController) (protocols.Session, error) {
			return session, nil
		}),
	)

	ctx := context.Background()
	h.orchestrator.stateMachine.RequestTransition(StateActivating)
	h.orchestrator.startActivation(ctx)
	h.orchestrator.startActivation(ctx)

	close(gate)

	deadline := time.Now().Add(2 * time.Second)
	for h.orchestrator.CurrentState() != StateIdle {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for activation to finish")
		}
		h.drain()
	}

	if got := factoryCalls.Load(); got != 1 {
		t.Fatalf("expected a single activation worker, got %d", got)
	}
	if h.orchestrator.session == nil {
		t.Fatalf("expected session to be installed after activation")
	}
	if !slices.Contains(h.audio.playedSounds(), SoundSuccess) {
		t.Fatalf("expected success sound after activation, got %v", h.audio.playedSounds())
	}
}

func TestAbandonedVersionCheckStillBuildsSession(t *testing.T) {
	controller := &controllerStub{checkErr: errors.New("server unavailable")}

	session := newSessionStub()
	h := newTestHarness(t,
		WithUpdateController(func() UpdateController { return controller }),
		WithSessionBuilder(func(protocols.Transport, UpdateController) (protocols.Session, error) {
			return session, nil
		}),
	)
	h.orchestrator.sleep = func(context.Context, time.Duration) bool { return true }

	h.orchestrator.stateMachine.RequestTransition(StateActivating)
	h.orchestrator.startActivation(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for h.orchestrator.CurrentState() != StateIdle {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for activation to finish")
		}
		h.drain()
	}

	if h.orchestrator.session == nil {
		t.Fatalf("expected a protocol session after the version check was abandoned")
	}
}

func TestActivationDoneDefersConfirmationSound(t *testing.T) {
	h := newTestHarness(t)
	h.orchestrator.activatedVersion = "1.0.0"
	h.orchestrator.stateMachine.RequestTransition(StateActivating)
	h.drain()

	h.orchestrator.handleActivationDone()
	if slices.Contains(h.audio.playedSounds(), SoundSuccess) {
		t.Fatalf("expected confirmation sound deferred, got %v", h.audio.playedSounds())
	}

	h.drain()
	if !slices.Contains(h.audio.playedSounds(), SoundSuccess) {
		t.Fatalf("expected confirmation sound after the deferred task ran")
	}
}

func TestTtsLifecycleDrivesStates(t *testing.T) {
	h := newTestHarness(t)
	h.attachSession()
	h.session.open = true
	h.orchestrator.stateMachine.RequestTransition(StateListening)
	h.drain()

	h.orchestrator.dispatchServerEvent(events.NewTtsStarted())
	h.drain()
	if got := h.orchestrator.CurrentState(); got != StateSpeaking {
		t.Fatalf("expected speaking after tts start, got %s", got)
	}

	h.orchestrator.dispatchServerEvent(events.NewTtsStopped())
	h.drain()
	if got := h.orchestrator.CurrentState(); got != StateListening {
		t.Fatalf("expected listening after tts stop, got %s", got)
	}
}

func TestTtsStopInManualModeReturnsToIdle(t *testing.T) {
	h := newTestHarness(t)
	h.attachSession()
	h.orchestrator.listeningMode = protocols.ListeningModeManualStop
	h.orchestrator.stateMachine.RequestTransition(StateSpeaking)
	h.drain()

	h.orchestrator.dispatchServerEvent(events.NewTtsStopped())
	h.drain()

	if got := h.orchestrator.CurrentState(); got != StateIdle {
		t.Fatalf("expected idle after manual-mode tts stop, got %s", got)
	}
}

func TestReminderAnnouncementLifecycle(t *testing.T) {
	h := newTestHarness(t)
	h.attachSession()
	h.session.open = true

	h.orchestrator.reminderTriggered("take your medicine", 1)
	h.drain()

	if !h.orchestrator.reminderActive {
		t.Fatalf("expected reminder announcement to be active")
	}
	if got := h.orchestrator.CurrentState(); got != StateListening {
		t.Fatalf("expected listening for announcement, got %s", got)
	}
	if len(h.session.wakeWords) != 1 {
		t.Fatalf("expected announcement prompt sent, got %v", h.session.wakeWords)
	}

	h.orchestrator.dispatchServerEvent(events.NewTtsStarted())
	h.drain()
	h.orchestrator.dispatchServerEvent(events.NewTtsStopped())
	h.drain()

	if h.orchestrator.reminderActive {
		t.Fatalf("expected reminder announcement to be finished")
	}
	if got := h.orchestrator.CurrentState(); got != StateIdle {
		t.Fatalf("expected idle after announcement, got %s", got)
	}
}

func TestReminderFallsBackToLocalSounds(t *testing.T) {
	h := newTestHarness(t)
	// No session attached: delivery must fall back to local cues.
	h.orchestrator.stateMachine.RequestTransition(StateIdle)
	h.drain()

	h.orchestrator.reminderTriggered("stand up", 2)

	sounds := h.audio.playedSounds()
	if !slices.Contains(sounds, SoundSuccess) || !slices.Contains(sounds, SoundVibration) {
		t.Fatalf("expected local reminder sounds, got %v", sounds)
	}
	if h.orchestrator.reminderActive {
		t.Fatalf("expected no active announcement without a session")
	}
}

func TestCanEnterSleepMode(t *testing.T) {
	h := newTestHarness(t)
	h.orchestrator.stateMachine.RequestTransition(StateIdle)
	h.drain()

	if !h.orchestrator.CanEnterSleepMode() {
		t.Fatalf("expected idle device with no reminders to allow sleep")
	}

	if _, err := h.orchestrator.Reminders().ScheduleOnce(60, "wake me"); err != nil {
		t.Fatalf("failed to schedule reminder: %v", err)
	}
	if h.orchestrator.CanEnterSleepMode() {
		t.Fatalf("expected pending reminder to block sleep")
	}
}

func TestCanEnterSleepModeBlockedByOpenChannel(t *testing.T) {
	h := newTestHarness(t)
	h.attachSession()
	h.session.open = true

	if h.orchestrator.CanEnterSleepMode() {
		t.Fatalf("expected open audio channel to block sleep")
	}

	h.session.open = false
	if !h.orchestrator.CanEnterSleepMode() {
		t.Fatalf("expected sleep allowed once the channel is closed")
	}
}

func TestSetAecModeClosesOpenChannel(t *testing.T) {
	h := newTestHarness(t)
	h.attachSession()
	h.session.open = true

	h.orchestrator.SetAecMode(AecOnServerSide)
	h.drain()

	if h.orchestrator.config.AecMode != AecOnServerSide {
		t.Fatalf("expected aec mode updated, got %s", h.orchestrator.config.AecMode)
	}
	if h.session.closeChannel != 1 {
		t.Fatalf("expected channel closed for renegotiation, got %d", h.session.closeChannel)
	}
	if got := h.orchestrator.defaultListeningMode(); got != protocols.ListeningModeRealtime {
		t.Fatalf("expected realtime default listening mode, got %v", got)
	}
}

func TestRunRefusesSecondConcurrentCall(t *testing.T) {
	h := newTestHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.orchestrator.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for !h.orchestrator.running.Load() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for run to start")
		}
		time.Sleep(time.Millisecond)
	}

	if err := h.orchestrator.Run(ctx); err != ErrAlreadyRunning {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("expected context.Canceled from run, got %v", err)
	}
}
