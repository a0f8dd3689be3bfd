// Package orchestration runs the device's central event loop. A single
// goroutine owns all mutable device state (lifecycle state, the protocol
// session, the reminder registry); every other goroutine communicates with
// it by raising signals or enqueuing tasks.
package orchestration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/junodevice/juno-core/core/protocols"
	"github.com/junodevice/juno-core/core/reminders"
)

var (
	ErrAlreadyRunning       = errors.New("orchestrator is already running")
	ErrTransportUnavailable = errors.New("transport is not available")
)

type Orchestrator struct {
	config Config

	signals      *eventSignal
	tasks        *taskQueue
	stateMachine *stateMachine
	reminders    *reminders.Registry

	audio   AudioService
	display Display
	board   Board

	controllerFactory func() UpdateController
	sessionBuilder    SessionBuilder
	assets            Assets
	interpret         CommandInterpreter
	mcpHandler        McpHandler

	observers observerCallbacks
	emit      eventEmitter

	// sleep is swapped out in tests to keep backoff waits instant.
	sleep func(ctx context.Context, d time.Duration) bool

	// Loop-owned state. Only the Run goroutine (and tasks it drains) may
	// touch these fields.
	session              protocols.Session
	activatedVersion     string
	listeningMode        protocols.ListeningMode
	aborted              bool
	playPopupOnListening bool
	reminderActive       bool
	assetsChecked        bool
	clockTicks           int

	errMu     sync.Mutex
	lastError string

	running           atomic.Bool
	activationRunning atomic.Bool
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	signals := newEventSignal()
	o := &Orchestrator{
		signals:      signals,
		tasks:        newTaskQueue(signals),
		stateMachine: newStateMachine(),
		audio:        nopAudioService{},
		display:      nopDisplay{},
		board:        nopBoard{},
		sleep:        sleepCtx,
	}

	for _, opt := range opts {
		opt(o)
	}
	o.config.applyDefaults()

	if o.controllerFactory == nil {
		o.controllerFactory = defaultControllerFactory(o.config)
	}
	if o.sessionBuilder == nil {
		o.sessionBuilder = defaultSessionBuilder(o.config)
	}
	o.emit = newCallbackEventEmitter(o.observers)
	o.aecModeChanged(o.config.AecMode)

	o.reminders = reminders.NewRegistry(
		reminders.WithTrigger(func(message string, id int) {
			o.Schedule(func() { o.reminderTriggered(message, id) })
		}),
	)

	o.stateMachine.AddListener(func(oldState, newState DeviceState) {
		logger.Info("device state changed",
			"from", oldState.String(), "to", newState.String())
		if o.observers.onStateChanged != nil {
			o.observers.onStateChanged(oldState, newState)
		}
		o.signals.Raise(signalStateChanged)
	})

	return o
}

// Reminders exposes the reminder registry. It is safe for concurrent use;
// trigger delivery is marshalled back onto the orchestrator loop.
func (o *Orchestrator) Reminders() *reminders.Registry { return o.reminders }

// CurrentState reports the device lifecycle state.
func (o *Orchestrator) CurrentState() DeviceState { return o.stateMachine.Current() }

// Run drives the event loop until ctx is done. It must be called at most
// once; a second concurrent call returns ErrAlreadyRunning.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer o.running.Store(false)

	ctx, span := tracer.Start(ctx, "orchestration.run")
	defer span.End()

	o.audio.SetCallbacks(AudioCallbacks{
		OnSendQueueAvailable: func() { o.signals.Raise(signalSendAudio) },
		OnWakeWordDetected:   func(string) { o.signals.Raise(signalWakeWordDetected) },
		OnVadChange:          func(bool) { o.signals.Raise(signalVadChange) },
	})
	o.audio.Start()

	o.stateMachine.RequestTransition(StateStarting)
	o.display.UpdateStatusBar(true)
	o.board.StartNetwork()

	go o.runClock(ctx)

	for {
		bits, ok := o.signals.WaitAndConsume(ctx, signalAll)
		if !ok {
			o.shutdown()
			return ctx.Err()
		}
		o.process(ctx, bits)
	}
}

// process handles one batch of consumed signals in a fixed order, so that
// e.g. an error raised together with audio activity is dealt with first.
func (o *Orchestrator) process(ctx context.Context, bits signal) {
	if bits&signalError != 0 {
		o.handleError()
	}
	if bits&signalNetworkConnected != 0 {
		o.handleNetworkConnected(ctx)
	}
	if bits&signalNetworkDisconnected != 0 {
		o.handleNetworkDisconnected()
	}
	if bits&signalActivationDone != 0 {
		o.handleActivationDone()
	}
	if bits&signalStateChanged != 0 {
		o.handleStateChanged()
	}
	if bits&signalToggleChat != 0 {
		o.handleToggleChat()
	}
	if bits&signalStartListening != 0 {
		o.handleStartListening()
	}
	if bits&signalStopListening != 0 {
		o.handleStopListening()
	}
	if bits&signalSendAudio != 0 {
		o.drainSendQueue()
	}
	if bits&signalWakeWordDetected != 0 {
		o.handleWakeWordDetected()
	}
	if bits&signalVadChange != 0 {
		o.handleVadChange()
	}
	if bits&signalSchedule != 0 {
		o.tasks.DrainAndRun()
	}
	if bits&signalClockTick != 0 {
		o.handleClockTick()
	}
}

func (o *Orchestrator) runClock(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.signals.Raise(signalClockTick)
		}
	}
}

func (o *Orchestrator) shutdown() {
	if o.session != nil {
		if o.session.IsAudioChannelOpened() {
			o.session.CloseAudioChannel()
		}
		if err := o.session.Close(); err != nil {
			logger.Warn("failed to close session", "error", err)
		}
		o.session = nil
	}
	o.reminders.CancelAll()
	o.audio.Stop()
}

// Schedule runs task on the orchestrator goroutine. Safe from any
// goroutine.
func (o *Orchestrator) Schedule(task func()) { o.tasks.Enqueue(task) }

// ToggleChat requests the idle/listening/speaking toggle, as triggered by
// the device's primary button.
func (o *Orchestrator) ToggleChat() { o.signals.Raise(signalToggleChat) }

// StartListening requests push-to-talk capture.
func (o *Orchestrator) StartListening() { o.signals.Raise(signalStartListening) }

// StopListening ends push-to-talk capture.
func (o *Orchestrator) StopListening() { o.signals.Raise(signalStopListening) }

// NotifyNetworkConnected reports that the network came up. First connection
// kicks off the activation sequence.
func (o *Orchestrator) NotifyNetworkConnected() { o.signals.Raise(signalNetworkConnected) }

// NotifyNetworkDisconnected reports network loss.
func (o *Orchestrator) NotifyNetworkDisconnected() { o.signals.Raise(signalNetworkDisconnected) }

// ReportError surfaces a fault to the loop, which returns the device to
// idle and shows an alert.
func (o *Orchestrator) ReportError(message string) {
	o.errMu.Lock()
	o.lastError = message
	o.errMu.Unlock()
	o.signals.Raise(signalError)
}

func (o *Orchestrator) takeLastError() string {
	o.errMu.Lock()
	defer o.errMu.Unlock()
	message := o.lastError
	o.lastError = ""
	return message
}

// SendMcpMessage forwards an MCP payload to the server over the current
// session. Safe from any goroutine.
func (o *Orchestrator) SendMcpMessage(payload string) {
	o.Schedule(func() {
		if o.session != nil {
			o.session.SendMcpMessage(payload)
		}
	})
}

// SetAecMode switches echo cancellation at runtime and re-derives the
// default listening mode.
func (o *Orchestrator) SetAecMode(mode AecMode) {
	o.Schedule(func() {
		o.config.AecMode = mode
		o.aecModeChanged(mode)
		logger.Info("aec mode changed", "mode", mode.String())
		// Close an open channel so the next session renegotiates with
		// the new listening mode.
		if o.session != nil && o.session.IsAudioChannelOpened() {
			o.session.CloseAudioChannel()
		}
	})
}

func (o *Orchestrator) aecModeChanged(mode AecMode) {
	o.audio.EnableDeviceAec(mode == AecOnDeviceSide)
}

// ResetProtocol tears down the current session so the next interaction
// builds a fresh one.
func (o *Orchestrator) ResetProtocol() {
	o.Schedule(func() {
		if o.session == nil {
			return
		}
		if o.session.IsAudioChannelOpened() {
			o.session.CloseAudioChannel()
		}
		if err := o.session.Close(); err != nil {
			logger.Warn("failed to close session", "error", err)
		}
		o.session = nil
	})
}

// Reboot restarts the device after tearing the session down.
func (o *Orchestrator) Reboot() {
	o.Schedule(func() { o.reboot() })
}

// CanEnterSleepMode reports whether the device is quiescent enough to
// power down: idle state, no open audio channel, no pending reminders.
func (o *Orchestrator) CanEnterSleepMode() bool {
	if o.stateMachine.Current() != StateIdle {
		return false
	}
	if o.session != nil && o.session.IsAudioChannelOpened() {
		return false
	}
	if o.reminders.HasAny() {
		return false
	}
	if !o.audio.IsIdle() {
		return false
	}
	return true
}

// Alert shows a status/message/emotion triple and optionally plays a cue.
// Safe from any goroutine.
func (o *Orchestrator) Alert(status, message, emotion string, sound Sound) {
	o.Schedule(func() { o.alert(status, message, emotion, sound) })
}

// DismissAlert restores the standby UI when the device is idle.
func (o *Orchestrator) DismissAlert() {
	o.Schedule(func() { o.dismissAlert() })
}
