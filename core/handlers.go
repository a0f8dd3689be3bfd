package orchestration

import (
	"context"
	"fmt"

	"github.com/junodevice/juno-core/core/protocols"
)

const (
	statusStandby    = "Standby"
	statusConnecting = "Connecting..."
	statusListening  = "Listening..."
	statusSpeaking   = "Speaking..."
	statusLoading    = "Loading..."
	statusChecking   = "Checking for updates..."
	statusUpgrading  = "Updating..."
	statusActivation = "Activation"
	statusError      = "Error"
	statusReminder   = "Reminder"
)

const (
	emotionNeutral = "neutral"
	emotionSad     = "sad"
	emotionHappy   = "happy"
	emotionBell    = "bell"
)

func (o *Orchestrator) handleError() {
	message := o.takeLastError()
	logger.Error("device error", "message", message)
	if o.reminderActive {
		o.handleReminderFailure()
	}
	o.stateMachine.RequestTransition(StateIdle)
	o.alert(statusError, message, emotionSad, SoundExclamation)
}

func (o *Orchestrator) handleNetworkConnected(ctx context.Context) {
	switch o.stateMachine.Current() {
	case StateStarting, StateWifiConfiguring:
		o.stateMachine.RequestTransition(StateActivating)
		o.startActivation(ctx)
	}
	o.display.UpdateStatusBar(true)
}

func (o *Orchestrator) handleNetworkDisconnected() {
	switch o.stateMachine.Current() {
	case StateConnecting, StateListening, StateSpeaking:
		if o.session != nil && o.session.IsAudioChannelOpened() {
			o.session.CloseAudioChannel()
		}
	}
	o.display.UpdateStatusBar(true)
}

func (o *Orchestrator) handleActivationDone() {
	o.stateMachine.RequestTransition(StateIdle)
	if o.activatedVersion != "" {
		o.display.ShowNotification("Version " + o.activatedVersion)
	}
	o.display.SetChatMessage("system", "")
	o.board.SetPowerSaveLevel(PowerSaveLow)
	// Deferred so the confirmation cue cannot stall the signal handler.
	o.Schedule(func() { o.audio.PlaySound(SoundSuccess) })
}

func (o *Orchestrator) handleStateChanged() {
	state := o.stateMachine.Current()
	o.clockTicks = 0
	o.board.IndicateState(state)

	switch state {
	case StateIdle:
		o.display.SetStatus(statusStandby)
		o.display.SetEmotion(emotionNeutral)
		o.display.ClearChatMessages()
		if !o.reminderActive {
			o.audio.EnableVoiceProcessing(false)
			o.audio.EnableWakeWordDetection(true)
		}
		o.display.ShowStandbyScreen()

	case StateConnecting:
		o.display.SetStatus(statusConnecting)
		o.display.SetEmotion(emotionNeutral)
		o.display.SetChatMessage("system", "")
		o.display.HideStandbyScreen()

	case StateListening:
		o.display.SetStatus(statusListening)
		o.display.HideStandbyScreen()
		if o.session != nil && (o.playPopupOnListening || !o.audio.IsAudioProcessorRunning()) {
			// In auto mode, wait out remaining playback so a late stop
			// does not truncate it.
			if o.listeningMode == protocols.ListeningModeAutoStop {
				o.audio.WaitForPlaybackQueueEmpty()
			}
			o.session.SendStartListening(o.listeningMode)
			o.audio.EnableVoiceProcessing(true)
		}
		o.audio.EnableWakeWordDetection(false)
		// Played only after EnableVoiceProcessing has reset the decoder,
		// which would otherwise clear the cue.
		if o.playPopupOnListening {
			o.playPopupOnListening = false
			o.audio.PlaySound(SoundPopup)
		}

	case StateSpeaking:
		o.display.SetStatus(statusSpeaking)
		o.display.HideStandbyScreen()
		if o.listeningMode != protocols.ListeningModeRealtime {
			o.audio.EnableVoiceProcessing(false)
			o.audio.EnableWakeWordDetection(false)
		}
		o.audio.ResetDecoder()

	case StateWifiConfiguring:
		o.display.HideStandbyScreen()
		o.audio.EnableVoiceProcessing(false)
		o.audio.EnableWakeWordDetection(false)

	default:
		o.display.HideStandbyScreen()
	}
}

func (o *Orchestrator) handleToggleChat() {
	state := o.stateMachine.Current()
	switch state {
	case StateActivating:
		// Interrupts the activation backoff wait.
		o.stateMachine.RequestTransition(StateIdle)
		return
	case StateWifiConfiguring:
		o.audio.EnableAudioTesting(true)
		o.stateMachine.RequestTransition(StateAudioTesting)
		return
	case StateAudioTesting:
		o.audio.EnableAudioTesting(false)
		o.stateMachine.RequestTransition(StateWifiConfiguring)
		return
	}
	if o.session == nil {
		logger.Warn("chat toggled before protocol is ready")
		return
	}

	switch state {
	case StateIdle:
		mode := o.defaultListeningMode()
		o.stateMachine.RequestTransition(StateConnecting)
		o.Schedule(func() { o.continueOpenAudioChannel(mode) })
	case StateSpeaking:
		o.abortSpeaking(protocols.AbortReasonNone)
	case StateListening:
		o.session.CloseAudioChannel()
	}
}

func (o *Orchestrator) handleStartListening() {
	state := o.stateMachine.Current()
	switch state {
	case StateActivating:
		o.stateMachine.RequestTransition(StateIdle)
		return
	case StateWifiConfiguring:
		o.audio.EnableAudioTesting(true)
		o.stateMachine.RequestTransition(StateAudioTesting)
		return
	}
	if o.session == nil {
		logger.Warn("listening requested before protocol is ready")
		return
	}

	switch state {
	case StateIdle:
		if o.session.IsAudioChannelOpened() {
			o.setListeningMode(protocols.ListeningModeManualStop)
			return
		}
		o.stateMachine.RequestTransition(StateConnecting)
		o.Schedule(func() {
			o.continueOpenAudioChannel(protocols.ListeningModeManualStop)
		})
	case StateSpeaking:
		o.abortSpeaking(protocols.AbortReasonNone)
		o.setListeningMode(protocols.ListeningModeManualStop)
	}
}

func (o *Orchestrator) handleStopListening() {
	switch o.stateMachine.Current() {
	case StateAudioTesting:
		o.audio.EnableAudioTesting(false)
		o.stateMachine.RequestTransition(StateWifiConfiguring)
	case StateListening:
		if o.session != nil {
			o.session.SendStopListening()
		}
		o.stateMachine.RequestTransition(StateIdle)
	}
}

// continueOpenAudioChannel runs as a deferred task so the loop can observe
// other signals while the channel opens. The state re-check drops stale
// continuations (e.g. an error moved the device back to idle meanwhile).
func (o *Orchestrator) continueOpenAudioChannel(mode protocols.ListeningMode) {
	if o.stateMachine.Current() != StateConnecting {
		return
	}
	if !o.session.IsAudioChannelOpened() {
		if !o.session.OpenAudioChannel() {
			// Failure surfaces through the session's error callback.
			return
		}
	}
	o.setListeningMode(mode)
}

func (o *Orchestrator) drainSendQueue() {
	if o.session == nil || !o.session.IsAudioChannelOpened() {
		return
	}
	for packet := o.audio.PopSendPacket(); packet != nil; packet = o.audio.PopSendPacket() {
		if !o.session.SendAudio(packet) {
			// Transport backpressure; retry on the next signal.
			return
		}
	}
}

func (o *Orchestrator) handleWakeWordDetected() {
	wakeWord := o.audio.LastWakeWord()
	logger.Info("wake word detected", "wake_word", wakeWord)

	state := o.stateMachine.Current()
	switch state {
	case StateIdle:
		if o.session == nil {
			return
		}
		o.wakeWordInvoke(wakeWord)
	case StateSpeaking, StateListening:
		if o.session == nil {
			return
		}
		o.abortSpeaking(protocols.AbortReasonWakeWordDetected)
		// Clear the send queue so stale capture is not sent along.
		for o.audio.PopSendPacket() != nil {
		}

		if state == StateListening {
			o.session.SendStartListening(o.defaultListeningMode())
			o.audio.ResetDecoder()
			o.audio.PlaySound(SoundPopup)
			// The detection itself stopped wake word detection.
			o.audio.EnableWakeWordDetection(true)
		} else {
			o.playPopupOnListening = true
			o.setListeningMode(o.defaultListeningMode())
		}
	case StateActivating:
		o.stateMachine.RequestTransition(StateIdle)
	}
}

// wakeWordInvoke opens a voice turn on behalf of a wake word or a reminder
// announcement, replaying the buffered wake audio to the server.
func (o *Orchestrator) wakeWordInvoke(wakeWord string) {
	o.audio.EncodeWakeWord()
	if !o.session.IsAudioChannelOpened() {
		o.stateMachine.RequestTransition(StateConnecting)
		o.Schedule(func() { o.continueWakeWordInvoke(wakeWord) })
		return
	}
	o.finishWakeWordInvoke(wakeWord)
}

func (o *Orchestrator) continueWakeWordInvoke(wakeWord string) {
	if o.stateMachine.Current() != StateConnecting {
		return
	}
	if !o.session.OpenAudioChannel() {
		o.audio.EnableWakeWordDetection(true)
		return
	}
	o.finishWakeWordInvoke(wakeWord)
}

func (o *Orchestrator) finishWakeWordInvoke(wakeWord string) {
	for packet := o.audio.PopWakeWordPacket(); packet != nil; packet = o.audio.PopWakeWordPacket() {
		if !o.session.SendAudio(packet) {
			break
		}
	}
	o.session.SendWakeWordDetected(wakeWord)
	o.playPopupOnListening = true
	o.setListeningMode(o.defaultListeningMode())
}

func (o *Orchestrator) handleVadChange() {
	if o.stateMachine.Current() == StateListening {
		o.board.IndicateState(StateListening)
	}
}

func (o *Orchestrator) handleClockTick() {
	o.clockTicks++
	o.display.UpdateStatusBar(false)
	if o.stateMachine.Current() == StateIdle {
		o.display.UpdateStandbyScreen()
	}
	if o.clockTicks%10 == 0 {
		o.logStatus()
	}
}

func (o *Orchestrator) logStatus() {
	sessionOpen := o.session != nil && o.session.IsAudioChannelOpened()
	logger.Debug("status",
		"state", o.stateMachine.Current().String(),
		"audio_channel_open", sessionOpen,
		"reminders", o.reminders.Count(),
		"audio_idle", o.audio.IsIdle(),
	)
}

func (o *Orchestrator) abortSpeaking(reason protocols.AbortReason) {
	logger.Info("aborting speaking", "reason", int(reason))
	o.aborted = true
	if o.session != nil {
		o.session.SendAbortSpeaking(reason)
	}
}

func (o *Orchestrator) setListeningMode(mode protocols.ListeningMode) {
	o.listeningMode = mode
	o.stateMachine.RequestTransition(StateListening)
}

func (o *Orchestrator) defaultListeningMode() protocols.ListeningMode {
	if o.config.AecMode == AecOff {
		return protocols.ListeningModeAutoStop
	}
	return protocols.ListeningModeRealtime
}

func (o *Orchestrator) alert(status, message, emotion string, sound Sound) {
	logger.Warn("alert", "status", status, "message", message, "emotion", emotion)
	o.display.SetStatus(status)
	o.display.SetEmotion(emotion)
	o.display.SetChatMessage("system", message)
	if sound != "" {
		o.audio.PlaySound(sound)
	}
}

func (o *Orchestrator) dismissAlert() {
	if o.stateMachine.Current() != StateIdle {
		return
	}
	o.display.SetStatus(statusStandby)
	o.display.SetEmotion(emotionNeutral)
	o.display.ClearChatMessages()
}

func (o *Orchestrator) reminderTriggered(message string, id int) {
	logger.Info("reminder triggered", "id", id, "message", message)
	if o.observers.onReminderTriggered != nil {
		o.observers.onReminderTriggered(message, id)
	}
	o.alert(statusReminder, message, emotionBell, "")

	if o.session != nil && o.stateMachine.Current() == StateIdle {
		o.reminderActive = true
		o.wakeWordInvoke("Please read this reminder aloud: " + message)
		return
	}
	o.playLocalReminderSounds()
}

// playLocalReminderSounds is the fallback when no voice session can carry
// the announcement.
func (o *Orchestrator) playLocalReminderSounds() {
	for i := 0; i < 3; i++ {
		o.audio.PlaySound(SoundSuccess)
	}
	o.audio.PlaySound(SoundVibration)
}

func (o *Orchestrator) handleReminderCompletion() {
	o.reminderActive = false
	o.audio.EnableWakeWordDetection(true)
	o.stateMachine.RequestTransition(StateIdle)
	o.display.ShowNotification("Reminder delivered")
}

func (o *Orchestrator) handleReminderFailure() {
	o.reminderActive = false
	o.audio.EnableWakeWordDetection(true)
	o.playLocalReminderSounds()
}

func (o *Orchestrator) reboot() {
	logger.Info("rebooting")
	if o.session != nil {
		if o.session.IsAudioChannelOpened() {
			o.session.CloseAudioChannel()
		}
		if err := o.session.Close(); err != nil {
			logger.Warn("failed to close session", "error", err)
		}
		o.session = nil
	}
	o.audio.Stop()
	o.board.Reboot()
}

func formatRate(bytesPerSecond int) string {
	return fmt.Sprintf("%dKB/s", bytesPerSecond/1024)
}
