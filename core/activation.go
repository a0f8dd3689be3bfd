package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/junodevice/juno-core/core/ota"
	"github.com/junodevice/juno-core/core/protocols"
)

const (
	versionCheckRetries    = 10
	versionCheckBaseDelay  = 10 * time.Second
	activationPollAttempts = 10
)

// startActivation spawns the activation worker. A single worker runs at a
// time; a second request while one is in flight is dropped.
func (o *Orchestrator) startActivation(ctx context.Context) {
	if !o.activationRunning.CompareAndSwap(false, true) {
		logger.Warn("activation already in progress, dropping request")
		return
	}
	go func() {
		defer o.activationRunning.Store(false)
		o.activationTask(ctx)
	}()
}

// activationTask runs off-loop: version check, activation, asset check and
// protocol bring-up. Results are handed back to the loop through the task
// queue before signalActivationDone is raised, so the loop never observes a
// half-initialized session.
func (o *Orchestrator) activationTask(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "orchestration.activation")
	defer span.End()

	controller := o.controllerFactory()

	o.checkAssetsVersion(ctx)
	if !o.checkNewVersion(ctx, controller) {
		return
	}

	session := o.buildSession(controller)
	version := controller.CurrentVersion()

	o.Schedule(func() {
		o.session = session
		o.activatedVersion = version
		o.signals.Raise(signalActivationDone)
	})
}

// checkAssetsVersion downloads and applies a queued asset bundle once per
// boot. Only the activation worker touches o.assetsChecked; successive
// workers are serialized by activationRunning.
func (o *Orchestrator) checkAssetsVersion(ctx context.Context) {
	if o.assetsChecked || o.assets == nil {
		return
	}
	o.assetsChecked = true

	if !o.assets.PartitionValid() {
		logger.Warn("asset partition is not valid, skipping asset check")
		return
	}
	url, ok := o.assets.PendingDownloadURL()
	if !ok {
		o.assets.Apply()
		return
	}

	logger.Info("downloading assets", "url", url)
	o.Schedule(func() { o.stateMachine.RequestTransition(StateUpgrading) })
	o.board.SetPowerSaveLevel(PowerSavePerformance)
	o.display.SetStatus(statusUpgrading)
	o.display.SetChatMessage("system", "Downloading assets, please wait...")

	err := o.assets.Download(ctx, url, func(percent, bytesPerSecond int) {
		o.Schedule(func() {
			o.display.SetChatMessage("system",
				fmt.Sprintf("Downloading assets %d%% (%s)", percent, formatRate(bytesPerSecond)))
		})
	})
	o.board.SetPowerSaveLevel(PowerSaveLow)
	if err != nil {
		logger.Error("asset download failed", "error", err)
		o.alert(statusError, "Asset download failed", emotionSad, SoundExclamation)
		o.sleep(ctx, 2*time.Second)
		o.Schedule(func() { o.stateMachine.RequestTransition(StateActivating) })
		return
	}

	o.assets.Apply()
	o.Schedule(func() { o.stateMachine.RequestTransition(StateActivating) })
	o.display.SetChatMessage("system", "")
}

// checkNewVersion polls the update endpoint until the device is activated
// and up to date. Returns false only when the device is about to reboot
// into new firmware or ctx is done; exhausting the retries abandons the
// check so protocol bring-up still happens on the current version.
func (o *Orchestrator) checkNewVersion(ctx context.Context, controller UpdateController) bool {
	retryCount := 0
	retryDelay := versionCheckBaseDelay

	for {
		o.display.SetStatus(statusChecking)
		if err := controller.CheckVersion(ctx); err != nil {
			if ctx.Err() != nil {
				return false
			}
			retryCount++
			if retryCount >= versionCheckRetries {
				logger.Error("version check failed too many times, giving up",
					"error", err, "attempts", retryCount)
				o.alert(statusError, "Update check failed", emotionSad, SoundExclamation)
				return true
			}

			logger.Warn("version check failed, retrying",
				"error", err,
				"retry_in", retryDelay,
				"attempt", retryCount, "max_attempts", versionCheckRetries)
			o.alert(statusError,
				fmt.Sprintf("Update check failed, retrying in %d seconds", int(retryDelay.Seconds())),
				emotionSad, "")

			// Waits second by second so a user interaction (which moves
			// the device to idle) can cut the backoff short.
			for i := 0; i < int(retryDelay.Seconds()); i++ {
				if !o.sleep(ctx, time.Second) {
					return false
				}
				if o.stateMachine.Current() == StateIdle {
					break
				}
			}
			retryDelay *= 2
			continue
		}
		retryCount = 0
		retryDelay = versionCheckBaseDelay

		if controller.HasNewVersion() {
			if o.upgradeFirmware(ctx, controller) == nil {
				// Device reboots into the new firmware.
				return false
			}
			// A failed upgrade is not fatal: continue on the current
			// version.
		}
		controller.MarkCurrentVersionValid()

		if !controller.HasActivationCode() && !controller.HasActivationChallenge() {
			return true
		}

		o.display.SetStatus(statusActivation)
		if controller.HasActivationCode() {
			o.showActivationCode(controller.ActivationCode(), controller.ActivationMessage())
		}

		for i := 0; i < activationPollAttempts; i++ {
			err := controller.Activate(ctx)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return false
			}
			if errors.Is(err, ota.ErrTimeout) {
				o.sleep(ctx, 3*time.Second)
			} else {
				logger.Warn("activation attempt failed", "error", err)
				o.sleep(ctx, 10*time.Second)
			}
			if o.stateMachine.Current() == StateIdle {
				break
			}
		}
	}
}

// showActivationCode displays the code and reads it out digit by digit.
func (o *Orchestrator) showActivationCode(code, message string) {
	o.alert(statusActivation, message, emotionHappy, SoundActivation)
	for _, digit := range code {
		if sound, ok := digitSound(digit); ok {
			o.audio.PlaySound(sound)
		}
	}
}

// buildSession picks a transport and constructs the protocol session,
// falling back to the alternate transport when the preferred one cannot be
// built. Returns nil when no transport works; voice interaction stays
// unavailable but the device still reaches idle.
func (o *Orchestrator) buildSession(controller UpdateController) protocols.Session {
	o.display.SetStatus(statusLoading)

	transport := o.config.Transport
	if !controller.HasWebsocketConfig() && controller.HasMqttConfig() {
		transport = protocols.TransportMqtt
	}

	session, err := o.sessionBuilder(transport, controller)
	if err != nil {
		fallback := protocols.TransportWebsocket
		if transport == protocols.TransportWebsocket {
			fallback = protocols.TransportMqtt
		}
		logger.Warn("failed to build session, trying fallback transport",
			"transport", string(transport), "fallback", string(fallback), "error", err)
		session, err = o.sessionBuilder(fallback, controller)
		if err != nil {
			logger.Error("no protocol transport available", "error", err)
			return nil
		}
	}

	session.SetCallbacks(protocols.Callbacks{
		OnConnected: func() {
			o.Schedule(func() { o.dismissAlert() })
		},
		OnNetworkError: func(message string) {
			o.ReportError(message)
		},
		OnIncomingAudio: func(packet *protocols.AudioPacket) {
			if o.stateMachine.Current() == StateSpeaking {
				o.audio.PushDecodePacket(packet)
			}
		},
		OnAudioChannelOpened: func() {
			o.board.SetPowerSaveLevel(PowerSavePerformance)
			if rate := session.ServerSampleRate(); rate != 0 && rate != o.config.SampleRate {
				logger.Warn("server sample rate differs from device output, resampling",
					"server", rate, "device", o.config.SampleRate)
			}
		},
		OnAudioChannelClosed: func() {
			o.board.SetPowerSaveLevel(PowerSaveLow)
			o.Schedule(func() {
				o.display.SetChatMessage("system", "")
				o.stateMachine.RequestTransition(StateIdle)
			})
		},
		OnIncomingEvent: o.dispatchServerEvent,
	})

	if err := session.Start(); err != nil {
		logger.Error("failed to start session", "error", err)
		return nil
	}
	return session
}

// sleepCtx sleeps for d, returning false when ctx ended the wait early.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
