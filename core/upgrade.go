package orchestration

import (
	"context"
	"fmt"
	"time"
)

// upgradeFirmware downloads and flashes a new firmware image. It runs on
// the activation worker before any protocol session exists. On success the
// device reboots and this function does not meaningfully return; on failure
// normal operation resumes on the current version.
func (o *Orchestrator) upgradeFirmware(ctx context.Context, controller UpdateController) error {
	ctx, span := tracer.Start(ctx, "orchestration.upgrade")
	defer span.End()

	version := controller.FirmwareVersion()
	logger.Info("new firmware available",
		"current", controller.CurrentVersion(), "new", version)

	o.alert(statusUpgrading, "New version found: "+version, emotionHappy, SoundUpgrade)
	if !o.sleep(ctx, 3*time.Second) {
		return ctx.Err()
	}

	o.Schedule(func() { o.stateMachine.RequestTransition(StateUpgrading) })
	o.display.SetChatMessage("system", "Updating to version "+version+", do not power off...")
	o.board.SetPowerSaveLevel(PowerSavePerformance)
	o.audio.Stop()
	o.sleep(ctx, time.Second)

	err := controller.Upgrade(ctx, controller.FirmwareURL(), func(percent, bytesPerSecond int) {
		o.Schedule(func() {
			o.display.SetChatMessage("system",
				fmt.Sprintf("Updating %d%% (%s)", percent, formatRate(bytesPerSecond)))
		})
	})
	if err != nil {
		logger.Error("firmware upgrade failed", "error", err)
		span.RecordError(err)

		// Recover to normal operation.
		o.audio.Start()
		o.board.SetPowerSaveLevel(PowerSaveLow)
		o.alert(statusError, "Update failed", emotionSad, SoundExclamation)
		o.sleep(ctx, 3*time.Second)
		return err
	}

	logger.Info("firmware upgrade complete, rebooting", "version", version)
	o.display.SetChatMessage("system", "Update successful, restarting...")
	o.sleep(ctx, time.Second)
	o.board.Reboot()
	return nil
}
