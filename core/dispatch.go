package orchestration

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/junodevice/juno-core/core/events"
	"github.com/junodevice/juno-core/core/protocols"
	"github.com/junodevice/juno-core/core/reminders"
)

// dispatchServerEvent runs on the session's read goroutine. Anything that
// touches loop-owned state is marshalled through the task queue.
func (o *Orchestrator) dispatchServerEvent(event events.Event) {
	o.emit(event)

	switch e := event.(type) {
	case events.TtsStarted:
		o.Schedule(func() {
			o.aborted = false
			switch o.stateMachine.Current() {
			case StateIdle, StateListening:
				o.stateMachine.RequestTransition(StateSpeaking)
			}
		})

	case events.TtsStopped:
		o.Schedule(func() { o.ttsStopped() })

	case events.TtsSentence:
		text := e.Text
		o.Schedule(func() { o.display.SetChatMessage("assistant", text) })

	case events.SttResult:
		o.handleTranscription(e.Text)

	case events.LlmEmotion:
		emotion := e.Emotion
		o.Schedule(func() { o.display.SetEmotion(emotion) })

	case events.McpMessage:
		if o.mcpHandler != nil {
			o.mcpHandler(e.Payload)
		}

	case events.SystemCommand:
		if e.Command == events.SystemCommandReboot {
			o.Reboot()
		} else {
			logger.Warn("unknown system command", "command", e.Command)
		}

	case events.AlertNotice:
		o.Alert(e.Status, e.Message, e.Emotion, SoundVibration)

	case events.CustomMessage:
		payload := string(e.Payload)
		o.Schedule(func() { o.display.SetChatMessage("system", payload) })

	default:
		logger.Warn("unhandled server event", "kind", string(event.Kind()))
	}
}

func (o *Orchestrator) ttsStopped() {
	if o.stateMachine.Current() != StateSpeaking {
		return
	}
	if o.reminderActive {
		o.handleReminderCompletion()
		return
	}
	if o.listeningMode == protocols.ListeningModeManualStop {
		o.stateMachine.RequestTransition(StateIdle)
		return
	}
	o.stateMachine.RequestTransition(StateListening)
}

// handleTranscription routes a final transcription: reminder commands are
// executed locally, everything else just lands in the chat log.
func (o *Orchestrator) handleTranscription(text string) {
	o.Schedule(func() { o.display.SetChatMessage("user", text) })

	if o.interpret == nil {
		return
	}
	command, schedule := o.interpret(text)
	if command == reminders.CommandNone {
		return
	}
	o.Schedule(func() { o.runReminderCommand(command, schedule) })
}

func (o *Orchestrator) runReminderCommand(command reminders.CommandType, schedule reminders.Schedule) {
	switch command {
	case reminders.CommandSet:
		id, err := o.reminders.FromSchedule(schedule)
		if err != nil {
			logger.Warn("failed to set reminder", "error", err)
			o.alert(statusReminder, setFailureMessage(err), emotionSad, SoundExclamation)
			return
		}
		o.alert(statusReminder, confirmationMessage(id, schedule), emotionHappy, SoundSuccess)

	case reminders.CommandCancel:
		// Voice "cancel my reminder" without an id clears everything,
		// matching what users expect with a single pending reminder.
		if !o.reminders.HasAny() {
			o.alert(statusReminder, "There are no reminders to cancel", emotionNeutral, "")
			return
		}
		o.reminders.CancelAll()
		o.alert(statusReminder, "Reminders cancelled", emotionHappy, SoundSuccess)

	case reminders.CommandCancelAll:
		o.reminders.CancelAll()
		o.alert(statusReminder, "All reminders cancelled", emotionHappy, SoundSuccess)

	case reminders.CommandCancelByID:
		if o.reminders.CancelByID(schedule.ReminderID) {
			o.alert(statusReminder,
				fmt.Sprintf("Reminder %d cancelled", schedule.ReminderID),
				emotionHappy, SoundSuccess)
			return
		}
		o.alert(statusReminder,
			fmt.Sprintf("Reminder %d was not found", schedule.ReminderID),
			emotionSad, "")

	case reminders.CommandList:
		o.listReminders()
	}
}

func (o *Orchestrator) listReminders() {
	items := o.reminders.List()
	if len(items) == 0 {
		o.alert(statusReminder, "No reminders set", emotionNeutral, "")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d reminder(s):\n", len(items))
	for _, item := range items {
		fmt.Fprintf(&b, "#%d [%s] %02d:%02d %s\n",
			item.ID, item.Type, item.Hour, item.Minute, item.Message)
	}
	o.alert(statusReminder, strings.TrimRight(b.String(), "\n"), emotionNeutral, "")
}

func setFailureMessage(err error) string {
	switch {
	case errors.Is(err, reminders.ErrAtCapacity):
		return fmt.Sprintf("Cannot set more than %d reminders", reminders.MaxReminders)
	case errors.Is(err, reminders.ErrPastTarget):
		return "That time has already passed"
	default:
		return "Could not set the reminder"
	}
}

func confirmationMessage(id int, schedule reminders.Schedule) string {
	switch schedule.Type {
	case reminders.TypeOnce:
		if schedule.Year > 0 {
			return fmt.Sprintf("Reminder %d set for %04d-%02d-%02d %02d:%02d: %s",
				id, schedule.Year, schedule.Month, schedule.Day,
				schedule.Hour, schedule.Minute, schedule.Message)
		}
		return fmt.Sprintf("Reminder %d set for %d seconds from now: %s",
			id, schedule.DelaySeconds, schedule.Message)
	case reminders.TypeDaily:
		return fmt.Sprintf("Daily reminder %d set for %02d:%02d: %s",
			id, schedule.Hour, schedule.Minute, schedule.Message)
	case reminders.TypeWorkdays:
		return fmt.Sprintf("Workday reminder %d set for %02d:%02d: %s",
			id, schedule.Hour, schedule.Minute, schedule.Message)
	case reminders.TypeWeekends:
		return fmt.Sprintf("Weekend reminder %d set for %02d:%02d: %s",
			id, schedule.Hour, schedule.Minute, schedule.Message)
	case reminders.TypeWeekly:
		return fmt.Sprintf("Weekly reminder %d set for %s %02d:%02d: %s",
			id, weekdayNames(schedule.Weekdays), schedule.Hour, schedule.Minute, schedule.Message)
	}
	return fmt.Sprintf("Reminder %d set: %s", id, schedule.Message)
}

func weekdayNames(weekdays []time.Weekday) string {
	names := make([]string, 0, len(weekdays))
	for _, day := range weekdays {
		names = append(names, day.String())
	}
	return strings.Join(names, ", ")
}
