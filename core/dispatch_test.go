package orchestration

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/junodevice/juno-core/core/events"
	"github.com/junodevice/juno-core/core/reminders"
)

func TestTranscriptionSetsReminder(t *testing.T) {
	h := newTestHarness(t, WithCommandInterpreter(func(text string) (reminders.CommandType, reminders.Schedule) {
		if !strings.Contains(text, "remind me") {
			return reminders.CommandNone, reminders.Schedule{}
		}
		return reminders.CommandSet, reminders.Schedule{
			Type:         reminders.TypeOnce,
			DelaySeconds: 120,
			Message:      "drink water",
		}
	}))
	h.attachSession()

	h.orchestrator.dispatchServerEvent(events.NewSttResult("remind me in two minutes to drink water"))
	h.drain()

	if got := h.orchestrator.Reminders().Count(); got != 1 {
		t.Fatalf("expected one reminder, got %d", got)
	}

	h.display.mu.Lock()
	defer h.display.mu.Unlock()
	var confirmed bool
	for _, entry := range h.display.chat {
		if entry[0] == "system" && strings.Contains(entry[1], "drink water") {
			confirmed = true
		}
	}
	if !confirmed {
		t.Fatalf("expected a confirmation message, got %v", h.display.chat)
	}
}

func TestTranscriptionWithoutCommandOnlyUpdatesChat(t *testing.T) {
	h := newTestHarness(t, WithCommandInterpreter(func(string) (reminders.CommandType, reminders.Schedule) {
		return reminders.CommandNone, reminders.Schedule{}
	}))
	h.attachSession()

	h.orchestrator.dispatchServerEvent(events.NewSttResult("what is the weather"))
	h.drain()

	if got := h.orchestrator.Reminders().Count(); got != 0 {
		t.Fatalf("expected no reminders, got %d", got)
	}

	h.display.mu.Lock()
	defer h.display.mu.Unlock()
	if len(h.display.chat) != 1 || h.display.chat[0][0] != "user" {
		t.Fatalf("expected only the user chat entry, got %v", h.display.chat)
	}
}

func TestCancelWithNoRemindersReportsNothingToCancel(t *testing.T) {
	h := newTestHarness(t)
	h.attachSession()

	h.orchestrator.runReminderCommand(reminders.CommandCancel, reminders.Schedule{})

	h.display.mu.Lock()
	defer h.display.mu.Unlock()
	var reported bool
	for _, entry := range h.display.chat {
		if strings.Contains(entry[1], "no reminders") {
			reported = true
		}
	}
	if !reported {
		t.Fatalf("expected a nothing-to-cancel message, got %v", h.display.chat)
	}
}

func TestCancelByIDReportsMissingReminder(t *testing.T) {
	h := newTestHarness(t)
	h.attachSession()

	h.orchestrator.runReminderCommand(reminders.CommandCancelByID, reminders.Schedule{ReminderID: 42})

	h.display.mu.Lock()
	defer h.display.mu.Unlock()
	var reported bool
	for _, entry := range h.display.chat {
		if strings.Contains(entry[1], "42") && strings.Contains(entry[1], "not found") {
			reported = true
		}
	}
	if !reported {
		t.Fatalf("expected a not-found message, got %v", h.display.chat)
	}
}

func TestListRemindersBuildsSummary(t *testing.T) {
	h := newTestHarness(t)
	h.attachSession()

	if _, err := h.orchestrator.Reminders().ScheduleOnce(300, "stretch"); err != nil {
		t.Fatalf("failed to schedule reminder: %v", err)
	}

	h.orchestrator.runReminderCommand(reminders.CommandList, reminders.Schedule{})

	h.display.mu.Lock()
	defer h.display.mu.Unlock()
	var listed bool
	for _, entry := range h.display.chat {
		if strings.Contains(entry[1], "stretch") {
			listed = true
		}
	}
	if !listed {
		t.Fatalf("expected the reminder in the listing, got %v", h.display.chat)
	}
}

func TestMcpMessageGoesToHandler(t *testing.T) {
	var received json.RawMessage
	h := newTestHarness(t, WithMcpHandler(func(payload json.RawMessage) {
		received = payload
	}))
	h.attachSession()

	h.orchestrator.dispatchServerEvent(events.NewMcpMessage(json.RawMessage(`{"method":"ping"}`)))

	if string(received) != `{"method":"ping"}` {
		t.Fatalf("expected mcp payload to reach the handler, got %q", received)
	}
}

func TestSystemRebootCommand(t *testing.T) {
	h := newTestHarness(t)
	h.attachSession()

	h.orchestrator.dispatchServerEvent(events.NewSystemCommand(events.SystemCommandReboot))
	h.drain()

	h.board.mu.Lock()
	defer h.board.mu.Unlock()
	if h.board.rebooted != 1 {
		t.Fatalf("expected one reboot, got %d", h.board.rebooted)
	}
	if h.orchestrator.session != nil {
		t.Fatalf("expected session torn down before reboot")
	}
}

func TestAlertEventShowsAlert(t *testing.T) {
	h := newTestHarness(t)
	h.attachSession()

	h.orchestrator.dispatchServerEvent(events.NewAlertNotice("Warning", "battery low", "sad"))
	h.drain()

	if got := h.display.currentStatus(); got != "Warning" {
		t.Fatalf("expected alert status, got %q", got)
	}
}
