// Package reminders implements the calendar-based reminder scheduler: a
// registry of independently timed reminders, one-off or recurring by
// weekday, each owning a single timer that is released on cancellation.
package reminders

import "time"

// Type determines how a reminder's next fire time is recomputed after each
// firing.
type Type int

const (
	TypeOnce Type = iota
	TypeDaily
	TypeWeekly
	TypeWorkdays
	TypeWeekends
)

func (t Type) String() string {
	switch t {
	case TypeOnce:
		return "once"
	case TypeDaily:
		return "daily"
	case TypeWeekly:
		return "weekly"
	case TypeWorkdays:
		return "workdays"
	case TypeWeekends:
		return "weekends"
	}
	return "unknown"
}

// CommandType classifies a reminder management request produced by the
// external command interpreter.
type CommandType int

const (
	CommandNone CommandType = iota
	CommandSet
	CommandCancel
	CommandCancelAll
	CommandCancelByID
	CommandList
)

// Schedule is the validated request descriptor produced by the command
// interpreter. The registry treats it as opaque input: which fields are
// meaningful depends on Type and on the command it arrived with.
type Schedule struct {
	Type Type

	Year  int
	Month int
	Day   int

	Hour   int
	Minute int

	Weekdays []time.Weekday

	Message string

	// DelaySeconds carries a relative one-off delay; used when no absolute
	// date is given.
	DelaySeconds int

	// ReminderID targets an existing reminder for cancel-by-id requests.
	ReminderID int
}

// Reminder is a scheduled item owned by the registry. The snapshots returned
// by List carry no live timer resource.
type Reminder struct {
	ID       int
	Type     Type
	Hour     int
	Minute   int
	Weekdays []time.Weekday
	Message  string
	Enabled  bool
	NextFire time.Time

	timer *time.Timer
}
