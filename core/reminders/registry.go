package reminders

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/jinzhu/copier"
)

// MaxReminders bounds the registry. Creation beyond the bound is rejected.
const MaxReminders = 10

var (
	ErrAtCapacity   = errors.New("reminders: registry is at capacity")
	ErrPastTarget   = errors.New("reminders: target time is not in the future")
	ErrNoOccurrence = errors.New("reminders: no future occurrence can be computed")
	ErrUnknownType  = errors.New("reminders: unknown recurrence type")
)

// Registry owns the reminder map. Each item owns exactly one live timer;
// cancellation always stops the timer before the item is removed so a
// cancelled reminder can never fire afterwards.
type Registry struct {
	mu     sync.Mutex
	items  map[int]*Reminder
	order  []int
	nextID int

	now     func() time.Time
	trigger func(message string, id int)
}

type RegistryOption func(*Registry)

// WithClock replaces the wall clock used for next-fire computation.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// WithTrigger registers the callback invoked when a reminder fires. The
// callback runs on a timer goroutine; callers marshal any shared-state
// mutation themselves.
func WithTrigger(trigger func(message string, id int)) RegistryOption {
	return func(r *Registry) {
		r.trigger = trigger
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		items:  map[int]*Reminder{},
		nextID: 1,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnTriggered replaces the fire callback after construction.
func (r *Registry) OnTriggered(trigger func(message string, id int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trigger = trigger
}

// ScheduleOnce arms a one-off reminder that fires after delaySeconds.
func (r *Registry) ScheduleOnce(delaySeconds int, message string) (int, error) {
	if delaySeconds <= 0 {
		return 0, ErrPastTarget
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delay := time.Duration(delaySeconds) * time.Second
	now := r.now()
	item := &Reminder{
		Type:     TypeOnce,
		Hour:     now.Add(delay).Hour(),
		Minute:   now.Add(delay).Minute(),
		Message:  message,
		NextFire: now.Add(delay),
	}
	return r.armLocked(item, delay)
}

// ScheduleOnceAt arms a one-off reminder for an absolute local date-time.
func (r *Registry) ScheduleOnceAt(year int, month time.Month, day, hour, minute int, message string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	target := time.Date(year, month, day, hour, minute, 0, 0, now.Location())
	if !target.After(now) {
		return 0, ErrPastTarget
	}

	item := &Reminder{
		Type:     TypeOnce,
		Hour:     hour,
		Minute:   minute,
		Message:  message,
		NextFire: target,
	}
	return r.armLocked(item, target.Sub(now))
}

// ScheduleRecurring arms a recurring reminder for hour:minute on the weekday
// set implied by kind. The explicit weekday set is honored for TypeWeekly.
func (r *Registry) ScheduleRecurring(hour, minute int, weekdays []time.Weekday, kind Type, message string) (int, error) {
	if kind == TypeOnce {
		return 0, ErrUnknownType
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	allowed := weekdaysFor(kind, weekdays)
	delay, ok := nextOccurrence(now, hour, minute, allowed)
	if !ok {
		return 0, ErrNoOccurrence
	}

	item := &Reminder{
		Type:     kind,
		Hour:     hour,
		Minute:   minute,
		Weekdays: slices.Clone(allowed),
		Message:  message,
		NextFire: now.Add(delay),
	}
	return r.armLocked(item, delay)
}

// FromSchedule arms a reminder from an interpreter-produced descriptor.
func (r *Registry) FromSchedule(schedule Schedule) (int, error) {
	switch schedule.Type {
	case TypeOnce:
		if schedule.Year > 0 {
			return r.ScheduleOnceAt(schedule.Year, time.Month(schedule.Month), schedule.Day,
				schedule.Hour, schedule.Minute, schedule.Message)
		}
		return r.ScheduleOnce(schedule.DelaySeconds, schedule.Message)
	case TypeDaily, TypeWeekly, TypeWorkdays, TypeWeekends:
		return r.ScheduleRecurring(schedule.Hour, schedule.Minute, schedule.Weekdays,
			schedule.Type, schedule.Message)
	}
	return 0, ErrUnknownType
}

func (r *Registry) armLocked(item *Reminder, delay time.Duration) (int, error) {
	if len(r.items) >= MaxReminders {
		return 0, ErrAtCapacity
	}

	id := r.nextID
	r.nextID++

	item.ID = id
	item.Enabled = true
	item.timer = time.AfterFunc(delay, func() { r.fire(id) })
	r.items[id] = item
	r.order = append(r.order, id)

	logger.Info("reminder armed",
		"id", id, "type", item.Type.String(), "next_fire", item.NextFire, "message", item.Message)
	return id, nil
}

// fire runs on the item's timer goroutine.
func (r *Registry) fire(id int) {
	r.mu.Lock()
	item, ok := r.items[id]
	if !ok || !item.Enabled {
		r.mu.Unlock()
		return
	}

	message := item.Message
	if item.Type == TypeOnce {
		// At-most-once: take the item out before releasing the lock so a
		// concurrent cancel cannot race a second delivery.
		r.removeLocked(id)
	} else {
		// Recurring items are re-armed before the callback runs so they are
		// never left disarmed while enabled.
		now := r.now()
		if delay, ok := nextOccurrence(now, item.Hour, item.Minute, item.Weekdays); ok {
			item.NextFire = now.Add(delay)
			item.timer = time.AfterFunc(delay, func() { r.fire(id) })
		} else {
			item.Enabled = false
			item.timer = nil
		}
	}
	trigger := r.trigger
	r.mu.Unlock()

	logger.Info("reminder fired", "id", id, "message", message)
	if trigger != nil {
		trigger(message, id)
	}
}

// CancelByID stops and releases the item's timer and removes the item.
func (r *Registry) CancelByID(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return false
	}
	r.removeLocked(id)
	logger.Info("reminder cancelled", "id", id)
	return true
}

// CancelAll stops every timer and clears the registry.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range slices.Clone(r.order) {
		r.removeLocked(id)
	}
	logger.Info("all reminders cancelled")
}

func (r *Registry) removeLocked(id int) {
	item, ok := r.items[id]
	if !ok {
		return
	}
	if item.timer != nil {
		item.timer.Stop()
		item.timer = nil
	}
	item.Enabled = false
	delete(r.items, id)
	if i := slices.Index(r.order, id); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
}

// List returns a snapshot of all reminders in insertion order.
func (r *Registry) List() []Reminder {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := make([]Reminder, 0, len(r.order))
	for _, id := range r.order {
		var snapshot Reminder
		copier.Copy(&snapshot, r.items[id])
		items = append(items, snapshot)
	}
	return items
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *Registry) HasAny() bool {
	return r.Count() > 0
}
