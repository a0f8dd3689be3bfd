package reminders

import "time"

// sameDayMissThreshold rolls a same-day candidate to next week when the
// target time is less than a minute away: by the time the reminder was
// spoken and parsed, a sub-minute target has effectively passed.
const sameDayMissThreshold = time.Minute

var (
	allWeekdays = []time.Weekday{
		time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
		time.Thursday, time.Friday, time.Saturday,
	}
	workdayWeekdays = []time.Weekday{
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
	}
	weekendWeekdays = []time.Weekday{time.Saturday, time.Sunday}
)

// weekdaysFor resolves the allowed weekday set for a recurrence kind.
// Explicit weekdays are only honored for TypeWeekly.
func weekdaysFor(kind Type, explicit []time.Weekday) []time.Weekday {
	switch kind {
	case TypeDaily:
		return allWeekdays
	case TypeWorkdays:
		return workdayWeekdays
	case TypeWeekends:
		return weekendWeekdays
	case TypeWeekly:
		return explicit
	}
	return nil
}

// nextOccurrence computes the delay from now until the earliest occurrence
// of hour:minute on any of the allowed weekdays. A same-day candidate less
// than sameDayMissThreshold in the future counts as missed and rolls one
// week forward. Returns false when no occurrence can be computed.
func nextOccurrence(now time.Time, hour, minute int, weekdays []time.Weekday) (time.Duration, bool) {
	if len(weekdays) == 0 {
		return 0, false
	}

	var best time.Duration
	found := false
	for _, weekday := range weekdays {
		daysAhead := (int(weekday) - int(now.Weekday()) + 7) % 7
		candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location()).
			AddDate(0, 0, daysAhead)
		if daysAhead == 0 && candidate.Sub(now) < sameDayMissThreshold {
			candidate = candidate.AddDate(0, 0, 7)
		}

		offset := candidate.Sub(now)
		if !found || offset < best {
			best = offset
			found = true
		}
	}

	return best, found
}
