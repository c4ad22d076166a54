package domain

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// IsDue reports whether the habit's frequency schedules it on date. An
// unknown frequency type is never due.
func IsDue(h Habit, date time.Time) bool {
	switch h.Frequency.Type {
	case Everyday:
		return true
	case WorkDays:
		wd := Day(date).Weekday()
		if len(h.Frequency.Days) == 0 {
			return wd != time.Saturday && wd != time.Sunday
		}
		return h.Frequency.Includes(wd)
	case Custom:
		return h.Frequency.Includes(Day(date).Weekday())
	default:
		log.WithFields(log.Fields{"habit": h.ID, "frequency": h.Frequency.Type}).Warn("unknown frequency type, habit treated as never due")
		return false
	}
}

// Active reports whether date lies within the habit's start and end dates.
// A zero StartDate means the habit has no lower bound.
func Active(h Habit, date time.Time) bool {
	d := Day(date)
	if !h.StartDate.IsZero() && d.Before(Day(h.StartDate)) {
		return false
	}
	if h.EndDate != nil && d.After(Day(*h.EndDate)) {
		return false
	}
	return true
}

// DueOn combines Active and IsDue.
func DueOn(h Habit, date time.Time) bool {
	return Active(h, date) && IsDue(h, date)
}
