package domain

import (
	"fmt"
	"time"
)

// Inside this module weekdays are always time.Weekday (Sunday=0 ... Saturday=6).
// Clients may send indexes counted from Monday; convert them with WeekdayFromIndex.

// IndexBase names the weekday a client-supplied index 0 refers to.
type IndexBase string

const (
	SundayBase IndexBase = "sunday"
	MondayBase IndexBase = "monday"
)

var workWeek = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

// WorkWeek returns Monday through Friday.
func WorkWeek() []time.Weekday {
	return append([]time.Weekday(nil), workWeek...)
}

// WeekdayFromIndex converts a boundary weekday index into the canonical encoding.
func WeekdayFromIndex(index int, base IndexBase) (time.Weekday, error) {
	if index < 0 || index > 6 {
		return 0, fmt.Errorf("%w: weekday index %d out of range", ErrInvalidFrequency, index)
	}
	switch base {
	case SundayBase, "":
		return time.Weekday(index), nil
	case MondayBase:
		return time.Weekday((index + 1) % 7), nil
	default:
		return 0, fmt.Errorf("%w: unknown weekday base %q", ErrInvalidFrequency, base)
	}
}

// IndexFromWeekday converts a canonical weekday into a boundary index.
func IndexFromWeekday(day time.Weekday, base IndexBase) int {
	if base == MondayBase {
		return (int(day) + 6) % 7
	}
	return int(day)
}
