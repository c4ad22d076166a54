package domain

import (
	"fmt"
	"time"
)

const (
	// DateLayout is the civil day format used at every boundary.
	DateLayout = "2006-01-02"
	// keyLayout is the compact form used inside storage and cache keys.
	keyLayout = "20060102"
)

// Day truncates t to midnight UTC of the same calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD civil day.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DateKey renders t as YYYYMMDD.
func DateKey(t time.Time) string {
	return t.Format(keyLayout)
}

// ParseDateKey is the inverse of DateKey.
func ParseDateKey(s string) (time.Time, error) {
	t, err := time.Parse(keyLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// WeekDates returns the seven days ending at end, oldest first.
func WeekDates(end time.Time) [WeekLength]time.Time {
	end = Day(end)
	var out [WeekLength]time.Time
	for i := range out {
		out[i] = end.AddDate(0, 0, i-(WeekLength-1))
	}
	return out
}
