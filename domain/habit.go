package domain

import (
	"fmt"
	"sort"
	"time"
)

// FrequencyType selects the schedule rule of a habit.
type FrequencyType string

const (
	Everyday FrequencyType = "Everyday"
	WorkDays FrequencyType = "WorkDays"
	Custom   FrequencyType = "Custom"
)

// Frequency describes on which weekdays a habit is due.
type Frequency struct {
	Type FrequencyType `json:"type"`
	Days []time.Weekday `json:"days,omitempty"`
}

// Includes reports whether day is one of the configured weekdays.
func (f Frequency) Includes(day time.Weekday) bool {
	for _, d := range f.Days {
		if d == day {
			return true
		}
	}
	return false
}

// NormalizeFrequency validates f and returns it with sorted, de-duplicated days.
// WorkDays without explicit days defaults to Monday-Friday.
func NormalizeFrequency(f Frequency) (Frequency, error) {
	switch f.Type {
	case Everyday:
		return Frequency{Type: Everyday}, nil
	case WorkDays:
		if len(f.Days) == 0 {
			return Frequency{Type: WorkDays, Days: WorkWeek()}, nil
		}
	case Custom:
		if len(f.Days) == 0 {
			return Frequency{}, fmt.Errorf("%w: custom frequency needs at least one day", ErrInvalidFrequency)
		}
	default:
		return Frequency{}, fmt.Errorf("%w: unknown type %q", ErrInvalidFrequency, f.Type)
	}
	seen := make(map[time.Weekday]struct{}, len(f.Days))
	days := make([]time.Weekday, 0, len(f.Days))
	for _, d := range f.Days {
		if d < time.Sunday || d > time.Saturday {
			return Frequency{}, fmt.Errorf("%w: weekday %d out of range", ErrInvalidFrequency, d)
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return Frequency{Type: f.Type, Days: days}, nil
}

// Habit is a recurring activity tracked by every member of its group.
type Habit struct {
	ID          string     `json:"id"`
	GroupID     string     `json:"groupId"`
	OwnerID     string     `json:"ownerId"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Category    string     `json:"category,omitempty"`
	Frequency   Frequency  `json:"frequency"`
	StartDate   time.Time  `json:"startDate"`
	EndDate     *time.Time `json:"endDate,omitempty"`
}

// Group is a set of members sharing habits.
type Group struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	OwnerID   string   `json:"ownerId"`
	MemberIDs []string `json:"memberIds"`
	HabitIDs  []string `json:"habitIds"`
	Private   bool     `json:"private"`
}

// Members returns the distinct member ids as a set.
func (g Group) Members() map[string]struct{} {
	set := make(map[string]struct{}, len(g.MemberIDs))
	for _, id := range g.MemberIDs {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}

// HasMember reports whether userID belongs to the group.
func (g Group) HasMember(userID string) bool {
	_, ok := g.Members()[userID]
	return ok
}
