package domain

import "time"

// WeekLength is the number of days in a rolling window.
const WeekLength = 7

// GroupProgress is the derived completion rate of a habit on a day.
type GroupProgress struct {
	HabitID        string    `json:"habitId"`
	GroupID        string    `json:"groupId"`
	Date           time.Time `json:"date"`
	CompletionRate float64   `json:"completionRate"`
	CompletedCount int       `json:"completedCount"`
	MemberCount    int       `json:"memberCount"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// DayRate is one entry of a rolling window. A nil Rate means no fact was
// recorded for that day yet.
type DayRate struct {
	Date time.Time `json:"date"`
	Rate *float64  `json:"completionRate"`
}

// ClassifiedDay is a DayRate with its display state.
type ClassifiedDay struct {
	Date  time.Time  `json:"date"`
	Rate  *float64   `json:"completionRate"`
	State Completion `json:"state"`
}
