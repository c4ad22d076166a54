package domain

import (
	"fmt"
	"strings"
	"time"
)

// Feeling is the optional mood a member attaches to a fact.
type Feeling string

const (
	FeelingGreat      Feeling = "great"
	FeelingGood       Feeling = "good"
	FeelingOkay       Feeling = "okay"
	FeelingStruggling Feeling = "struggling"
	FeelingDifficult  Feeling = "difficult"
)

// ParseFeeling trims s and checks it against the known feelings. An empty
// string yields an empty Feeling and no error.
func ParseFeeling(s string) (Feeling, error) {
	f := Feeling(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case "", FeelingGreat, FeelingGood, FeelingOkay, FeelingStruggling, FeelingDifficult:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFeeling, s)
}

// Fact records whether one member completed one habit on one day.
// Its identity is (HabitID, UserID, Date).
type Fact struct {
	HabitID   string    `json:"habitId"`
	GroupID   string    `json:"groupId"`
	UserID    string    `json:"userId"`
	Date      time.Time `json:"date"`
	Completed bool      `json:"completed"`
	Feeling   Feeling   `json:"feeling,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FactKey identifies a fact.
type FactKey struct {
	HabitID string
	UserID  string
	Date    time.Time
}

// Key returns the identity of f.
func (f Fact) Key() FactKey {
	return FactKey{HabitID: f.HabitID, UserID: f.UserID, Date: Day(f.Date)}
}

// SameContent reports whether f and o carry the same user-visible data.
func (f Fact) SameContent(o Fact) bool {
	return f.Key() == o.Key() &&
		f.GroupID == o.GroupID &&
		f.Completed == o.Completed &&
		f.Feeling == o.Feeling &&
		f.Comment == o.Comment
}
