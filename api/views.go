package api

import (
	"time"

	"habit-progress/domain"
	"habit-progress/progress"
)

// Response views render dates as YYYY-MM-DD.

type factView struct {
	HabitID   string    `json:"habitId"`
	GroupID   string    `json:"groupId"`
	UserID    string    `json:"userId"`
	Date      string    `json:"date"`
	Completed bool      `json:"completed"`
	Feeling   string    `json:"feeling,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type progressView struct {
	HabitID        string    `json:"habitId"`
	GroupID        string    `json:"groupId"`
	Date           string    `json:"date"`
	CompletionRate float64   `json:"completionRate"`
	CompletedCount int       `json:"completedCount"`
	MemberCount    int       `json:"memberCount"`
	State          string    `json:"state"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type resultView struct {
	Fact     factView      `json:"fact"`
	Progress *progressView `json:"progress"`
}

type dayView struct {
	Date           string   `json:"date"`
	CompletionRate *float64 `json:"completionRate"`
	State          string   `json:"state"`
}

type habitView struct {
	ID          string   `json:"id"`
	GroupID     string   `json:"groupId"`
	OwnerID     string   `json:"ownerId"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Frequency   freqView `json:"frequency"`
	StartDate   string   `json:"startDate,omitempty"`
	EndDate     string   `json:"endDate,omitempty"`
}

type freqView struct {
	Type         string           `json:"type"`
	Days         []int            `json:"days"`
	DayIndexBase domain.IndexBase `json:"dayIndexBase"`
}

type habitWeekView struct {
	Habit habitView `json:"habit"`
	Days  []dayView `json:"days"`
}

type weekView struct {
	HabitID string    `json:"habitId"`
	GroupID string    `json:"groupId"`
	End     string    `json:"end"`
	Days    []dayView `json:"days"`
}

type memberFactView struct {
	Fact *factView `json:"fact"`
}

type dailyView struct {
	GroupID        string   `json:"groupId"`
	UserID         string   `json:"userId"`
	Date           string   `json:"date"`
	DueCount       int      `json:"dueCount"`
	CompletedCount int      `json:"completedCount"`
	CompletionRate *float64 `json:"completionRate"`
	State          string   `json:"state"`
}

type boardView struct {
	GroupID string          `json:"groupId"`
	End     string          `json:"end"`
	Habits  []habitWeekView `json:"habits"`
}

func toFactView(f domain.Fact) factView {
	return factView{
		HabitID:   f.HabitID,
		GroupID:   f.GroupID,
		UserID:    f.UserID,
		Date:      domain.FormatDate(f.Date),
		Completed: f.Completed,
		Feeling:   string(f.Feeling),
		Comment:   f.Comment,
		UpdatedAt: f.UpdatedAt,
	}
}

func toDailyView(d progress.DailyCompletion) dailyView {
	return dailyView{
		GroupID:        d.GroupID,
		UserID:         d.UserID,
		Date:           domain.FormatDate(d.Date),
		DueCount:       d.Due,
		CompletedCount: d.Completed,
		CompletionRate: d.Rate,
		State:          string(domain.Classify(d.Rate)),
	}
}

func toResultView(r progress.Result) resultView {
	out := resultView{Fact: toFactView(r.Fact)}
	if p := r.Progress; p != nil {
		rate := p.CompletionRate
		out.Progress = &progressView{
			HabitID:        p.HabitID,
			GroupID:        p.GroupID,
			Date:           domain.FormatDate(p.Date),
			CompletionRate: p.CompletionRate,
			CompletedCount: p.CompletedCount,
			MemberCount:    p.MemberCount,
			State:          string(domain.Classify(&rate)),
			UpdatedAt:      p.UpdatedAt,
		}
	}
	return out
}

func toDayViews(days [domain.WeekLength]domain.ClassifiedDay) []dayView {
	out := make([]dayView, len(days))
	for i, d := range days {
		out[i] = dayView{Date: domain.FormatDate(d.Date), CompletionRate: d.Rate, State: string(d.State)}
	}
	return out
}

// toHabitView renders weekdays with the requested index base.
func toHabitView(h domain.Habit, base domain.IndexBase) habitView {
	if base == "" {
		base = domain.SundayBase
	}
	days := make([]int, len(h.Frequency.Days))
	for i, d := range h.Frequency.Days {
		days[i] = domain.IndexFromWeekday(d, base)
	}
	v := habitView{
		ID:          h.ID,
		GroupID:     h.GroupID,
		OwnerID:     h.OwnerID,
		Name:        h.Name,
		Description: h.Description,
		Category:    h.Category,
		Frequency:   freqView{Type: string(h.Frequency.Type), Days: days, DayIndexBase: base},
	}
	if !h.StartDate.IsZero() {
		v.StartDate = domain.FormatDate(h.StartDate)
	}
	if h.EndDate != nil {
		v.EndDate = domain.FormatDate(*h.EndDate)
	}
	return v
}
