package api

import (
	"context"
	"time"

	"habit-progress/domain"
	"habit-progress/progress"
)

// ProgressService is the set of progress operations served over HTTP.
type ProgressService interface {
	ToggleHabitCompletion(ctx context.Context, habitID, groupID, userID string, date time.Time) (progress.Result, error)
	RecordHabitDetails(ctx context.Context, d progress.Details) (progress.Result, error)
	GetWeek(ctx context.Context, habitID, groupID string, end time.Time) ([domain.WeekLength]domain.ClassifiedDay, error)
	GroupBoard(ctx context.Context, groupID string, end time.Time) ([]progress.HabitWeek, error)
	DueHabits(ctx context.Context, groupID string, date time.Time) ([]domain.Habit, error)
	HabitComments(ctx context.Context, habitID, groupID string, date time.Time) ([]domain.Fact, error)
	UpdateHabitFrequency(ctx context.Context, groupID, habitID, userID string, freq domain.Frequency) (domain.Habit, error)
	MemberFact(ctx context.Context, habitID, groupID, userID string, date time.Time) (*domain.Fact, error)
	DailyCompletion(ctx context.Context, groupID, userID string, date time.Time) (progress.DailyCompletion, error)
	CheckAccess(ctx context.Context, groupID, userID string) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper remembers idempotency keys and the response produced for them.
type Deduper interface {
	// Claim records the key and returns true if it was not seen before.
	Claim(ctx context.Context, userID, key string) (bool, error)
	// Complete stores the response body produced for a claimed key.
	Complete(ctx context.Context, userID, key string, body []byte) error
	// Result returns the stored response body, or nil while the first
	// request is still in flight.
	Result(ctx context.Context, userID, key string) ([]byte, error)
	// Release forgets a claimed key so the request may be retried.
	Release(ctx context.Context, userID, key string) error
}

// Enqueuer sends events to the recompute queue.
type Enqueuer interface {
	EnqueueEvent(ctx context.Context, ev domain.Event) error
}

// Publisher fans events out to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}
