package storage

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"

	"habit-progress/domain"
)

type seedFile struct {
	Groups []domain.Group `json:"groups"`
	Habits []domain.Habit `json:"habits"`
}

// Seeder is implemented by Storage and MemoryStore.
type Seeder interface {
	UpsertGroup(ctx context.Context, g domain.Group) error
	UpsertHabit(ctx context.Context, h domain.Habit) error
}

// Seed writes the groups and habits described by data. Habits are validated
// before anything is written so a bad file leaves storage untouched.
func Seed(ctx context.Context, store Seeder, data []byte) (int, int, error) {
	var f seedFile
	if err := sonic.Unmarshal(data, &f); err != nil {
		return 0, 0, fmt.Errorf("decode seed: %w", err)
	}
	for i, h := range f.Habits {
		if h.ID == "" || h.GroupID == "" {
			return 0, 0, fmt.Errorf("habit %d: %w: id and groupId are required", i, domain.ErrInvalidInput)
		}
		freq, err := domain.NormalizeFrequency(h.Frequency)
		if err != nil {
			return 0, 0, fmt.Errorf("habit %s: %w", h.ID, err)
		}
		f.Habits[i].Frequency = freq
		if !h.StartDate.IsZero() {
			f.Habits[i].StartDate = domain.Day(h.StartDate)
		}
	}
	for _, g := range f.Groups {
		if g.ID == "" {
			return 0, 0, fmt.Errorf("%w: group id is required", domain.ErrInvalidInput)
		}
	}
	for _, g := range f.Groups {
		if err := store.UpsertGroup(ctx, g); err != nil {
			return 0, 0, err
		}
	}
	for _, h := range f.Habits {
		if err := store.UpsertHabit(ctx, h); err != nil {
			return len(f.Groups), 0, err
		}
	}
	return len(f.Groups), len(f.Habits), nil
}
