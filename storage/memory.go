package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"habit-progress/domain"
)

type progressKey struct {
	habitID string
	date    string
}

// MemoryStore is an in-process replacement for Storage used by local runs
// and tests. Reads observe every completed write.
type MemoryStore struct {
	mu       sync.RWMutex
	facts    map[domain.FactKey]domain.Fact
	progress map[progressKey]domain.GroupProgress
	groups   map[string]domain.Group
	habits   map[string]map[string]domain.Habit
	now      func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		facts:    make(map[domain.FactKey]domain.Fact),
		progress: make(map[progressKey]domain.GroupProgress),
		groups:   make(map[string]domain.Group),
		habits:   make(map[string]map[string]domain.Habit),
		now:      time.Now,
	}
}

func (m *MemoryStore) GetFact(_ context.Context, habitID, userID string, date time.Time) (*domain.Fact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.facts[domain.FactKey{HabitID: habitID, UserID: userID, Date: domain.Day(date)}]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (m *MemoryStore) PutFact(_ context.Context, f domain.Fact) (domain.Fact, error) {
	f.Date = domain.Day(f.Date)
	f.UpdatedAt = m.now().UTC()
	m.mu.Lock()
	m.facts[f.Key()] = f
	m.mu.Unlock()
	return f, nil
}

func (m *MemoryStore) ListFacts(_ context.Context, habitID string, date time.Time) ([]domain.Fact, error) {
	day := domain.Day(date)
	m.mu.RLock()
	out := []domain.Fact{}
	for k, f := range m.facts {
		if k.HabitID == habitID && k.Date.Equal(day) {
			out = append(out, f)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *MemoryStore) GetProgress(_ context.Context, habitID string, date time.Time) (*domain.GroupProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.progress[progressKey{habitID, domain.DateKey(date)}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryStore) UpsertProgress(_ context.Context, p domain.GroupProgress) error {
	p.Date = domain.Day(p.Date)
	m.mu.Lock()
	m.progress[progressKey{p.HabitID, domain.DateKey(p.Date)}] = p
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ListProgress(_ context.Context, habitID string, from, to time.Time) ([]domain.GroupProgress, error) {
	lo, hi := domain.DateKey(from), domain.DateKey(to)
	m.mu.RLock()
	out := []domain.GroupProgress{}
	for k, p := range m.progress {
		if k.habitID == habitID && k.date >= lo && k.date <= hi {
			out = append(out, p)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *MemoryStore) GetGroup(_ context.Context, groupID string) (*domain.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[groupID]
	if !ok {
		return nil, nil
	}
	g.MemberIDs = append([]string(nil), g.MemberIDs...)
	g.HabitIDs = append([]string(nil), g.HabitIDs...)
	return &g, nil
}

func (m *MemoryStore) UpsertGroup(_ context.Context, g domain.Group) error {
	g.MemberIDs = append([]string(nil), g.MemberIDs...)
	g.HabitIDs = append([]string(nil), g.HabitIDs...)
	m.mu.Lock()
	m.groups[g.ID] = g
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetHabit(_ context.Context, groupID, habitID string) (*domain.Habit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.habits[groupID][habitID]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (m *MemoryStore) ListHabits(_ context.Context, groupID string) ([]domain.Habit, error) {
	m.mu.RLock()
	out := make([]domain.Habit, 0, len(m.habits[groupID]))
	for _, h := range m.habits[groupID] {
		out = append(out, h)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpsertHabit(_ context.Context, h domain.Habit) error {
	h.Frequency.Days = append([]time.Weekday(nil), h.Frequency.Days...)
	m.mu.Lock()
	byID, ok := m.habits[h.GroupID]
	if !ok {
		byID = make(map[string]domain.Habit)
		m.habits[h.GroupID] = byID
	}
	byID[h.ID] = h
	m.mu.Unlock()
	return nil
}
