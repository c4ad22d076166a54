// Package progress exposes the habit progress operations: recording
// completion facts and reading classified weeks.
package progress

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"habit-progress/aggregation"
	"habit-progress/domain"
)

const boardConcurrency = 4

// Store is the storage the service reads facts, groups and habits from.
type Store interface {
	GetFact(ctx context.Context, habitID, userID string, date time.Time) (*domain.Fact, error)
	PutFact(ctx context.Context, f domain.Fact) (domain.Fact, error)
	ListFacts(ctx context.Context, habitID string, date time.Time) ([]domain.Fact, error)
	GetGroup(ctx context.Context, groupID string) (*domain.Group, error)
	GetHabit(ctx context.Context, groupID, habitID string) (*domain.Habit, error)
	ListHabits(ctx context.Context, groupID string) ([]domain.Habit, error)
	UpsertHabit(ctx context.Context, h domain.Habit) error
}

// Recomputer re-derives the group progress of a (habit, date).
type Recomputer interface {
	Recompute(ctx context.Context, habitID, groupID string, date time.Time) (*domain.GroupProgress, error)
}

// WeekBuilder projects rolling weeks and keeps its cache in step with
// recomputed progress.
type WeekBuilder interface {
	BuildWeek(ctx context.Context, habitID, groupID string, end time.Time) ([domain.WeekLength]domain.DayRate, error)
	Refresh(ctx context.Context, p domain.GroupProgress) error
}

// Notifier receives events after a fact has been written. Implementations
// must not block the caller for long.
type Notifier interface {
	Notify(ctx context.Context, ev domain.Event)
}

// Details is a full description of one member's day for a habit.
type Details struct {
	HabitID   string
	GroupID   string
	UserID    string
	Date      time.Time
	Completed bool
	Feeling   string
	Comment   string
}

// Result is the written fact and the group progress derived from it.
// Progress is nil when aggregation was skipped.
type Result struct {
	Fact     domain.Fact           `json:"fact"`
	Progress *domain.GroupProgress `json:"progress"`
}

// HabitWeek is a classified week of one habit.
type HabitWeek struct {
	Habit domain.Habit                            `json:"habit"`
	Days  [domain.WeekLength]domain.ClassifiedDay `json:"days"`
}

// DailyCompletion is the share of a member's due habits completed on one day.
// Rate is nil when nothing was due.
type DailyCompletion struct {
	GroupID   string
	UserID    string
	Date      time.Time
	Due       int
	Completed int
	Rate      *float64
}

// Service sequences fact writes, recomputation, cache refresh and
// notification.
type Service struct {
	store    Store
	engine   Recomputer
	weeks    WeekBuilder
	notifier Notifier
	logger   *log.Logger
	now      func() time.Time
}

// NewService wires a Service. notifier may be nil.
func NewService(store Store, engine Recomputer, weeks WeekBuilder, notifier Notifier, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{
		store:    store,
		engine:   engine,
		weeks:    weeks,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// ToggleHabitCompletion flips the completion of the user's fact for the day.
// A missing fact counts as not completed, so the first toggle completes it.
func (s *Service) ToggleHabitCompletion(ctx context.Context, habitID, groupID, userID string, date time.Time) (Result, error) {
	if err := validateKey(habitID, groupID, userID, date); err != nil {
		return Result{}, err
	}
	if _, err := s.habit(ctx, groupID, habitID); err != nil {
		return Result{}, err
	}
	existing, err := s.store.GetFact(ctx, habitID, userID, date)
	if err != nil {
		return Result{}, fmt.Errorf("load fact: %w", err)
	}
	f := domain.Fact{HabitID: habitID, GroupID: groupID, UserID: userID, Date: domain.Day(date), Completed: true}
	if existing != nil {
		f.Completed = !existing.Completed
		f.Feeling = existing.Feeling
		f.Comment = existing.Comment
	}
	return s.write(ctx, f)
}

// RecordHabitDetails replaces the user's fact for the day.
func (s *Service) RecordHabitDetails(ctx context.Context, d Details) (Result, error) {
	if err := validateKey(d.HabitID, d.GroupID, d.UserID, d.Date); err != nil {
		return Result{}, err
	}
	feeling, err := domain.ParseFeeling(d.Feeling)
	if err != nil {
		return Result{}, err
	}
	if _, err := s.habit(ctx, d.GroupID, d.HabitID); err != nil {
		return Result{}, err
	}
	return s.write(ctx, domain.Fact{
		HabitID:   d.HabitID,
		GroupID:   d.GroupID,
		UserID:    d.UserID,
		Date:      domain.Day(d.Date),
		Completed: d.Completed,
		Feeling:   feeling,
		Comment:   strings.TrimSpace(d.Comment),
	})
}

func (s *Service) write(ctx context.Context, f domain.Fact) (Result, error) {
	fields := log.Fields{"habit": f.HabitID, "group": f.GroupID, "user": f.UserID, "date": domain.FormatDate(f.Date)}

	written, err := s.store.PutFact(ctx, f)
	if err != nil {
		return Result{}, fmt.Errorf("write fact: %w", err)
	}
	s.notify(ctx, domain.FactRecorded, written, nil)

	p, err := s.engine.Recompute(ctx, f.HabitID, f.GroupID, f.Date)
	if err != nil {
		if errors.Is(err, aggregation.ErrAggregationSkipped) {
			s.logger.WithFields(fields).Info("fact stored without group progress")
			return Result{Fact: written}, nil
		}
		return Result{}, err
	}

	if err := s.weeks.Refresh(ctx, *p); err != nil {
		s.logger.WithFields(fields).WithError(err).Warn("week cache refresh failed")
	}
	s.notify(ctx, domain.ProgressUpdated, written, p)
	return Result{Fact: written, Progress: p}, nil
}

func (s *Service) notify(ctx context.Context, eventType string, f domain.Fact, p *domain.GroupProgress) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, domain.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		HabitID:   f.HabitID,
		GroupID:   f.GroupID,
		UserID:    f.UserID,
		Date:      domain.FormatDate(f.Date),
		Timestamp: s.now().UnixMilli(),
		Progress:  p,
	})
}

// GetWeek returns the classified week of a habit ending at end.
func (s *Service) GetWeek(ctx context.Context, habitID, groupID string, end time.Time) ([domain.WeekLength]domain.ClassifiedDay, error) {
	if end.IsZero() {
		return [domain.WeekLength]domain.ClassifiedDay{}, fmt.Errorf("%w: missing end date", domain.ErrInvalidDate)
	}
	week, err := s.weeks.BuildWeek(ctx, habitID, groupID, end)
	if err != nil {
		return [domain.WeekLength]domain.ClassifiedDay{}, err
	}
	return domain.ClassifyWeek(week), nil
}

// MemberFact returns the user's fact for a habit and day, or nil when the
// user has not recorded anything.
func (s *Service) MemberFact(ctx context.Context, habitID, groupID, userID string, date time.Time) (*domain.Fact, error) {
	if err := validateKey(habitID, groupID, userID, date); err != nil {
		return nil, err
	}
	if _, err := s.habit(ctx, groupID, habitID); err != nil {
		return nil, err
	}
	f, err := s.store.GetFact(ctx, habitID, userID, date)
	if err != nil {
		return nil, fmt.Errorf("load fact: %w", err)
	}
	return f, nil
}

// DailyCompletion counts how many of the group's habits due on date the user
// completed.
func (s *Service) DailyCompletion(ctx context.Context, groupID, userID string, date time.Time) (DailyCompletion, error) {
	if groupID == "" || userID == "" {
		return DailyCompletion{}, fmt.Errorf("%w: group and user are required", domain.ErrInvalidInput)
	}
	if date.IsZero() {
		return DailyCompletion{}, fmt.Errorf("%w: missing date", domain.ErrInvalidDate)
	}
	due, err := s.DueHabits(ctx, groupID, date)
	if err != nil {
		return DailyCompletion{}, err
	}

	done := make([]bool, len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(boardConcurrency)
	for i, h := range due {
		i, h := i, h
		g.Go(func() error {
			f, err := s.store.GetFact(gctx, h.ID, userID, date)
			if err != nil {
				return fmt.Errorf("load fact of habit %s: %w", h.ID, err)
			}
			done[i] = f != nil && f.Completed
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return DailyCompletion{}, err
	}

	out := DailyCompletion{GroupID: groupID, UserID: userID, Date: domain.Day(date), Due: len(due)}
	for _, ok := range done {
		if ok {
			out.Completed++
		}
	}
	if out.Due > 0 {
		rate := float64(out.Completed) / float64(out.Due)
		out.Rate = &rate
	}
	return out, nil
}

// CheckAccess reports whether userID may read the group. Public groups are
// readable by any authenticated user, private ones by the owner and members.
func (s *Service) CheckAccess(ctx context.Context, groupID, userID string) error {
	g, err := s.group(ctx, groupID)
	if err != nil {
		return err
	}
	if g.Private && g.OwnerID != userID && !g.HasMember(userID) {
		return fmt.Errorf("group %s: %w", groupID, domain.ErrForbidden)
	}
	return nil
}

// GroupBoard returns the classified week of every habit in the group,
// ordered by habit id.
func (s *Service) GroupBoard(ctx context.Context, groupID string, end time.Time) ([]HabitWeek, error) {
	if _, err := s.group(ctx, groupID); err != nil {
		return nil, err
	}
	habits, err := s.store.ListHabits(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}

	board := make([]HabitWeek, len(habits))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(boardConcurrency)
	for i, h := range habits {
		i, h := i, h
		g.Go(func() error {
			days, err := s.GetWeek(gctx, h.ID, groupID, end)
			if err != nil {
				return fmt.Errorf("week of habit %s: %w", h.ID, err)
			}
			board[i] = HabitWeek{Habit: h, Days: days}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return board, nil
}

// DueHabits lists the habits of the group that are active and scheduled on
// date.
func (s *Service) DueHabits(ctx context.Context, groupID string, date time.Time) ([]domain.Habit, error) {
	if _, err := s.group(ctx, groupID); err != nil {
		return nil, err
	}
	habits, err := s.store.ListHabits(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}
	due := make([]domain.Habit, 0, len(habits))
	for _, h := range habits {
		if domain.DueOn(h, date) {
			due = append(due, h)
		}
	}
	return due, nil
}

// HabitComments returns the facts of current members that carry a comment
// for the day, ordered by user id.
func (s *Service) HabitComments(ctx context.Context, habitID, groupID string, date time.Time) ([]domain.Fact, error) {
	group, err := s.group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	facts, err := s.store.ListFacts(ctx, habitID, date)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	members := group.Members()
	out := make([]domain.Fact, 0, len(facts))
	for _, f := range facts {
		if f.Comment == "" {
			continue
		}
		if _, ok := members[f.UserID]; !ok {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// UpdateHabitFrequency changes the schedule of a habit. Only the habit owner
// may do so.
func (s *Service) UpdateHabitFrequency(ctx context.Context, groupID, habitID, userID string, freq domain.Frequency) (domain.Habit, error) {
	h, err := s.habit(ctx, groupID, habitID)
	if err != nil {
		return domain.Habit{}, err
	}
	if h.OwnerID != userID {
		return domain.Habit{}, fmt.Errorf("habit %s: %w", habitID, domain.ErrForbidden)
	}
	normalized, err := domain.NormalizeFrequency(freq)
	if err != nil {
		return domain.Habit{}, err
	}
	h.Frequency = normalized
	if err := s.store.UpsertHabit(ctx, *h); err != nil {
		return domain.Habit{}, fmt.Errorf("store habit: %w", err)
	}
	s.logger.WithFields(log.Fields{"habit": habitID, "group": groupID, "frequency": normalized.Type}).Info("habit frequency updated")
	return *h, nil
}

func (s *Service) group(ctx context.Context, groupID string) (*domain.Group, error) {
	g, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("load group: %w", err)
	}
	if g == nil {
		return nil, fmt.Errorf("group %s: %w", groupID, domain.ErrNotFound)
	}
	return g, nil
}

// habit loads a habit of the group. A habit filed under another group is
// reported as not found.
func (s *Service) habit(ctx context.Context, groupID, habitID string) (*domain.Habit, error) {
	h, err := s.store.GetHabit(ctx, groupID, habitID)
	if err != nil {
		return nil, fmt.Errorf("load habit: %w", err)
	}
	if h == nil || h.GroupID != groupID {
		return nil, fmt.Errorf("habit %s in group %s: %w", habitID, groupID, domain.ErrNotFound)
	}
	return h, nil
}

func validateKey(habitID, groupID, userID string, date time.Time) error {
	if habitID == "" || groupID == "" || userID == "" {
		return fmt.Errorf("%w: habit, group and user are required", domain.ErrInvalidInput)
	}
	if date.IsZero() {
		return fmt.Errorf("%w: missing date", domain.ErrInvalidDate)
	}
	return nil
}
