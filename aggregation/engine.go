// Package aggregation derives group progress from the current set of
// completion facts.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"habit-progress/domain"
)

const spanName = "aggregation.recompute"

// ErrAggregationSkipped is returned when the habit does not belong to the
// group, or there is no group or member to aggregate over. Nothing is written in that case.
var ErrAggregationSkipped = fmt.Errorf("aggregation skipped: %w", domain.ErrNotFound)

// Store is the subset of storage the engine reads from and writes to.
type Store interface {
	GetGroup(ctx context.Context, groupID string) (*domain.Group, error)
	GetHabit(ctx context.Context, groupID, habitID string) (*domain.Habit, error)
	ListFacts(ctx context.Context, habitID string, date time.Time) ([]domain.Fact, error)
	UpsertProgress(ctx context.Context, p domain.GroupProgress) error
}

// Engine recomputes GroupProgress rows. It never reads a previous rate, so
// concurrent recomputes for the same key converge on the latest fact set.
type Engine struct {
	store  Store
	logger *log.Logger
	now    func() time.Time
}

// NewEngine returns an Engine backed by store.
func NewEngine(store Store, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Engine{store: store, logger: logger, now: time.Now}
}

// Recompute derives and stores the completion rate of habitID in groupID on
// date. On any error the previously stored progress is left untouched.
func (e *Engine) Recompute(ctx context.Context, habitID, groupID string, date time.Time) (*domain.GroupProgress, error) {
	ctx, span := otel.Tracer("habit-progress/aggregation").Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(
		attribute.String("habit.id", habitID),
		attribute.String("group.id", groupID),
		attribute.String("progress.date", domain.FormatDate(date)),
	)

	start := time.Now()
	p, err := e.recompute(ctx, habitID, groupID, domain.Day(date))
	recomputeDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		recomputeTotal.WithLabelValues(outcomeOK).Inc()
		span.SetAttributes(
			attribute.Float64("progress.rate", p.CompletionRate),
			attribute.Int("progress.members", p.MemberCount),
		)
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, ErrAggregationSkipped):
		recomputeTotal.WithLabelValues(outcomeSkipped).Inc()
		span.SetStatus(codes.Ok, "skipped")
	default:
		recomputeTotal.WithLabelValues(outcomeFailed).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return p, err
}

func (e *Engine) recompute(ctx context.Context, habitID, groupID string, date time.Time) (*domain.GroupProgress, error) {
	fields := log.Fields{"habit": habitID, "group": groupID, "date": domain.FormatDate(date)}

	habit, err := e.store.GetHabit(ctx, groupID, habitID)
	if err != nil {
		return nil, fmt.Errorf("resolve habit %s: %w", habitID, domain.NewStorageError("get habit", err))
	}
	if habit == nil || habit.GroupID != groupID {
		e.logger.WithFields(fields).Warn("habit not in group, skipping aggregation")
		return nil, ErrAggregationSkipped
	}
	groupID = habit.GroupID

	group, err := e.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("resolve group %s: %w", groupID, domain.NewStorageError("get group", err))
	}
	if group == nil {
		e.logger.WithFields(fields).Warn("group not found, skipping aggregation")
		return nil, ErrAggregationSkipped
	}
	members := group.Members()
	if len(members) == 0 {
		e.logger.WithFields(fields).Warn("group has no members, skipping aggregation")
		return nil, ErrAggregationSkipped
	}

	facts, err := e.store.ListFacts(ctx, habitID, date)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", domain.NewStorageError("list facts", err))
	}
	completed := countCompleted(facts, members)

	p := domain.GroupProgress{
		HabitID:        habitID,
		GroupID:        groupID,
		Date:           date,
		CompletionRate: float64(completed) / float64(len(members)),
		CompletedCount: completed,
		MemberCount:    len(members),
		UpdatedAt:      e.now().UTC(),
	}
	if err := e.store.UpsertProgress(ctx, p); err != nil {
		return nil, fmt.Errorf("store progress: %w", domain.NewStorageError("upsert progress", err))
	}
	e.logger.WithFields(fields).WithField("rate", p.CompletionRate).Debug("group progress recomputed")
	return &p, nil
}

// countCompleted counts members with a completed fact. Facts of users that
// left the group are ignored and each member counts at most once.
func countCompleted(facts []domain.Fact, members map[string]struct{}) int {
	seen := make(map[string]struct{}, len(facts))
	n := 0
	for _, f := range facts {
		if !f.Completed {
			continue
		}
		if _, ok := members[f.UserID]; !ok {
			continue
		}
		if _, dup := seen[f.UserID]; dup {
			continue
		}
		seen[f.UserID] = struct{}{}
		n++
	}
	return n
}
