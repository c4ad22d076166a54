package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"habit-progress/aggregation"
	"habit-progress/domain"
)

type recomputer interface {
	Recompute(ctx context.Context, habitID, groupID string, date time.Time) (*domain.GroupProgress, error)
}

type refresher interface {
	Refresh(ctx context.Context, p domain.GroupProgress) error
}

// errPoison marks messages that can never be processed and should be dropped.
var errPoison = errors.New("poison message")

func decodeEvent(payload string) (domain.Event, error) {
	var ev domain.Event
	if err := sonic.UnmarshalString(payload, &ev); err != nil {
		return domain.Event{}, fmt.Errorf("%w: %v", errPoison, err)
	}
	return ev, nil
}

// processEvent re-derives the progress a fact event refers to and refreshes
// the cached day. Live clients are notified by the API that accepted the
// write, so nothing is published here. Errors that may succeed on a later
// attempt are returned so the message stays on the queue.
func processEvent(ctx context.Context, engine recomputer, weeks refresher, ev domain.Event) error {
	if ev.Type != domain.FactRecorded {
		log.WithField("type", ev.Type).Debug("ignoring event")
		return nil
	}
	date, err := domain.ParseDate(ev.Date)
	if err != nil {
		return fmt.Errorf("%w: %v", errPoison, err)
	}
	fields := log.Fields{"habit": ev.HabitID, "group": ev.GroupID, "date": ev.Date, "event": ev.ID}

	p, err := engine.Recompute(ctx, ev.HabitID, ev.GroupID, date)
	if err != nil {
		if errors.Is(err, aggregation.ErrAggregationSkipped) {
			log.WithFields(fields).Info("aggregation skipped")
			return nil
		}
		return err
	}
	if weeks != nil {
		if err := weeks.Refresh(ctx, *p); err != nil {
			log.WithFields(fields).WithError(err).Warn("week cache refresh failed")
		}
	}
	log.WithFields(fields).WithField("rate", p.CompletionRate).Debug("progress reconciled")
	return nil
}
