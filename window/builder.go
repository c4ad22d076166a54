// Package window projects seven consecutive days of group progress.
package window

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"habit-progress/domain"
)

// ProgressReader lists stored progress rows of a habit in a date range.
type ProgressReader interface {
	ListProgress(ctx context.Context, habitID string, from, to time.Time) ([]domain.GroupProgress, error)
}

// Builder assembles rolling weeks. It holds no state besides its cache.
type Builder struct {
	store ProgressReader
	cache *Cache
}

// NewBuilder returns a Builder; cache may be nil.
func NewBuilder(store ProgressReader, cache *Cache) *Builder {
	return &Builder{store: store, cache: cache}
}

// BuildWeek returns the rates of [end-6, end], oldest first. Days without
// stored progress carry a nil rate.
func (b *Builder) BuildWeek(ctx context.Context, habitID, groupID string, end time.Time) ([domain.WeekLength]domain.DayRate, error) {
	var week [domain.WeekLength]domain.DayRate
	dates := domain.WeekDates(end)

	cached := b.cache.load(ctx, habitID, groupID, dates[:])
	var misses []time.Time
	for _, d := range dates {
		if _, ok := cached[d]; !ok {
			misses = append(misses, d)
		}
	}

	if len(misses) > 0 {
		rows, err := b.store.ListProgress(ctx, habitID, misses[0], misses[len(misses)-1])
		if err != nil {
			return week, err
		}
		byDay := make(map[time.Time]domain.GroupProgress, len(rows))
		for _, p := range rows {
			if p.GroupID != "" && p.GroupID != groupID {
				continue
			}
			byDay[domain.Day(p.Date)] = p
		}
		fetched := make(map[time.Time]*float64, len(misses))
		for _, d := range misses {
			if p, ok := byDay[d]; ok {
				rate := p.CompletionRate
				fetched[d] = &rate
			} else {
				fetched[d] = nil
			}
			cached[d] = fetched[d]
		}
		b.cache.fill(ctx, habitID, groupID, fetched)
		log.WithFields(log.Fields{"habit": habitID, "misses": len(misses)}).Debug("week built from storage")
	}

	for i, d := range dates {
		week[i] = domain.DayRate{Date: d, Rate: cached[d]}
	}
	return week, nil
}

// Refresh replaces the cached rate of one day with recomputed progress.
func (b *Builder) Refresh(ctx context.Context, p domain.GroupProgress) error {
	return b.cache.Refresh(ctx, p)
}
