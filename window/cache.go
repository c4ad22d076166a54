package window

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"habit-progress/domain"
)

const noneMarker = "none"

// Cache is a read-through Redis cache of per-day completion rates. A nil
// Redis client turns every lookup into a miss.
type Cache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewCache returns a Cache storing entries for ttl.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{redis: client, ttl: ttl}
}

func cacheKey(groupID, habitID string, date time.Time) string {
	return "wk:" + groupID + ":" + habitID + ":" + domain.DateKey(date)
}

// load returns the cached rates for dates. Missing entries are absent from
// the returned map; a present entry with a nil rate means "no progress".
func (c *Cache) load(ctx context.Context, habitID, groupID string, dates []time.Time) map[time.Time]*float64 {
	out := make(map[time.Time]*float64, len(dates))
	if c == nil || c.redis == nil || len(dates) == 0 {
		return out
	}
	keys := make([]string, len(dates))
	for i, d := range dates {
		keys[i] = cacheKey(groupID, habitID, d)
	}
	vals, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil {
		log.WithError(err).WithField("habit", habitID).Warn("week cache read failed")
		return out
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if s == noneMarker {
			out[dates[i]] = nil
			continue
		}
		rate, err := strconv.ParseFloat(s, 64)
		if err != nil {
			_ = c.redis.Del(ctx, keys[i]).Err()
			continue
		}
		out[dates[i]] = &rate
	}
	return out
}

func encodeRate(rate *float64) string {
	if rate == nil {
		return noneMarker
	}
	return strconv.FormatFloat(*rate, 'g', -1, 64)
}

// fill caches rates read from storage. Entries already present are kept: a
// write may have refreshed a day after this read hit storage.
func (c *Cache) fill(ctx context.Context, habitID, groupID string, entries map[time.Time]*float64) {
	if c == nil || c.redis == nil || c.ttl == 0 || len(entries) == 0 {
		return
	}
	_, err := c.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for d, rate := range entries {
			pipe.SetNX(ctx, cacheKey(groupID, habitID, d), encodeRate(rate), c.ttl)
		}
		return nil
	})
	if err != nil {
		log.WithError(err).WithField("habit", habitID).Warn("week cache write failed")
	}
}

// Refresh overwrites the cached rate of the progress day with its freshly
// computed value.
func (c *Cache) Refresh(ctx context.Context, p domain.GroupProgress) error {
	if c == nil || c.redis == nil {
		return nil
	}
	key := cacheKey(p.GroupID, p.HabitID, domain.Day(p.Date))
	if c.ttl == 0 {
		return c.redis.Del(ctx, key).Err()
	}
	rate := p.CompletionRate
	return c.redis.Set(ctx, key, encodeRate(&rate), c.ttl).Err()
}
