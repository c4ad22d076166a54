package api

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"habit-progress/config"
	"habit-progress/domain"
)

// RedisPublisher publishes progress events on a Redis channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher returns a publisher writing to channel.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev domain.Event) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

// Notifier hands events to a pool of workers. Fact events go to the
// recompute queue, progress events to live subscribers. When the buffer
// stays full for the handoff timeout the event is delivered inline.
type Notifier struct {
	queue     Enqueuer
	publisher Publisher
	logger    *log.Logger

	jobs    chan domain.Event
	timeout time.Duration
	handoff time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NotifierConfig sizes the worker pool.
type NotifierConfig struct {
	Workers int
	Buffer  int
	Timeout time.Duration
	Handoff time.Duration
}

// NotifierConfigFromEnv reads NOTIFY_WORKERS, NOTIFY_BUFFER, NOTIFY_TIMEOUT
// and NOTIFY_HANDOFF_TIMEOUT.
func NotifierConfigFromEnv() NotifierConfig {
	return NotifierConfig{
		Workers: config.Int("NOTIFY_WORKERS", 8),
		Buffer:  config.Int("NOTIFY_BUFFER", 1024),
		Timeout: config.Duration("NOTIFY_TIMEOUT", 30*time.Second),
		Handoff: config.Duration("NOTIFY_HANDOFF_TIMEOUT", 15*time.Millisecond),
	}
}

// NewNotifier starts the workers. queue and publisher may be nil.
func NewNotifier(queue Enqueuer, publisher Publisher, cfg NotifierConfig, logger *log.Logger) *Notifier {
	if logger == nil {
		panic("Logger is not initialized")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	n := &Notifier{
		queue:     queue,
		publisher: publisher,
		logger:    logger,
		jobs:      make(chan domain.Event, cfg.Buffer),
		timeout:   cfg.Timeout,
		handoff:   cfg.Handoff,
	}
	for i := 0; i < cfg.Workers; i++ {
		n.wg.Add(1)
		go n.worker(i)
	}
	logger.Infof("notifier started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.Timeout, cfg.Handoff)
	return n
}

// Notify implements progress.Notifier. The request context is not used for
// delivery so events survive the end of the request.
func (n *Notifier) Notify(_ context.Context, ev domain.Event) {
	if n.tryEnqueue(ev) {
		return
	}
	n.logger.WithField("event", ev.Type).Warn("notify buffer saturated; delivering inline")
	n.deliver(ev, -1)
}

// Close stops accepting events and waits for queued ones to be delivered.
func (n *Notifier) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.jobs)
	}
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *Notifier) worker(id int) {
	defer n.wg.Done()
	for ev := range n.jobs {
		n.deliver(ev, id)
	}
}

func (n *Notifier) tryEnqueue(ev domain.Event) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return false
	}
	select {
	case n.jobs <- ev:
		return true
	default:
	}
	if n.handoff <= 0 {
		return false
	}
	timer := time.NewTimer(n.handoff)
	defer timer.Stop()
	select {
	case n.jobs <- ev:
		return true
	case <-timer.C:
		return false
	}
}

func (n *Notifier) deliver(ev domain.Event, worker int) {
	ctx := context.Background()
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	var err error
	switch ev.Type {
	case domain.FactRecorded:
		if n.queue != nil {
			err = n.queue.EnqueueEvent(ctx, ev)
		}
	case domain.ProgressUpdated:
		if n.publisher != nil {
			err = n.publisher.Publish(ctx, ev)
		}
	default:
		n.logger.WithField("event", ev.Type).Warn("unknown event type dropped")
		return
	}
	if err != nil {
		n.logger.WithError(err).WithFields(log.Fields{
			"event":  ev.Type,
			"habit":  ev.HabitID,
			"group":  ev.GroupID,
			"worker": worker,
		}).Error("event delivery failed")
	}
}
