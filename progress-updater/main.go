package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"habit-progress/aggregation"
	"habit-progress/config"
	"habit-progress/storage"
	"habit-progress/window"
)

const (
	minPoll = 200 * time.Millisecond
	maxPoll = 5 * time.Second
)

type queue interface {
	Dequeue(ctx context.Context) (*storage.Message, error)
	Delete(ctx context.Context, msg *storage.Message) error
}

func main() {
	if config.Bool("DEBUG") {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("progress updater starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tables := storage.Tables{
		Facts:    os.Getenv("FACTS_TABLE"),
		Progress: os.Getenv("PROGRESS_TABLE"),
		Groups:   os.Getenv("GROUPS_TABLE"),
		Habits:   os.Getenv("HABITS_TABLE"),
	}
	queueName := os.Getenv("PROGRESS_QUEUE")
	if connStr == "" || queueName == "" || tables.Facts == "" || tables.Progress == "" || tables.Groups == "" {
		log.Fatal("missing storage config")
	}
	store, err := storage.New(connStr, tables, queueName)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	var rc *redis.Client
	if conn := os.Getenv("REDIS_CONNECTION_STRING"); conn != "" {
		rc = redis.NewClient(storage.RedisOptions(conn))
		defer rc.Close()
	}

	engine := aggregation.NewEngine(store, log.StandardLogger())
	weeks := window.NewCache(rc, config.Duration("WEEK_CACHE_TTL", time.Hour))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	run(ctx, store, engine, weeks)
	log.Info("progress updater stopped")
}

// run consumes the queue until ctx is done. Empty polls back off up to
// maxPoll.
func run(ctx context.Context, q queue, engine recomputer, weeks refresher) {
	wait := minPoll
	for ctx.Err() == nil {
		msg, err := q.Dequeue(ctx)
		if err != nil {
			log.WithError(err).Error("dequeue failed")
			sleep(ctx, maxPoll)
			continue
		}
		if msg == nil {
			sleep(ctx, wait)
			wait = min(wait*2, maxPoll)
			continue
		}
		wait = minPoll
		handle(ctx, q, engine, weeks, msg)
	}
}

func handle(ctx context.Context, q queue, engine recomputer, weeks refresher, msg *storage.Message) {
	ev, err := decodeEvent(msg.Text)
	if err == nil {
		err = processEvent(ctx, engine, weeks, ev)
	}
	if err != nil && !errors.Is(err, errPoison) {
		// Left on the queue; it becomes visible again after the visibility timeout.
		log.WithError(err).WithField("message", msg.ID).Warn("processing failed, will retry")
		return
	}
	if err != nil {
		log.WithError(err).WithField("message", msg.ID).Error("dropping message")
	}
	if err := q.Delete(ctx, msg); err != nil {
		log.WithError(err).WithField("message", msg.ID).Error("delete message failed")
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
