package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"habit-progress/aggregation"
	"habit-progress/api"
	"habit-progress/config"
	"habit-progress/progress"
	"habit-progress/storage"
	"habit-progress/window"
)

type backend interface {
	progress.Store
	aggregation.Store
	window.ProgressReader
}

func main() {
	if config.Bool("DEBUG") {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	var (
		store backend
		queue api.Enqueuer
	)
	switch os.Getenv("STORAGE_BACKEND") {
	case "memory":
		log.Warn("using in-memory storage; data is lost on restart")
		mem := storage.NewMemoryStore()
		if path := os.Getenv("SEED_FILE"); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				log.Fatalf("read seed: %v", err)
			}
			if _, _, err := storage.Seed(context.Background(), mem, data); err != nil {
				log.Fatalf("seed: %v", err)
			}
		}
		store = mem
	default:
		connStr := os.Getenv("STORAGE_CONNECTION_STRING")
		tables := storage.Tables{
			Facts:    os.Getenv("FACTS_TABLE"),
			Progress: os.Getenv("PROGRESS_TABLE"),
			Groups:   os.Getenv("GROUPS_TABLE"),
			Habits:   os.Getenv("HABITS_TABLE"),
		}
		if connStr == "" || tables.Facts == "" || tables.Progress == "" || tables.Groups == "" || tables.Habits == "" {
			log.Fatal("missing storage config")
		}
		s, err := storage.New(connStr, tables, os.Getenv("PROGRESS_QUEUE"))
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		store, queue = s, s
	}

	var rc *redis.Client
	if conn := os.Getenv("REDIS_CONNECTION_STRING"); conn != "" {
		rc = redis.NewClient(storage.RedisOptions(conn))
	} else {
		log.Warn("REDIS_CONNECTION_STRING not set; week cache, idempotency and live updates disabled")
	}

	weekTTL := config.Duration("WEEK_CACHE_TTL", time.Hour)
	builder := window.NewBuilder(store, window.NewCache(rc, weekTTL))
	engine := aggregation.NewEngine(store, logger)

	var (
		publisher api.Publisher
		deduper   api.Deduper
		broker    *api.Broker
	)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if rc != nil {
		channel := os.Getenv("PROGRESS_CHANNEL")
		if channel == "" {
			channel = "progress-updates"
		}
		publisher = api.NewRedisPublisher(rc, channel)
		deduper = api.NewRedisDeduper(rc, config.Duration("DEDUPER_TTL", 24*time.Hour))
		broker = api.NewBroker()
		go broker.Run(ctx, rc, channel, logger)
	}
	notifier := api.NewNotifier(queue, publisher, api.NotifierConfigFromEnv(), logger)
	defer notifier.Close()

	svc := progress.NewService(store, engine, builder, notifier, logger)

	auth := newAuth()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(middleware.Recover())
	e.Use(echoprometheus.NewMiddleware("habit_progress"))
	e.Use(api.GzipRequestMiddleware())
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, svc, auth, deduper, broker, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	go func() {
		if err := e.Start(listenAddr); err != nil {
			log.WithError(err).Info("server stopped")
		}
	}()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown")
	}
}

func newAuth() *api.Auth {
	if os.Getenv("AUTH0_TEST_MODE") == "1" {
		return api.NewAuth(nil, "", "")
	}
	audience := os.Getenv("AUTH0_AUDIENCE")
	domain := os.Getenv("AUTH0_DOMAIN")
	if audience == "" || domain == "" {
		log.Fatal("missing Auth0 config")
	}
	jwks, err := keyfunc.Get(fmt.Sprintf("https://%s/.well-known/jwks.json", domain), keyfunc.Options{})
	if err != nil {
		log.Fatalf("jwks: %v", err)
	}
	return api.NewAuth(jwks, audience, "https://"+domain+"/")
}
