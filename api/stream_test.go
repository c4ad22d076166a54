package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"habit-progress/domain"
)

type syncRecorder struct {
	mu sync.Mutex
	*httptest.ResponseRecorder
}

func (r *syncRecorder) Write(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(b)
}

func (r *syncRecorder) Flush() {}

func (r *syncRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Body.String()
}

func TestBrokerBroadcastByGroup(t *testing.T) {
	b := NewBroker()
	g1 := b.subscribe("g1")
	g2 := b.subscribe("g2")

	b.Broadcast("g1", []byte("hello"))
	select {
	case msg := <-g1:
		if string(msg) != "hello" {
			t.Fatalf("expected hello got %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
	select {
	case <-g2:
		t.Fatal("message leaked to another group")
	default:
	}

	b.unsubscribe("g1", g1)
	b.Broadcast("g1", []byte("world"))
	select {
	case <-g1:
		t.Fatal("received message after removal")
	default:
	}
}

func TestBrokerRunRelaysRedisMessages(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	b := NewBroker()
	ch := b.subscribe("g1")
	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx, rc, "progress", logger)
		close(done)
	}()

	payload := `{"Id":"1","Type":"progress-updated","HabitId":"h1","GroupId":"g1","Date":"2024-06-03","Timestamp":1}`
	deadline := time.After(2 * time.Second)
	for received := false; !received; {
		rc.Publish(context.Background(), "progress", payload)
		select {
		case msg := <-ch:
			if string(msg) != payload {
				t.Fatalf("unexpected payload %s", msg)
			}
			received = true
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("message not relayed")
		}
	}
	cancel()
	<-done
}

func streamHandlers(b *Broker, svc ProgressService) *handlers {
	logger, _ := test.NewNullLogger()
	return &handlers{svc: svc, auth: fakeAuth{user: "u1"}, broker: b, logger: logger}
}

func TestStreamGroupWritesEvents(t *testing.T) {
	b := NewBroker()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/groups/g1/stream?token=a.b.c", nil)
	ctx, cancel := context.WithCancel(context.Background())
	req = req.WithContext(ctx)
	rec := &syncRecorder{ResponseRecorder: httptest.NewRecorder()}
	c := e.NewContext(req, rec)
	c.SetParamNames("groupId")
	c.SetParamValues("g1")

	errCh := make(chan error, 1)
	go func() { errCh <- streamHandlers(b, failingService{}).stream(c) }()

	deadline := time.After(time.Second)
	for !strings.Contains(rec.body(), `"GroupId":"g1"`) {
		b.Broadcast("g1", []byte(`{"GroupId":"g1"}`))
		select {
		case <-deadline:
			t.Fatalf("no event written, body %q", rec.body())
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !strings.HasPrefix(rec.body(), "event: progress-updated\ndata: ") {
		t.Fatalf("unexpected body %q", rec.body())
	}
	if got := rec.Header().Get(echo.HeaderContentType); got != "text/event-stream" {
		t.Fatalf("unexpected content type %s", got)
	}
}

func TestStreamGroupRequiresAuth(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/groups/g1/stream", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := streamHandlers(NewBroker(), failingService{}).stream(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestStreamGroupRejectsOutsiders(t *testing.T) {
	b := NewBroker()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/groups/secret/stream?token=a.b.c", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("groupId")
	c.SetParamValues("secret")

	svc := failingService{accessErr: fmt.Errorf("group secret: %w", domain.ErrForbidden)}
	if err := streamHandlers(b, svc).stream(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subs) != 0 {
		t.Fatalf("expected no subscription for a rejected client")
	}
}
