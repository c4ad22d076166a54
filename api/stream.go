package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"habit-progress/domain"
)

const (
	sseDataPrefix  = "data: "
	sseEventPrefix = "event: "
	subscriberBuf  = 16
)

// Broker fans progress events out to SSE clients of the event's group.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
}

// NewBroker returns an empty Broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan []byte]struct{})}
}

func (b *Broker) subscribe(groupID string) chan []byte {
	ch := make(chan []byte, subscriberBuf)
	b.mu.Lock()
	set, ok := b.subs[groupID]
	if !ok {
		set = make(map[chan []byte]struct{})
		b.subs[groupID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) unsubscribe(groupID string, ch chan []byte) {
	b.mu.Lock()
	if set, ok := b.subs[groupID]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(b.subs, groupID)
		}
	}
	b.mu.Unlock()
}

// Broadcast sends data to every subscriber of groupID. Slow subscribers miss
// the message rather than block the others.
func (b *Broker) Broadcast(groupID string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[groupID] {
		select {
		case ch <- data:
		default:
		}
	}
}

// Run relays progress events from the Redis channel until ctx is done,
// resubscribing when the subscription drops.
func (b *Broker) Run(ctx context.Context, rc *redis.Client, channel string, logger *log.Logger) {
	for {
		sub := rc.Subscribe(ctx, channel)
		b.relay(ctx, sub.Channel(), logger)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (b *Broker) relay(ctx context.Context, ch <-chan *redis.Message, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev domain.Event
			if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil {
				logger.WithError(err).Error("unable to parse progress update")
				continue
			}
			if ev.GroupID == "" {
				continue
			}
			b.Broadcast(ev.GroupID, []byte(msg.Payload))
		}
	}
}

// stream serves progress events of one group as server-sent events.
// EventSource cannot set headers, so the token may come as a query param.
func (h *handlers) stream(c echo.Context) error {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if token := c.QueryParam("token"); authHeader == "" && token != "" {
		authHeader = bearerPrefix + token
	}
	userID, err := h.auth.UserIDFromAuthHeader(authHeader)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	if err := h.canRead(c, userID); err != nil {
		return h.fail(c, err)
	}
	groupID := c.Param("groupId")

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	res.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.broker.subscribe(groupID)
	defer h.broker.unsubscribe(groupID, ch)
	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case data := <-ch:
			if _, err := res.Write([]byte(sseEventPrefix + domain.ProgressUpdated + "\n" + sseDataPrefix)); err != nil {
				return err
			}
			if _, err := res.Write(data); err != nil {
				return err
			}
			if _, err := res.Write([]byte("\n\n")); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}
