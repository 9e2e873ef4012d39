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
)

const streamHeartbeat = 25 * time.Second

// Update hints that a user's boards changed. Open streams of that user
// refetch the affected views.
type Update struct {
	UserID  string `json:"userId"`
	BoardID string `json:"boardId,omitempty"`
	Scope   string `json:"scope,omitempty"`
}

// Publisher distributes updates. Publishing is best effort.
type Publisher interface {
	Publish(ctx context.Context, u Update)
}

// RedisPublisher publishes updates on a Redis channel so every API instance
// can forward them to its own streams.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, u Update) {
	data, err := sonic.Marshal(u)
	if err != nil {
		return
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		log.WithError(err).WithField("channel", p.channel).Warn("publish update")
	}
}

// UpdateBroker fans updates out to the open SSE streams of each user.
type UpdateBroker struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
}

func NewUpdateBroker() *UpdateBroker {
	return &UpdateBroker{subs: make(map[string]map[chan []byte]struct{})}
}

func (b *UpdateBroker) subscribe(userID string) chan []byte {
	ch := make(chan []byte, 8)
	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[chan []byte]struct{})
	}
	b.subs[userID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *UpdateBroker) unsubscribe(userID string, ch chan []byte) {
	b.mu.Lock()
	delete(b.subs[userID], ch)
	if len(b.subs[userID]) == 0 {
		delete(b.subs, userID)
	}
	b.mu.Unlock()
}

// broadcast drops the message for subscribers whose buffer is full.
func (b *UpdateBroker) broadcast(userID string, data []byte) {
	b.mu.Lock()
	for ch := range b.subs[userID] {
		select {
		case ch <- data:
		default:
		}
	}
	b.mu.Unlock()
}

// Publish delivers u to the local streams only.
func (b *UpdateBroker) Publish(_ context.Context, u Update) {
	data, err := sonic.Marshal(u)
	if err != nil {
		return
	}
	b.broadcast(u.UserID, data)
}

// Relay forwards updates published on channel to the local streams until
// ctx is done, resubscribing when the subscription drops.
func (b *UpdateBroker) Relay(ctx context.Context, rc *redis.Client, channel string) {
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	receive:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break receive
				}
				var u Update
				if err := sonic.UnmarshalString(msg.Payload, &u); err != nil || u.UserID == "" {
					log.WithField("channel", channel).Warn("unable to parse update")
					continue
				}
				b.broadcast(u.UserID, []byte(msg.Payload))
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		log.WithField("channel", channel).Error("pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}

func streamUpdates(broker *UpdateBroker) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID := userIDFrom(c)
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		ctx := c.Request().Context()
		ch := broker.subscribe(userID)
		defer broker.unsubscribe(userID, ch)

		c.Response().WriteHeader(http.StatusOK)
		if _, err := c.Response().Write([]byte("event: ready\ndata: {}\n\n")); err != nil {
			return nil
		}
		flusher.Flush()

		heartbeat := time.NewTicker(streamHeartbeat)
		defer heartbeat.Stop()
		for {
			var frame []byte
			select {
			case <-ctx.Done():
				return nil
			case <-heartbeat.C:
				frame = []byte(": ping\n\n")
			case data := <-ch:
				frame = make([]byte, 0, len(data)+8)
				frame = append(frame, "data: "...)
				frame = append(frame, data...)
				frame = append(frame, '\n', '\n')
			}
			if _, err := c.Response().Write(frame); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}
