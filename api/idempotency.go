package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	dedupeKeyPrefix      = "reorder"
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
)

// RedisDeduper stores seen idempotency keys in Redis so all instances skip
// a reorder request that was already applied.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, key string) string {
	return fmt.Sprintf("%s:%s:%s", userID, dedupeKeyPrefix, key)
}

// Add records the key if it does not already exist. It returns true when the
// key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, userID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(userID, key), 1, r.ttl).Result()
}

// Remove deletes a previously recorded key so the caller may retry.
func (r *RedisDeduper) Remove(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}

// idempotent answers a repeated request carrying the same Idempotency-Key
// with "updated" instead of applying it again. A failed request releases
// its key. Requests without the header and a nil deduper pass through.
func idempotent(deduper Deduper) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get(headerIdempotencyKey)
			if deduper == nil || key == "" {
				return next(c)
			}
			ctx := c.Request().Context()
			userID := userIDFrom(c)
			added, err := deduper.Add(ctx, userID, key)
			if err != nil {
				// Redis being down must not block reorders.
				log.WithError(err).WithField("userId", userID).Warn("idempotency check failed")
				return next(c)
			}
			if !added {
				c.Response().Header().Set(headerReplayed, "true")
				return c.JSON(http.StatusOK, "updated")
			}
			err = next(c)
			if err != nil || c.Response().Status >= http.StatusBadRequest {
				if rerr := deduper.Remove(ctx, userID, key); rerr != nil {
					log.WithError(rerr).WithField("userId", userID).Warn("release idempotency key")
				}
			}
			return err
		}
	}
}
