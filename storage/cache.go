package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/priyankagnana/Kanvo/domain"
)

// viewBackend produces the read views served through the cache.
type viewBackend interface {
	List(ctx context.Context, userID string) (domain.BoardList, error)
	Favourites(ctx context.Context, userID string) (domain.BoardList, error)
	Get(ctx context.Context, userID, boardID string) (domain.BoardDetail, error)
}

// Cache wraps the board read views with a Redis read-through cache. Writers
// must call Evict after every mutation that reached the store, including
// partial ones; ordering decisions never read through it.
type Cache struct {
	base  viewBackend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
// A nil client or zero TTL disables caching.
func NewCache(base viewBackend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base view backend is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) List(ctx context.Context, userID string) (domain.BoardList, error) {
	return readThrough(ctx, c, boardsCacheKey(userID), func() (domain.BoardList, error) {
		return c.base.List(ctx, userID)
	})
}

func (c *Cache) Favourites(ctx context.Context, userID string) (domain.BoardList, error) {
	return readThrough(ctx, c, favouritesCacheKey(userID), func() (domain.BoardList, error) {
		return c.base.Favourites(ctx, userID)
	})
}

func (c *Cache) Get(ctx context.Context, userID, boardID string) (domain.BoardDetail, error) {
	return readThrough(ctx, c, boardCacheKey(userID, boardID), func() (domain.BoardDetail, error) {
		return c.base.Get(ctx, userID, boardID)
	})
}

// Evict drops the user's board lists and the detail views of boardIDs.
func (c *Cache) Evict(ctx context.Context, userID string, boardIDs ...string) {
	if c.redis == nil {
		return
	}
	keys := []string{boardsCacheKey(userID), favouritesCacheKey(userID)}
	for _, id := range boardIDs {
		keys = append(keys, boardCacheKey(userID, id))
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		log.WithError(err).WithField("userId", userID).Warn("cache eviction failed")
	}
}

// EvictBoard drops only the detail view of one board.
func (c *Cache) EvictBoard(ctx context.Context, userID, boardID string) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, boardCacheKey(userID, boardID)).Err(); err != nil {
		log.WithError(err).WithField("boardId", boardID).Warn("cache eviction failed")
	}
}

func readThrough[T any](ctx context.Context, c *Cache, key string, load func() (T, error)) (T, error) {
	if v, ok := loadFromCache[T](ctx, c, key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	c.store(ctx, key, v)
	return v, nil
}

func loadFromCache[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var v T
	if c.redis == nil {
		return v, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return v, false
	}
	if err := sonic.Unmarshal(data, &v); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return v, false
	}
	return v, true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func boardsCacheKey(userID string) string {
	return "boards:" + userID
}

func favouritesCacheKey(userID string) string {
	return "favourites:" + userID
}

func boardCacheKey(userID, boardID string) string {
	return "board:" + userID + ":" + boardID
}
