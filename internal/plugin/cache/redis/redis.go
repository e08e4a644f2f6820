package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chirino/ulists/internal/config"
	"github.com/chirino/ulists/internal/model"
	registrycache "github.com/chirino/ulists/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 24 * time.Hour

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.HandleCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: ULISTS_REDIS_URL is required")
	}
	return LoadFromURLWithTTL(ctx, cfg.RedisURL, cfg.CacheHandleTTL)
}

// LoadFromURLWithTTL creates a HandleCache from a Redis URL with an explicit entry TTL.
func LoadFromURLWithTTL(ctx context.Context, redisURL string, ttl time.Duration) (registrycache.HandleCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisHandleCache{client: client, ttl: ttl}, nil
}

type redisHandleCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func handleKey(handle model.Handle) string {
	return "ulists:handle:" + handle.String()
}

func (c *redisHandleCache) Available() bool {
	return true
}

func (c *redisHandleCache) Get(ctx context.Context, handle model.Handle) (string, bool, error) {
	accountID, err := c.client.Get(ctx, handleKey(handle)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return accountID, true, nil
}

func (c *redisHandleCache) Set(ctx context.Context, handle model.Handle, accountID string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, handleKey(handle), accountID, ttl).Err()
}

var _ registrycache.HandleCache = (*redisHandleCache)(nil)
