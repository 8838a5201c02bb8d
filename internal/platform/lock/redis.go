package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// compare-and-delete so a holder never removes a lock that expired and was
// taken by someone else
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisConfig tunes the Redis locker.
type RedisConfig struct {
	Prefix string
	// TTL bounds how long a crashed holder can block others.
	TTL   time.Duration
	Retry time.Duration
}

// Redis implements Locker with SET NX PX, shared by every server instance
// pointing at the same Redis.
type Redis struct {
	client redis.UniversalClient
	cfg    RedisConfig
	logger zerolog.Logger
}

func NewRedis(client redis.UniversalClient, cfg RedisConfig, logger zerolog.Logger) *Redis {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 25 * time.Millisecond
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "agenda:lock:"
	}
	return &Redis{client: client, cfg: cfg, logger: logger}
}

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (r *Redis) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	token := uuid.NewString()
	held := make([]string, 0, len(keys))

	for _, k := range keys {
		if err := r.lock(ctx, r.cfg.Prefix+k, token); err != nil {
			r.unlockAll(held, token)
			return nil, err
		}
		held = append(held, r.cfg.Prefix+k)
	}

	var once sync.Once
	return func() { once.Do(func() { r.unlockAll(held, token) }) }, nil
}

func (r *Redis) lock(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(r.cfg.Retry)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.cfg.TTL).Result()
		if err != nil {
			return fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *Redis) unlockAll(keys []string, token string) {
	// the request context may already be gone; release on a fresh one
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := len(keys) - 1; i >= 0; i-- {
		if err := releaseScript.Run(ctx, r.client, []string{keys[i]}, token).Err(); err != nil {
			r.logger.Warn().Err(err).Str("key", keys[i]).Msg("release redis lock")
		}
	}
}
