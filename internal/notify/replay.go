package notify

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ReplayGuard remembers delivered events so a redelivered task is not sent twice.
type ReplayGuard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisReplayGuard claims keys with SETNX.
type RedisReplayGuard struct {
	R      *redis.Client
	Prefix string
}

func (g RedisReplayGuard) key(k string) string {
	if g.Prefix == "" {
		return "notify:sent:" + k
	}
	return g.Prefix + ":notify:sent:" + k
}

// Acquire reports whether the caller owns key for ttl. A nil client owns everything.
func (g RedisReplayGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if g.R == nil {
		return true, nil
	}
	return g.R.SetNX(ctx, g.key(key), time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

// Release drops key so a failed delivery can be retried.
func (g RedisReplayGuard) Release(ctx context.Context, key string) error {
	if g.R == nil {
		return nil
	}
	return g.R.Del(ctx, g.key(key)).Err()
}
