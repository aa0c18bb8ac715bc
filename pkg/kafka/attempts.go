package kafka

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// AttemptCounter 记录一条消息的失败次数，进程重启后仍然有效。
type AttemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// RedisAttempts 是基于 Redis INCR 的 AttemptCounter。
type RedisAttempts struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisAttempts 创建计数器，计数在 ttl 后过期。
func NewRedisAttempts(rdb *redis.Client, ttl time.Duration) *RedisAttempts {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisAttempts{rdb: rdb, ttl: ttl}
}

func (a *RedisAttempts) Incr(ctx context.Context, key string) (int64, error) {
	n, err := a.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = a.rdb.Expire(ctx, key, a.ttl).Err()
	return n, nil
}

func (a *RedisAttempts) Reset(ctx context.Context, key string) error {
	return a.rdb.Del(ctx, key).Err()
}
