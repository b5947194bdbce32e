package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript: INCR счётчика окна, PEXPIRE при первом попадании, PTTL.
// Ключ без TTL (например, после ручного вмешательства) получает окно заново.
var consumeScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisLimiter разделяет бюджеты между инстансами шлюза через Redis.
type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisLimiter создаёт клиент Redis из URL (например, redis://:pass@host:6379/0).
// Если prefix пустой — используется "edge:rl:".
func NewRedisLimiter(ctx context.Context, redisURL, prefix string) (*RedisLimiter, error) {
	const op = "ratelimit.redis.NewRedisLimiter"

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return NewRedisLimiterFromClient(rdb, prefix), nil
}

// NewRedisLimiterFromClient оборачивает готовый клиент.
func NewRedisLimiterFromClient(rdb *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "edge:rl:"
	}

	return &RedisLimiter{rdb: rdb, prefix: prefix, now: time.Now}
}

func (l *RedisLimiter) Consume(ctx context.Context, key string, p Policy) (Result, error) {
	const op = "ratelimit.redis.Consume"

	if err := p.validate(); err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	vals, err := consumeScript.Run(ctx, l.rdb, []string{l.prefix + bucketKey(p, key)}, p.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("%s: unexpected script reply %v", op, vals)
	}

	count, ttl := vals[0], time.Duration(vals[1])*time.Millisecond
	resetAt := l.now().Add(ttl)

	if count > int64(p.Points) {
		return Result{Allowed: false, RetryAfter: ttl, ResetAt: resetAt}, nil
	}

	return Result{
		Allowed:   true,
		Remaining: p.Points - int(count),
		ResetAt:   resetAt,
	}, nil
}

func (l *RedisLimiter) Close() error { return l.rdb.Close() }
