// Package ratelimit enforces per-user request quotas, shared through Redis
// when available and per-process otherwise.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

type Decision struct {
	Allowed bool
	Used    int64
	Limit   int64
	ResetAt time.Time
}

type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

// RedisLimiter counts requests in fixed windows aligned to the epoch.
type RedisLimiter struct {
	redis  *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

func NewRedisLimiter(rdb *redis.Client, prefix string, limit int64, window time.Duration) *RedisLimiter {
	if window < time.Second {
		window = time.Second
	}
	return &RedisLimiter{redis: rdb, prefix: prefix, limit: limit, window: window}
}

var _ Limiter = (*RedisLimiter)(nil)

func (r *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	windowStart := now.UTC().Truncate(r.window)
	windowEnd := windowStart.Add(r.window)
	ttl := int64(math.Ceil(windowEnd.Sub(now.UTC()).Seconds()))
	if ttl < 1 {
		ttl = 1
	}

	redisKey := fmt.Sprintf("%s:ratelimit:%s:%d", r.prefix, key, windowStart.Unix())
	used, err := incrWithTTLScript.Run(ctx, r.redis, []string{redisKey}, ttl).Int64()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	return Decision{Allowed: used <= r.limit, Used: used, Limit: r.limit, ResetAt: windowEnd}, nil
}

// LocalLimiter is a per-process token bucket per key: limit tokens refilled over window.
type LocalLimiter struct {
	limit  int64
	window time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewLocalLimiter(limit int64, window time.Duration) *LocalLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &LocalLimiter{limit: limit, window: window, limiters: map[string]*rate.Limiter{}}
}

var _ Limiter = (*LocalLimiter)(nil)

func (l *LocalLimiter) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		every := rate.Every(l.window / time.Duration(max(l.limit, 1)))
		lim = rate.NewLimiter(every, int(l.limit))
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	allowed := lim.AllowN(now, 1)
	tokens := lim.TokensAt(now)
	used := l.limit - int64(math.Floor(tokens))
	if used < 0 {
		used = 0
	}
	if !allowed {
		used = l.limit + 1
	}
	return Decision{Allowed: allowed, Used: used, Limit: l.limit, ResetAt: now.Add(l.window)}, nil
}
