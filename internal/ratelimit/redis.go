package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

// RedisLimiter shares one fixed window across instances. On Redis
// failure it degrades to the per-process fallback rather than denying
// traffic the license never earned.
type RedisLimiter struct {
	client   *redis.Client
	capacity int
	window   time.Duration
	prefix   string
	fallback *InMemoryLimiter
}

// NewRedis creates a Redis-shared fixed-window limiter.
func NewRedis(client *redis.Client, capacity int, windowDuration time.Duration) *RedisLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if windowDuration <= 0 {
		windowDuration = time.Minute
	}
	return &RedisLimiter{
		client:   client,
		capacity: capacity,
		window:   windowDuration,
		prefix:   "rl:",
		fallback: NewInMemory(capacity, windowDuration),
	}
}

// Check implements Limiter.
func (l *RedisLimiter) Check(key string) Decision {
	if l.client == nil {
		return l.fallback.Check(key)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + key}, l.window.Milliseconds()).Result()
	if err != nil {
		return l.fallback.Check(key)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return l.fallback.Check(key)
	}

	count, _ := vals[0].(int64)
	ttlMs, _ := vals[1].(int64)
	if ttlMs < 0 {
		ttlMs = l.window.Milliseconds()
	}

	remaining := l.capacity - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   int(count) <= l.capacity,
		Limit:     l.capacity,
		Remaining: remaining,
		ResetAt:   time.Now().UTC().Add(time.Duration(ttlMs) * time.Millisecond),
	}
}
