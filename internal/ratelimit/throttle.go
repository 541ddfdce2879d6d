package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Throttle rate-limits bulk-campaign submissions per tenant with a token
// bucket kept in Redis, so every API replica shares one budget.
type Throttle struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
}

func NewThrottle(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *Throttle {
	return &Throttle{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
	}
}

// Allow consumes one token for the tenant if available, returning whether
// the submission may proceed and the remaining token count.
func (t *Throttle) Allow(ctx context.Context, tenant string) (bool, float64, error) {
	key := "mail:throttle:" + tenant
	now := time.Now().UnixMilli()
	res, err := throttleScript.Run(ctx, t.client, []string{key}, t.capacity, t.refill, now, t.ttl.Milliseconds()).Result()
	if err != nil {
		return false, 0, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, nil
	}
	allowed := arr[0].(int64) == 1
	var remaining float64
	switch v := arr[1].(type) {
	case int64:
		remaining = float64(v)
	case float64:
		remaining = v
	}
	return allowed, remaining, nil
}

var throttleScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local tokens = tonumber(redis.call('HGET', key, 'tokens'))
local last = tonumber(redis.call('HGET', key, 'last_ms'))
if tokens == nil then tokens = capacity end
if last == nil then last = now end

tokens = math.min(capacity, tokens + math.max(0, now - last) / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tokens}
`)
