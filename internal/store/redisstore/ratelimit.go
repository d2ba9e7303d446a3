package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// token bucket: refill `rate` tokens per second up to `capacity`
var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local bucket = redis.call('HMGET', key, 'tokens', 'updated_at')
local tokens = tonumber(bucket[1])
local updated_at = tonumber(bucket[2])

if tokens == nil or updated_at == nil then
    tokens = capacity
    updated_at = now
end

local elapsed = math.max(0, now - updated_at)
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
local retry_after = 0
if tokens >= requested then
    tokens = tokens - requested
    allowed = 1
else
    retry_after = (requested - tokens) / rate
end

redis.call('HSET', key, 'tokens', tokens, 'updated_at', now)
redis.call('EXPIRE', key, 86400)

return {allowed, math.floor(tokens), math.ceil(retry_after)}
`)

type RateDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter int // seconds
}

// Allow takes one token from the bucket at key. Capacity is 2*qps.
// Callers should fail open when err != nil.
func (s *Store) Allow(ctx context.Context, key string, qps int) (RateDecision, error) {
	capacity := 2 * qps
	d := RateDecision{Allowed: true, Limit: capacity, Remaining: capacity}

	now := float64(time.Now().UnixNano()) / 1e9
	res, err := tokenBucket.Run(ctx, s.Client, []string{"rate_limit:" + key}, capacity, qps, now, 1).Result()
	if err != nil {
		return d, err
	}

	if arr, ok := res.([]any); ok && len(arr) >= 3 {
		if v, ok := arr[0].(int64); ok {
			d.Allowed = v == 1
		}
		if v, ok := arr[1].(int64); ok {
			d.Remaining = int(v)
		}
		if v, ok := arr[2].(int64); ok {
			d.RetryAfter = int(v)
		}
	}
	return d, nil
}
