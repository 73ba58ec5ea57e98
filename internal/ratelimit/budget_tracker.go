// Package ratelimit provides per-RPC-endpoint rate limiting shared across
// every worker process bound to the same endpoint.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript implements a floating-point token bucket entirely in
// Lua so the check-and-grant is atomic under concurrent access from every
// process sharing the endpoint: refill by elapsed time * rate, then grant
// one token if available. Returns {allowed, wait_ms}.
const tokenBucketScript = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local data = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
	tokens = burst
	ts = now
end

local delta = now - ts
if delta < 0 then
	delta = 0
end
tokens = math.min(burst, tokens + delta * rate)

if tokens >= 1 then
	tokens = tokens - 1
	redis.call('HMSET', key, 'tokens', tokens, 'ts', now)
	redis.call('EXPIRE', key, 3600)
	return {1, 0}
end

local deficit = 1 - tokens
local waitMs = math.ceil((deficit / rate) * 1000)
redis.call('HMSET', key, 'tokens', tokens, 'ts', now)
redis.call('EXPIRE', key, 3600)
return {0, waitMs}
`

// TokenBucket is the Redis-durable half of the rate limiter: one atomic
// check-and-grant per call, shared by every process bound to the same
// endpoint id.
type TokenBucket struct {
	redis  redis.Cmdable
	script *redis.Script
}

func NewTokenBucket(client redis.Cmdable) *TokenBucket {
	return &TokenBucket{
		redis:  client,
		script: redis.NewScript(tokenBucketScript),
	}
}

// consume attempts to take one token from the bucket identified by key,
// with the given refill rate (tokens/sec) and burst capacity. It returns
// whether the token was granted and, if not, how long to wait before
// retrying.
func (b *TokenBucket) consume(ctx context.Context, key string, rps float64, burst int) (bool, time.Duration, error) {
	now := float64(time.Now().UnixNano()) / 1e9

	res, err := b.script.Run(ctx, b.redis, []string{key}, rps, burst, now).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("token bucket script for %s: %w", key, err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("unexpected token bucket result for %s", key)
	}

	allowed, _ := res[0].(int64)
	waitMs, _ := res[1].(int64)
	return allowed == 1, time.Duration(waitMs) * time.Millisecond, nil
}
