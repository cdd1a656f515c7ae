package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "badgeflow:ratelimit"

// takeScript refills the bucket for the elapsed time, then takes the
// requested tokens if they are all available. It returns
// {allowed, tokens left, tokens missing}.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_per_ms = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl_ms = tonumber(ARGV[5])

local state = redis.call("HMGET", key, "tokens", "at")
local tokens = tonumber(state[1]) or capacity
local at = tonumber(state[2]) or now_ms

tokens = math.min(capacity, tokens + math.max(0, now_ms - at) * refill_per_ms)

local allowed = 0
local missing = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  missing = cost - tokens
end

redis.call("HSET", key, "tokens", tokens, "at", now_ms)
redis.call("PEXPIRE", key, ttl_ms)

return {allowed, tostring(tokens), tostring(missing)}
`)

// RedisTokenBucket shares buckets between API replicas.
type RedisTokenBucket struct {
	client      redis.UniversalClient
	capacity    int64
	refillPerMS float64
	ttl         time.Duration
	keyPrefix   string
	now         func() time.Time
}

func NewRedisTokenBucket(client redis.UniversalClient, capacity int, window time.Duration, keyPrefix string) (*RedisTokenBucket, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if capacity <= 0 {
		return nil, errors.New("capacity must be positive")
	}
	if window <= 0 {
		return nil, errors.New("window must be positive")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisTokenBucket{
		client:      client,
		capacity:    int64(capacity),
		refillPerMS: refillRate(capacity, window),
		ttl:         2 * window,
		keyPrefix:   keyPrefix,
		now:         time.Now,
	}, nil
}

func (l *RedisTokenBucket) Allow(ctx context.Context, subject string) (Decision, error) {
	return l.AllowN(ctx, subject, 1)
}

func (l *RedisTokenBucket) AllowN(ctx context.Context, subject string, cost int) (Decision, error) {
	raw, err := takeScript.Run(ctx, l.client,
		[]string{l.key(subject)},
		l.capacity,
		l.refillPerMS,
		l.now().UTC().UnixMilli(),
		clampCost(cost, l.capacity),
		l.ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("run token bucket script: %w", err)
	}
	return l.decide(raw)
}

func (l *RedisTokenBucket) key(subject string) string {
	return l.keyPrefix + ":" + normalizeSubject(subject)
}

func (l *RedisTokenBucket) decide(reply []any) (Decision, error) {
	if len(reply) != 3 {
		return Decision{}, fmt.Errorf("token bucket reply: want 3 values, got %d", len(reply))
	}
	allowed, ok := reply[0].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("token bucket reply: allowed is %T", reply[0])
	}
	left, err := replyFloat(reply[1])
	if err != nil {
		return Decision{}, fmt.Errorf("token bucket reply: tokens: %w", err)
	}
	missing, err := replyFloat(reply[2])
	if err != nil {
		return Decision{}, fmt.Errorf("token bucket reply: missing: %w", err)
	}

	d := Decision{Allowed: allowed == 1, Remaining: int64(left)}
	if !d.Allowed {
		d.Remaining = 0
		d.RetryAfter = retryAfter(missing, l.refillPerMS)
	}
	return d, nil
}

func replyFloat(v any) (float64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected %T", v)
	}
	return strconv.ParseFloat(s, 64)
}
