package ratelimit

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

// MemoryTokenBucket is the single-process counterpart of RedisTokenBucket.
type MemoryTokenBucket struct {
	mu          sync.Mutex
	capacity    int64
	refillPerMS float64
	buckets     map[string]*bucket
	now         func() time.Time
}

type bucket struct {
	tokens float64
	at     time.Time
}

func NewMemoryTokenBucket(capacity int, window time.Duration) (*MemoryTokenBucket, error) {
	if capacity <= 0 {
		return nil, errors.New("capacity must be positive")
	}
	if window <= 0 {
		return nil, errors.New("window must be positive")
	}
	return &MemoryTokenBucket{
		capacity:    int64(capacity),
		refillPerMS: refillRate(capacity, window),
		buckets:     make(map[string]*bucket),
		now:         time.Now,
	}, nil
}

func (l *MemoryTokenBucket) Allow(ctx context.Context, subject string) (Decision, error) {
	return l.AllowN(ctx, subject, 1)
}

func (l *MemoryTokenBucket) AllowN(_ context.Context, subject string, cost int) (Decision, error) {
	need := float64(clampCost(cost, l.capacity))
	subject = normalizeSubject(subject)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[subject]
	if !ok {
		b = &bucket{tokens: float64(l.capacity), at: now}
		l.buckets[subject] = b
	}
	elapsed := float64(max(0, now.Sub(b.at).Milliseconds()))
	b.tokens = math.Min(float64(l.capacity), b.tokens+elapsed*l.refillPerMS)
	b.at = now

	if b.tokens >= need {
		b.tokens -= need
		return Decision{Allowed: true, Remaining: int64(b.tokens)}, nil
	}
	return Decision{RetryAfter: retryAfter(need-b.tokens, l.refillPerMS)}, nil
}
