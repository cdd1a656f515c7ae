// Package ratelimit meters expensive badge operations per client with token
// buckets. A request may cost more than one token.
package ratelimit

import (
	"math"
	"strings"
	"time"
)

// Decision is the outcome of one limiter check.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

const anonymousSubject = "anonymous"

func normalizeSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return anonymousSubject
	}
	return subject
}

// clampCost keeps cost within [1, capacity] so one expensive request can
// still pass on a full bucket.
func clampCost(cost int, capacity int64) int64 {
	return min(max(int64(cost), 1), capacity)
}

func refillRate(capacity int, window time.Duration) float64 {
	return float64(capacity) / float64(max(1, window.Milliseconds()))
}

func retryAfter(missing, refillPerMS float64) time.Duration {
	return time.Duration(math.Ceil(missing/refillPerMS)) * time.Millisecond
}
