package ratelimiter

import (
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket admits bursts up to capacity and refills at a steady rate.
type TokenBucket struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// NewTokenBucket creates a bucket refilled with ratePerSecond tokens per
// second. The bucket starts full.
func NewTokenBucket(ratePerSecond float64, capacity int) *TokenBucket {
	return NewTokenBucketWithClock(ratePerSecond, capacity, time.Now)
}

// NewTokenBucketWithClock is NewTokenBucket with an explicit clock.
func NewTokenBucketWithClock(ratePerSecond float64, capacity int, now func() time.Time) *TokenBucket {
	if now == nil {
		now = time.Now
	}
	return &TokenBucket{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), capacity),
		now:     now,
	}
}

// Allow takes one token if available.
func (tb *TokenBucket) Allow() bool {
	return tb.limiter.AllowN(tb.now(), 1)
}

// Tokens reports the tokens currently in the bucket.
func (tb *TokenBucket) Tokens() float64 {
	return tb.limiter.TokensAt(tb.now())
}
