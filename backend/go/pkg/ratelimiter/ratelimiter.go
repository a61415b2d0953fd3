package ratelimiter

import (
	"fmt"

	"DocSage/backend/go/internal/config"
)

// RateLimiter is the interface for rate limiting.
// It defines a single method, Allow, which returns true if a request is allowed,
// and false otherwise.
type RateLimiter interface {
	// Allow returns true if the request is allowed, otherwise returns false.
	Allow() bool
}

// FromConfig builds the limiter selected by cfg.Algorithm. An empty algorithm
// means a token bucket.
func FromConfig(cfg config.RateLimiterConfig) (RateLimiter, error) {
	switch cfg.Algorithm {
	case "", "tokenBucket":
		conf := cfg.TokenBucket
		if conf.Rate <= 0 || conf.Capacity <= 0 {
			return nil, fmt.Errorf("tokenBucket needs a positive rate and capacity")
		}
		return NewTokenBucket(conf.Rate, conf.Capacity), nil
	case "slidingLog":
		conf := cfg.SlidingLog
		window := config.Duration(conf.Window, 0)
		if window <= 0 || conf.Limit <= 0 {
			return nil, fmt.Errorf("slidingLog needs a positive limit and window, got %d/%q", conf.Limit, conf.Window)
		}
		return NewSlidingWindowLog(conf.Limit, window), nil
	default:
		return nil, fmt.Errorf("unknown rate limiter algorithm: %s", cfg.Algorithm)
	}
}
