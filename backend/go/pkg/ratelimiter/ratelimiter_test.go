package ratelimiter

import (
	"testing"
	"time"

	"DocSage/backend/go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestSlidingWindowLogAllow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	swl := NewSlidingWindowLogWithClock(2, time.Minute, clock.Now)

	assert.True(t, swl.Allow())
	assert.True(t, swl.Allow())
	assert.False(t, swl.Allow())

	clock.Advance(time.Minute)
	assert.True(t, swl.Allow())
}

func TestSlidingWindowLogRecordAndCount(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	swl := NewSlidingWindowLogWithClock(0, 10*time.Second, clock.Now)

	assert.Equal(t, 1, swl.Record())
	clock.Advance(5 * time.Second)
	assert.Equal(t, 2, swl.Record())
	clock.Advance(6 * time.Second)
	assert.Equal(t, 1, swl.Count())

	swl.Reset()
	assert.Equal(t, 0, swl.Count())
}

func TestTokenBucketRefill(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	tb := NewTokenBucketWithClock(1, 2, clock.Now)

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	clock.Advance(1500 * time.Millisecond)
	assert.InDelta(t, 1.5, tb.Tokens(), 1e-9)
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
}

func TestFromConfig(t *testing.T) {
	l, err := FromConfig(config.RateLimiterConfig{TokenBucket: config.TokenBucketConfig{Rate: 1, Capacity: 1}})
	require.NoError(t, err)
	assert.IsType(t, &TokenBucket{}, l)

	l, err = FromConfig(config.RateLimiterConfig{
		Algorithm:  "slidingLog",
		SlidingLog: config.SlidingLogConfig{Limit: 5, Window: "1m"},
	})
	require.NoError(t, err)
	assert.IsType(t, &SlidingWindowLog{}, l)

	_, err = FromConfig(config.RateLimiterConfig{Algorithm: "slidingLog", SlidingLog: config.SlidingLogConfig{Limit: 5, Window: "soon"}})
	assert.Error(t, err)
	_, err = FromConfig(config.RateLimiterConfig{Algorithm: "leakyBucket"})
	assert.Error(t, err)
}
