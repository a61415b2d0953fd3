package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(clock *fakeClock) *Breaker {
	return NewBreaker(Settings{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             60 * time.Second,
		QuotaErrorThreshold: 20,
		QuotaWindow:         time.Minute,
		HalfOpenMaxRequests: 1,
		Now:                 clock.Now,
	})
}

func TestOpensAfterExactlyFailureThreshold(t *testing.T) {
	b := newTestBreaker(&fakeClock{t: time.Unix(0, 0)})

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Allow())
		b.RecordFailure()
		assert.Equal(t, Closed, b.State(), "failure %d", i+1)
	}
	require.NoError(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, Open, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	b := newTestBreaker(&fakeClock{t: time.Unix(0, 0)})
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, Closed, b.State())
}

func TestOpensAfterQuotaErrorsInWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clock)

	for i := 0; i < 19; i++ {
		b.RecordQuotaError()
	}
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, uint32(0), b.Counts().ConsecutiveFailures)

	b.RecordQuotaError()
	assert.Equal(t, Open, b.State())
}

func TestQuotaErrorsOutsideWindowDoNotTrip(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clock)

	for i := 0; i < 19; i++ {
		b.RecordQuotaError()
	}
	clock.Advance(2 * time.Minute)
	b.RecordQuotaError()
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 1, b.Counts().QuotaErrorsInWindow)
}

func TestHalfOpenOnlyAfterTimeout(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clock)
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	require.Equal(t, Open, b.State())

	clock.Advance(59 * time.Second)
	assert.Equal(t, Open, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	clock.Advance(time.Second)
	assert.Equal(t, HalfOpen, b.State())
}

func TestHalfOpenProbeLimitAndClose(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := newTestBreaker(clock)
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clock.Advance(time.Minute)

	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), ErrTooManyProbes)
	b.RecordSuccess()
	assert.Equal(t, HalfOpen, b.State())

	require.NoError(t, b.Allow())
	b.RecordSuccess()
	assert.Equal(t, Closed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	var transitions []string
	b := NewBreaker(Settings{
		FailureThreshold: 1,
		Timeout:          time.Second,
		Now:              clock.Now,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	b.RecordFailure()
	clock.Advance(time.Second)
	require.NoError(t, b.Allow())
	b.RecordQuotaError()

	assert.Equal(t, Open, b.State())
	assert.Equal(t, []string{"Closed->Open", "Open->Half-Open", "Half-Open->Open"}, transitions)
}

func TestExecute(t *testing.T) {
	cb := New(2, 1, time.Hour)
	boom := errors.New("boom")

	_, err := cb.Execute(func() (interface{}, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	res, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", res)

	for i := 0; i < 2; i++ {
		_, _ = cb.Execute(func() (interface{}, error) { return nil, boom })
	}
	assert.Equal(t, Open, cb.State())
	_, err = cb.Execute(func() (interface{}, error) { return "unreachable", nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
