package ratelimiter

import (
	"container/list"
	"sync"
	"time"
)

// SlidingWindowLog implements the RateLimiter interface using the sliding window log algorithm.
// It keeps a log of event timestamps in a sliding window. Besides admission control it is
// also used as a plain event counter (Record/Count), e.g. for quota errors per window.
type SlidingWindowLog struct {
	limit  int              // Maximum number of events allowed in the window.
	window time.Duration    // The duration of the time window.
	now    func() time.Time // Clock, replaceable in tests.
	log    *list.List       // List to store event timestamps.
	mutex  sync.Mutex
}

// NewSlidingWindowLog creates a new SlidingWindowLog.
// limit: the maximum number of requests allowed in the window.
// window: the duration of the time window.
func NewSlidingWindowLog(limit int, window time.Duration) *SlidingWindowLog {
	return NewSlidingWindowLogWithClock(limit, window, time.Now)
}

// NewSlidingWindowLogWithClock is NewSlidingWindowLog with an explicit clock.
func NewSlidingWindowLogWithClock(limit int, window time.Duration, now func() time.Time) *SlidingWindowLog {
	if now == nil {
		now = time.Now
	}
	return &SlidingWindowLog{
		limit:  limit,
		window: window,
		now:    now,
		log:    list.New(),
	}
}

// Allow checks if a request is allowed.
// It removes old timestamps from the log and checks if the current log size is within the limit.
func (swl *SlidingWindowLog) Allow() bool {
	swl.mutex.Lock()
	defer swl.mutex.Unlock()

	now := swl.now()
	swl.evict(now)

	// If the number of requests in the window is less than the limit, allow and log the new request.
	if swl.log.Len() < swl.limit {
		swl.log.PushBack(now)
		return true
	}

	return false
}

// Record logs one event unconditionally and returns the number of events
// currently inside the window, including this one.
func (swl *SlidingWindowLog) Record() int {
	swl.mutex.Lock()
	defer swl.mutex.Unlock()

	now := swl.now()
	swl.evict(now)
	swl.log.PushBack(now)
	return swl.log.Len()
}

// Count returns the number of events inside the window.
func (swl *SlidingWindowLog) Count() int {
	swl.mutex.Lock()
	defer swl.mutex.Unlock()

	swl.evict(swl.now())
	return swl.log.Len()
}

// Reset drops every logged event.
func (swl *SlidingWindowLog) Reset() {
	swl.mutex.Lock()
	defer swl.mutex.Unlock()
	swl.log.Init()
}

// evict removes timestamps that are outside the window. Caller holds the mutex.
func (swl *SlidingWindowLog) evict(now time.Time) {
	boundary := now.Add(-swl.window)
	for e := swl.log.Front(); e != nil; {
		next := e.Next()
		if !e.Value.(time.Time).After(boundary) {
			swl.log.Remove(e)
		} else {
			// Timestamps are ordered, stop at the first one within the window.
			break
		}
		e = next
	}
}
