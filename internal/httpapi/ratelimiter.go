package httpapi

import (
	"sync"
	"time"
)

// SlidingWindowLimiter allows at most limit calls within a rolling window,
// used to bound how often the admin replay dump endpoint may be triggered.
type SlidingWindowLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu     sync.Mutex
	events []time.Time
}

// NewSlidingWindowLimiter constructs a limiter admitting limit calls per
// window. A non-positive limit or window disables throttling entirely,
// matching Allow's own guard. A nil timeSource defaults to time.Now.
func NewSlidingWindowLimiter(window time.Duration, limit int, timeSource func() time.Time) *SlidingWindowLimiter {
	if window <= 0 || limit <= 0 {
		return &SlidingWindowLimiter{window: window, limit: limit}
	}
	if timeSource == nil {
		timeSource = time.Now
	}
	return &SlidingWindowLimiter{window: window, limit: limit, now: timeSource}
}

// Allow reports whether another call may proceed, recording it if so. A
// limiter constructed with a non-positive limit or window never throttles.
func (l *SlidingWindowLimiter) Allow() bool {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	pruned := l.events[:0]
	for _, ts := range l.events {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}
	l.events = pruned

	if len(l.events) >= l.limit {
		return false
	}
	l.events = append(l.events, now)
	return true
}
