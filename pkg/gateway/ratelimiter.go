package gateway

import (
	"sync"
	"time"
)

const (
	DefaultStartsPerMinute    = 60
	DefaultMaxPendingFinishes = 8
)

// StartLimiter bounds how often one connection may open recordings and how
// many of its ended recordings may wait for transcoding at once.
type StartLimiter struct {
	mu              sync.Mutex
	startsPerMinute int
	maxPending      int
	starts          []time.Time
	pending         int
}

// NewStartLimiter creates a limiter with default limits
func NewStartLimiter() *StartLimiter {
	return NewStartLimiterWithLimits(DefaultStartsPerMinute, DefaultMaxPendingFinishes)
}

// NewStartLimiterWithLimits creates a limiter with custom limits. A
// non-positive limit disables that check.
func NewStartLimiterWithLimits(startsPerMinute, maxPending int) *StartLimiter {
	return &StartLimiter{
		startsPerMinute: startsPerMinute,
		maxPending:      maxPending,
	}
}

// Allow reports whether a new recording may start and records it when it may.
func (l *StartLimiter) Allow() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxPending > 0 && l.pending >= l.maxPending {
		return false, "too many recordings awaiting transcoding"
	}

	l.pruneLocked(time.Now())
	if l.startsPerMinute > 0 && len(l.starts) >= l.startsPerMinute {
		return false, "too many recordings started"
	}

	l.starts = append(l.starts, time.Now())
	return true, ""
}

// FinishStarted records an ended recording entering finalization.
func (l *StartLimiter) FinishStarted() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending++
}

// FinishDone records a finalization completing.
func (l *StartLimiter) FinishDone() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending > 0 {
		l.pending--
	}
}

// UpdateLimits updates the limits
func (l *StartLimiter) UpdateLimits(startsPerMinute, maxPending int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.startsPerMinute = startsPerMinute
	l.maxPending = maxPending
}

// GetStats returns starts within the last minute and pending finalizations.
func (l *StartLimiter) GetStats() (starts, pending int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(time.Now())
	return len(l.starts), l.pending
}

func (l *StartLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Minute)
	valid := l.starts[:0]
	for _, t := range l.starts {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	l.starts = valid
}
