package venue

import (
	"sync"
	"time"
)

type Availability string

const (
	Unknown     Availability = "unknown"
	Available   Availability = "available"
	Unavailable Availability = "unavailable"
)

// Breaker tracks whether the venue can be used. After threshold consecutive
// failures it is Unavailable for retryAfter, then drops back to Unknown so the
// next cycle re-probes it.
type Breaker struct {
	mu         sync.Mutex
	state      Availability
	failures   int
	threshold  int
	retryAfter time.Duration
	openedAt   time.Time
	now        func() time.Time
}

func NewBreaker(threshold int, retryAfter time.Duration, now func() time.Time) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{state: Unknown, threshold: threshold, retryAfter: retryAfter, now: now}
}

// State reports the current availability, moving Unavailable back to Unknown
// once retryAfter has elapsed.
func (b *Breaker) State() Availability {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Unavailable && b.now().Sub(b.openedAt) >= b.retryAfter {
		b.state = Unknown
		b.failures = 0
	}
	return b.state
}

// ShouldProbe is false only while the venue is Unavailable.
func (b *Breaker) ShouldProbe() bool {
	return b.State() != Unavailable
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Available
	b.failures = 0
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.state = Unavailable
		b.openedAt = b.now()
	}
}
