package price

import (
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultBreakerThreshold = 3
	DefaultBreakerCooldown  = 5 * time.Minute
)

// Breaker is the process-wide rate-limit gate in front of the price API.
// It counts consecutive 429 answers; once the count reaches the threshold
// every call is suppressed until the cooldown has passed.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	consecutive int
	openUntil   time.Time
}

// NewBreaker creates a Breaker. Non-positive arguments take the defaults.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// WithClock replaces the breaker's time source.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
	return b
}

// Allow reports whether an upstream call may be issued now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.now().Before(b.openUntil)
}

// RecordSuccess resets the consecutive 429 counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consecutive > 0 {
		slog.Info("Price breaker: upstream recovered", "after", b.consecutive)
	}
	b.consecutive = 0
	b.openUntil = time.Time{}
}

// RecordRateLimited counts a 429 and opens the circuit at the threshold.
func (b *Breaker) RecordRateLimited() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive++
	if b.consecutive >= b.threshold {
		b.openUntil = b.now().Add(b.cooldown)
		slog.Warn("Price breaker: circuit open", "consecutive429", b.consecutive, "until", b.openUntil)
	}
}

// OpenUntil returns the end of the current cooldown, or the zero time when closed.
func (b *Breaker) OpenUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.now().Before(b.openUntil) {
		return time.Time{}
	}
	return b.openUntil
}

func (b *Breaker) clock() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now()
}

// Consecutive returns the current number of consecutive 429 answers.
func (b *Breaker) Consecutive() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutive
}
