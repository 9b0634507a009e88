package resilience

import (
	"context"
	"sync"
	"time"
)

// LimiterOpts configures a token bucket.
type LimiterOpts struct {
	// Rate is how many tokens accrue per second.
	Rate float64
	// Burst is the bucket capacity.
	Burst int
}

// Limiter is a token bucket. The bucket starts full so a fresh limiter
// admits an initial burst immediately.
type Limiter struct {
	mu     sync.Mutex
	rate   float64
	burst  float64
	tokens float64
	last   time.Time
	now    func() time.Time
}

// NewLimiter builds a Limiter. A Burst below one is raised to one.
func NewLimiter(opts LimiterOpts) *Limiter {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Limiter{
		rate:   opts.Rate,
		burst:  float64(opts.Burst),
		tokens: float64(opts.Burst),
		now:    time.Now,
	}
}

// take consumes a token if one is available. When the bucket is empty it
// reports how long until the next token accrues.
func (l *Limiter) take() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.last.IsZero() {
		l.last = now
	}
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.last = now

	if l.tokens >= 1 {
		l.tokens--
		return true, 0
	}
	if l.rate <= 0 {
		return false, time.Hour
	}
	return false, time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
}

// Allow reports whether a token was available, without blocking.
func (l *Limiter) Allow() bool {
	ok, _ := l.take()
	return ok
}

// Wait sleeps until it can take a token or ctx ends.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		ok, next := l.take()
		if ok {
			return nil
		}
		if next < time.Millisecond {
			next = time.Millisecond
		}
		t := time.NewTimer(next)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
