// Package resilience guards outbound provider calls with a circuit
// breaker and a token bucket rate limiter.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/trovekb/trove/pkg/fn"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed   State = iota // calls flow, failures counted
	StateOpen                  // calls rejected until Timeout passes
	StateHalfOpen              // limited probe calls allowed
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ErrCircuitOpen is returned instead of calling through a tripped breaker.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts tunes a Breaker. Zero or negative fields fall back to
// DefaultBreakerOpts.
type BreakerOpts struct {
	// FailThreshold trips the breaker after this many consecutive failures.
	FailThreshold int
	// Timeout is the rejection window after a trip, before probes start.
	Timeout time.Duration
	// HalfOpenMax caps probe calls while half-open.
	HalfOpenMax int
}

// DefaultBreakerOpts is what the provider adapters run with.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Timeout:       30 * time.Second,
	HalfOpenMax:   1,
}

// Breaker trips after FailThreshold consecutive failures and rejects
// calls for Timeout, then admits up to HalfOpenMax probes. A probe
// success closes the breaker; a probe failure reopens it.
type Breaker struct {
	mu        sync.Mutex
	cfg       BreakerOpts
	state     State
	fails     int
	probes    int
	trippedAt time.Time
	now       func() time.Time // swapped out in tests
}

// NewBreaker builds a Breaker, filling unset options from
// DefaultBreakerOpts.
func NewBreaker(opts BreakerOpts) *Breaker {
	cfg := DefaultBreakerOpts
	if opts.FailThreshold > 0 {
		cfg.FailThreshold = opts.FailThreshold
	}
	if opts.Timeout > 0 {
		cfg.Timeout = opts.Timeout
	}
	if opts.HalfOpenMax > 0 {
		cfg.HalfOpenMax = opts.HalfOpenMax
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// State reports the breaker state, applying a pending open to
// half-open transition first.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tick()
}

// tick moves an expired open state to half-open. Callers hold mu.
func (b *Breaker) tick() State {
	if b.state == StateOpen && b.now().Sub(b.trippedAt) >= b.cfg.Timeout {
		b.state = StateHalfOpen
		b.probes = 0
	}
	return b.state
}

// admit decides whether one call may proceed, claiming a probe slot
// when half-open.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.tick() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.probes >= b.cfg.HalfOpenMax {
			return ErrCircuitOpen
		}
		b.probes++
	}
	return nil
}

// settle records one admitted call's outcome.
func (b *Breaker) settle(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !failed {
		if b.state == StateHalfOpen {
			b.state = StateClosed
		}
		b.fails = 0
		return
	}

	b.fails++
	if b.state == StateHalfOpen || b.fails >= b.cfg.FailThreshold {
		b.state = StateOpen
		b.trippedAt = b.now()
		b.fails = 0
		b.probes = 0
	}
}

// Call runs f under the breaker, feeding its outcome back in.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := f(ctx)
	b.settle(err != nil)
	return err
}

// CallResult is Call for fn.Result-returning functions.
func CallResult[T any](b *Breaker, ctx context.Context, f func(context.Context) fn.Result[T]) fn.Result[T] {
	if err := b.admit(); err != nil {
		return fn.Err[T](err)
	}
	r := f(ctx)
	b.settle(r.IsErr())
	return r
}
