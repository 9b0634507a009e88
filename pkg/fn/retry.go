package fn

import (
	"context"
	"math/rand"
	"time"
)

// RetryOpts shapes the backoff schedule.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
}

// DefaultRetry is three attempts with jittered exponential backoff.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: time.Second,
	MaxWait:     30 * time.Second,
	Jitter:      true,
}

// backoff returns the wait before retry n (0-based): InitialWait
// doubled per retry, scaled by a random factor in [0.5, 1.5) when
// Jitter is set, and capped at MaxWait.
func (o RetryOpts) backoff(n int) time.Duration {
	d := o.InitialWait
	for ; n > 0 && d < o.MaxWait; n-- {
		d *= 2
	}
	if o.Jitter {
		d = time.Duration(float64(d) * (0.5 + rand.Float64()))
	}
	if d > o.MaxWait {
		d = o.MaxWait
	}
	return d
}

// Retry runs f up to MaxAttempts times with exponential backoff,
// returning the first Ok or the last Err. A context canceled between
// attempts wins over the attempt's own error. MaxAttempts below one
// still runs f once.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	for attempt := 1; ; attempt++ {
		result := f(ctx)
		if result.IsOk() || attempt >= opts.MaxAttempts {
			return result
		}
		if err := sleep(ctx, opts.backoff(attempt-1)); err != nil {
			return Err[T](err)
		}
	}
}

// sleep blocks for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
