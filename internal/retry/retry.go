// Package retry provides an explicit retry policy with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"
)

// ErrExhausted is wrapped around the last failure once all attempts are spent.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy describes how many times an operation runs and how long to wait in
// between. The wait after the first failure is Initial; each following wait
// is multiplied by Multiplier and capped at Max.
type Policy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64

	// Clock drives the backoff sleeps. Nil means the real clock.
	Clock clockwork.Clock

	// OnRetry is called after a failed attempt that will be retried, with the
	// 1-based attempt number and the wait before the next attempt.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Default is the fetch policy: 3 attempts, waits of 4s then 8s, capped at 10s.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		Initial:     4 * time.Second,
		Max:         10 * time.Second,
		Multiplier:  2,
	}
}

// Wait returns the delay after the given failed attempt (1-based).
func (p Policy) Wait(attempt int) time.Duration {
	d := p.Initial
	for i := 1; i < attempt; i++ {
		d = nextBackoff(d, p.Max, p.Multiplier)
	}
	return d
}

// Do runs op until it succeeds, returns a permanent error, the context is
// done, or MaxAttempts is reached.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	wait := p.Initial
	for attempt := 1; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("attempt %d: %w", attempt, ctx.Err())
		}
		if attempt >= attempts {
			return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}
		if !sleepWithContext(ctx, clock, wait) {
			return zero, fmt.Errorf("attempt %d: %w", attempt, ctx.Err())
		}
		wait = nextBackoff(wait, p.Max, p.Multiplier)
	}
}

// Permanent marks err as not worth retrying. Do returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func nextBackoff(current, maxBackoff time.Duration, multiplier float64) time.Duration {
	if (multiplier <= 0 || multiplier == 2) && maxBackoff > 0 {
		return sharedretry.NextBackoff(current, maxBackoff)
	}
	if multiplier <= 0 {
		multiplier = 2
	}
	next := time.Duration(float64(current) * multiplier)
	if maxBackoff > 0 && next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
