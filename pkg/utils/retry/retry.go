package retry

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// BackoffFunc returns the delay before retry number attempt (0-based).
type BackoffFunc func(attempt int) time.Duration

// Exponential returns base * 2^attempt, capped at maxDelay when maxDelay > 0.
func Exponential(base, maxDelay time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		if attempt > 30 {
			attempt = 30
		}
		d := base << attempt
		if maxDelay > 0 && d > maxDelay {
			return maxDelay
		}
		return d
	}
}

// ErrPermanent marks an error that must not be retried.
var ErrPermanent = goerr.New("permanent error")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string        { return e.err.Error() }
func (e *permanentError) Unwrap() error        { return e.err }
func (e *permanentError) Is(target error) bool { return target == ErrPermanent }

// Permanent wraps err so that Policy.Do returns it immediately. errors.Is still
// matches the original cause.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Policy retries an operation up to MaxRetries times after the first attempt.
type Policy struct {
	MaxRetries int
	Backoff    BackoffFunc
	// OnRetry is called before each sleep. Optional.
	OnRetry func(attempt int, err error)

	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Policy
type Option func(*Policy)

// WithMaxRetries sets the number of retries after the first attempt
func WithMaxRetries(n int) Option {
	return func(p *Policy) {
		p.MaxRetries = n
	}
}

// WithBackoff sets the delay before each retry
func WithBackoff(fn BackoffFunc) Option {
	return func(p *Policy) {
		p.Backoff = fn
	}
}

// WithOnRetry sets a hook called before each retry
func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(p *Policy) {
		p.OnRetry = fn
	}
}

// WithSleep replaces the wait between attempts. fn must return ctx.Err() when ctx is
// done before d elapses.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) {
		p.sleep = fn
	}
}

// New returns a policy with 3 retries and exponential backoff from 500ms.
func New(opts ...Option) *Policy {
	p := &Policy{
		MaxRetries: 3,
		Backoff:    Exponential(500*time.Millisecond, 30*time.Second),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Do runs fn until it succeeds, returns a permanent error, the retries are
// exhausted or ctx is done. The last error is returned wrapped with the attempt count.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return goerr.Wrap(err, "retry aborted", goerr.V("attempt", attempt))
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrPermanent) {
			return lastErr
		}
		if attempt == p.MaxRetries {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr)
		}
		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff(attempt)
		}
		if err := sleep(ctx, delay); err != nil {
			return goerr.Wrap(err, "retry aborted while waiting", goerr.V("attempt", attempt), goerr.V("last_error", lastErr.Error()))
		}
	}

	return goerr.Wrap(lastErr, "retries exhausted", goerr.V("attempts", p.MaxRetries+1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
