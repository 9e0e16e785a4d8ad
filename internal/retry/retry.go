package retry

import (
	"context"
	"time"
)

const (
	// DefaultMaxAttempts bounds retries for failed requests.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the first backoff step.
	DefaultBaseDelay = 1 * time.Second
	// RateLimitPenalty is added on top of the backoff after a 429.
	RateLimitPenalty = 5 * time.Second
)

// Policy is a reusable retry-with-backoff policy.
// Delay grows as BaseDelay * 2^attempt; only errors accepted by Retryable
// are retried, everything else propagates immediately.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Retryable   func(error) bool

	// RateLimited reports whether the error came from throttling, which
	// earns the extra penalty delay. Optional.
	RateLimited func(error) bool

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPolicy creates a policy with the given retryable-error predicate and
// default attempt count and base delay.
func NewPolicy(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Retryable:   retryable,
	}
}

// Do runs op, retrying with exponential backoff while the error is retryable
// and attempts remain. Returns the last error, or ctx.Err() if the context
// ends during a backoff sleep.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		delay := p.BaseDelay << attempt
		if p.RateLimited != nil && p.RateLimited(err) {
			delay += RateLimitPenalty
		}
		if serr := sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
