package retry

import (
	"context"
	"time"
)

// Policy holds configuration for exponential backoff retries. One policy is
// shared by the platform client and the cover image pipeline; only the
// IsRetryable classifier differs between them.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool // add deterministic jitter to prevent thundering herd
	IsRetryable func(error) bool
}

// DefaultPolicy returns sensible defaults for upstream API retries.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// Backoff calculates the delay before the given attempt (1-based, so the
// first retry after attempt 1 waits BaseDelay). If the upstream sent a
// Retry-After hint, it wins, slightly padded.
func (p Policy) Backoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter + 500*time.Millisecond
	}

	backoff := p.BaseDelay
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * p.Multiplier)
		if backoff > p.MaxDelay {
			backoff = p.MaxDelay
			break
		}
	}

	if p.Jitter && backoff > 0 {
		jitterRange := int64(backoff) / 4
		if jitterRange > 0 {
			jitter := time.Duration((int64(attempt) * 137) % jitterRange)
			backoff += jitter
		}
	}

	return backoff
}

// Do runs fn up to MaxAttempts times. A non-retryable error (per
// IsRetryable, or any error when IsRetryable is nil) returns immediately;
// retryable errors wait the backoff delay between attempts. The last error
// is returned once attempts are exhausted.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if p.IsRetryable == nil || !p.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		delay := p.Backoff(attempt, retryAfterHint(lastErr))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// RetryAfterHinter lets an error carry the upstream Retry-After value into
// the backoff calculation.
type RetryAfterHinter interface {
	RetryAfter() time.Duration
}

func retryAfterHint(err error) time.Duration {
	if h, ok := err.(RetryAfterHinter); ok {
		return h.RetryAfter()
	}
	return 0
}
