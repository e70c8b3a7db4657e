package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/kudos/internal/apperr"
)

const (
	DefaultTimeout   = 5 * time.Second
	DefaultRetryBase = 25 * time.Millisecond
	DefaultAttempts  = 4
)

// RetryPolicy bounds each storage attempt with Timeout and retries transient
// failures with exponential backoff, Attempts times in total.
type RetryPolicy struct {
	Timeout  time.Duration
	Base     time.Duration
	Attempts int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Timeout: DefaultTimeout, Base: DefaultRetryBase, Attempts: DefaultAttempts}
}

// Do runs fn, retrying the whole of it while it fails with a transient error.
// A transient failure that survives every attempt comes back as an
// apperr.CodeTransient error.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, op string, fn func(ctx context.Context) error) error {
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if p.Base <= 0 {
		p.Base = DefaultRetryBase
	}
	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}

	b := retry.WithMaxRetries(uint64(p.Attempts-1), retry.NewExponential(p.Base))
	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		defer cancel()

		err := fn(attemptCtx)
		if err != nil && IsTransient(err) {
			logger.Debug("transient storage failure", "op", op, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && IsTransient(err) {
		return apperr.Wrap(err, apperr.CodeTransient, "storage temporarily unavailable")
	}
	return err
}
