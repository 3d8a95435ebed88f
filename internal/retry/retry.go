// Package retry re-runs resolutions that failed with a retryable batch error.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"multicallgofer/internal/config"
	"multicallgofer/internal/multicall"
)

// Policy holds retry configuration
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	logger      zerolog.Logger
}

// NewPolicy creates a new Policy
func NewPolicy(maxAttempts int, backoff time.Duration, logger zerolog.Logger) *Policy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Policy{
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		logger:      logger.With().Str("component", "retry").Logger(),
	}
}

// NewPolicyFromConfig creates a Policy from the global configuration
func NewPolicyFromConfig(cfg *config.Config, logger zerolog.Logger) *Policy {
	return NewPolicy(cfg.RetryMaxAttempts, cfg.GetRetryBackoffDuration(), logger)
}

// IsRetryable reports whether err is worth another attempt.
// Stale responses and transport failures are; cancellation never is.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, multicall.ErrStaleResponse) || errors.Is(err, multicall.ErrTransportFailure)
}

// Do runs fn until it succeeds, fails with a non-retryable error or attempts run out.
// The last error is returned unchanged.
func (p *Policy) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for functions returning a value
func DoValue[T any](ctx context.Context, p *Policy, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		value T
		err   error
	)
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		value, err = fn(ctx)
		if err == nil || !IsRetryable(err) {
			return value, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return value, ctxErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		p.logger.Warn().
			Int("attempt", attempt).
			Int("maxAttempts", p.MaxAttempts).
			Err(err).
			Str("operation", name).
			Msg("resolution failed, retrying")

		if err := sleep(ctx, p.Backoff); err != nil {
			return value, err
		}
	}
	return value, err
}

func sleep(ctx context.Context, d time.Duration) error {
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
