package job

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"ucm-sync/internal/axl"
	"ucm-sync/internal/config"
	"ucm-sync/internal/metrics"
)

// RetryPolicy bounds how often one AXL call is attempted. MaxAttempts counts
// the first try.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func RetryPolicyFromConfig(cfg config.Retry) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
	}
}

func (p RetryPolicy) options(notify backoff.Notify) []backoff.RetryOption {
	strategy := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		strategy.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		strategy.MaxInterval = p.MaxInterval
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 1
	}
	return []backoff.RetryOption{
		backoff.WithBackOff(strategy),
		backoff.WithMaxTries(maxAttempts),
		backoff.WithNotify(notify),
	}
}

// Retry calls operation until it succeeds, fails fatally or runs out of
// attempts. It returns the number of attempts made. A retried call repeats the
// same request, so callers must only write what a successful call returned.
func Retry[T any](
	ctx context.Context,
	policy RetryPolicy,
	name string,
	logger zerolog.Logger,
	operation func() (T, error),
) (T, uint, error) {
	var attempts uint
	notify := func(err error, next time.Duration) {
		metrics.RecordRetry(name)
		logger.Warn().
			Err(err).
			Str("operation", name).
			Uint("attempt", attempts).
			Dur("retry_in", next).
			Msg("Transient AXL failure, retrying")
	}

	result, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		value, err := operation()
		if err != nil && axl.IsFatal(err) {
			return value, backoff.Permanent(err)
		}
		return value, err
	}, policy.options(notify)...)
	return result, attempts, err
}
