package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sony/gobreaker"

	"ucm-sync/internal/repository"
	"ucm-sync/pkg/log"
)

const uniqueViolationCode = "23505"

//nolint:mnd
func newBackoffStrategy() []backoff.RetryOption {
	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = 100 * time.Millisecond
	strategy.MaxInterval = 2 * time.Second
	return []backoff.RetryOption{
		backoff.WithBackOff(strategy),
		backoff.WithMaxTries(5),
		backoff.WithMaxElapsedTime(10 * time.Second),
	}
}

//nolint:mnd
func newCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Logger.Warn().
				Str("component", "repository").
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker changed state")
		},
	})
}

// isSuccessful keeps domain outcomes (not found, busy target) from tripping
// the breaker; only database failures count.
func isSuccessful(err error) bool {
	return err == nil || isDomainError(err)
}

func isDomainError(err error) bool {
	return errors.Is(err, repository.ErrHistoryNotFound) ||
		errors.Is(err, repository.ErrSyncHistoryOpen) ||
		errors.Is(err, repository.ErrInvalidRecords)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// resilient runs operation through the circuit breaker, retrying database
// failures with the configured backoff. Domain errors must be returned with
// backoff.Permanent so they are not retried.
func resilient[T any](
	ctx context.Context,
	breaker *gobreaker.CircuitBreaker,
	retryOpts []backoff.RetryOption,
	operation func() (T, error),
) (T, error) {
	var zero T
	result, err := breaker.Execute(func() (interface{}, error) {
		return backoff.Retry(ctx, operation, retryOpts...)
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return zero, fmt.Errorf("%w: %v", repository.ErrDatabaseUnavailable, err)
		case isDomainError(err):
			return zero, err
		default:
			return zero, fmt.Errorf("%w: %v", repository.ErrDatabaseGeneric, err)
		}
	}
	return result.(T), nil
}
