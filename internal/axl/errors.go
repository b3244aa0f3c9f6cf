package axl

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrUnauthorized is returned when the node rejects the AXL credentials.
	ErrUnauthorized = errors.New("axl: unauthorized")
	// ErrNodeUnavailable is returned while a node's circuit breaker is open.
	ErrNodeUnavailable = errors.New("axl: node unavailable")
	ErrFault           = errors.New("axl: soap fault")
	ErrUnexpectedReply = errors.New("axl: unexpected response")
)

// TransientError marks a failure worth retrying: throttling, 5xx without a
// SOAP fault, timeouts and dropped connections.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err may succeed when the call is repeated.
func IsTransient(err error) bool {
	var transientErr *TransientError
	return errors.As(err, &transientErr)
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool {
	return err != nil && !IsTransient(err)
}

// classifyTransportError maps errors from the HTTP round trip. A cancelled
// caller context stays fatal; a request that timed out on its own deadline
// is transient.
func classifyTransportError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return transient(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return transient(err)
	}
	return transient(fmt.Errorf("request failed: %w", err))
}
