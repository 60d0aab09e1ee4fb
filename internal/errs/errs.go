// Package errs defines the engine's error taxonomy. Each kind wraps its cause
// so callers can match with errors.As and still reach the underlying error.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotActive      = errors.New("order is not active")
	ErrOrderNotFound       = errors.New("order not found")
	ErrIllegalTransition   = errors.New("illegal order status transition")
	ErrNoTargets           = errors.New("order has no price targets")
	ErrMaxReconnects       = errors.New("max reconnect attempts reached")
	ErrExecutionInFlight   = errors.New("order execution in flight")
	ErrSymbolNotSubscribed = errors.New("symbol not subscribed")
)

// ValidationError rejects a signal before any state change.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %v", e.Reason, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ConnectionError means the feed or exchange was unreachable.
type ConnectionError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("connection: %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("connection: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ExecutionError is an order placement rejected by the exchange.
type ExecutionError struct {
	OrderID string
	Code    int64
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("execution: order %s rejected (code %d): %v", e.OrderID, e.Code, e.Err)
	}
	return fmt.Sprintf("execution: order %s: %v", e.OrderID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// StreamError is a price feed that dropped mid-operation.
type StreamError struct {
	Symbol string
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream %s: %v", e.Symbol, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsConnection reports whether err carries a ConnectionError.
func IsConnection(err error) bool {
	var c *ConnectionError
	return errors.As(err, &c)
}
