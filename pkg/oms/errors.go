package oms

import (
	"errors"
	"fmt"
)

// Severity splits order-action failures into the fail-soft/fail-hard
// classes the strategy reacts to: a recoverable failure means "no order
// placed, carry on", a fatal one means the strategy can no longer cover
// its position and must stop gracefully.
type Severity int

// Failure severities
const (
	SevRecoverable Severity = iota
	SevFatal
)

// OrderError is the typed result of a failed order action. In every
// error case the caller must assume no connector-side state changed.
type OrderError struct {
	Sev  Severity
	Code int
	Msg  string
	Err  error
}

// Error implements the error interface
func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order error [%d] %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("order error [%d] %s", e.Code, e.Msg)
}

// Unwrap exposes the wrapped cause
func (e *OrderError) Unwrap() error { return e.Err }

// Recoverable builds a fail-soft order error
func Recoverable(code int, msg string) *OrderError {
	return &OrderError{Sev: SevRecoverable, Code: code, Msg: msg}
}

// Fatal builds a strategy-terminating order error
func Fatal(code int, msg string, err error) *OrderError {
	return &OrderError{Sev: SevFatal, Code: code, Msg: msg, Err: err}
}

// IsFatal reports whether err carries a strategy-terminating severity
func IsFatal(err error) bool {
	var oe *OrderError
	if errors.As(err, &oe) {
		return oe.Sev == SevFatal
	}
	return false
}

// Errors
var (
	ErrInactive     = errors.New("order already inactive")
	ErrCxlPending   = errors.New("cancel or modify already in flight")
	ErrBelowMinQty  = errors.New("quantity below minimum lot")
	ErrRateLimited  = errors.New("outbound message rate exceeded")
	ErrNotConnected = errors.New("connector not active")
)
