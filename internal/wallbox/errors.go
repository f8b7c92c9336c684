package wallbox

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// AuthError is returned when the vendor rejects the credentials or answers
// without a token.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("authentication failed (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("authentication failed: %s", e.Message)
}

// APIError carries a vendor message that was returned instead of data.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: vendor returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: vendor returned status %d: %s", e.Op, e.StatusCode, e.Message)
}

// NetworkError wraps a transport failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("%s: network error: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError is a transport failure caused by the request deadline.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("%s: request timed out: %v", e.Op, e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

// ChangeNotAppliedError reports that a change request went through but the
// echoed snapshot does not carry the requested value.
type ChangeNotAppliedError struct {
	Field     string
	Requested any
	Actual    any
}

func (e *ChangeNotAppliedError) Error() string {
	return fmt.Sprintf("change of %q not applied: requested %v, charger reports %v", e.Field, e.Requested, e.Actual)
}

func transportError(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &TimeoutError{Op: op, Err: err}
	}
	return &NetworkError{Op: op, Err: err}
}
