package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallbox-bridge/internal/parse"
)

var (
	// ErrUnknownPath is returned for paths that were never declared.
	ErrUnknownPath = errors.New("unknown state path")
	// ErrNotWritable is returned for external writes to a read-only state.
	ErrNotWritable = errors.New("state is not writable")
	// ErrNoValue is returned when a declared state has not been written yet.
	ErrNoValue = errors.New("state has no value")
)

// InvalidValueError is returned when an external write cannot be converted
// to the declared type of the state.
type InvalidValueError struct {
	Path string
	Err  error
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value for %s: %v", e.Path, e.Err)
}

func (e *InvalidValueError) Unwrap() error { return e.Err }

// State is the current value of a state path.
type State struct {
	Path      string    `json:"path"`
	Value     any       `json:"val"`
	Ack       bool      `json:"ack"`
	UpdatedAt time.Time `json:"ts"`
}

// Change is delivered to subscribers after a write was committed.
type Change struct {
	Path  string
	Value any
	Ack   bool

	// RequestID correlates an external write with the command it triggers.
	RequestID string

	// Previous is the value before the write; HadPrevious is false for the
	// first write of a path.
	Previous    any
	HadPrevious bool
}

// Changed reports whether the write altered the stored value.
func (c Change) Changed() bool {
	if !c.HadPrevious {
		return true
	}
	return !parse.Equal(c.Previous, c.Value)
}

type requestIDKey struct{}

// WithRequestID attaches a request id that SetState copies into the Change.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id attached to ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
