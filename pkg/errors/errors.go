package glide_errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTokenExpired     = errors.New("token expired")
	ErrSendTimeout      = errors.New("send timed out")
	ErrNotConnected     = errors.New("not connected")
	ErrClosed           = errors.New("closed")
	ErrNotStreamMessage = errors.New("not a stream message")
	ErrBadStreamStatus  = errors.New("invalid status for stream message")
)

// TransportError reports a failed delivery to or from the server. The
// locally pending message is kept; the caller decides whether to retry.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PersistenceError reports a failed read or write against the durable
// store. In-memory state is not rolled back on write failures, so the
// two views may diverge until the next successful write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}

func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
