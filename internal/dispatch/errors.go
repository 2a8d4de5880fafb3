package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ExhaustedError is returned when every attempt of a dispatch failed.
type ExhaustedError struct {
	Attempts int
	Model    string
	// Timeout is set when the last failure was a deadline rather than an
	// upstream or transport error.
	Timeout bool
	Err     error
}

func (e *ExhaustedError) Error() string {
	kind := "failed"
	if e.Timeout {
		kind = "timed out"
	}
	return fmt.Sprintf("dispatch %s after %d attempt(s) on %s: %v", kind, e.Attempts, e.Model, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err was caused by a deadline.
func IsTimeout(err error) bool {
	var ex *ExhaustedError
	if errors.As(err, &ex) && ex.Timeout {
		return true
	}
	return isDeadline(err)
}

func isDeadline(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
