package trade

import (
	"errors"
	"fmt"
)

var (
	// ErrOperationNotFound means the batch lacks a command its classification
	// requires, or references a market with no position.
	ErrOperationNotFound = errors.New("operation not found")
	// ErrInsufficientIdleMargin means idle margin cannot cover the requested amount.
	ErrInsufficientIdleMargin = errors.New("insufficient idle margin")
)

// SkipError is an expected business-rule rejection. The transaction is not
// mirrored and processing continues with the next one.
type SkipError struct {
	Reason string
	Err    error
}

func (e *SkipError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("skip operation: %s: %v", e.Reason, e.Err)
	}
	return "skip operation: " + e.Reason
}

func (e *SkipError) Unwrap() error {
	return e.Err
}

func skip(reason string) error {
	return &SkipError{Reason: reason}
}

// IsSkip reports whether err is, or wraps, a SkipError.
func IsSkip(err error) bool {
	var s *SkipError
	return errors.As(err, &s)
}

func notFound(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrOperationNotFound, fmt.Sprintf(format, args...))
}
