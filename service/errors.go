package service

import (
	"errors"
	"fmt"
)

// ErrConsistency reports a work item that no longer matches the stored job,
// such as a redelivery for a finished job. It is logged and acknowledged.
var ErrConsistency = errors.New("work item does not match stored job")

// ValidationError rejects a submission before anything is stored.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func consistencyf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConsistency, fmt.Sprintf(format, args...))
}
