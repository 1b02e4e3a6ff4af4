package pipeline

import (
	"context"
	"errors"
	"fmt"

	"clip-worker/constant"
)

// ErrNonRetryable marks collaborator errors that retrying cannot fix, such as an
// unsupported source. Join it with the cause: errors.Join(ErrNonRetryable, err).
var ErrNonRetryable = errors.New("non-retryable error")

// Terminal wraps err so IsTerminal reports true.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	if IsTerminal(err) {
		return err
	}
	return errors.Join(ErrNonRetryable, err)
}

// Terminalf is Terminal(fmt.Errorf(format, args...)).
func Terminalf(format string, args ...any) error {
	return Terminal(fmt.Errorf(format, args...))
}

func IsTerminal(err error) bool {
	return errors.Is(err, ErrNonRetryable)
}

// StageError is the failure recorded on a job when a stage gives up.
type StageError struct {
	Stage     constant.JobStatus
	Attempts  int
	Transient bool
	Err       error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	cause := "unknown error"
	if e.Err != nil {
		cause = describe(e.Err)
	}
	if e.Transient {
		return fmt.Sprintf("%s: retry budget exhausted after %d attempts: %s", e.Stage, e.Attempts, cause)
	}
	return fmt.Sprintf("%s: %s", e.Stage, cause)
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// describe drops the sentinel text errors.Join puts in front of the cause.
func describe(err error) string {
	if errors.Is(err, context.DeadlineExceeded) && !IsTerminal(err) {
		return "collaborator timed out: " + err.Error()
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, inner := range joined.Unwrap() {
			if inner != nil && !errors.Is(inner, ErrNonRetryable) {
				return inner.Error()
			}
		}
	}
	return err.Error()
}
