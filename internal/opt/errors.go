package opt

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed or inconsistent input. It is always
// surfaced to the caller, never repaired silently.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

func validationErrorf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

var (
	// ErrSolverTimeout is returned by the exact solver when the run
	// deadline expires mid-solve. The orchestrator recovers from it by
	// switching to the greedy path.
	ErrSolverTimeout = errors.New("exact solver: deadline exceeded")

	// ErrSolverUnavailable signals that the exact path cannot run at all
	// (e.g. the instance exceeds the configured pair budget).
	ErrSolverUnavailable = errors.New("exact solver: unavailable")
)
