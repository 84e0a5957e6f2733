// internal/domain/reminder/errors.go
package reminder

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSchedule is the root of every ValidationError.
	ErrInvalidSchedule = errors.New("invalid reminder schedule")
	// ErrRepository wraps storage failures (unavailable, constraint violations).
	ErrRepository = errors.New("schedule repository error")
	// ErrMalformedRecord marks a persisted row that does not satisfy the schedule invariants.
	ErrMalformedRecord = errors.New("malformed persisted schedule")
	// ErrScheduleNotFound is returned by Repository.Get when no record exists for a key.
	ErrScheduleNotFound = errors.New("reminder schedule not found")
)

// ValidationError describes a rejected field combination. It is caller-visible and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidSchedule.Error(), e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidSchedule }
