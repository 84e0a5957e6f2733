// internal/domain/reminder/repository.go
package reminder

import (
	"context"
	"time"
)

// Repository persists reminder schedules. One record exists per (subject, kind);
// Upsert replaces an existing record for the same key.
type Repository interface {
	LoadAll(ctx context.Context) ([]ReminderSchedule, error)
	Get(ctx context.Context, key Key) (*ReminderSchedule, error) // ErrScheduleNotFound if absent
	ListBySubject(ctx context.Context, subjectID string) ([]ReminderSchedule, error)
	Upsert(ctx context.Context, s ReminderSchedule) (ReminderSchedule, error)
	Delete(ctx context.Context, key Key) (bool, error)
	DeleteAll(ctx context.Context, subjectID string) (int, error)
}

// Timer is a cancellable one-shot callback.
type Timer interface {
	// Stop prevents the callback from running; it reports false if it already started or fired.
	Stop() bool
}

// Clock is the engine's time source.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
