// internal/app/policy.go
package app

import (
	"reminder_notification_bot/internal/domain/notification"
	"reminder_notification_bot/internal/domain/reminder"
)

// FailurePolicy decides what happens to a schedule whose recipient is permanently unreachable.
type FailurePolicy interface {
	// ShouldDisable is called after each permanent failure with the number of
	// consecutive permanent failures for the schedule's key, this one included.
	ShouldDisable(s reminder.ReminderSchedule, consecutive int, result notification.Result) bool
}

// KeepPolicy never disables a schedule.
type KeepPolicy struct{}

func (KeepPolicy) ShouldDisable(reminder.ReminderSchedule, int, notification.Result) bool {
	return false
}

// DisableAfterPolicy disables a schedule after Threshold consecutive permanent failures.
type DisableAfterPolicy struct {
	Threshold int
}

func (p DisableAfterPolicy) ShouldDisable(_ reminder.ReminderSchedule, consecutive int, _ notification.Result) bool {
	return p.Threshold > 0 && consecutive >= p.Threshold
}

// PolicyFromThreshold returns KeepPolicy for threshold <= 0.
func PolicyFromThreshold(threshold int) FailurePolicy {
	if threshold <= 0 {
		return KeepPolicy{}
	}
	return DisableAfterPolicy{Threshold: threshold}
}
