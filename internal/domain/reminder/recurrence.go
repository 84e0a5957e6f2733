// internal/domain/reminder/recurrence.go
package reminder

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Rule computes fire instants for a schedule in a fixed location.
// It satisfies cron.Schedule so it can be armed by anything that drives cron schedules.
type Rule struct {
	Kind      ScheduleKind
	TimeOfDay TimeOfDay
	DayOfWeek time.Weekday
	Location  *time.Location
}

var _ cron.Schedule = Rule{}

// RuleFor builds the recurrence rule of a validated schedule.
func RuleFor(s ReminderSchedule, loc *time.Location) Rule {
	if loc == nil {
		loc = time.UTC
	}
	r := Rule{Kind: s.Kind, TimeOfDay: s.TimeOfDay, Location: loc}
	if s.DayOfWeek != nil {
		r.DayOfWeek = *s.DayOfWeek
	}
	return r
}

// Next returns the first fire instant strictly after now.
//
// Candidates are built with time.Date on calendar days in r.Location, so DST
// shifts are resolved by the zone rules: a wall-clock time inside a spring-forward
// gap is normalised forward, and an ambiguous fall-back time resolves to its
// first occurrence.
func (r Rule) Next(now time.Time) time.Time {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	y, m, d := local.Date()
	// 8 days covers a weekly rule whose today-candidate already passed.
	for i := 0; i <= 8; i++ {
		if r.Kind == KindWeekly && time.Date(y, m, d+i, 12, 0, 0, 0, loc).Weekday() != r.DayOfWeek {
			continue
		}
		c := time.Date(y, m, d+i, r.TimeOfDay.Hour, r.TimeOfDay.Minute, 0, 0, loc)
		if c.After(now) {
			return c
		}
	}
	// Unreachable for valid rules.
	return local.Add(24 * time.Hour)
}

// NextFire is shorthand for RuleFor(s, loc).Next(now).
func NextFire(s ReminderSchedule, now time.Time, loc *time.Location) time.Time {
	return RuleFor(s, loc).Next(now)
}
