// internal/domain/reminder/schedule.go
package reminder

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a 24-hour wall-clock time in the engine timezone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimeOfDay parses "HH:MM" (a single-digit hour is allowed).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return TimeOfDay{}, &ValidationError{Field: "time_of_day", Reason: "expected HH:MM, got " + s}
	}
	h, errH := strconv.Atoi(hh)
	m, errM := strconv.Atoi(mm)
	if errH != nil || errM != nil || len(mm) != 2 {
		return TimeOfDay{}, &ValidationError{Field: "time_of_day", Reason: "expected HH:MM, got " + s}
	}
	t := TimeOfDay{Hour: h, Minute: m}
	if !t.Valid() {
		return TimeOfDay{}, &ValidationError{Field: "time_of_day", Reason: "out of range " + s}
	}
	return t, nil
}

var weekdayNames = map[string]time.Weekday{}

func init() {
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		weekdayNames[full] = d
		weekdayNames[full[:3]] = d
	}
}

// ParseWeekday accepts full ("Monday") or short ("mon") English names, case-insensitive.
func ParseWeekday(s string) (time.Weekday, error) {
	d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, &ValidationError{Field: "day_of_week", Reason: "unknown weekday " + s}
	}
	return d, nil
}

// Key identifies the single active schedule of a subject for a kind.
type Key struct {
	SubjectID string
	Kind      ScheduleKind
}

func (k Key) String() string { return k.SubjectID + "/" + string(k.Kind) }

// ReminderSchedule is a persisted recurring reminder.
// Corresponds to the 'reminder_schedules' table; (subject_id, kind) is the primary key.
type ReminderSchedule struct {
	SubjectID string
	Kind      ScheduleKind
	TimeOfDay TimeOfDay
	DayOfWeek *time.Weekday // set only for KindWeekly
	Message   sql.NullString
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s ReminderSchedule) Key() Key {
	return Key{SubjectID: s.SubjectID, Kind: s.Kind}
}

// Validate checks that the time of day is a real wall-clock time and that the
// day of week is present exactly when the kind is weekly.
func (s ReminderSchedule) Validate() error {
	if strings.TrimSpace(s.SubjectID) == "" {
		return &ValidationError{Field: "subject_id", Reason: "required"}
	}
	if !s.Kind.Valid() {
		return &ValidationError{Field: "kind", Reason: "unknown schedule kind " + string(s.Kind)}
	}
	if !s.TimeOfDay.Valid() {
		return &ValidationError{Field: "time_of_day", Reason: "out of range " + s.TimeOfDay.String()}
	}
	switch s.Kind {
	case KindWeekly:
		if s.DayOfWeek == nil {
			return &ValidationError{Field: "day_of_week", Reason: "required for weekly schedules"}
		}
		if *s.DayOfWeek < time.Sunday || *s.DayOfWeek > time.Saturday {
			return &ValidationError{Field: "day_of_week", Reason: "out of range"}
		}
	case KindDaily:
		if s.DayOfWeek != nil {
			return &ValidationError{Field: "day_of_week", Reason: "not allowed for daily schedules"}
		}
	}
	return nil
}

// SameRule reports whether two schedules arm identically and carry the same message.
func (s ReminderSchedule) SameRule(o ReminderSchedule) bool {
	if s.Key() != o.Key() || s.TimeOfDay != o.TimeOfDay || s.Message != o.Message {
		return false
	}
	if (s.DayOfWeek == nil) != (o.DayOfWeek == nil) {
		return false
	}
	return s.DayOfWeek == nil || *s.DayOfWeek == *o.DayOfWeek
}

// Weekday is a helper for building weekly schedules.
func Weekday(d time.Weekday) *time.Weekday { return &d }
