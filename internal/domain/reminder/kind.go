// internal/domain/reminder/kind.go
package reminder

import "strings"

// ScheduleKind is the recurrence category of a reminder.
type ScheduleKind string

const (
	KindDaily  ScheduleKind = "DAILY"
	KindWeekly ScheduleKind = "WEEKLY"
)

// Valid reports whether k is one of the known kinds.
func (k ScheduleKind) Valid() bool {
	return k == KindDaily || k == KindWeekly
}

func (k ScheduleKind) String() string { return string(k) }

// ParseKind accepts "daily"/"weekly" in any case.
func ParseKind(s string) (ScheduleKind, error) {
	k := ScheduleKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", &ValidationError{Field: "kind", Reason: "unknown schedule kind " + s}
	}
	return k, nil
}
