// internal/domain/notification/message.go
package notification

import (
	"strings"

	"reminder_notification_bot/internal/domain/reminder"
)

// MessageBuilder turns a due schedule into outbound text.
type MessageBuilder interface {
	Build(s reminder.ReminderSchedule) string
}

// TemplateBuilder uses the schedule's own message, falling back to a per-kind default.
type TemplateBuilder struct {
	Defaults map[reminder.ScheduleKind]string
}

const (
	DefaultDailyMessage  = "⏰ Your daily reminder is here."
	DefaultWeeklyMessage = "📅 Your weekly reminder is here."
)

func NewTemplateBuilder(daily, weekly string) *TemplateBuilder {
	if strings.TrimSpace(daily) == "" {
		daily = DefaultDailyMessage
	}
	if strings.TrimSpace(weekly) == "" {
		weekly = DefaultWeeklyMessage
	}
	return &TemplateBuilder{Defaults: map[reminder.ScheduleKind]string{
		reminder.KindDaily:  daily,
		reminder.KindWeekly: weekly,
	}}
}

func (b *TemplateBuilder) Build(s reminder.ReminderSchedule) string {
	if s.Message.Valid && strings.TrimSpace(s.Message.String) != "" {
		return s.Message.String
	}
	if text, ok := b.Defaults[s.Kind]; ok {
		return text
	}
	return DefaultDailyMessage
}
