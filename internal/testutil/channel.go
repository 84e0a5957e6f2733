package testutil

import (
	"context"
	"sync"

	"reminder_notification_bot/internal/domain/notification"
)

// Sent is one recorded delivery attempt.
type Sent struct {
	SubjectID string
	Text      string
}

// RecordingChannel records every Send and answers with Result (delivered by default).
type RecordingChannel struct {
	mu   sync.Mutex
	sent []Sent

	Result func(subjectID string) notification.Result
}

func (c *RecordingChannel) Send(ctx context.Context, subjectID, text string) notification.Result {
	c.mu.Lock()
	c.sent = append(c.sent, Sent{SubjectID: subjectID, Text: text})
	fn := c.Result
	c.mu.Unlock()

	if fn != nil {
		return fn(subjectID)
	}
	return notification.Delivered()
}

func (c *RecordingChannel) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

func (c *RecordingChannel) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}
