package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v3"

	"reminder_notification_bot/internal/domain/notification"
)

type sentMessage struct {
	chatID int64
	text   string
}

type fakeClient struct {
	mu   sync.Mutex
	err  error
	sent []sentMessage
}

func (f *fakeClient) SendMessage(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text})
	return f.err
}

func TestChannel_Delivered(t *testing.T) {
	client := &fakeClient{}
	ch := NewChannel(client, 0)

	res := ch.Send(context.Background(), " 123456789 ", "⏰ time to stretch")

	assert.Equal(t, notification.OutcomeDelivered, res.Outcome)
	require.Len(t, client.sent, 1)
	assert.Equal(t, sentMessage{chatID: 123456789, text: "⏰ time to stretch"}, client.sent[0])
}

func TestChannel_InvalidChatID(t *testing.T) {
	client := &fakeClient{}
	ch := NewChannel(client, 5)

	res := ch.Send(context.Background(), "alice", "hi")

	assert.Equal(t, notification.OutcomePermanentFailure, res.Outcome)
	assert.Equal(t, "invalid chat id", res.Reason)
	assert.Empty(t, client.sent)
}

func TestChannel_Classification(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		outcome notification.Outcome
	}{
		{"blocked by user", telebot.ErrBlockedByUser, notification.OutcomePermanentFailure},
		{"wrapped blocked", fmt.Errorf("send: %w", telebot.ErrBlockedByUser), notification.OutcomePermanentFailure},
		{"user deactivated", telebot.ErrUserIsDeactivated, notification.OutcomePermanentFailure},
		{"never started", telebot.ErrNotStartedByUser, notification.OutcomePermanentFailure},
		{"chat not found", telebot.ErrChatNotFound, notification.OutcomePermanentFailure},
		{"other forbidden", &telebot.Error{Code: 403, Description: "Forbidden: bot was kicked from the group chat"}, notification.OutcomePermanentFailure},
		{"bad request", &telebot.Error{Code: 400, Description: "Bad Request: message text is empty"}, notification.OutcomeTransientFailure},
		{"flood", telebot.FloodError{RetryAfter: 3}, notification.OutcomeTransientFailure},
		{"network", errors.New("dial tcp: i/o timeout"), notification.OutcomeTransientFailure},
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), notification.OutcomeTransientFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := NewChannel(&fakeClient{err: tt.err}, 100)
			res := ch.Send(context.Background(), "42", "hi")
			assert.Equal(t, tt.outcome, res.Outcome)
			assert.NotEmpty(t, res.Reason)
		})
	}
}

func TestChannel_ForbiddenReasonUsesDescription(t *testing.T) {
	ch := NewChannel(&fakeClient{err: telebot.ErrBlockedByUser}, 100)

	res := ch.Send(context.Background(), "42", "hi")

	assert.Equal(t, telebot.ErrBlockedByUser.Description, res.Reason)
}

func TestChannel_CancelledBeforeSend(t *testing.T) {
	client := &fakeClient{}
	ch := NewChannel(client, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := ch.Send(ctx, "42", "hi")

	assert.Equal(t, notification.OutcomeTransientFailure, res.Outcome)
	assert.Equal(t, "cancelled", res.Reason)
	assert.Empty(t, client.sent)
}
