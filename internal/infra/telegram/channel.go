package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
	"gopkg.in/telebot.v3"

	"reminder_notification_bot/internal/domain/notification"
)

const defaultRatePerSecond = 25

// permanentErrors are the Bot API answers meaning the chat will not accept
// messages until the user acts.
var permanentErrors = []error{
	telebot.ErrBlockedByUser,
	telebot.ErrUserIsDeactivated,
	telebot.ErrNotStartedByUser,
	telebot.ErrChatNotFound,
}

// Client sends a text message to a Telegram chat.
type Client interface {
	SendMessage(chatID int64, text string) error
}

// Channel delivers reminders as Telegram messages. Subject IDs are chat IDs.
type Channel struct {
	client  Client
	limiter *rate.Limiter
}

var _ notification.Channel = (*Channel)(nil)

// NewChannel wraps client with a global send rate limit; Telegram allows
// roughly 30 messages per second per bot.
func NewChannel(client Client, perSecond int) *Channel {
	if perSecond <= 0 {
		perSecond = defaultRatePerSecond
	}
	return &Channel{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond),
	}
}

func (c *Channel) Send(ctx context.Context, subjectID, text string) notification.Result {
	chatID, err := strconv.ParseInt(strings.TrimSpace(subjectID), 10, 64)
	if err != nil {
		return notification.Permanent("invalid chat id", fmt.Errorf("subject %q is not a telegram chat id: %w", subjectID, err))
	}

	if err := c.limiter.Wait(ctx); err != nil {
		if res, ok := notification.FromContextError(ctx.Err()); ok {
			return res
		}
		// The limiter refuses to wait past the context deadline.
		return notification.Transient("rate limited", err)
	}

	if err := c.client.SendMessage(chatID, text); err != nil {
		return classify(err)
	}
	return notification.Delivered()
}

// classify maps a Bot API error to a delivery outcome.
func classify(err error) notification.Result {
	for _, perm := range permanentErrors {
		if errors.Is(err, perm) {
			return notification.Permanent(describe(perm), err)
		}
	}

	var flood telebot.FloodError
	if errors.As(err, &flood) {
		return notification.Transient("rate limited by telegram", err)
	}

	var apiErr *telebot.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden {
		return notification.Permanent(describe(apiErr), err)
	}

	if res, ok := notification.FromContextError(err); ok {
		return res
	}
	return notification.Transient("telegram send failed", err)
}

func describe(err error) string {
	var apiErr *telebot.Error
	if errors.As(err, &apiErr) && apiErr.Description != "" {
		return apiErr.Description
	}
	return err.Error()
}
