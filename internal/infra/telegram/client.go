// internal/infra/telegram/client.go
package telegram

import (
	"fmt"
	"net/http"
	"time"

	"gopkg.in/telebot.v3"
)

// TelebotAdapter implements Client with a gopkg.in/telebot.v3 bot.
type TelebotAdapter struct {
	bot     *telebot.Bot
	options *telebot.SendOptions
}

func NewTelebotAdapter(b *telebot.Bot) *TelebotAdapter {
	return &TelebotAdapter{
		bot:     b,
		options: &telebot.SendOptions{DisableWebPagePreview: true},
	}
}

// NewBot creates a send-only bot: no poller is configured because the engine
// never receives updates. The token is verified with getMe.
func NewBot(token string, timeout time.Duration) (*telebot.Bot, error) {
	b, err := telebot.NewBot(telebot.Settings{
		Token:  token,
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return b, nil
}

// SendMessage sends text to the private chat chatID.
func (a *TelebotAdapter) SendMessage(chatID int64, text string) error {
	_, err := a.bot.Send(telebot.ChatID(chatID), text, a.options)
	return err
}
