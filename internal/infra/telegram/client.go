// internal/infra/telegram/client.go
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"installment_notifier/internal/domain/delivery"

	"gopkg.in/telebot.v3"
)

// Sender is the part of *telebot.Bot the provider needs.
type Sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// TelebotProvider implements delivery.Provider using the gopkg.in/telebot.v3 library.
// The recipient is a chat id; the template is message text with {key} placeholders.
type TelebotProvider struct {
	sender Sender
}

func NewTelebotProvider(s Sender) *TelebotProvider {
	return &TelebotProvider{sender: s}
}

func (p *TelebotProvider) Name() string { return "telegram" }

// Send sends a text message to the specified chat.
func (p *TelebotProvider) Send(ctx context.Context, recipient, template string, params map[string]string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(recipient), 10, 64)
	if err != nil {
		return delivery.Permanent(fmt.Errorf("invalid telegram chat id %q", recipient))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	text := delivery.Render(template, params)

	// telebot has no context support; a send still in flight at the deadline is abandoned.
	done := make(chan error, 1)
	go func() {
		_, err := p.sender.Send(telebot.ChatID(chatID), text, &telebot.SendOptions{DisableWebPagePreview: true})
		done <- err
	}()

	select {
	case err := <-done:
		return classify(err)
	case <-ctx.Done():
		return fmt.Errorf("telegram send to %d: %w", chatID, ctx.Err())
	}
}

// classify marks errors Telegram will repeat on every retry (blocked bot, unknown chat) as permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var flood telebot.FloodError
	if errors.As(err, &flood) {
		return fmt.Errorf("telegram flood control: %w", err)
	}
	var apiErr *telebot.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 400, 401, 403:
			return delivery.Permanent(fmt.Errorf("telegram rejected message: %w", err))
		}
	}
	return fmt.Errorf("telegram send failed: %w", err)
}
