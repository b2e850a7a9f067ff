// internal/infra/telegram/notification_response_handlers.go
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"installment_notifier/internal/app"
	"installment_notifier/internal/domain/notification"

	"gopkg.in/telebot.v3"
)

func RegisterNotificationResponseHandlers(ctx context.Context, b *telebot.Bot, adminService *app.AdminService) {
	b.Handle(&btnMarkRead, func(c telebot.Context) error {
		id, err := parseNotificationID(c.Data())
		if err != nil {
			c.Bot().OnError(err, c)
			return c.Respond(&telebot.CallbackResponse{Text: "Invalid notification."})
		}

		err = adminService.MarkRead(ctx, c.Sender().ID, id)
		switch {
		case err == nil:
			if editErr := c.Edit(c.Message().Text + "\n\n(read)"); editErr != nil {
				c.Bot().OnError(fmt.Errorf("failed to update inbox entry %d: %w", id, editErr), c)
			}
			return c.Respond(&telebot.CallbackResponse{Text: "Marked as read."})
		case errors.Is(err, app.ErrAdminNotAuthorized), errors.Is(err, notification.ErrNotOwner):
			return c.Respond(&telebot.CallbackResponse{Text: "Not allowed."})
		case errors.Is(err, notification.ErrNotificationNotFound):
			return c.Respond(&telebot.CallbackResponse{Text: "Notification no longer exists."})
		default:
			c.Bot().OnError(fmt.Errorf("error marking notification %d read: %w", id, err), c)
			return c.Respond(&telebot.CallbackResponse{Text: "Something went wrong."})
		}
	})

	// Fallback for callbacks from buttons this bot no longer knows about.
	b.Handle(telebot.OnCallback, func(c telebot.Context) error {
		c.Bot().OnError(fmt.Errorf("unhandled callback data: %q", c.Callback().Data), c)
		return c.Respond(&telebot.CallbackResponse{Text: "Unknown action."})
	})
}

func parseNotificationID(data string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(data), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid notification id %q in callback", data)
	}
	return id, nil
}
