package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"installment_notifier/internal/app"
	"installment_notifier/internal/domain/notification"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const unauthorizedReply = "Error: you are not allowed to run this command."

// btnMarkRead is the inline button attached to every inbox entry. Its payload is the notification id.
var btnMarkRead = telebot.Btn{Unique: "read"}

// RegisterAdminHandlers registers handlers for admin commands.
// It requires the bot instance, admin service, and the configured admin Telegram ID.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, adminService *app.AdminService, adminTelegramID int64, baseLogger *logrus.Entry) {
	b.Handle("/run_reminders", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/run_reminders",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if c.Sender().ID != adminTelegramID {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send(unauthorizedReply)
		}

		_ = c.Send("Reminder run started...")
		report, err := adminService.RunReminders(ctx, c.Sender().ID)
		if err != nil {
			return c.Send(runErrorReply(err, handlerLogger))
		}
		handlerLogger.WithField("run_id", report.RunID).Info("Manual reminder run finished")
		return c.Send(report.Summary())
	})

	b.Handle("/unread", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/unread",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if c.Sender().ID != adminTelegramID {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send(unauthorizedReply)
		}

		records, err := adminService.UnreadNotifications(ctx, c.Sender().ID)
		if err != nil {
			if errors.Is(err, app.ErrAdminInboxNotConfigured) {
				return c.Send("No notification inbox is configured for the admin (REMINDER_ADMIN_USER_IDS).")
			}
			handlerLogger.WithError(err).Error("Failed to list unread notifications")
			return c.Send(fmt.Sprintf("Could not load notifications: %s", err.Error()))
		}
		if len(records) == 0 {
			return c.Send("No unread notifications.")
		}

		for _, rec := range records {
			text, markup := inboxEntry(rec)
			if err := c.Send(text, markup); err != nil {
				handlerLogger.WithError(err).WithField("notification_id", rec.ID).Warn("Failed to send inbox entry")
			}
		}
		return nil
	})
}

func runErrorReply(err error, log *logrus.Entry) string {
	var cfgErr *app.ConfigError
	switch {
	case errors.Is(err, app.ErrAdminNotAuthorized):
		log.WithError(err).Warn("Admin not authorized (service level)")
		return unauthorizedReply
	case errors.Is(err, app.ErrRunInProgress):
		return "A reminder run is already in progress, try again later."
	case errors.As(err, &cfgErr):
		return fmt.Sprintf("Reminder run skipped, missing settings: %s", strings.Join(cfgErr.Missing, ", "))
	default:
		log.WithError(err).Error("Manual reminder run failed")
		return fmt.Sprintf("Reminder run failed: %s", err.Error())
	}
}

// inboxEntry renders one notification with its mark-read button.
func inboxEntry(rec *notification.Record) (string, *telebot.ReplyMarkup) {
	var text strings.Builder
	text.WriteString(rec.Title)
	if rec.Message != "" {
		text.WriteString("\n")
		text.WriteString(rec.Message)
	}
	text.WriteString("\n")
	text.WriteString(rec.CreatedAt.Format("2006-01-02 15:04"))

	markup := &telebot.ReplyMarkup{}
	markup.Inline(markup.Row(markup.Data("Mark read", btnMarkRead.Unique, strconv.FormatInt(rec.ID, 10))))
	return text.String(), markup
}
