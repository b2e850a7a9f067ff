package app

import (
	"context"
	"errors"
	"fmt"

	"installment_notifier/internal/domain/notification"
)

// Custom application-level errors for admin service
var ErrAdminNotAuthorized = fmt.Errorf("performing user is not authorized as an admin")
var ErrAdminInboxNotConfigured = fmt.Errorf("no notification user id is configured for the admin")

// ReminderTrigger starts a reminder run on demand, sharing the scheduler's run guard.
type ReminderTrigger interface {
	Trigger(ctx context.Context) (RunReport, error)
}

// AdminService backs the operator commands of the chat bot.
type AdminService struct {
	reminders       ReminderTrigger
	notifications   NotificationService
	adminTelegramID int64
	adminUserID     int64 // notification inbox of the admin, 0 when not configured
}

func NewAdminService(rt ReminderTrigger, ns NotificationService, adminTelegramID, adminUserID int64) *AdminService {
	return &AdminService{
		reminders:       rt,
		notifications:   ns,
		adminTelegramID: adminTelegramID,
		adminUserID:     adminUserID,
	}
}

// IsAdmin reports whether the given Telegram user is the configured operator.
func (s *AdminService) IsAdmin(performingAdminID int64) bool {
	return performingAdminID == s.adminTelegramID
}

// RunReminders starts a reminder run right away and returns its report.
func (s *AdminService) RunReminders(ctx context.Context, performingAdminID int64) (RunReport, error) {
	if !s.IsAdmin(performingAdminID) {
		return RunReport{}, ErrAdminNotAuthorized
	}
	report, err := s.reminders.Trigger(ctx)
	if err != nil {
		var cfgErr *ConfigError
		if errors.Is(err, ErrRunInProgress) || errors.As(err, &cfgErr) {
			return report, err
		}
		return report, fmt.Errorf("failed to run reminders: %w", err)
	}
	return report, nil
}

// UnreadNotifications returns the admin's unread inbox, newest first.
func (s *AdminService) UnreadNotifications(ctx context.Context, performingAdminID int64) ([]*notification.Record, error) {
	if !s.IsAdmin(performingAdminID) {
		return nil, ErrAdminNotAuthorized
	}
	if s.adminUserID == 0 {
		return nil, ErrAdminInboxNotConfigured
	}
	return s.notifications.List(ctx, s.adminUserID, true)
}

// MarkRead marks a notification of the admin's inbox as read.
func (s *AdminService) MarkRead(ctx context.Context, performingAdminID, notificationID int64) error {
	if !s.IsAdmin(performingAdminID) {
		return ErrAdminNotAuthorized
	}
	if s.adminUserID == 0 {
		return ErrAdminInboxNotConfigured
	}
	return s.notifications.MarkRead(ctx, notificationID, s.adminUserID)
}
