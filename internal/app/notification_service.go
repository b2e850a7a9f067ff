// internal/app/notification_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"installment_notifier/internal/domain/notification"
	"installment_notifier/internal/infra/metrics"

	"github.com/sirupsen/logrus"
)

const defaultPushTimeout = 5 * time.Second

// NotificationService stores user-facing notifications and tracks their read state.
type NotificationService interface {
	// Notify stores one record per user id and then pushes it to live clients in the background.
	// A push failure never undoes the store.
	Notify(ctx context.Context, draft notification.Draft) ([]*notification.Record, error)
	List(ctx context.Context, userID int64, unreadOnly bool) ([]*notification.Record, error)
	MarkRead(ctx context.Context, id, userID int64) error
	UnreadCount(ctx context.Context, userID int64) (int, error)
}

// NotificationServiceImpl implements the NotificationService interface.
type NotificationServiceImpl struct {
	notifRepo   notification.Repository
	broadcaster notification.Broadcaster
	metrics     *metrics.Metrics
	logger      *logrus.Entry
	pushTimeout time.Duration

	pushes sync.WaitGroup
}

func NewNotificationServiceImpl(
	nr notification.Repository,
	b notification.Broadcaster,
	m *metrics.Metrics,
	logger *logrus.Entry,
	pushTimeout time.Duration,
) *NotificationServiceImpl {
	if pushTimeout <= 0 {
		pushTimeout = defaultPushTimeout
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &NotificationServiceImpl{
		notifRepo:   nr,
		broadcaster: b,
		metrics:     m,
		logger:      logger,
		pushTimeout: pushTimeout,
	}
}

func (s *NotificationServiceImpl) Notify(ctx context.Context, draft notification.Draft) ([]*notification.Record, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	records, err := s.notifRepo.InsertBatch(ctx, draft)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"type":       draft.Type,
			"recipients": len(draft.UserIDs),
		}).Error("Failed to store notification")
		return nil, &PersistenceError{Op: "insert", Err: err}
	}
	s.metrics.NotificationsCreated.Add(float64(len(records)))
	s.logger.WithFields(logrus.Fields{
		"type":    draft.Type,
		"records": len(records),
	}).Debug("Notification stored")

	if s.broadcaster != nil && len(records) > 0 {
		push := buildPush(draft, records)
		s.pushes.Add(1)
		go s.push(context.WithoutCancel(ctx), push)
	}
	return records, nil
}

func (s *NotificationServiceImpl) push(ctx context.Context, p notification.Push) {
	defer s.pushes.Done()
	ctx, cancel := context.WithTimeout(ctx, s.pushTimeout)
	defer cancel()

	if err := s.broadcaster.Push(ctx, p); err != nil {
		s.metrics.PushFailures.Inc()
		s.logger.WithError(err).WithField("user_ids", p.UserIDs).Warn("Live push of notification failed")
	}
}

func buildPush(draft notification.Draft, records []*notification.Record) notification.Push {
	data := make(map[string]any, len(draft.Payload)+4)
	for k, v := range draft.Payload {
		data[k] = v
	}
	data["type"] = draft.Type
	data["title"] = draft.Title
	data["message"] = draft.Message

	userIDs := make([]int64, 0, len(records))
	ids := make(map[string]int64, len(records))
	for _, r := range records {
		userIDs = append(userIDs, r.UserID)
		ids[fmt.Sprint(r.UserID)] = r.ID
	}
	data["notification_ids"] = ids
	return notification.Push{UserIDs: userIDs, Data: data}
}

// Wait blocks until every background push started so far has finished.
func (s *NotificationServiceImpl) Wait() {
	s.pushes.Wait()
}

func (s *NotificationServiceImpl) List(ctx context.Context, userID int64, unreadOnly bool) ([]*notification.Record, error) {
	records, err := s.notifRepo.ListByUser(ctx, userID, unreadOnly, notification.ListLimit)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	return records, nil
}

// MarkRead flips a record to read on behalf of its owner. Marking an already read record succeeds.
func (s *NotificationServiceImpl) MarkRead(ctx context.Context, id, userID int64) error {
	err := s.notifRepo.MarkRead(ctx, id, userID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, notification.ErrNotOwner), errors.Is(err, notification.ErrNotificationNotFound):
		s.logger.WithFields(logrus.Fields{
			"notification_id": id,
			"user_id":         userID,
		}).WithError(err).Info("Mark-read rejected")
		return err
	default:
		return &PersistenceError{Op: "mark_read", Err: err}
	}
}

func (s *NotificationServiceImpl) UnreadCount(ctx context.Context, userID int64) (int, error) {
	n, err := s.notifRepo.CountUnread(ctx, userID)
	if err != nil {
		return 0, &PersistenceError{Op: "count_unread", Err: err}
	}
	return n, nil
}
