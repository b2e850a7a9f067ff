// internal/domain/notification/repository.go
package notification

import (
	"context"
	"errors"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrNotOwner             = errors.New("notification belongs to another user")
)

// Repository is the durable notification store. It is shared by the reminder run, web requests
// and any other producer, so every insert and every read flip must be atomic per record.
type Repository interface {
	// InsertBatch stores one unread record per unique user id in the draft, all or nothing.
	InsertBatch(ctx context.Context, draft Draft) ([]*Record, error)
	// ListByUser returns the user's records newest first, at most limit of them.
	ListByUser(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]*Record, error)
	// MarkRead flips is_read to true. Already-read records succeed without change.
	// Returns ErrNotificationNotFound or ErrNotOwner when userID may not touch the record.
	MarkRead(ctx context.Context, id, userID int64) error
	CountUnread(ctx context.Context, userID int64) (int, error)
}

// Push is what gets delivered to live clients.
type Push struct {
	UserIDs []int64        `json:"user_ids"`
	Data    map[string]any `json:"data"`
}

// Broadcaster pushes freshly stored notifications to connected clients, best-effort.
type Broadcaster interface {
	Push(ctx context.Context, p Push) error
}
