package database

import (
	"context"
	"database/sql"
	"fmt"

	"installment_notifier/internal/domain/notification"

	"github.com/lib/pq"
)

type PostgresNotificationRepository struct {
	db *sql.DB
}

func NewPostgresNotificationRepository(db *sql.DB) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{db: db}
}

// InsertBatch stores one unread record per unique user id with a single statement, so either all
// rows are written or none are.
func (r *PostgresNotificationRepository) InsertBatch(ctx context.Context, draft notification.Draft) ([]*notification.Record, error) {
	userIDs := draft.UniqueUserIDs()
	if len(userIDs) == 0 {
		return nil, nil
	}
	payload, err := draft.PayloadJSON()
	if err != nil {
		return nil, fmt.Errorf("error encoding notification payload: %w", err)
	}

	query := `INSERT INTO notifications (user_id, type, title, message, payload)
               SELECT u, $2, $3, $4, $5::jsonb FROM unnest($1::bigint[]) AS u
               RETURNING id, user_id, is_read, created_at`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(userIDs), draft.Type, draft.Title, draft.Message, string(payload))
	if err != nil {
		return nil, fmt.Errorf("error inserting notifications: %w", err)
	}
	defer rows.Close()

	records := make([]*notification.Record, 0, len(userIDs))
	for rows.Next() {
		rec := &notification.Record{
			Type:    draft.Type,
			Title:   draft.Title,
			Message: draft.Message,
			Payload: payload,
		}
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.IsRead, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning inserted notification: %w", err)
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error inserting notifications: %w", err)
	}
	return records, nil
}

func (r *PostgresNotificationRepository) ListByUser(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]*notification.Record, error) {
	query := `SELECT id, user_id, type, title, message, payload, is_read, created_at
               FROM notifications
               WHERE user_id = $1 AND ($2 = FALSE OR is_read = FALSE)
               ORDER BY created_at DESC, id DESC
               LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing notifications for user %d: %w", userID, err)
	}
	defer rows.Close()

	var records []*notification.Record
	for rows.Next() {
		rec := &notification.Record{}
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Type, &rec.Title, &rec.Message, &payload, &rec.IsRead, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning notification row: %w", err)
		}
		rec.Payload = payload
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notification rows: %w", err)
	}
	return records, nil
}

// MarkRead flips is_read for the owner's record. The update matches already read rows too, which
// keeps repeated calls successful.
func (r *PostgresNotificationRepository) MarkRead(ctx context.Context, id, userID int64) error {
	query := `UPDATE notifications
               SET is_read = TRUE, read_at = COALESCE(read_at, NOW())
               WHERE id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("error marking notification %d read: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for mark read: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var owner int64
	err = r.db.QueryRowContext(ctx, `SELECT user_id FROM notifications WHERE id = $1`, id).Scan(&owner)
	if err != nil {
		if err == sql.ErrNoRows {
			return notification.ErrNotificationNotFound
		}
		return fmt.Errorf("error checking notification owner: %w", err)
	}
	return notification.ErrNotOwner
}

func (r *PostgresNotificationRepository) CountUnread(ctx context.Context, userID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = FALSE`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("error counting unread notifications: %w", err)
	}
	return n, nil
}
