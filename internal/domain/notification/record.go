// internal/domain/notification/record.go
package notification

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ListLimit caps how many records a single listing returns.
const ListLimit = 50

// Type values produced inside this service. Other producers may use their own.
const (
	TypeReminderRunFailures = "reminder_run_failures"
)

var ErrInvalidDraft = errors.New("invalid notification draft")

// Record is a persisted, per-user notification. IsRead only ever goes from false to true.
// Corresponds to the 'notifications' table.
type Record struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	IsRead    bool            `json:"is_read"`
	CreatedAt time.Time       `json:"created_at"`
}

// Draft is the input of a notify call: one record is stored per target user id.
type Draft struct {
	UserIDs []int64
	Type    string
	Title   string
	Message string
	Payload map[string]any
}

// Validate checks the draft before anything is written.
func (d Draft) Validate() error {
	if len(d.UserIDs) == 0 {
		return errors.Join(ErrInvalidDraft, errors.New("at least one user id is required"))
	}
	for _, id := range d.UserIDs {
		if id <= 0 {
			return errors.Join(ErrInvalidDraft, errors.New("user ids must be positive"))
		}
	}
	if strings.TrimSpace(d.Type) == "" {
		return errors.Join(ErrInvalidDraft, errors.New("type is required"))
	}
	if strings.TrimSpace(d.Title) == "" {
		return errors.Join(ErrInvalidDraft, errors.New("title is required"))
	}
	return nil
}

// UniqueUserIDs returns the target user ids without duplicates, preserving order.
func (d Draft) UniqueUserIDs() []int64 {
	seen := make(map[int64]struct{}, len(d.UserIDs))
	out := make([]int64, 0, len(d.UserIDs))
	for _, id := range d.UserIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// PayloadJSON encodes the opaque payload; a nil payload is stored as an empty object.
func (d Draft) PayloadJSON() (json.RawMessage, error) {
	if d.Payload == nil {
		return json.RawMessage(`{}`), nil
	}
	b, err := json.Marshal(d.Payload)
	if err != nil {
		return nil, err
	}
	return b, nil
}
