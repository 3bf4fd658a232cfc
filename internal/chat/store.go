//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks
package chat

import (
	"context"
	"time"
)

// MessageRecord is one persisted chat message.
type MessageRecord struct {
	ID        int64     `json:"id"`
	UserID    *int64    `json:"userId"`
	GroupID   int64     `json:"group"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageView is a message as listed over REST, with the sender resolved.
type MessageView struct {
	ID        int64     `json:"id"`
	User      string    `json:"user"`
	GroupID   int64     `json:"group"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageStore persists chat messages. Implementations must accept
// concurrent Append calls.
type MessageStore interface {
	Append(ctx context.Context, userID *int64, groupID int64, content string) (MessageRecord, error)
}

// MessageHistory adds the read side used by the REST endpoints. Get
// reports an unknown id with pgx.ErrNoRows.
type MessageHistory interface {
	MessageStore
	ListByGroup(ctx context.Context, groupID int64, limit int) ([]MessageView, error)
	Get(ctx context.Context, id int64) (MessageView, error)
}
