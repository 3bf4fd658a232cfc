package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgForeignKeyViolation = "23503"

// PGStore keeps messages in the messages table.
type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Append(ctx context.Context, userID *int64, groupID int64, content string) (MessageRecord, error) {
	var rec MessageRecord
	err := s.db.QueryRow(ctx, `
		INSERT INTO messages(user_id, group_id, content)
		VALUES($1,$2,$3)
		RETURNING id, user_id, group_id, content, created_at
	`, userID, groupID, content).Scan(&rec.ID, &rec.UserID, &rec.GroupID, &rec.Content, &rec.Timestamp)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return MessageRecord{}, fmt.Errorf("%w: %d", ErrUnknownGroup, groupID)
		}
		return MessageRecord{}, fmt.Errorf("append message: %w", err)
	}
	return rec, nil
}

const messageViewSelect = `
	SELECT m.id, COALESCE(u.username, '` + AnonymousName + `'), m.group_id, m.content, m.created_at
	FROM messages m
	LEFT JOIN users u ON u.id = m.user_id
`

func (s *PGStore) ListByGroup(ctx context.Context, groupID int64, limit int) ([]MessageView, error) {
	rows, err := s.db.Query(ctx, messageViewSelect+`
		WHERE m.group_id=$1
		ORDER BY m.created_at ASC, m.id ASC
		LIMIT $2
	`, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	items := []MessageView{}
	for rows.Next() {
		var m MessageView
		if err := rows.Scan(&m.ID, &m.User, &m.GroupID, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// Get returns pgx.ErrNoRows for an unknown id.
func (s *PGStore) Get(ctx context.Context, id int64) (MessageView, error) {
	var m MessageView
	err := s.db.QueryRow(ctx, messageViewSelect+` WHERE m.id=$1`, id).
		Scan(&m.ID, &m.User, &m.GroupID, &m.Content, &m.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return MessageView{}, err
	}
	if err != nil {
		return MessageView{}, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}
