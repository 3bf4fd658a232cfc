package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// RunDevSeed creates two demo users sharing one study group with a short
// chat history and a couple of tasks. Re-running it is harmless.
func RunDevSeed(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	type U struct{ Username, Email, First, Last string }
	users := []U{
		{"alice", "alice@example.com", "Alice", "Demo"},
		{"bob", "bob@example.com", "Bob", "Demo"},
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash seed password: %w", err)
	}
	ids := make(map[string]int64)
	for _, u := range users {
		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO users(username, email, password_hash, first_name, last_name)
			VALUES($1,$2,$3,$4,$5)
			ON CONFLICT (username) DO UPDATE SET first_name=EXCLUDED.first_name
			RETURNING id
		`, u.Username, u.Email, string(hash), u.First, u.Last).Scan(&id)
		if err != nil {
			return fmt.Errorf("seed user %s: %w", u.Username, err)
		}
		ids[u.Username] = id
	}

	var groupID int64
	err = tx.QueryRow(ctx, `SELECT id FROM study_groups WHERE name='Calculus Sprint' AND created_by=$1`, ids["alice"]).Scan(&groupID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("find seed group: %w", err)
	}
	if err != nil {
		if err := tx.QueryRow(ctx, `
			INSERT INTO study_groups(name, subject, description, goal, exam_date, created_by)
			VALUES('Calculus Sprint','Mathematics','Weekly limits and derivatives drills','Pass Calculus I', (now() + interval '30 days')::date, $1)
			RETURNING id
		`, ids["alice"]).Scan(&groupID); err != nil {
			return fmt.Errorf("seed group: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO messages(user_id, group_id, content) VALUES($1,$3,'Welcome to the sprint!'), ($2,$3,'Glad to be here.')
		`, ids["alice"], ids["bob"], groupID); err != nil {
			return fmt.Errorf("seed messages: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO tasks(user_id, group_id, title, due_date)
			VALUES($1,$3,'Review limits', (now() + interval '7 days')::date), ($2,$3,'Derivative worksheet', NULL)
		`, ids["alice"], ids["bob"], groupID); err != nil {
			return fmt.Errorf("seed tasks: %w", err)
		}
	}
	for _, uid := range ids {
		if _, err := tx.Exec(ctx, `INSERT INTO memberships(user_id, group_id) VALUES($1,$2) ON CONFLICT DO NOTHING`, uid, groupID); err != nil {
			return fmt.Errorf("seed membership: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	log.Info("dev seed applied", "group", groupID, "users", len(ids))
	return nil
}
