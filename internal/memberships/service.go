package memberships

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"studysprint/internal/auth"
	"studysprint/internal/groups"
	"studysprint/internal/web"
)

const pgForeignKeyViolation = "23503"

type Membership struct {
	ID           int64        `json:"id"`
	UserID       int64        `json:"user"`
	GroupID      int64        `json:"group"`
	GroupDetails groups.Group `json:"group_details"`
	JoinedAt     time.Time    `json:"joined_at"`
}

type Service struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewService(db *pgxpool.Pool, log *slog.Logger) *Service {
	return &Service{db: db, log: log}
}

const membershipSelect = `
	SELECT m.id, m.user_id, m.group_id, m.joined_at,
	       g.id, g.name, g.subject, g.description, g.goal, g.exam_date, g.created_at, g.created_by
	FROM memberships m
	JOIN study_groups g ON g.id = m.group_id
`

func scanMembership(row pgx.Row) (Membership, error) {
	var m Membership
	var exam time.Time
	g := &m.GroupDetails
	err := row.Scan(&m.ID, &m.UserID, &m.GroupID, &m.JoinedAt,
		&g.ID, &g.Name, &g.Subject, &g.Description, &g.Goal, &exam, &g.CreatedAt, &g.CreatedBy)
	if err != nil {
		return Membership{}, err
	}
	g.ExamDate = exam.Format(groups.DateLayout)
	return m, nil
}

// List returns the caller's memberships only.
func (s *Service) List(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserID(r)
	rows, err := s.db.Query(r.Context(), membershipSelect+` WHERE m.user_id=$1 ORDER BY m.joined_at DESC, m.id DESC`, uid)
	if err != nil {
		s.log.Error("list memberships", "err", err)
		web.Error(w, http.StatusInternalServerError, "list failed")
		return
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Membership, error) {
		return scanMembership(row)
	})
	if err != nil {
		s.log.Error("scan memberships", "err", err)
		web.Error(w, http.StatusInternalServerError, "list failed")
		return
	}
	web.JSON(w, http.StatusOK, items)
}

// Create joins the caller to a group. Joining twice returns the existing
// membership with 200.
func (s *Service) Create(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserID(r)
	var in struct {
		Group int64 `json:"group" validate:"required,gt=0"`
	}
	if err := web.DecodeJSON(r, &in); err != nil {
		web.Error(w, http.StatusBadRequest, "bad input")
		return
	}
	if err := web.Validate(in); err != nil {
		web.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO memberships(user_id, group_id) VALUES($1,$2)
		ON CONFLICT (user_id, group_id) DO NOTHING
		RETURNING id
	`, uid, in.Group).Scan(&id)
	status := http.StatusCreated
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		status = http.StatusOK
		if err := s.db.QueryRow(ctx, `SELECT id FROM memberships WHERE user_id=$1 AND group_id=$2`, uid, in.Group).Scan(&id); err != nil {
			web.Error(w, http.StatusBadRequest, "membership already exists")
			return
		}
	case err != nil:
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			web.Error(w, http.StatusBadRequest, "unknown group")
			return
		}
		s.log.Error("create membership", "group", in.Group, "err", err)
		web.Error(w, http.StatusInternalServerError, "create failed")
		return
	}
	m, err := scanMembership(s.db.QueryRow(ctx, membershipSelect+` WHERE m.id=$1`, id))
	if err != nil {
		web.Error(w, http.StatusInternalServerError, "create failed")
		return
	}
	web.JSON(w, status, m)
}

func (s *Service) Get(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserID(r)
	id, err := web.ParamInt64(r, "id")
	if err != nil {
		web.Error(w, http.StatusBadRequest, "bad id")
		return
	}
	m, err := scanMembership(s.db.QueryRow(r.Context(), membershipSelect+` WHERE m.id=$1 AND m.user_id=$2`, id, uid))
	if errors.Is(err, pgx.ErrNoRows) {
		web.Error(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		web.Error(w, http.StatusInternalServerError, "get failed")
		return
	}
	web.JSON(w, http.StatusOK, m)
}

// Delete leaves a group.
func (s *Service) Delete(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserID(r)
	id, err := web.ParamInt64(r, "id")
	if err != nil {
		web.Error(w, http.StatusBadRequest, "bad id")
		return
	}
	ct, err := s.db.Exec(r.Context(), `DELETE FROM memberships WHERE id=$1 AND user_id=$2`, id, uid)
	if err != nil {
		web.Error(w, http.StatusInternalServerError, "delete failed")
		return
	}
	if ct.RowsAffected() == 0 {
		web.Error(w, http.StatusNotFound, "not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
