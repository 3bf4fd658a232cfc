package users

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"studysprint/internal/web"
)

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type Service struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewService(db *pgxpool.Pool, log *slog.Logger) *Service {
	return &Service{db: db, log: log}
}

func (s *Service) List(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.Query(r.Context(), `SELECT id, username, email FROM users ORDER BY id ASC`)
	if err != nil {
		s.log.Error("list users", "err", err)
		web.Error(w, http.StatusInternalServerError, "list failed")
		return
	}
	items, err := pgx.CollectRows(rows, pgx.RowToStructByPos[User])
	if err != nil {
		s.log.Error("scan users", "err", err)
		web.Error(w, http.StatusInternalServerError, "list failed")
		return
	}
	web.JSON(w, http.StatusOK, items)
}

func (s *Service) Get(w http.ResponseWriter, r *http.Request) {
	id, err := web.ParamInt64(r, "id")
	if err != nil {
		web.Error(w, http.StatusBadRequest, "bad id")
		return
	}
	var u User
	err = s.db.QueryRow(r.Context(), `SELECT id, username, email FROM users WHERE id=$1`, id).Scan(&u.ID, &u.Username, &u.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		web.Error(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		web.Error(w, http.StatusInternalServerError, "get failed")
		return
	}
	web.JSON(w, http.StatusOK, u)
}
