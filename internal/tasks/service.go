package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"

	"studysprint/internal/auth"
	"studysprint/internal/groups"
	"studysprint/internal/web"
)

const pgForeignKeyViolation = "23503"

type Task struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user"`
	GroupID   int64     `json:"group"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	DueDate   *string   `json:"due_date"`
	CreatedAt time.Time `json:"created_at"`
}

// Due parses DueDate; ok is false for tasks without one.
func (t Task) Due() (time.Time, bool) {
	if t.DueDate == nil {
		return time.Time{}, false
	}
	d, err := time.Parse(groups.DateLayout, *t.DueDate)
	return d, err == nil
}

type taskInput struct {
	Group     int64   `json:"group" validate:"required,gt=0"`
	Title     string  `json:"title" validate:"required,max=200"`
	Completed bool    `json:"completed"`
	DueDate   *string `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
}

type taskPatch struct {
	Group     *int64  `json:"group"`
	Title     *string `json:"title"`
	Completed *bool   `json:"completed"`
	// DueDate distinguishes an explicit null (clear) from an absent field.
	DueDate optionalDate `json:"due_date"`
}

type optionalDate struct {
	Set   bool
	Value *string
}

func (o *optionalDate) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	o.Value = &s
	return nil
}

func (p taskPatch) apply(t Task) taskInput {
	in := taskInput{
		Group:     lo.FromPtrOr(p.Group, t.GroupID),
		Title:     lo.FromPtrOr(p.Title, t.Title),
		Completed: lo.FromPtrOr(p.Completed, t.Completed),
		DueDate:   t.DueDate,
	}
	if p.DueDate.Set {
		in.DueDate = p.DueDate.Value
	}
	return in
}

type Service struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewService(db *pgxpool.Pool, log *slog.Logger) *Service {
	return &Service{db: db, log: log}
}

const taskColumns = `id, user_id, group_id, title, completed, due_date, created_at`

func scanTask(row pgx.Row) (Task, error) {
	var t Task
	var due *time.Time
	if err := row.Scan(&t.ID, &t.UserID, &t.GroupID, &t.Title, &t.Completed, &due, &t.CreatedAt); err != nil {
		return Task{}, err
	}
	if due != nil {
		t.DueDate = lo.ToPtr(due.Format(groups.DateLayout))
	}
	return t, nil
}

func collect(rows pgx.Rows) ([]Task, error) {
	defer rows.Close()
	items := []Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// ByGroup lists a group's tasks, earliest due first.
func (s *Service) ByGroup(ctx context.Context, groupID int64) ([]Task, error) {
	rows, err := s.db.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE group_id=$1 ORDER BY due_date ASC NULLS LAST, id ASC`, groupID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// List returns ?group= tasks, or the caller's own tasks without it.
func (s *Service) List(w http.ResponseWriter, r *http.Request) {
	groupID, ok, err := web.QueryInt64(r, "group")
	if err != nil {
		web.Error(w, http.StatusBadRequest, "bad group")
		return
	}
	var items []Task
	if ok {
		items, err = s.ByGroup(r.Context(), groupID)
	} else {
		var rows pgx.Rows
		rows, err = s.db.Query(r.Context(), `SELECT `+taskColumns+` FROM tasks WHERE user_id=$1 ORDER BY created_at DESC, id DESC`, auth.UserID(r))
		if err == nil {
			items, err = collect(rows)
		}
	}
	if err != nil {
		s.log.Error("list tasks", "err", err)
		web.Error(w, http.StatusInternalServerError, "list failed")
		return
	}
	web.JSON(w, http.StatusOK, items)
}

func (s *Service) Create(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserID(r)
	var in taskInput
	if err := web.DecodeJSON(r, &in); err != nil {
		web.Error(w, http.StatusBadRequest, "bad input")
		return
	}
	if err := web.Validate(in); err != nil {
		web.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := scanTask(s.db.QueryRow(r.Context(), `
		INSERT INTO tasks(user_id, group_id, title, completed, due_date)
		VALUES($1,$2,$3,$4,$5::date)
		RETURNING `+taskColumns, uid, in.Group, in.Title, in.Completed, in.DueDate))
	if err != nil {
		s.writeStoreError(w, "create task", err)
		return
	}
	web.JSON(w, http.StatusCreated, t)
}

func (s *Service) load(ctx context.Context, id int64) (Task, error) {
	return scanTask(s.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, id))
}

func (s *Service) Get(w http.ResponseWriter, r *http.Request) {
	id, err := web.ParamInt64(r, "id")
	if err != nil {
		web.Error(w, http.StatusBadRequest, "bad id")
		return
	}
	t, err := s.load(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		web.Error(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		web.Error(w, http.StatusInternalServerError, "get failed")
		return
	}
	web.JSON(w, http.StatusOK, t)
}

// owned loads the task and checks that the caller created it.
func (s *Service) owned(w http.ResponseWriter, r *http.Request) (Task, bool) {
	id, err := web.ParamInt64(r, "id")
	if err != nil {
		web.Error(w, http.StatusBadRequest, "bad id")
		return Task{}, false
	}
	t, err := s.load(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		web.Error(w, http.StatusNotFound, "not found")
		return Task{}, false
	}
	if err != nil {
		web.Error(w, http.StatusInternalServerError, "load failed")
		return Task{}, false
	}
	if t.UserID != auth.UserID(r) {
		web.Error(w, http.StatusForbidden, "forbidden")
		return Task{}, false
	}
	return t, true
}

// Update serves PUT and PATCH; absent fields keep their value.
func (s *Service) Update(w http.ResponseWriter, r *http.Request) {
	var patch taskPatch
	if err := web.DecodeJSON(r, &patch); err != nil {
		web.Error(w, http.StatusBadRequest, "bad input")
		return
	}
	cur, ok := s.owned(w, r)
	if !ok {
		return
	}
	in := patch.apply(cur)
	if err := web.Validate(in); err != nil {
		web.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := scanTask(s.db.QueryRow(r.Context(), `
		UPDATE tasks SET group_id=$2, title=$3, completed=$4, due_date=$5::date
		WHERE id=$1
		RETURNING `+taskColumns, cur.ID, in.Group, in.Title, in.Completed, in.DueDate))
	if err != nil {
		s.writeStoreError(w, "update task", err)
		return
	}
	web.JSON(w, http.StatusOK, t)
}

func (s *Service) Complete(w http.ResponseWriter, r *http.Request) {
	cur, ok := s.owned(w, r)
	if !ok {
		return
	}
	t, err := scanTask(s.db.QueryRow(r.Context(), `UPDATE tasks SET completed=true WHERE id=$1 RETURNING `+taskColumns, cur.ID))
	if err != nil {
		s.writeStoreError(w, "complete task", err)
		return
	}
	web.JSON(w, http.StatusOK, t)
}

func (s *Service) Delete(w http.ResponseWriter, r *http.Request) {
	cur, ok := s.owned(w, r)
	if !ok {
		return
	}
	if _, err := s.db.Exec(r.Context(), `DELETE FROM tasks WHERE id=$1`, cur.ID); err != nil {
		s.writeStoreError(w, "delete task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) writeStoreError(w http.ResponseWriter, op string, err error) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		web.Error(w, http.StatusBadRequest, "unknown group")
		return
	}
	s.log.Error(op, "err", err)
	web.Error(w, http.StatusInternalServerError, op+" failed")
}
