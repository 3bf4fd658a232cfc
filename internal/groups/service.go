package groups

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"

	"studysprint/internal/auth"
	"studysprint/internal/web"
)

const DateLayout = "2006-01-02"

// Group is a study group as exposed over the API.
type Group struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Subject     string    `json:"subject"`
	Description string    `json:"description"`
	Goal        string    `json:"goal"`
	ExamDate    string    `json:"exam_date"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   int64     `json:"created_by"`
}

type groupInput struct {
	Name        string `json:"name" validate:"required,max=100"`
	Subject     string `json:"subject" validate:"required,max=100"`
	Description string `json:"description"`
	Goal        string `json:"goal" validate:"required,max=200"`
	ExamDate    string `json:"exam_date" validate:"required,datetime=2006-01-02"`
}

// groupPatch carries the fields of a PUT/PATCH body; absent fields keep
// their current value.
type groupPatch struct {
	Name        *string `json:"name"`
	Subject     *string `json:"subject"`
	Description *string `json:"description"`
	Goal        *string `json:"goal"`
	ExamDate    *string `json:"exam_date"`
}

func (p groupPatch) apply(g Group) groupInput {
	return groupInput{
		Name:        lo.FromPtrOr(p.Name, g.Name),
		Subject:     lo.FromPtrOr(p.Subject, g.Subject),
		Description: lo.FromPtrOr(p.Description, g.Description),
		Goal:        lo.FromPtrOr(p.Goal, g.Goal),
		ExamDate:    lo.FromPtrOr(p.ExamDate, g.ExamDate),
	}
}

type Service struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewService(db *pgxpool.Pool, log *slog.Logger) *Service {
	return &Service{db: db, log: log}
}

const groupSelect = `SELECT id, name, subject, description, goal, exam_date, created_at, created_by FROM study_groups`

func scanGroup(row pgx.Row) (Group, error) {
	var g Group
	var exam time.Time
	if err := row.Scan(&g.ID, &g.Name, &g.Subject, &g.Description, &g.Goal, &exam, &g.CreatedAt, &g.CreatedBy); err != nil {
		return Group{}, err
	}
	g.ExamDate = exam.Format(DateLayout)
	return g, nil
}

// Filter narrows a group listing. Subject and Goal match case-insensitive
// substrings; ExamDate matches exactly.
type Filter struct {
	Subject  string
	Goal     string
	ExamDate string
}

func filterFromQuery(r *http.Request) (Filter, error) {
	f := Filter{
		Subject:  strings.TrimSpace(r.URL.Query().Get("subject")),
		Goal:     strings.TrimSpace(r.URL.Query().Get("goal")),
		ExamDate: strings.TrimSpace(r.URL.Query().Get("exam_date")),
	}
	if f.ExamDate != "" {
		if _, err := time.Parse(DateLayout, f.ExamDate); err != nil {
			return Filter{}, errors.New("exam_date must be YYYY-MM-DD")
		}
	}
	return f, nil
}

// where renders the filter as a SQL condition with positional args.
func (f Filter) where() (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "$?", "$"+strconv.Itoa(len(args))))
	}
	if f.Subject != "" {
		add(`subject ILIKE $? ESCAPE '\'`, containsPattern(f.Subject))
	}
	if f.Goal != "" {
		add(`goal ILIKE $? ESCAPE '\'`, containsPattern(f.Goal))
	}
	if f.ExamDate != "" {
		add(`exam_date = $?::date`, f.ExamDate)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func containsPattern(s string) string {
	esc := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
	return "%" + esc + "%"
}

func (s *Service) List(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		web.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	where, args := f.where()
	rows, err := s.db.Query(r.Context(), groupSelect+where+` ORDER BY exam_date ASC, id ASC`, args...)
	if err != nil {
		s.log.Error("list groups", "err", err)
		web.Error(w, http.StatusInternalServerError, "list failed")
		return
	}
	items, err := collectGroups(rows)
	if err != nil {
		s.log.Error("scan groups", "err", err)
		web.Error(w, http.StatusInternalServerError, "list failed")
		return
	}
	web.JSON(w, http.StatusOK, items)
}

// collectGroups drains rows and reports a scan or stream error.
func collectGroups(rows pgx.Rows) ([]Group, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Group, error) {
		return scanGroup(row)
	})
}

// Load returns the group or pgx.ErrNoRows.
func (s *Service) Load(ctx context.Context, id int64) (Group, error) {
	return scanGroup(s.db.QueryRow(ctx, groupSelect+` WHERE id=$1`, id))
}

func (s *Service) Get(w http.ResponseWriter, r *http.Request) {
	id, err := web.ParamInt64(r, "id")
	if err != nil {
		web.Error(w, http.StatusBadRequest, "bad id")
		return
	}
	g, err := s.Load(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		web.Error(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		web.Error(w, http.StatusInternalServerError, "get failed")
		return
	}
	web.JSON(w, http.StatusOK, g)
}

// Create stores the group and makes its creator the first member.
func (s *Service) Create(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserID(r)
	var in groupInput
	if err := web.DecodeJSON(r, &in); err != nil {
		web.Error(w, http.StatusBadRequest, "bad input")
		return
	}
	if err := web.Validate(in); err != nil {
		web.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	tx, err := s.db.Begin(ctx)
	if err != nil {
		web.Error(w, http.StatusInternalServerError, "create failed")
		return
	}
	defer tx.Rollback(ctx)

	g, err := scanGroup(tx.QueryRow(ctx, `
		INSERT INTO study_groups(name, subject, description, goal, exam_date, created_by)
		VALUES($1,$2,$3,$4,$5::date,$6)
		RETURNING id, name, subject, description, goal, exam_date, created_at, created_by
	`, in.Name, in.Subject, in.Description, in.Goal, in.ExamDate, uid))
	if err != nil {
		s.log.Error("create group", "err", err)
		web.Error(w, http.StatusInternalServerError, "create failed")
		return
	}
	if _, err := tx.Exec(ctx, `INSERT INTO memberships(user_id, group_id) VALUES($1,$2) ON CONFLICT DO NOTHING`, uid, g.ID); err != nil {
		s.log.Error("creator membership", "group", g.ID, "err", err)
		web.Error(w, http.StatusInternalServerError, "create failed")
		return
	}
	if err := tx.Commit(ctx); err != nil {
		web.Error(w, http.StatusInternalServerError, "create failed")
		return
	}
	web.JSON(w, http.StatusCreated, g)
}

// Update serves PUT and PATCH; only the creator may change a group.
func (s *Service) Update(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserID(r)
	id, err := web.ParamInt64(r, "id")
	if err != nil {
		web.Error(w, http.StatusBadRequest, "bad id")
		return
	}
	var patch groupPatch
	if err := web.DecodeJSON(r, &patch); err != nil {
		web.Error(w, http.StatusBadRequest, "bad input")
		return
	}
	cur, err := s.Load(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		web.Error(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		web.Error(w, http.StatusInternalServerError, "update failed")
		return
	}
	if cur.CreatedBy != uid {
		web.Error(w, http.StatusForbidden, "only the creator can change this group")
		return
	}
	in := patch.apply(cur)
	if err := web.Validate(in); err != nil {
		web.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	g, err := scanGroup(s.db.QueryRow(r.Context(), `
		UPDATE study_groups SET name=$2, subject=$3, description=$4, goal=$5, exam_date=$6::date
		WHERE id=$1
		RETURNING id, name, subject, description, goal, exam_date, created_at, created_by
	`, id, in.Name, in.Subject, in.Description, in.Goal, in.ExamDate))
	if err != nil {
		s.log.Error("update group", "group", id, "err", err)
		web.Error(w, http.StatusInternalServerError, "update failed")
		return
	}
	web.JSON(w, http.StatusOK, g)
}

func (s *Service) Delete(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserID(r)
	id, err := web.ParamInt64(r, "id")
	if err != nil {
		web.Error(w, http.StatusBadRequest, "bad id")
		return
	}
	var owner int64
	if err := s.db.QueryRow(r.Context(), `SELECT created_by FROM study_groups WHERE id=$1`, id).Scan(&owner); err != nil {
		web.Error(w, http.StatusNotFound, "not found")
		return
	}
	if owner != uid {
		web.Error(w, http.StatusForbidden, "only the creator can delete this group")
		return
	}
	if _, err := s.db.Exec(r.Context(), `DELETE FROM study_groups WHERE id=$1`, id); err != nil {
		web.Error(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
