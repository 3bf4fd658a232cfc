package groups

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestFilterWhere(t *testing.T) {
	req := require.New(t)

	where, args := Filter{}.where()
	req.Empty(where)
	req.Nil(args)

	where, args = Filter{Subject: "Math", Goal: "50%_off", ExamDate: "2026-06-01"}.where()
	req.Equal(` WHERE subject ILIKE $1 ESCAPE '\' AND goal ILIKE $2 ESCAPE '\' AND exam_date = $3::date`, where)
	req.Equal([]any{"%Math%", `%50\%\_off%`, "2026-06-01"}, args)

	where, args = Filter{ExamDate: "2026-06-01"}.where()
	req.Equal(` WHERE exam_date = $1::date`, where)
	req.Len(args, 1)
}

func TestFilterFromQuery(t *testing.T) {
	req := require.New(t)
	f, err := filterFromQuery(httptest.NewRequest(http.MethodGet, "/api/groups/?subject=+bio+&exam_date=2026-01-31", nil))
	req.NoError(err)
	req.Equal(Filter{Subject: "bio", ExamDate: "2026-01-31"}, f)

	_, err = filterFromQuery(httptest.NewRequest(http.MethodGet, "/api/groups/?exam_date=31.01.2026", nil))
	req.Error(err)
}

func TestGroupPatchApply(t *testing.T) {
	req := require.New(t)
	cur := Group{ID: 1, Name: "Old", Subject: "Math", Goal: "Pass", ExamDate: "2026-06-01", Description: "d"}
	name := "New"
	in := groupPatch{Name: &name}.apply(cur)
	req.Equal(groupInput{Name: "New", Subject: "Math", Goal: "Pass", ExamDate: "2026-06-01", Description: "d"}, in)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	s := &Service{}
	cases := map[string]string{
		"not json":      `{`,
		"missing goal":  `{"name":"G","subject":"S","exam_date":"2026-06-01"}`,
		"bad date":      `{"name":"G","subject":"S","goal":"x","exam_date":"June 1"}`,
		"long subject":  `{"name":"G","subject":"` + strings.Repeat("s", 101) + `","goal":"x","exam_date":"2026-06-01"}`,
		"unknown field": `{"name":"G","subject":"S","goal":"x","exam_date":"2026-06-01","created_by":9}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Create(rec, httptest.NewRequest(http.MethodPost, "/api/groups/", strings.NewReader(body)))
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

// brokenRows yields no rows and then reports a stream error.
type brokenRows struct {
	err    error
	closed bool
}

func (r *brokenRows) Close()                                       { r.closed = true }
func (r *brokenRows) Err() error                                   { return r.err }
func (r *brokenRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *brokenRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *brokenRows) Next() bool                                   { return false }
func (r *brokenRows) Scan(...any) error                            { return nil }
func (r *brokenRows) Values() ([]any, error)                       { return nil, nil }
func (r *brokenRows) RawValues() [][]byte                          { return nil }
func (r *brokenRows) Conn() *pgx.Conn                              { return nil }

func TestCollectGroups_ReportsStreamError(t *testing.T) {
	req := require.New(t)
	reset := errors.New("connection reset")
	rows := &brokenRows{err: reset}

	items, err := collectGroups(rows)
	req.ErrorIs(err, reset)
	req.Nil(items)
	req.True(rows.closed)

	items, err = collectGroups(&brokenRows{})
	req.NoError(err)
	req.NotNil(items)
	req.Empty(items)
}
