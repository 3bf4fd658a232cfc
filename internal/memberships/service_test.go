package memberships

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"studysprint/internal/groups"
)

func TestCreateRejectsInvalidInput(t *testing.T) {
	s := &Service{}
	for name, body := range map[string]string{
		"empty":      ``,
		"zero group": `{"group":0}`,
		"negative":   `{"group":-4}`,
		"wrong type": `{"group":"one"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Create(rec, httptest.NewRequest(http.MethodPost, "/api/memberships/", strings.NewReader(body)))
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestMembershipJSON(t *testing.T) {
	req := require.New(t)
	joined := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	b, err := json.Marshal(Membership{
		ID: 1, UserID: 2, GroupID: 3, JoinedAt: joined,
		GroupDetails: groups.Group{ID: 3, Name: "Bio", ExamDate: "2026-06-01", CreatedBy: 2},
	})
	req.NoError(err)

	var got map[string]any
	req.NoError(json.Unmarshal(b, &got))
	req.Equal(float64(2), got["user"])
	req.Equal(float64(3), got["group"])
	req.Equal("2026-03-02T10:00:00Z", got["joined_at"])
	details, ok := got["group_details"].(map[string]any)
	req.True(ok)
	req.Equal("Bio", details["name"])
	req.Equal("2026-06-01", details["exam_date"])
}
