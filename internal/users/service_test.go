package users

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestGetRejectsBadID(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/api/users/{id}/", (&Service{}).Get)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/me/", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserJSONOmitsSecrets(t *testing.T) {
	b, err := json.Marshal(User{ID: 1, Username: "alice", Email: "a@example.com"})
	require.NoError(t, err)
	require.JSONEq(t, `{"id":1,"username":"alice","email":"a@example.com"}`, string(b))
}
