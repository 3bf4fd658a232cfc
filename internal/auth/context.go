package auth

import (
	"context"
	"net/http"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID   int64
	Username string
}

type ctxKey int

const ctxKeyPrincipal ctxKey = 1

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

func PrincipalFrom(r *http.Request) (Principal, bool) {
	p, ok := r.Context().Value(ctxKeyPrincipal).(Principal)
	return p, ok
}

// UserID is 0 for unauthenticated requests.
func UserID(r *http.Request) int64 {
	p, _ := PrincipalFrom(r)
	return p.UserID
}
