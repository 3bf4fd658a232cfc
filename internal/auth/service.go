package auth

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"studysprint/internal/config"
	"studysprint/internal/web"
)

const pgUniqueViolation = "23505"

type Service struct {
	cfg    config.Config
	db     *pgxpool.Pool
	tokens *Tokens
	oauth  *oauth2.Config
	oidcV  *oidc.IDTokenVerifier
	log    *slog.Logger
}

func NewService(cfg config.Config, db *pgxpool.Pool, tokens *Tokens, log *slog.Logger) *Service {
	s := &Service{cfg: cfg, db: db, tokens: tokens, log: log}
	s.oauth = &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		Endpoint:     google.Endpoint,
	}
	if cfg.GoogleClientID != "" {
		if provider, err := oidc.NewProvider(context.Background(), "https://accounts.google.com"); err == nil {
			s.oidcV = provider.Verifier(&oidc.Config{ClientID: cfg.GoogleClientID})
		} else {
			log.Warn("google oidc provider unavailable", "err", err)
		}
	}
	return s
}

type registerInput struct {
	Username  string `json:"username" validate:"required,min=3,max=150"`
	Email     string `json:"email" validate:"omitempty,email"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	FirstName string `json:"firstName" validate:"max=150"`
	LastName  string `json:"lastName" validate:"max=150"`
}

func (s *Service) Register(w http.ResponseWriter, r *http.Request) {
	var in registerInput
	if err := web.DecodeJSON(r, &in); err != nil {
		web.Error(w, http.StatusBadRequest, "bad input")
		return
	}
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := web.Validate(in); err != nil {
		web.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		web.Error(w, http.StatusInternalServerError, "hash password")
		return
	}
	var id int64
	err = s.db.QueryRow(r.Context(), `
		INSERT INTO users(username, email, password_hash, first_name, last_name)
		VALUES($1,$2,$3,$4,$5)
		RETURNING id
	`, in.Username, in.Email, string(hash), in.FirstName, in.LastName).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			web.Error(w, http.StatusConflict, "username already taken")
			return
		}
		s.log.Error("register user", "err", err)
		web.Error(w, http.StatusInternalServerError, "register failed")
		return
	}
	pair, err := s.tokens.Pair(id, in.Username)
	if err != nil {
		web.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	web.JSON(w, http.StatusCreated, map[string]any{
		"access":  pair.Access,
		"refresh": pair.Refresh,
		"user":    map[string]any{"id": id, "username": in.Username, "email": in.Email},
	})
}

// Obtain exchanges username/password for an access/refresh pair.
func (s *Service) Obtain(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := web.DecodeJSON(r, &in); err != nil {
		web.Error(w, http.StatusBadRequest, "bad input")
		return
	}
	var id int64
	var hash sql.NullString
	err := s.db.QueryRow(r.Context(), `SELECT id, password_hash FROM users WHERE username=$1`, strings.TrimSpace(in.Username)).Scan(&id, &hash)
	if err != nil || !hash.Valid {
		web.Error(w, http.StatusUnauthorized, "no active account found with the given credentials")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(hash.String), []byte(in.Password)) != nil {
		web.Error(w, http.StatusUnauthorized, "no active account found with the given credentials")
		return
	}
	pair, err := s.tokens.Pair(id, strings.TrimSpace(in.Username))
	if err != nil {
		web.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	web.JSON(w, http.StatusOK, pair)
}

// Refresh issues a new access token for a valid refresh token of a user
// that still exists.
func (s *Service) Refresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Refresh string `json:"refresh"`
	}
	if err := web.DecodeJSON(r, &in); err != nil || in.Refresh == "" {
		web.Error(w, http.StatusBadRequest, "refresh is required")
		return
	}
	claims, err := s.tokens.Verify(in.Refresh, TypeRefresh)
	if err != nil {
		web.Error(w, http.StatusUnauthorized, "token is invalid or expired")
		return
	}
	uid, _ := claims.UserID()
	var username string
	if err := s.db.QueryRow(r.Context(), `SELECT username FROM users WHERE id=$1`, uid).Scan(&username); err != nil {
		web.Error(w, http.StatusUnauthorized, "token is invalid or expired")
		return
	}
	access, err := s.tokens.Access(uid, username)
	if err != nil {
		web.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	web.JSON(w, http.StatusOK, map[string]string{"access": access})
}

func (s *Service) Me(w http.ResponseWriter, r *http.Request) {
	uid := UserID(r)
	var username, email string
	var first, last sql.NullString
	if err := s.db.QueryRow(r.Context(), `SELECT username, email, first_name, last_name FROM users WHERE id=$1`, uid).Scan(&username, &email, &first, &last); err != nil {
		web.Error(w, http.StatusNotFound, "not found")
		return
	}
	web.JSON(w, http.StatusOK, map[string]any{
		"id": uid, "username": username, "email": email, "firstName": first.String, "lastName": last.String,
	})
}

func bearerToken(r *http.Request) string {
	scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

// Authenticate resolves the caller from an access token in the
// Authorization header or, for browser WebSocket clients, the token query
// parameter. No token yields (nil, nil).
func (s *Service) Authenticate(r *http.Request) (*Principal, error) {
	raw := bearerToken(r)
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if raw == "" {
		return nil, nil
	}
	claims, err := s.tokens.Verify(raw, TypeAccess)
	if err != nil {
		return nil, err
	}
	uid, _ := claims.UserID()
	return &Principal{UserID: uid, Username: claims.Username}, nil
}

func (s *Service) JWTMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			web.Error(w, http.StatusUnauthorized, "missing token")
			return
		}
		claims, err := s.tokens.Verify(raw, TypeAccess)
		if err != nil {
			web.Error(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		uid, _ := claims.UserID()
		ctx := WithPrincipal(r.Context(), Principal{UserID: uid, Username: claims.Username})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Service) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	url := s.oauth.AuthCodeURL("state-studysprint", oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	http.Redirect(w, r, url, http.StatusFound)
}

func (s *Service) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" || s.oidcV == nil {
		web.Error(w, http.StatusBadRequest, "not configured")
		return
	}
	ctx := r.Context()
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		web.Error(w, http.StatusBadRequest, "oauth exchange: "+err.Error())
		return
	}
	rawID, _ := tok.Extra("id_token").(string)
	if rawID == "" {
		web.Error(w, http.StatusBadRequest, "no id_token")
		return
	}
	idTok, err := s.oidcV.Verify(ctx, rawID)
	if err != nil {
		web.Error(w, http.StatusBadRequest, "verify id_token: "+err.Error())
		return
	}
	var claims struct {
		Sub     string `json:"sub"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := idTok.Claims(&claims); err != nil {
		web.Error(w, http.StatusBadRequest, "claims: "+err.Error())
		return
	}
	uid, username, err := s.upsertUserGoogle(ctx, claims.Sub, strings.ToLower(claims.Email), claims.Name, claims.Picture)
	if err != nil {
		s.log.Error("google upsert", "err", err)
		web.Error(w, http.StatusInternalServerError, "upsert failed")
		return
	}
	pair, err := s.tokens.Pair(uid, username)
	if err != nil {
		web.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	web.JSON(w, http.StatusOK, map[string]any{
		"access": pair.Access, "refresh": pair.Refresh,
		"user": map[string]any{"id": uid, "username": username, "email": claims.Email},
	})
}

// upsertUserGoogle links a Google subject to a user, creating the user
// (username = email) on first login.
func (s *Service) upsertUserGoogle(ctx context.Context, sub, email, name, avatar string) (int64, string, error) {
	var uid int64
	var username string
	err := s.db.QueryRow(ctx, `
		SELECT u.id, u.username FROM user_providers p JOIN users u ON u.id = p.user_id
		WHERE p.provider='google' AND p.subject=$1
	`, sub).Scan(&uid, &username)
	if err == nil {
		return uid, username, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return 0, "", err
	}
	if err := s.db.QueryRow(ctx, `SELECT id, username FROM users WHERE email=$1`, email).Scan(&uid, &username); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, "", err
		}
		first, last := splitName(name)
		username = email
		if err := s.db.QueryRow(ctx, `
			INSERT INTO users(username, email, first_name, last_name, avatar_url)
			VALUES($1,$2,$3,$4,$5) RETURNING id
		`, username, email, first, last, nullIfEmpty(avatar)).Scan(&uid); err != nil {
			return 0, "", err
		}
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO user_providers(user_id, provider, subject, email)
		VALUES($1,'google',$2,$3)
		ON CONFLICT (provider, subject) DO NOTHING
	`, uid, sub, email)
	return uid, username, err
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
