package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"studysprint/internal/auth"
	"studysprint/internal/chat"
	"studysprint/internal/config"
	"studysprint/internal/web"
)

const welcome = "Welcome to the StudySprint API."

type Deps struct {
	Config  config.Config
	Pool    *pgxpool.Pool
	Tokens  *auth.Tokens
	Chat    chat.Deps
	History chat.MessageHistory
	Log     *slog.Logger
}

// Server is the HTTP surface. Chat sessions it accepts live until ctx
// passed to New is cancelled.
type Server struct {
	handler http.Handler
	chat    *chat.Handler
	limiter *web.RateLimiter
}

func New(ctx context.Context, d Deps) *Server {
	cfg := d.Config
	authSvc := auth.NewService(cfg, d.Pool, d.Tokens, d.Log)
	limiter := web.NewRateLimiter(cfg.TokenRateLimit, time.Minute)
	chatHandler := chat.NewHandler(ctx, d.Chat, chatIdentities(authSvc), chat.HandlerConfig{
		Conn: chat.ConnConfig{
			PongWait:        cfg.Chat.PongWait,
			WriteWait:       cfg.Chat.WriteWait,
			MaxMessageBytes: cfg.Chat.MaxMessageBytes,
		},
		Session: chat.SessionConfig{
			IdleTimeout: cfg.Chat.IdleTimeout,
			SendBuffer:  cfg.Chat.SendBuffer,
		},
		AllowedOrigins: cfg.AllowedOrigins,
	})

	r := chi.NewRouter()
	r.Use(middleware.StripSlashes)
	r.Use(web.RequestID)
	r.Use(web.Logger(d.Log))
	r.Use(web.Recoverer(d.Log))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           int((24 * time.Hour).Seconds()),
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(welcome))
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		web.JSON(w, http.StatusOK, map[string]any{"status": "ok", "chat": d.Chat.Registry.Stats()})
	})
	r.Get("/ws/chat/{groupID}", chatHandler.ServeWS)

	r.Mount("/api", newAPI(d, authSvc, limiter))

	return &Server{handler: r, chat: chatHandler, limiter: limiter}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Wait blocks until every chat session has ended and stops background
// work. Call it after cancelling the context given to New.
func (s *Server) Wait() {
	s.chat.Wait()
	s.limiter.Stop()
}

// chatIdentities resolves the optional WebSocket identity from an access
// token.
func chatIdentities(a *auth.Service) chat.IdentityFunc {
	return func(r *http.Request) (*chat.Identity, error) {
		p, err := a.Authenticate(r)
		if err != nil || p == nil {
			return nil, err
		}
		return &chat.Identity{UserID: p.UserID, Username: p.Username}, nil
	}
}
