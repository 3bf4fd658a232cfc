package chat

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"

	"github.com/gorilla/websocket"

	"studysprint/internal/web"
)

// IdentityResolver resolves the optional user behind a handshake request.
// It returns (nil, nil) for anonymous requests and an error for a
// credential that is present but invalid.
type IdentityResolver interface {
	ResolveIdentity(r *http.Request) (*Identity, error)
}

type IdentityFunc func(r *http.Request) (*Identity, error)

func (f IdentityFunc) ResolveIdentity(r *http.Request) (*Identity, error) { return f(r) }

type HandlerConfig struct {
	Conn           ConnConfig
	Session        SessionConfig
	AllowedOrigins []string
}

// Handler upgrades /ws/chat/{groupID}/ requests and runs one Session per
// connection. Sessions live until their connection ends or ctx is done.
type Handler struct {
	ctx        context.Context
	deps       Deps
	identities IdentityResolver
	cfg        HandlerConfig
	upgrader   websocket.Upgrader

	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

func NewHandler(ctx context.Context, deps Deps, identities IdentityResolver, cfg HandlerConfig) *Handler {
	h := &Handler{ctx: ctx, deps: deps, identities: identities, cfg: cfg}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, "*") || slices.Contains(h.cfg.AllowedOrigins, origin)
}

func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	groupID, err := web.ParamInt64(r, "groupID")
	if err != nil || groupID < 0 {
		web.Error(w, http.StatusBadRequest, "bad group id")
		return
	}
	identity, err := h.identities.ResolveIdentity(r)
	if err != nil {
		web.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.track() {
		web.Error(w, http.StatusServiceUnavailable, "chat unavailable")
		return
	}
	defer h.wg.Done()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.deps.Log.Warn("chat upgrade failed", "err", err)
		return
	}
	conn := newWSConn(ws, h.cfg.Conn)

	sess := NewSession(groupID, identity, conn, h.deps, h.cfg.Session)
	if err := sess.Run(h.ctx); err != nil {
		h.deps.Log.Warn("chat connect rejected", "room", sess.RoomKey(), "err", err)
		code := websocket.CloseInternalServerErr
		if errors.Is(err, ErrRegistryClosed) {
			code = websocket.CloseTryAgainLater
		}
		_ = conn.CloseWith(code, "chat unavailable")
	}
}

// track counts a connection about to be upgraded. It fails once Wait has
// started or the registry is closed.
func (h *Handler) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining || h.deps.Registry.Closed() {
		return false
	}
	h.wg.Add(1)
	return true
}

// Wait refuses new connections and blocks until every session served by h
// has finished.
func (h *Handler) Wait() {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()
	h.wg.Wait()
}

var _ IdentityResolver = IdentityFunc(nil)
