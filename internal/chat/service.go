package chat

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5"

	"studysprint/internal/auth"
	"studysprint/internal/web"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Service exposes persisted chat messages over REST. Messages posted here
// are fanned out to live sessions like those sent over a socket.
type Service struct {
	store  MessageHistory
	router Router
	log    *slog.Logger
}

func NewService(store MessageHistory, router Router, log *slog.Logger) *Service {
	return &Service{store: store, router: router, log: log}
}

// List returns a group's history oldest first; without ?group= it is empty.
func (s *Service) List(w http.ResponseWriter, r *http.Request) {
	groupID, ok, err := web.QueryInt64(r, "group")
	if err != nil {
		web.Error(w, http.StatusBadRequest, "bad group")
		return
	}
	if !ok {
		web.JSON(w, http.StatusOK, []MessageView{})
		return
	}
	limit := web.QueryInt(r, "limit", defaultHistoryLimit)
	if limit <= 0 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	items, err := s.store.ListByGroup(r.Context(), groupID, limit)
	if err != nil {
		s.log.Error("list messages", "group", groupID, "err", err)
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
	m, err := s.store.Get(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		web.Error(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		s.log.Error("get message", "id", id, "err", err)
		web.Error(w, http.StatusInternalServerError, "get failed")
		return
	}
	web.JSON(w, http.StatusOK, m)
}

type postInput struct {
	Group   int64  `json:"group" validate:"required"`
	Content string `json:"content" validate:"required,max=10000"`
}

func (s *Service) Post(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r)
	if !ok {
		web.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var in postInput
	if err := web.DecodeJSON(r, &in); err != nil {
		web.Error(w, http.StatusBadRequest, "bad input")
		return
	}
	if err := web.Validate(in); err != nil {
		web.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	identity := &Identity{UserID: p.UserID, Username: p.Username}
	rec, err := s.store.Append(r.Context(), identity.userRef(), in.Group, in.Content)
	if errors.Is(err, ErrUnknownGroup) {
		web.Error(w, http.StatusBadRequest, "unknown group")
		return
	}
	if err != nil {
		s.log.Error("post message", "group", in.Group, "err", err)
		web.Error(w, http.StatusInternalServerError, "post failed")
		return
	}
	s.router.Publish(r.Context(), ChatMessageEvent{
		RoomKey: RoomKeyFor(rec.GroupID),
		User:    identity.DisplayName(),
		Message: rec.Content,
	})
	web.JSON(w, http.StatusCreated, MessageView{
		ID:        rec.ID,
		User:      identity.DisplayName(),
		GroupID:   rec.GroupID,
		Content:   rec.Content,
		Timestamp: rec.Timestamp,
	})
}
