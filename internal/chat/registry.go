package chat

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// DeliverFunc hands one event to a live connection. It must not block on
// network I/O.
type DeliverFunc func(ChatMessageEvent) error

type member struct {
	deliver DeliverFunc
}

// Registry tracks live connections per room. Empty rooms are reclaimed.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[RoomKey]map[string]*member
	closed bool
	log    *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		rooms: make(map[RoomKey]map[string]*member),
		log:   log,
	}
}

// Register adds connID to the room, replacing the deliver function of an
// already registered id.
func (r *Registry) Register(key RoomKey, connID string, deliver DeliverFunc) error {
	if deliver == nil {
		return ErrNilDeliver
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	room, ok := r.rooms[key]
	if !ok {
		room = make(map[string]*member)
		r.rooms[key] = room
	}
	room[connID] = &member{deliver: deliver}
	return nil
}

func (r *Registry) Unregister(key RoomKey, connID string) {
	r.mu.Lock()
	r.remove(key, connID, nil)
	r.mu.Unlock()
}

// remove deletes connID; when want is set only that exact registration is
// removed so a re-registered connection survives a stale failure.
func (r *Registry) remove(key RoomKey, connID string, want *member) {
	room, ok := r.rooms[key]
	if !ok {
		return
	}
	if cur, ok := room[connID]; !ok || (want != nil && cur != want) {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, key)
	}
}

// Broadcast delivers ev to every connection in the room. Failed
// connections are logged and unregistered; the caller never sees an error.
func (r *Registry) Broadcast(key RoomKey, ev ChatMessageEvent) {
	r.mu.RLock()
	room := r.rooms[key]
	ids := lo.Keys(room)
	targets := make([]*member, len(ids))
	for i, id := range ids {
		targets[i] = room[id]
	}
	r.mu.RUnlock()

	var failed []int
	for i, m := range targets {
		if err := m.deliver(ev); err != nil {
			r.log.Warn("chat delivery failed", "room", key, "conn", ids[i], "err", err)
			failed = append(failed, i)
		}
	}
	if len(failed) == 0 {
		return
	}
	r.mu.Lock()
	for _, i := range failed {
		r.remove(key, ids[i], targets[i])
	}
	r.mu.Unlock()
}

// Members returns the sorted connection ids registered under key.
func (r *Registry) Members(key RoomKey) []string {
	r.mu.RLock()
	ids := lo.Keys(r.rooms[key])
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

type Stats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := Stats{Rooms: len(r.rooms)}
	for _, room := range r.rooms {
		st.Connections += len(room)
	}
	return st
}

// Close rejects further registrations and drops every room.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.rooms = make(map[RoomKey]map[string]*member)
	r.mu.Unlock()
}

func (r *Registry) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}
