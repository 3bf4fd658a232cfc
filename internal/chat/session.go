package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Conn is the transport a Session owns. ReadFrame blocks until a frame
// arrives or the connection fails; Close must unblock it.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame([]byte) error
	Close() error
}

type Deps struct {
	Registry *Registry
	Router   Router
	Store    MessageStore
	Log      *slog.Logger
}

type SessionConfig struct {
	// IdleTimeout disconnects a session that received no frame for this
	// long. Zero disables it.
	IdleTimeout time.Duration
	SendBuffer  int
}

// Session drives one connection: Connecting -> Open -> Closed.
type Session struct {
	id       string
	groupID  int64
	room     RoomKey
	identity *Identity
	conn     Conn
	deps     Deps
	cfg      SessionConfig
	log      *slog.Logger

	mu    sync.Mutex
	state State

	out       chan []byte
	activity  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewSession(groupID int64, identity *Identity, conn Conn, deps Deps, cfg SessionConfig) *Session {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	id := uuid.NewString()
	room := RoomKeyFor(groupID)
	return &Session{
		id:       id,
		groupID:  groupID,
		room:     room,
		identity: identity,
		conn:     conn,
		deps:     deps,
		cfg:      cfg,
		log:      deps.Log.With("conn", id, "room", room, "user", identity.DisplayName()),
		state:    StateConnecting,
		out:      make(chan []byte, cfg.SendBuffer),
		activity: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (s *Session) ID() string       { return s.id }
func (s *Session) RoomKey() RoomKey { return s.room }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect registers the session under its room and opens it. On failure
// the session is closed and the caller must reject the connection.
func (s *Session) Connect() error {
	if st := s.State(); st != StateConnecting {
		return fmt.Errorf("connect in state %s: %w", st, ErrSessionNotOpen)
	}
	if err := s.deps.Registry.Register(s.room, s.id, s.Deliver); err != nil {
		s.closeOnce.Do(func() {
			s.mu.Lock()
			s.state = StateClosed
			s.mu.Unlock()
			close(s.done)
		})
		return fmt.Errorf("register %s: %w", s.room, err)
	}

	s.mu.Lock()
	opened := s.state == StateConnecting
	if opened {
		s.state = StateOpen
	}
	s.mu.Unlock()
	if !opened {
		// Disconnected while registering.
		s.deps.Registry.Unregister(s.room, s.id)
		return fmt.Errorf("connect: %w", ErrSessionNotOpen)
	}
	s.log.Info("chat connected")
	return nil
}

// Receive handles one inbound frame. Malformed frames and persistence
// failures are answered with an error frame; the session stays open.
func (s *Session) Receive(ctx context.Context, raw []byte) error {
	if st := s.State(); st != StateOpen {
		return fmt.Errorf("receive in state %s: %w", st, ErrSessionNotOpen)
	}
	s.touch()

	text, err := DecodeInbound(raw)
	if err != nil {
		s.sendError("invalid message payload")
		return err
	}

	// Persistence does not depend on the connection staying open.
	storeCtx := context.WithoutCancel(ctx)
	if _, err := s.deps.Store.Append(storeCtx, s.identity.userRef(), s.groupID, text); err != nil {
		s.log.Error("chat message not persisted", "err", err)
		s.sendError("message could not be saved")
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	if s.State() != StateOpen {
		return nil
	}
	s.deps.Router.Publish(storeCtx, ChatMessageEvent{
		RoomKey: s.room,
		User:    s.identity.DisplayName(),
		Message: text,
	})
	return nil
}

// Deliver queues ev for this connection. It is a no-op unless the session
// is open and fails only when the send buffer is full.
func (s *Session) Deliver(ev ChatMessageEvent) error {
	if s.State() != StateOpen {
		return nil
	}
	b, err := EncodeOutbound(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.enqueue(b)
}

func (s *Session) enqueue(b []byte) error {
	select {
	case <-s.done:
		return nil
	default:
	}
	select {
	case s.out <- b:
		return nil
	case <-s.done:
		return nil
	default:
		// A reader this far behind cannot catch up; close it so the
		// client reconnects.
		go s.disconnect("send buffer full", websocket.CloseTryAgainLater)
		return ErrSendBufferFull
	}
}

func (s *Session) sendError(msg string) {
	if err := s.enqueue(encodeError(msg)); err != nil {
		s.log.Warn("chat error frame dropped", "err", err)
	}
}

// Disconnect unregisters the session and closes its connection. Only the
// first call has an effect.
func (s *Session) Disconnect(reason string) {
	s.disconnect(reason, websocket.CloseNormalClosure)
}

// codeCloser is implemented by connections that can send a close code.
type codeCloser interface {
	CloseWith(code int, reason string) error
}

func (s *Session) disconnect(reason string, code int) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		s.deps.Registry.Unregister(s.room, s.id)
		close(s.done)
		if cc, ok := s.conn.(codeCloser); ok {
			_ = cc.CloseWith(code, reason)
		} else {
			_ = s.conn.Close()
		}
		s.log.Info("chat disconnected", "reason", reason)
	})
}

// Done is closed once the session reaches Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run connects, pumps frames until the connection ends or ctx is
// cancelled, and always leaves the session Closed.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Connect(); err != nil {
		return err
	}
	go s.writeLoop()
	go s.watch(ctx)

	for {
		raw, err := s.conn.ReadFrame()
		if err != nil {
			s.Disconnect("connection closed")
			return nil
		}
		if err := s.Receive(ctx, raw); err != nil {
			s.log.Debug("chat frame rejected", "err", err)
		}
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case b := <-s.out:
			if err := s.conn.WriteFrame(b); err != nil {
				s.Disconnect("write failed")
				return
			}
		}
	}
}

func (s *Session) touch() {
	select {
	case s.activity <- struct{}{}:
	default:
	}
}

func (s *Session) watch(ctx context.Context) {
	var idle <-chan time.Time
	var timer *time.Timer
	if s.cfg.IdleTimeout > 0 {
		timer = time.NewTimer(s.cfg.IdleTimeout)
		defer timer.Stop()
		idle = timer.C
	}
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			s.Disconnect("server shutdown")
			return
		case <-s.activity:
			if timer != nil {
				timer.Reset(s.cfg.IdleTimeout)
			}
		case <-idle:
			s.Disconnect("idle timeout")
			return
		}
	}
}
