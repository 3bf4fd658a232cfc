package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"studysprint/internal/chat"
	"studysprint/internal/chat/mocks"
)

type fakeConn struct {
	in        chan []byte
	out       chan []byte
	closed    chan struct{}
	once      sync.Once
	closeCode int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case b := <-c.in:
		return b, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteFrame(b []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	case c.out <- b:
		return nil
	}
}

func (c *fakeConn) Close() error {
	return c.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith records the close code; read it only after closed is closed.
func (c *fakeConn) CloseWith(code int, _ string) error {
	c.once.Do(func() {
		c.closeCode = code
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) send(t *testing.T, frame string) {
	t.Helper()
	select {
	case c.in <- []byte(frame):
	case <-time.After(time.Second):
		t.Fatal("inbound frame not consumed")
	}
}

func (c *fakeConn) next(t *testing.T) map[string]string {
	t.Helper()
	select {
	case b := <-c.out:
		var m map[string]string
		require.NoError(t, json.Unmarshal(b, &m))
		return m
	case <-time.After(time.Second):
		t.Fatal("expected an outbound frame")
		return nil
	}
}

func (c *fakeConn) requireSilent(t *testing.T) {
	t.Helper()
	select {
	case b := <-c.out:
		t.Fatalf("unexpected frame %s", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func newDeps(store chat.MessageStore) chat.Deps {
	log := slog.New(slog.DiscardHandler)
	reg := chat.NewRegistry(log)
	return chat.Deps{Registry: reg, Router: chat.NewLocalRouter(reg), Store: store, Log: log}
}

// runSession starts a session and waits until it is open.
func runSession(t *testing.T, ctx context.Context, deps chat.Deps, groupID int64, id *chat.Identity, cfg chat.SessionConfig) (*chat.Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	sess := chat.NewSession(groupID, id, conn, deps, cfg)
	errc := make(chan error, 1)
	go func() { errc <- sess.Run(ctx) }()
	t.Cleanup(func() {
		sess.Disconnect("test done")
		select {
		case <-errc:
		case <-time.After(time.Second):
			t.Error("session did not stop")
		}
	})
	require.Eventually(t, func() bool { return sess.State() == chat.StateOpen }, time.Second, time.Millisecond)
	return sess, conn
}

func userID(id int64) *int64 { return &id }

func TestSession_MessageReachesWholeRoomIncludingSender(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	deps := newDeps(store)
	ctx := t.Context()

	_, alice := runSession(t, ctx, deps, 7, &chat.Identity{UserID: 1, Username: "alice"}, chat.SessionConfig{})
	_, bob := runSession(t, ctx, deps, 7, &chat.Identity{UserID: 2, Username: "bob"}, chat.SessionConfig{})

	gomock.InOrder(
		store.EXPECT().Append(gomock.Any(), gomock.Eq(userID(1)), int64(7), "one").Return(chat.MessageRecord{ID: 1}, nil),
		store.EXPECT().Append(gomock.Any(), gomock.Eq(userID(1)), int64(7), "two").Return(chat.MessageRecord{ID: 2}, nil),
		store.EXPECT().Append(gomock.Any(), gomock.Eq(userID(1)), int64(7), "three").Return(chat.MessageRecord{ID: 3}, nil),
	)
	alice.send(t, `{"message":"one"}`)
	alice.send(t, `{"message":"two"}`)
	alice.send(t, `{"message":"three"}`)

	for _, conn := range []*fakeConn{alice, bob} {
		for _, want := range []string{"one", "two", "three"} {
			require.Equal(t, map[string]string{"message": want, "user": "alice"}, conn.next(t))
		}
		conn.requireSilent(t)
	}
}

func TestSession_AnonymousSender(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	deps := newDeps(store)

	_, anon := runSession(t, t.Context(), deps, 3, nil, chat.SessionConfig{})

	store.EXPECT().Append(gomock.Any(), gomock.Nil(), int64(3), "").Return(chat.MessageRecord{}, nil)
	anon.send(t, `{"message":""}`)

	require.Equal(t, map[string]string{"message": "", "user": chat.AnonymousName}, anon.next(t))
}

func TestSession_RoomsAreIsolated(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	deps := newDeps(store)

	_, inOne := runSession(t, t.Context(), deps, 1, &chat.Identity{UserID: 1, Username: "alice"}, chat.SessionConfig{})
	_, inTwo := runSession(t, t.Context(), deps, 2, &chat.Identity{UserID: 2, Username: "bob"}, chat.SessionConfig{})

	store.EXPECT().Append(gomock.Any(), gomock.Any(), int64(1), "hi").Return(chat.MessageRecord{}, nil)
	inOne.send(t, `{"message":"hi"}`)

	require.Equal(t, "hi", inOne.next(t)["message"])
	inTwo.requireSilent(t)
}

func TestSession_MalformedFrameKeepsConnectionOpen(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	deps := newDeps(store)

	sess, alice := runSession(t, t.Context(), deps, 4, &chat.Identity{UserID: 1, Username: "alice"}, chat.SessionConfig{})
	_, bob := runSession(t, t.Context(), deps, 4, &chat.Identity{UserID: 2, Username: "bob"}, chat.SessionConfig{})

	alice.send(t, `{"text":"no message key"}`)
	require.Contains(t, alice.next(t), "error")
	bob.requireSilent(t)
	require.Equal(t, chat.StateOpen, sess.State())

	store.EXPECT().Append(gomock.Any(), gomock.Any(), int64(4), "fine").Return(chat.MessageRecord{}, nil)
	alice.send(t, `{"message":"fine"}`)
	require.Equal(t, "fine", bob.next(t)["message"])
}

func TestSession_PersistFailureSuppressesBroadcast(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	deps := newDeps(store)

	_, alice := runSession(t, t.Context(), deps, 5, &chat.Identity{UserID: 1, Username: "alice"}, chat.SessionConfig{})
	_, bob := runSession(t, t.Context(), deps, 5, &chat.Identity{UserID: 2, Username: "bob"}, chat.SessionConfig{})

	store.EXPECT().Append(gomock.Any(), gomock.Any(), int64(5), "lost").Return(chat.MessageRecord{}, errors.New("db down"))
	alice.send(t, `{"message":"lost"}`)

	require.Contains(t, alice.next(t), "error")
	bob.requireSilent(t)
}

func TestSession_ReceiveErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	deps := newDeps(store)
	sess := chat.NewSession(1, nil, newFakeConn(), deps, chat.SessionConfig{})

	require.ErrorIs(t, sess.Receive(t.Context(), []byte(`{"message":"early"}`)), chat.ErrSessionNotOpen)

	require.NoError(t, sess.Connect())
	require.ErrorIs(t, sess.Receive(t.Context(), []byte(`nope`)), chat.ErrMalformedFrame)

	store.EXPECT().Append(gomock.Any(), gomock.Nil(), int64(1), "x").Return(chat.MessageRecord{}, errors.New("boom"))
	require.ErrorIs(t, sess.Receive(t.Context(), []byte(`{"message":"x"}`)), chat.ErrPersistFailed)

	sess.Disconnect("done")
	require.ErrorIs(t, sess.Receive(t.Context(), []byte(`{"message":"late"}`)), chat.ErrSessionNotOpen)
}

func TestSession_DisconnectIsIdempotent(t *testing.T) {
	req := require.New(t)
	deps := newDeps(mocks.NewMockMessageStore(gomock.NewController(t)))
	conn := newFakeConn()
	sess := chat.NewSession(9, nil, conn, deps, chat.SessionConfig{})
	req.NoError(sess.Connect())
	req.Equal([]string{sess.ID()}, deps.Registry.Members(sess.RoomKey()))

	sess.Disconnect("first")
	sess.Disconnect("second")

	req.Equal(chat.StateClosed, sess.State())
	req.Empty(deps.Registry.Members(sess.RoomKey()))
	req.NoError(sess.Deliver(chat.ChatMessageEvent{RoomKey: sess.RoomKey(), Message: "late"}))
	select {
	case <-sess.Done():
	default:
		t.Fatal("done not closed")
	}
	select {
	case <-conn.closed:
	default:
		t.Fatal("connection not closed")
	}
}

func TestSession_ConnectRejectedWhenRegistryClosed(t *testing.T) {
	req := require.New(t)
	deps := newDeps(mocks.NewMockMessageStore(gomock.NewController(t)))
	deps.Registry.Close()
	sess := chat.NewSession(1, nil, newFakeConn(), deps, chat.SessionConfig{})

	req.ErrorIs(sess.Connect(), chat.ErrRegistryClosed)
	req.Equal(chat.StateClosed, sess.State())
	req.ErrorIs(sess.Run(t.Context()), chat.ErrSessionNotOpen)
}

func TestSession_FullSendBufferFailsDelivery(t *testing.T) {
	req := require.New(t)
	deps := newDeps(mocks.NewMockMessageStore(gomock.NewController(t)))
	conn := newFakeConn()
	sess := chat.NewSession(1, nil, conn, deps, chat.SessionConfig{SendBuffer: 1})
	req.NoError(sess.Connect())

	ev := chat.ChatMessageEvent{RoomKey: sess.RoomKey(), Message: "a"}
	req.NoError(sess.Deliver(ev))
	req.ErrorIs(sess.Deliver(ev), chat.ErrSendBufferFull)

	// The stalled session closes itself instead of lingering unregistered.
	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("stalled session not closed")
	}
	req.Equal(chat.StateClosed, sess.State())
	req.Empty(deps.Registry.Members(sess.RoomKey()))
	<-conn.closed
	req.Equal(websocket.CloseTryAgainLater, conn.closeCode)

	err := sess.Receive(t.Context(), []byte(`{"message":"still here"}`))
	req.ErrorIs(err, chat.ErrSessionNotOpen)
}

func TestSession_FullBufferViaBroadcastCloses(t *testing.T) {
	req := require.New(t)
	deps := newDeps(mocks.NewMockMessageStore(gomock.NewController(t)))
	conn := newFakeConn()
	sess := chat.NewSession(1, nil, conn, deps, chat.SessionConfig{SendBuffer: 1})
	req.NoError(sess.Connect())

	ev := chat.ChatMessageEvent{RoomKey: sess.RoomKey(), Message: "a"}
	deps.Registry.Broadcast(sess.RoomKey(), ev)
	deps.Registry.Broadcast(sess.RoomKey(), ev)

	req.Empty(deps.Registry.Members(sess.RoomKey()))
	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("session open but unregistered")
	}
	req.Equal(chat.StateClosed, sess.State())
}

func TestSession_IdleTimeout(t *testing.T) {
	deps := newDeps(mocks.NewMockMessageStore(gomock.NewController(t)))
	sess, _ := runSession(t, t.Context(), deps, 1, nil, chat.SessionConfig{IdleTimeout: 30 * time.Millisecond})

	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("idle session not closed")
	}
	require.Empty(t, deps.Registry.Members(sess.RoomKey()))
}

func TestSession_ContextCancelDisconnects(t *testing.T) {
	deps := newDeps(mocks.NewMockMessageStore(gomock.NewController(t)))
	ctx, cancel := context.WithCancel(t.Context())
	sess, _ := runSession(t, ctx, deps, 1, nil, chat.SessionConfig{})

	cancel()

	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("session survived cancellation")
	}
	require.Equal(t, chat.StateClosed, sess.State())
}

func TestSession_PeerCloseUnregisters(t *testing.T) {
	deps := newDeps(mocks.NewMockMessageStore(gomock.NewController(t)))
	sess, conn := runSession(t, t.Context(), deps, 8, nil, chat.SessionConfig{})

	_ = conn.Close()

	require.Eventually(t, func() bool { return len(deps.Registry.Members(sess.RoomKey())) == 0 }, time.Second, time.Millisecond)
	require.Equal(t, chat.StateClosed, sess.State())
}

func TestSession_MalformedFrameBetweenMessages(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	deps := newDeps(store)

	_, sender := runSession(t, t.Context(), deps, 6, nil, chat.SessionConfig{})
	_, observer := runSession(t, t.Context(), deps, 6, nil, chat.SessionConfig{})

	gomock.InOrder(
		store.EXPECT().Append(gomock.Any(), gomock.Nil(), int64(6), "hi").Return(chat.MessageRecord{ID: 1}, nil),
		store.EXPECT().Append(gomock.Any(), gomock.Nil(), int64(6), "bye").Return(chat.MessageRecord{ID: 2}, nil),
	)
	sender.send(t, `{"message":"hi"}`)
	sender.send(t, `{"message":42}`)
	sender.send(t, `{"message":"bye"}`)

	require.Equal(t, "hi", observer.next(t)["message"])
	require.Equal(t, "bye", observer.next(t)["message"])
	observer.requireSilent(t)
}
