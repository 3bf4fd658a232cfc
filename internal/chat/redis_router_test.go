package chat_test

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"studysprint/internal/chat"
)

type instance struct {
	registry *chat.Registry
	router   *chat.RedisRouter
}

func newInstance(t *testing.T, addr string) instance {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	reg := chat.NewRegistry(log)
	router := chat.NewRedisRouter(rdb, reg, "test:", log)
	require.NoError(t, router.Start(t.Context()))
	t.Cleanup(func() { _ = router.Close() })
	return instance{registry: reg, router: router}
}

type inbox struct {
	mu   sync.Mutex
	msgs []string
}

func (b *inbox) deliver(ev chat.ChatMessageEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, ev.User+": "+ev.Message)
	return nil
}

func (b *inbox) snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.msgs...)
}

func TestRedisRouter_FansOutAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newInstance(t, mr.Addr())
	b := newInstance(t, mr.Addr())

	var onA, onB, otherRoom inbox
	require.NoError(t, a.registry.Register(chat.RoomKeyFor(1), "a1", onA.deliver))
	require.NoError(t, b.registry.Register(chat.RoomKeyFor(1), "b1", onB.deliver))
	require.NoError(t, b.registry.Register(chat.RoomKeyFor(2), "b2", otherRoom.deliver))

	a.router.Publish(t.Context(), chat.ChatMessageEvent{RoomKey: chat.RoomKeyFor(1), User: "alice", Message: "first"})
	a.router.Publish(t.Context(), chat.ChatMessageEvent{RoomKey: chat.RoomKeyFor(1), User: "alice", Message: "second"})

	want := []string{"alice: first", "alice: second"}
	require.Eventually(t, func() bool {
		return len(onA.snapshot()) == 2 && len(onB.snapshot()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, want, onA.snapshot())
	require.Equal(t, want, onB.snapshot())
	require.Empty(t, otherRoom.snapshot())
}

func TestRedisRouter_SkipsUndecodablePayloads(t *testing.T) {
	mr := miniredis.RunT(t)
	inst := newInstance(t, mr.Addr())
	var got inbox
	require.NoError(t, inst.registry.Register(chat.RoomKeyFor(3), "c", got.deliver))

	mr.Publish("test:chat_3", "{not json")
	mr.Publish("test:chat_3", `{"room":"chat_4","user":"x","message":"wrong room"}`)
	inst.router.Publish(t.Context(), chat.ChatMessageEvent{RoomKey: chat.RoomKeyFor(3), User: "bob", Message: "ok"})

	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"bob: ok"}, got.snapshot())
}

func TestRedisRouter_StartTwiceAndClose(t *testing.T) {
	mr := miniredis.RunT(t)
	inst := newInstance(t, mr.Addr())

	require.Error(t, inst.router.Start(t.Context()))
	require.NoError(t, inst.router.Close())
	require.NoError(t, inst.router.Close())
}
