package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisRouter publishes events on a Redis channel per room and delivers
// everything received on the room pattern to the local Registry, so every
// instance behind a load balancer reaches its own connections.
type RedisRouter struct {
	rdb      *redis.Client
	registry *Registry
	prefix   string
	log      *slog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

func NewRedisRouter(rdb *redis.Client, registry *Registry, prefix string, log *slog.Logger) *RedisRouter {
	return &RedisRouter{rdb: rdb, registry: registry, prefix: prefix, log: log}
}

func (r *RedisRouter) channel(key RoomKey) string {
	return r.prefix + string(key)
}

// Start subscribes and returns once Redis has confirmed the subscription.
func (r *RedisRouter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub != nil {
		return errors.New("redis router already started")
	}
	ps := r.rdb.PSubscribe(ctx, r.prefix+roomKeyPrefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	r.pubsub = ps
	r.done = make(chan struct{})
	go r.consume(ps.Channel(), r.done)
	return nil
}

func (r *RedisRouter) consume(ch <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for msg := range ch {
		var ev ChatMessageEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			r.log.Warn("chat: dropping undecodable redis event", "channel", msg.Channel, "err", err)
			continue
		}
		key := RoomKey(strings.TrimPrefix(msg.Channel, r.prefix))
		if ev.RoomKey != key {
			r.log.Warn("chat: room mismatch on redis event", "channel", msg.Channel, "room", ev.RoomKey)
			continue
		}
		r.registry.Broadcast(key, ev)
	}
}

func (r *RedisRouter) Publish(ctx context.Context, ev ChatMessageEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.log.Error("chat: encode event", "room", ev.RoomKey, "err", err)
		return
	}
	if err := r.rdb.Publish(ctx, r.channel(ev.RoomKey), payload).Err(); err != nil {
		r.log.Error("chat: redis publish failed", "room", ev.RoomKey, "err", err)
	}
}

// Close stops the subscriber and waits for it to drain.
func (r *RedisRouter) Close() error {
	r.mu.Lock()
	ps, done := r.pubsub, r.done
	r.pubsub = nil
	r.mu.Unlock()
	if ps == nil {
		return nil
	}
	err := ps.Close()
	<-done
	return err
}
