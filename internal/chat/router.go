package chat

import "context"

// Router fans a published event out to every session of its room. Publish
// never fails the caller and does not wait for connection writes.
type Router interface {
	Publish(ctx context.Context, ev ChatMessageEvent)
}

// LocalRouter delivers through the in-process Registry. Deliver functions
// only enqueue, so Publish returns once every member has the frame queued.
type LocalRouter struct {
	registry *Registry
}

func NewLocalRouter(registry *Registry) *LocalRouter {
	return &LocalRouter{registry: registry}
}

func (r *LocalRouter) Publish(_ context.Context, ev ChatMessageEvent) {
	r.registry.Broadcast(ev.RoomKey, ev)
}
