package eventbus

import (
	"context"
	"sync"
)

type deferredKey struct{}

// Deferred queues the events published on a context until the unit of work
// behind it commits (Flush) or rolls back (Discard).
type Deferred struct {
	parent  *Deferred
	mu      sync.Mutex
	pending []pendingEvent
}

type pendingEvent struct {
	ctx context.Context
	bus EventBus
	e   Event
}

// Defer returns a context on which Publish queues events in the returned Deferred.
// PublishE is never deferred. A Deferred nested in another flushes into it.
func Defer(ctx context.Context) (context.Context, *Deferred) {
	d := &Deferred{parent: deferredFrom(ctx)}
	return context.WithValue(ctx, deferredKey{}, d), d
}

func deferredFrom(ctx context.Context) *Deferred {
	d, _ := ctx.Value(deferredKey{}).(*Deferred)
	return d
}

func (d *Deferred) add(ctx context.Context, bus EventBus, e Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, pendingEvent{ctx: ctx, bus: bus, e: e})
}

func (d *Deferred) take() []pendingEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.pending
	d.pending = nil
	return out
}

// Len is the number of queued events.
func (d *Deferred) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Flush delivers the queued events in publish order, each on the bus it was published to.
func (d *Deferred) Flush() {
	for _, p := range d.take() {
		ctx := context.WithValue(p.ctx, deferredKey{}, d.parent)
		p.bus.Publish(ctx, p.e)
	}
}

// Discard drops the queued events and returns how many there were.
func (d *Deferred) Discard() int {
	return len(d.take())
}
