package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
)

// Event is a named payload. Names are stable strings such as "imported".
type Event interface {
	EventName() string
}

type Handler func(ctx context.Context, e Event) error

type EventBus interface {
	Publish(ctx context.Context, e Event)
	PublishE(ctx context.Context, e Event) error
	Subscribe(name string, handler Handler)
	Clear()
	SubscribersCount(name string) int
}

var (
	ErrNoSubscribers = errors.New("eventbus: no matching subscribers")
	ErrHandlerPanic  = errors.New("eventbus: handler panicked")
)

// Wildcard subscribes a handler to every event name.
const Wildcard = "*"

type publisherImpl struct {
	log *logrus.Logger

	mu          sync.RWMutex
	subscribers map[string][]Handler
}

func NewEventPublisher(log *logrus.Logger) EventBus {
	return &publisherImpl{log: log, subscribers: map[string][]Handler{}}
}

func (p *publisherImpl) handlers(name string) []Handler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Handler, 0, len(p.subscribers[name])+len(p.subscribers[Wildcard]))
	out = append(out, p.subscribers[name]...)
	out = append(out, p.subscribers[Wildcard]...)
	return out
}

func (p *publisherImpl) call(ctx context.Context, h Handler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrHandlerPanic, "%v", r)
		}
	}()
	return h(ctx, e)
}

// Publish delivers e to every subscriber and logs failures instead of returning them.
// On a context from Defer the delivery waits for Flush.
func (p *publisherImpl) Publish(ctx context.Context, e Event) {
	if d := deferredFrom(ctx); d != nil {
		d.add(ctx, p, e)
		return
	}
	hs := p.handlers(e.EventName())
	if len(hs) == 0 {
		if p.log != nil {
			p.log.WithField("event", e.EventName()).Debug("eventbus.Publish: no matching subscribers")
		}
		return
	}
	for _, h := range hs {
		if err := p.call(ctx, h, e); err != nil && p.log != nil {
			p.log.WithFields(logrus.Fields{
				"event":   e.EventName(),
				"payload": fmt.Sprintf("%+v", e),
			}).WithError(err).Error("eventbus: handler failed")
		}
	}
}

func (p *publisherImpl) PublishE(ctx context.Context, e Event) error {
	hs := p.handlers(e.EventName())
	if len(hs) == 0 {
		return ErrNoSubscribers
	}
	var errs []error
	for _, h := range hs {
		if err := p.call(ctx, h, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *publisherImpl) Subscribe(name string, handler Handler) {
	if handler == nil {
		panic("eventbus: handler must not be nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers[name] = append(p.subscribers[name], handler)
}

func (p *publisherImpl) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = map[string][]Handler{}
}

func (p *publisherImpl) SubscribersCount(name string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers[name])
}

// Recorder keeps every published event; the CLI uses it to print run summaries.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Handle(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events(name string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		if name == Wildcard || e.EventName() == name {
			out = append(out, e)
		}
	}
	return out
}
