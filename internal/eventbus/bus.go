// Package eventbus fans session events out to subscribers.
//
// Every subscriber gets its own delivery goroutine and an unbounded queue, so
// Publish never blocks and a slow handler only delays itself. Events reach
// each subscriber in publication order.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/signon/internal/metrics"
	"github.com/aussiebroadwan/signon/pkg/idx"
	"github.com/aussiebroadwan/signon/pkg/slogx"
)

// Bus is the process-wide session event bus.
type Bus struct {
	log *slog.Logger
	now func() time.Time

	mu     sync.Mutex
	seq    uint64
	subs   map[idx.ID]*Subscription
	closed bool
}

// New returns an empty bus.
func New(log *slog.Logger) *Bus {
	return &Bus{
		log:  slogx.OrDiscard(log).With(slog.String("component", "eventbus")),
		now:  time.Now,
		subs: make(map[idx.ID]*Subscription),
	}
}

// Publish queues ev for every current subscriber and returns immediately.
// Publishing on a closed bus is a no-op.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.seq++
	ev.Seq = b.seq
	if ev.At.IsZero() {
		ev.At = b.now()
	}
	// Enqueue while holding b.mu so two publishers cannot interleave their
	// events differently across subscribers.
	for _, s := range b.subs {
		s.enqueue(ev)
	}
	b.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(ev.Kind.String()).Inc()
	b.log.Debug("event published", slog.String("kind", ev.Kind.String()), slog.Uint64("seq", ev.Seq))
}

// Subscribe registers handler. Delivery stops when ctx is done, Cancel or
// Close is called, or the bus closes. Subscribing to a closed bus returns an
// already-cancelled subscription.
func (b *Bus) Subscribe(ctx context.Context, handler func(Event)) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		id:      idx.New(),
		bus:     b,
		log:     b.log,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		close(s.done)
		return s
	}
	b.subs[s.id] = s
	b.mu.Unlock()

	go s.run()
	return s
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// NewScope returns a Scope for subscribing several handlers that are torn
// down together.
func (b *Bus) NewScope() *Scope {
	return &Scope{bus: b}
}

// Close cancels every subscription and waits for in-flight handlers to
// return. It must not be called from inside a handler.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

func (b *Bus) remove(id idx.ID) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}
