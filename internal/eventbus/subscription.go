package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aussiebroadwan/signon/pkg/idx"
)

// Subscription is a handle on one subscriber.
type Subscription struct {
	id      idx.ID
	bus     *Bus
	log     *slog.Logger
	handler func(Event)

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	queue []Event

	wake chan struct{}
	done chan struct{}
}

// ID identifies the subscription in logs.
func (s *Subscription) ID() string {
	return s.id.String()
}

// Cancel stops delivery without waiting. A handler already running finishes,
// and an event whose delivery was already under way when Cancel was called
// may still reach the handler; events queued behind it are dropped. Use
// Close when no handler may run after the call returns. Safe to call from
// inside the handler and more than once.
func (s *Subscription) Cancel() {
	s.cancel()
}

// Close cancels and waits until the delivery goroutine has exited. Calling it
// from inside this subscription's own handler deadlocks; use Cancel there.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Done is closed once the delivery goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) enqueue(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) next() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	ev := s.queue[0]
	s.queue[0] = Event{}
	s.queue = s.queue[1:]
	return ev, true
}

func (s *Subscription) run() {
	defer close(s.done)
	defer s.bus.remove(s.id)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}

		for {
			if s.ctx.Err() != nil {
				return
			}
			ev, ok := s.next()
			if !ok {
				break
			}
			s.deliver(ev)
		}
	}
}

func (s *Subscription) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("event handler panicked",
				slog.String("subscription", s.id.String()),
				slog.String("kind", ev.Kind.String()),
				slog.String("panic", fmt.Sprint(r)))
		}
	}()
	if s.ctx.Err() != nil {
		return
	}
	s.handler(ev)
}

// Scope groups subscriptions so a component can drop all of its handlers at
// once.
type Scope struct {
	bus *Bus

	mu     sync.Mutex
	subs   []*Subscription
	closed bool
}

// Subscribe adds a subscription to the scope. After Close it returns an
// already-cancelled subscription.
func (sc *Scope) Subscribe(ctx context.Context, handler func(Event)) *Subscription {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.closed {
		ctx, cancel := context.WithCancel(ctx)
		cancel()
		return sc.bus.Subscribe(ctx, handler)
	}

	s := sc.bus.Subscribe(ctx, handler)
	sc.subs = append(sc.subs, s)
	return s
}

// Cancel stops delivery to every subscription in the scope without waiting.
func (sc *Scope) Cancel() {
	sc.mu.Lock()
	sc.closed = true
	subs := sc.subs
	sc.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
}

// Close cancels every subscription in the scope and waits for their
// handlers to return.
func (sc *Scope) Close() {
	sc.mu.Lock()
	sc.closed = true
	subs := sc.subs
	sc.subs = nil
	sc.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}
