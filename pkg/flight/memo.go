package flight

import (
	"context"
	"sync"
)

// Memo is a single-flight, memoized value. The first Get triggers fn; every
// later Get, concurrent or not, receives the same resolved value without
// calling fn again until Reset.
//
// Errors are shared with the callers waiting on that attempt but are not
// memoized: the next Get after a failed attempt tries again. Callers that want
// a failure to stick should turn it into a value inside fn.
type Memo[V any] struct {
	mu   sync.Mutex
	call *memoCall[V]
}

type memoCall[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// Get returns the memoized value, starting fn if nothing is cached or in
// flight. fn runs on a context detached from the caller's cancellation.
func (m *Memo[V]) Get(ctx context.Context, fn func(context.Context) (V, error)) (V, error) {
	m.mu.Lock()
	c := m.call
	if c == nil {
		c = &memoCall[V]{done: make(chan struct{})}
		m.call = c
		go m.run(context.WithoutCancel(ctx), c, fn)
	}
	m.mu.Unlock()

	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

func (m *Memo[V]) run(ctx context.Context, c *memoCall[V], fn func(context.Context) (V, error)) {
	c.val, c.err = fn(ctx)

	if c.err != nil {
		m.mu.Lock()
		if m.call == c {
			m.call = nil
		}
		m.mu.Unlock()
	}
	close(c.done)
}

// Peek returns the memoized value without triggering a call. ok is false when
// nothing has resolved successfully yet.
func (m *Memo[V]) Peek() (v V, ok bool) {
	m.mu.Lock()
	c := m.call
	m.mu.Unlock()

	if c == nil {
		return v, false
	}

	select {
	case <-c.done:
		if c.err != nil {
			return v, false
		}
		return c.val, true
	default:
		return v, false
	}
}

// Reset forgets the memoized value. A call still in flight completes for the
// callers already waiting on it but its result is not kept.
func (m *Memo[V]) Reset() {
	m.mu.Lock()
	m.call = nil
	m.mu.Unlock()
}
