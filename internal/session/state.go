package session

import (
	"slices"
	"sync"
	"time"

	"github.com/aussiebroadwan/signon/internal/identity"
	"github.com/aussiebroadwan/signon/internal/metrics"
)

// State is the session state. There is exactly one per process, held by a
// Holder.
type State int

const (
	Uninitialized State = iota
	Initializing
	Authenticated
	Unauthenticated
	AuthFailed
)

var states = []State{Uninitialized, Initializing, Authenticated, Unauthenticated, AuthFailed}

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	case AuthFailed:
		return "auth_failed"
	default:
		return "unknown"
	}
}

// Resolved reports whether s ends a startup or silent login attempt.
func (s State) Resolved() bool {
	return s == Authenticated || s == Unauthenticated || s == AuthFailed
}

// legal lists the states reachable from each state. A transition to the
// current state is always allowed and is a no-op unless the account or the
// reason changes.
var legal = map[State][]State{
	Uninitialized:   {Initializing},
	Initializing:    {Authenticated, Unauthenticated, AuthFailed},
	Authenticated:   {Unauthenticated},
	Unauthenticated: {Initializing, Authenticated, AuthFailed},
	AuthFailed:      {Initializing, Authenticated, Unauthenticated},
}

// Snapshot is an immutable view of the session.
type Snapshot struct {
	State   State             `json:"state"`
	Account *identity.Account `json:"account,omitempty"`
	// Reason explains Unauthenticated and AuthFailed.
	Reason  string    `json:"reason,omitempty"`
	Version uint64    `json:"version"`
	Since   time.Time `json:"since"`
}

// Holder owns the session state. Transitions are the only mutation and each
// one is a single critical section; Changed broadcasts every write.
type Holder struct {
	now func() time.Time

	mu      sync.Mutex
	snap    Snapshot
	changed chan struct{}
	closed  bool
}

// NewHolder returns a holder in Uninitialized.
func NewHolder() *Holder {
	h := &Holder{now: time.Now, changed: make(chan struct{})}
	h.snap.Since = h.now()
	metrics.SessionState.WithLabelValues(Uninitialized.String()).Set(1)
	return h
}

// Snapshot returns the latest state.
func (h *Holder) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap
}

// Changed returns a channel closed by the next transition.
func (h *Holder) Changed() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.changed
}

// Watch returns the latest state and a channel closed by the transition
// after it, read atomically.
func (h *Holder) Watch() (Snapshot, <-chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap, h.changed
}

// Transition moves to state to. When from is non-empty the transition only
// applies if the current state is one of from; otherwise it is skipped and
// the current snapshot returned with changed false. Illegal moves return
// ErrIllegalTransition.
func (h *Holder) Transition(to State, account *identity.Account, reason string, from ...State) (snap Snapshot, changed bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cur := h.snap
	switch {
	case h.closed:
		return cur, false, ErrClosed
	case len(from) > 0 && !slices.Contains(from, cur.State):
		return cur, false, nil
	case to == cur.State && sameAccount(cur.Account, account) && reason == cur.Reason:
		return cur, false, nil
	case to != cur.State && !slices.Contains(legal[cur.State], to):
		return cur, false, &TransitionError{From: cur.State, To: to}
	}

	if account != nil {
		acc := *account
		account = &acc
	}
	if to != Authenticated {
		account = nil
	}
	h.snap = Snapshot{
		State:   to,
		Account: account,
		Reason:  reason,
		Version: cur.Version + 1,
		Since:   h.now(),
	}
	close(h.changed)
	h.changed = make(chan struct{})

	metrics.SessionTransitions.WithLabelValues(to.String()).Inc()
	for _, s := range states {
		v := 0.0
		if s == to {
			v = 1
		}
		metrics.SessionState.WithLabelValues(s.String()).Set(v)
	}
	return h.snap, true, nil
}

// Close ends the holder's lifecycle. Later transitions fail with ErrClosed
// and waiters on Changed are released.
func (h *Holder) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.changed)
}

func sameAccount(a, b *identity.Account) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID
}
