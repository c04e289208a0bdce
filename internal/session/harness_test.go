package session_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/signon/internal/eventbus"
	"github.com/aussiebroadwan/signon/internal/identity"
	"github.com/aussiebroadwan/signon/internal/identity/identitytest"
	"github.com/aussiebroadwan/signon/internal/profile"
	"github.com/aussiebroadwan/signon/internal/session"
	"github.com/aussiebroadwan/signon/internal/tokencache"
	"github.com/stretchr/testify/require"
)

var (
	ada = identity.Account{ID: "acc-ada", Name: "Ada", Username: "ada@example.com"}
	bob = identity.Account{ID: "acc-bob", Name: "Bob", Username: "bob@example.com"}
)

type fetcher struct {
	profiles atomic.Int32
	avatars  atomic.Int32

	// withAvatar makes FetchAvatar return a PNG handle instead of
	// ErrNoAvatar.
	withAvatar atomic.Bool
}

func (f *fetcher) FetchProfile(ctx context.Context) (*profile.UserProfile, error) {
	f.profiles.Add(1)
	return &profile.UserProfile{ID: "u1", DisplayName: "Ada Lovelace"}, nil
}

func (f *fetcher) FetchAvatar(ctx context.Context) (*profile.Handle, error) {
	f.avatars.Add(1)
	if f.withAvatar.Load() {
		return profile.NewHandle("image/png", []byte{0x89, 'P', 'N', 'G'}), nil
	}
	return nil, profile.ErrNoAvatar
}

type recorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *recorder) handle(ev eventbus.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds() []eventbus.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]eventbus.Kind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *recorder) count(kind eventbus.Kind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

type harness struct {
	fake     *identitytest.Fake
	fetch    *fetcher
	profiles *profile.Cache
	events   *recorder
	o        *session.Orchestrator
}

func newHarness(t *testing.T, cfg session.Config, fake *identitytest.Fake) *harness {
	t.Helper()

	adapter := identity.NewAdapter(fake, nil)
	fetch := &fetcher{}
	profiles := profile.NewCache(adapter, fetch, nil)
	bus := eventbus.New(nil)
	rec := &recorder{}
	bus.Subscribe(context.Background(), rec.handle)

	if cfg.Scopes == nil {
		cfg.Scopes = []string{"openid", "profile"}
	}
	o := session.New(cfg, session.Deps{
		Identity: adapter,
		Tokens:   tokencache.New(adapter, nil),
		Profiles: profiles,
		Bus:      bus,
	}, nil)

	t.Cleanup(func() {
		o.Close()
		bus.Close()
	})
	return &harness{fake: fake, fetch: fetch, profiles: profiles, events: rec, o: o}
}

func (h *harness) start(t *testing.T) session.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := h.o.Start(ctx)
	require.NoError(t, err)
	return snap
}

func (h *harness) waitEvents(t *testing.T, want ...eventbus.Kind) {
	t.Helper()
	require.Eventually(t, func() bool {
		got := h.events.kinds()
		return len(got) >= len(want)
	}, 2*time.Second, time.Millisecond)
	require.Equal(t, want, h.events.kinds()[:len(want)])
}

func silentOK(ctx context.Context, acc identity.Account, scopes []string) (identity.Token, error) {
	return identity.Token{Value: "at-" + acc.ID, Scopes: scopes, Account: acc, ExpiresAt: time.Now().Add(time.Hour)}, nil
}
