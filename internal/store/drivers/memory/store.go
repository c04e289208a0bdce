// Package memory is the session-only store driver. Nothing survives the
// process.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/signon/internal/identity"
	"github.com/aussiebroadwan/signon/internal/store"
	"github.com/patrickmn/go-cache"
)

const (
	activeKey     = "active"
	accountPrefix = "account:"
	tokenPrefix   = "rt:"
	pendingPrefix = "pending:"
)

type accountEntry struct {
	account identity.Account
	seq     uint64
}

// Store keeps everything in a go-cache instance. Pending requests expire
// through the cache's TTL; everything else never expires.
type Store struct {
	c   *cache.Cache
	now func() time.Time

	// mu serializes read-modify-write sequences go-cache cannot do atomically.
	mu  sync.Mutex
	seq uint64
}

var _ store.Store = (*Store)(nil)

// NewStore returns an empty store. Expired pending requests are swept every
// cleanup interval.
func NewStore(cleanup time.Duration) *Store {
	return &Store{
		c:   cache.New(cache.NoExpiration, cleanup),
		now: time.Now,
	}
}

func (s *Store) Accounts() store.Accounts           { return (*accounts)(s) }
func (s *Store) RefreshTokens() store.RefreshTokens { return (*refreshTokens)(s) }
func (s *Store) Pending() store.PendingRequests     { return (*pending)(s) }

func (s *Store) ApplyMigrations(context.Context) error { return nil }
func (s *Store) Ping(context.Context) error            { return nil }

func (s *Store) Close() error {
	s.c.Flush()
	return nil
}

type accounts Store

func (a *accounts) ListAccounts(ctx context.Context) ([]identity.Account, error) {
	var entries []accountEntry
	for k, item := range a.c.Items() {
		if strings.HasPrefix(k, accountPrefix) {
			entries = append(entries, item.Object.(accountEntry))
		}
	}
	slices.SortFunc(entries, func(x, y accountEntry) int {
		switch {
		case x.seq < y.seq:
			return -1
		case x.seq > y.seq:
			return 1
		}
		return 0
	})

	out := make([]identity.Account, len(entries))
	for i, e := range entries {
		out[i] = e.account
	}
	return out, nil
}

func (a *accounts) SaveAccount(ctx context.Context, acc identity.Account) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := accountPrefix + acc.ID
	entry := accountEntry{account: acc}
	if v, ok := a.c.Get(key); ok {
		entry.seq = v.(accountEntry).seq
	} else {
		a.seq++
		entry.seq = a.seq
	}
	a.c.Set(key, entry, cache.NoExpiration)
	return nil
}

func (a *accounts) DeleteAccount(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.c.Delete(accountPrefix + id)
	a.c.Delete(tokenPrefix + id)
	if v, ok := a.c.Get(activeKey); ok && v.(string) == id {
		a.c.Delete(activeKey)
	}
	return nil
}

func (a *accounts) ActiveAccountID(ctx context.Context) (string, error) {
	v, ok := a.c.Get(activeKey)
	if !ok {
		return "", store.ErrNotFound
	}
	return v.(string), nil
}

func (a *accounts) SetActiveAccountID(ctx context.Context, id string) error {
	if _, ok := a.c.Get(accountPrefix + id); !ok {
		return store.ErrNotFound
	}
	a.c.Set(activeKey, id, cache.NoExpiration)
	return nil
}

type refreshTokens Store

func (r *refreshTokens) GetRefreshToken(ctx context.Context, accountID string) ([]byte, error) {
	v, ok := r.c.Get(tokenPrefix + accountID)
	if !ok {
		return nil, store.ErrNotFound
	}
	return slices.Clone(v.([]byte)), nil
}

func (r *refreshTokens) SaveRefreshToken(ctx context.Context, accountID string, sealed []byte) error {
	r.c.Set(tokenPrefix+accountID, slices.Clone(sealed), cache.NoExpiration)
	return nil
}

type pending Store

func (p *pending) SavePending(ctx context.Context, req store.PendingRequest) error {
	ttl := req.ExpiresAt.Sub(p.now())
	if req.ExpiresAt.IsZero() {
		ttl = store.PendingTTL
		req.ExpiresAt = p.now().Add(ttl)
	}
	if ttl <= 0 {
		return nil
	}
	req.Scopes = slices.Clone(req.Scopes)
	p.c.Set(pendingPrefix+req.State, req, ttl)
	return nil
}

func (p *pending) TakePending(ctx context.Context, state string) (store.PendingRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := pendingPrefix + state
	v, ok := p.c.Get(key)
	if !ok {
		return store.PendingRequest{}, store.ErrNotFound
	}
	p.c.Delete(key)

	req := v.(store.PendingRequest)
	if req.Expired(p.now()) {
		return store.PendingRequest{}, store.ErrNotFound
	}
	return req, nil
}
