// Package redis is the shared store driver. Several processes on one host
// (or one user's machines) see the same accounts and pending logins.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aussiebroadwan/signon/internal/identity"
	"github.com/aussiebroadwan/signon/internal/store"
	goredis "github.com/redis/go-redis/v9"
)

// Store keys everything under a prefix:
//
//	<prefix>accounts        sorted set of account ids, scored by first save
//	<prefix>account:<id>    account JSON
//	<prefix>active          active account id
//	<prefix>rt:<id>         sealed refresh token
//	<prefix>pending:<state> pending request JSON with TTL
type Store struct {
	rdb    goredis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// NewStore wraps an existing client. The store closes it on Close.
func NewStore(rdb goredis.UniversalClient, prefix string) *Store {
	return &Store{rdb: rdb, prefix: prefix, now: time.Now}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int, prefix string) (*Store, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return NewStore(rdb, prefix), nil
}

func (s *Store) Accounts() store.Accounts           { return (*accounts)(s) }
func (s *Store) RefreshTokens() store.RefreshTokens { return (*refreshTokens)(s) }
func (s *Store) Pending() store.PendingRequests     { return (*pending)(s) }

func (s *Store) ApplyMigrations(context.Context) error { return nil }

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += p
	}
	return k
}

func mapNotFound(err error) error {
	if errors.Is(err, goredis.Nil) {
		return store.ErrNotFound
	}
	return err
}

type accounts Store

func (a *accounts) ListAccounts(ctx context.Context) ([]identity.Account, error) {
	s := (*Store)(a)
	ids, err := s.rdb.ZRange(ctx, s.key("accounts"), 0, -1).Result()
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key("account:", id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]identity.Account, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue // removed between ZRANGE and MGET
		}
		var acc identity.Account
		if err := json.Unmarshal([]byte(raw), &acc); err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, nil
}

func (a *accounts) SaveAccount(ctx context.Context, acc identity.Account) error {
	s := (*Store)(a)
	raw, err := json.Marshal(acc)
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, s.key("account:", acc.ID), raw, 0)
		p.ZAddNX(ctx, s.key("accounts"), goredis.Z{Score: float64(s.now().UnixNano()), Member: acc.ID})
		return nil
	})
	return err
}

var unsetActive = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (a *accounts) DeleteAccount(ctx context.Context, id string) error {
	s := (*Store)(a)
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.ZRem(ctx, s.key("accounts"), id)
		p.Del(ctx, s.key("account:", id), s.key("rt:", id))
		return nil
	})
	if err != nil {
		return err
	}
	return unsetActive.Run(ctx, s.rdb, []string{s.key("active")}, id).Err()
}

func (a *accounts) ActiveAccountID(ctx context.Context) (string, error) {
	s := (*Store)(a)
	id, err := s.rdb.Get(ctx, s.key("active")).Result()
	if err != nil {
		return "", mapNotFound(err)
	}
	return id, nil
}

func (a *accounts) SetActiveAccountID(ctx context.Context, id string) error {
	s := (*Store)(a)
	n, err := s.rdb.Exists(ctx, s.key("account:", id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return s.rdb.Set(ctx, s.key("active"), id, 0).Err()
}

type refreshTokens Store

func (r *refreshTokens) GetRefreshToken(ctx context.Context, accountID string) ([]byte, error) {
	s := (*Store)(r)
	b, err := s.rdb.Get(ctx, s.key("rt:", accountID)).Bytes()
	if err != nil {
		return nil, mapNotFound(err)
	}
	return b, nil
}

func (r *refreshTokens) SaveRefreshToken(ctx context.Context, accountID string, sealed []byte) error {
	s := (*Store)(r)
	return s.rdb.Set(ctx, s.key("rt:", accountID), sealed, 0).Err()
}

type pendingJSON struct {
	State        string    `json:"state"`
	CodeVerifier string    `json:"code_verifier"`
	RedirectURI  string    `json:"redirect_uri"`
	Scopes       []string  `json:"scopes,omitempty"`
	LoginHint    string    `json:"login_hint,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type pending Store

func (p *pending) SavePending(ctx context.Context, req store.PendingRequest) error {
	s := (*Store)(p)
	if req.ExpiresAt.IsZero() {
		req.ExpiresAt = s.now().Add(store.PendingTTL)
	}
	ttl := req.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(pendingJSON(req))
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key("pending:", req.State), raw, ttl).Err()
}

func (p *pending) TakePending(ctx context.Context, state string) (store.PendingRequest, error) {
	s := (*Store)(p)
	raw, err := s.rdb.GetDel(ctx, s.key("pending:", state)).Bytes()
	if err != nil {
		return store.PendingRequest{}, mapNotFound(err)
	}

	var pj pendingJSON
	if err := json.Unmarshal(raw, &pj); err != nil {
		return store.PendingRequest{}, err
	}
	req := store.PendingRequest(pj)
	if req.Expired(s.now()) {
		return store.PendingRequest{}, store.ErrNotFound
	}
	return req, nil
}
