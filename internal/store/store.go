// Package store persists what the bundled identity client must remember
// between runs: cached accounts, the active account, sealed refresh tokens
// and pending interactive login requests.
//
// Drivers live under drivers/: memory (session-only), sqlite (durable) and
// redis (shared between processes).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/signon/internal/identity"
)

var ErrNotFound = errors.New("store: not found")

// PendingTTL bounds how long an interactive login may take before its
// pending request is forgotten.
const PendingTTL = 10 * time.Minute

// Store is the root data access interface. It exposes sub-repositories to
// keep each concern small.
type Store interface {
	Accounts() Accounts
	RefreshTokens() RefreshTokens
	Pending() PendingRequests

	// ApplyMigrations prepares the schema. Drivers without one return nil.
	ApplyMigrations(ctx context.Context) error

	Ping(ctx context.Context) error
	Close() error
}

type Accounts interface {
	// ListAccounts returns accounts in the order they were first saved.
	ListAccounts(ctx context.Context) ([]identity.Account, error)

	// SaveAccount inserts or updates an account, keeping its position.
	SaveAccount(ctx context.Context, acc identity.Account) error

	// DeleteAccount removes an account, its refresh token and, if it was
	// active, the active marker.
	DeleteAccount(ctx context.Context, id string) error

	// ActiveAccountID returns ErrNotFound when no account is active.
	ActiveAccountID(ctx context.Context) (string, error)
	SetActiveAccountID(ctx context.Context, id string) error
}

// RefreshTokens stores refresh tokens already sealed by the caller.
type RefreshTokens interface {
	GetRefreshToken(ctx context.Context, accountID string) ([]byte, error)
	SaveRefreshToken(ctx context.Context, accountID string, sealed []byte) error
}

// PendingRequest is an interactive login waiting for its callback.
type PendingRequest struct {
	State        string
	CodeVerifier string
	RedirectURI  string
	Scopes       []string
	LoginHint    string
	ExpiresAt    time.Time
}

// Expired reports whether p can no longer be completed at now.
func (p PendingRequest) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

type PendingRequests interface {
	SavePending(ctx context.Context, p PendingRequest) error

	// TakePending returns and deletes the request for state. Each request
	// is returned at most once; missing or expired requests are
	// ErrNotFound.
	TakePending(ctx context.Context, state string) (PendingRequest, error)
}
