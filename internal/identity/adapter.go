// Package identity wraps an identity provider's client library behind one
// error taxonomy: ErrNotInitialized, *InitializationError,
// *RedirectCompletionError, ErrInteractionRequired and *TransientError.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/aussiebroadwan/signon/pkg/flight"
	"github.com/aussiebroadwan/signon/pkg/slogx"
)

// Adapter normalizes a Client. It is safe for concurrent use.
type Adapter struct {
	client Client
	log    *slog.Logger

	ready atomic.Bool
	init  flight.Group[struct{}]
}

// NewAdapter wraps client. A nil logger discards.
func NewAdapter(client Client, log *slog.Logger) *Adapter {
	return &Adapter{
		client: client,
		log:    slogx.OrDiscard(log).With(slog.String("component", "identity")),
	}
}

// Initialize prepares the provider client. It is idempotent: once it has
// succeeded later calls return nil without touching the provider, and
// concurrent first calls share one attempt.
func (a *Adapter) Initialize(ctx context.Context) error {
	if a.ready.Load() {
		return nil
	}

	_, _, err := a.init.Do(ctx, "init", func(ctx context.Context) (struct{}, error) {
		if a.ready.Load() {
			return struct{}{}, nil
		}
		if err := a.client.Initialize(ctx); err != nil {
			return struct{}{}, &InitializationError{Err: err}
		}
		a.ready.Store(true)
		return struct{}{}, nil
	})
	return err
}

// Initialized reports whether Initialize has succeeded.
func (a *Adapter) Initialized() bool {
	return a.ready.Load()
}

func (a *Adapter) guard() error {
	if !a.ready.Load() {
		return ErrNotInitialized
	}
	return nil
}

// CompletePendingRedirect finishes a redirect-mode login if one is pending.
// It returns (nil, nil) when nothing is pending.
func (a *Adapter) CompletePendingRedirect(ctx context.Context) (*Account, error) {
	if err := a.guard(); err != nil {
		return nil, err
	}

	acc, err := a.client.HandleRedirect(ctx)
	if err != nil {
		return nil, &RedirectCompletionError{Err: err}
	}
	return acc, nil
}

// AcquireTokenSilent returns a token for account without user interaction.
// Errors are ErrInteractionRequired or *TransientError.
func (a *Adapter) AcquireTokenSilent(ctx context.Context, account Account, scopes []string) (Token, error) {
	if err := a.guard(); err != nil {
		return Token{}, err
	}

	tok, err := a.client.AcquireTokenSilent(ctx, account, scopes)
	if err != nil {
		return Token{}, a.normalize("acquire_token_silent", err)
	}
	return tok, nil
}

// SSOSilent authenticates silently without an account. Errors are
// ErrInteractionRequired or *TransientError.
func (a *Adapter) SSOSilent(ctx context.Context, scopes []string, loginHint string) (*Account, error) {
	if err := a.guard(); err != nil {
		return nil, err
	}

	acc, err := a.client.SSOSilent(ctx, scopes, loginHint)
	if err != nil {
		return nil, a.normalize("sso_silent", err)
	}
	if acc == nil {
		return nil, ErrInteractionRequired
	}
	return acc, nil
}

// LoginInteractive starts an interactive login. In redirect mode the error
// is ErrNavigatedAway.
func (a *Adapter) LoginInteractive(ctx context.Context, scopes []string, loginHint string) (*Account, error) {
	if err := a.guard(); err != nil {
		return nil, err
	}

	acc, err := a.client.LoginInteractive(ctx, scopes, loginHint)
	if err != nil {
		if errors.Is(err, ErrNavigatedAway) {
			return nil, ErrNavigatedAway
		}
		return nil, a.normalize("login_interactive", err)
	}
	return acc, nil
}

// Logout signs the active account out at the provider.
func (a *Adapter) Logout(ctx context.Context) error {
	if err := a.guard(); err != nil {
		return err
	}

	if err := a.client.Logout(ctx); err != nil {
		return &TransientError{Op: "logout", Err: err}
	}
	return nil
}

// Accounts lists every account the provider has cached.
func (a *Adapter) Accounts(ctx context.Context) ([]Account, error) {
	if err := a.guard(); err != nil {
		return nil, err
	}

	accs, err := a.client.Accounts(ctx)
	if err != nil {
		return nil, &TransientError{Op: "accounts", Err: err}
	}
	return accs, nil
}

// ActiveAccount returns the active account, or nil when none is set.
func (a *Adapter) ActiveAccount() (*Account, error) {
	if err := a.guard(); err != nil {
		return nil, err
	}
	return a.client.ActiveAccount(), nil
}

// SetActiveAccount marks account as the active one.
func (a *Adapter) SetActiveAccount(account Account) error {
	if err := a.guard(); err != nil {
		return err
	}
	if account.IsZero() {
		return ErrNoAccount
	}
	a.client.SetActiveAccount(account)
	return nil
}

// Subscribe registers handler for provider events. Handlers run on the
// provider's goroutine and must not block.
func (a *Adapter) Subscribe(handler func(ProviderEvent)) (func(), error) {
	if err := a.guard(); err != nil {
		return nil, err
	}
	return a.client.Subscribe(handler), nil
}

func (a *Adapter) normalize(op string, err error) error {
	switch {
	case errors.Is(err, ErrInteractionRequired):
		return ErrInteractionRequired
	case errors.Is(err, ErrNotInitialized):
		return err
	}

	var terr *TransientError
	if errors.As(err, &terr) {
		return terr
	}
	return &TransientError{Op: op, Err: err}
}
