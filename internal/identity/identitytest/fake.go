// Package identitytest provides a scriptable identity.Client for tests.
package identitytest

import (
	"context"
	"sync"

	"github.com/aussiebroadwan/signon/internal/identity"
)

// Fake is an in-memory identity.Client. Set the hook fields before handing
// it out; every method counts its calls.
type Fake struct {
	InitErr error

	// Redirect is returned once by HandleRedirect, then cleared.
	Redirect    *identity.Account
	RedirectErr error

	SilentFn      func(ctx context.Context, account identity.Account, scopes []string) (identity.Token, error)
	SSOFn         func(ctx context.Context, scopes []string, loginHint string) (*identity.Account, error)
	InteractiveFn func(ctx context.Context, scopes []string, loginHint string) (*identity.Account, error)
	LogoutErr     error

	mu       sync.Mutex
	accounts []identity.Account
	active   *identity.Account
	calls    map[string]int
	hints    []string
	subs     map[int]func(identity.ProviderEvent)
	nextSub  int
}

var _ identity.Client = (*Fake)(nil)

// New returns a Fake with the given cached accounts and no active account.
func New(accounts ...identity.Account) *Fake {
	return &Fake{
		accounts: accounts,
		calls:    make(map[string]int),
		subs:     make(map[int]func(identity.ProviderEvent)),
	}
}

func (f *Fake) count(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Hints returns the login hints passed to SSOSilent, in order.
func (f *Fake) Hints() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.hints...)
}

// AddAccount caches acc as if the provider had signed it in.
func (f *Fake) AddAccount(acc identity.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.ID == acc.ID {
			return
		}
	}
	f.accounts = append(f.accounts, acc)
}

// Emit delivers ev to every subscriber synchronously.
func (f *Fake) Emit(ev identity.ProviderEvent) {
	f.mu.Lock()
	handlers := make([]func(identity.ProviderEvent), 0, len(f.subs))
	for _, h := range f.subs {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Subscribers returns the number of live subscriptions.
func (f *Fake) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Fake) Initialize(ctx context.Context) error {
	f.count("Initialize")
	return f.InitErr
}

func (f *Fake) HandleRedirect(ctx context.Context) (*identity.Account, error) {
	f.count("HandleRedirect")
	f.mu.Lock()
	acc, err := f.Redirect, f.RedirectErr
	f.Redirect = nil
	f.mu.Unlock()

	if acc != nil {
		f.AddAccount(*acc)
	}
	return acc, err
}

func (f *Fake) AcquireTokenSilent(ctx context.Context, account identity.Account, scopes []string) (identity.Token, error) {
	f.count("AcquireTokenSilent")
	if f.SilentFn == nil {
		return identity.Token{}, identity.ErrInteractionRequired
	}
	return f.SilentFn(ctx, account, scopes)
}

func (f *Fake) SSOSilent(ctx context.Context, scopes []string, loginHint string) (*identity.Account, error) {
	f.count("SSOSilent")
	f.mu.Lock()
	f.hints = append(f.hints, loginHint)
	f.mu.Unlock()

	if f.SSOFn == nil {
		return nil, identity.ErrInteractionRequired
	}
	acc, err := f.SSOFn(ctx, scopes, loginHint)
	if acc != nil {
		f.AddAccount(*acc)
	}
	return acc, err
}

func (f *Fake) LoginInteractive(ctx context.Context, scopes []string, loginHint string) (*identity.Account, error) {
	f.count("LoginInteractive")
	if f.InteractiveFn == nil {
		return nil, identity.ErrNavigatedAway
	}
	acc, err := f.InteractiveFn(ctx, scopes, loginHint)
	if acc != nil {
		f.AddAccount(*acc)
	}
	return acc, err
}

func (f *Fake) Logout(ctx context.Context) error {
	f.count("Logout")
	if f.LogoutErr != nil {
		return f.LogoutErr
	}
	f.mu.Lock()
	f.accounts = nil
	f.active = nil
	f.mu.Unlock()
	return nil
}

func (f *Fake) Accounts(ctx context.Context) ([]identity.Account, error) {
	f.count("Accounts")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]identity.Account(nil), f.accounts...), nil
}

func (f *Fake) ActiveAccount() *identity.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return nil
	}
	acc := *f.active
	return &acc
}

func (f *Fake) SetActiveAccount(account identity.Account) {
	f.count("SetActiveAccount")
	f.mu.Lock()
	f.active = &account
	f.mu.Unlock()
}

func (f *Fake) Subscribe(handler func(identity.ProviderEvent)) func() {
	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = handler
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}
