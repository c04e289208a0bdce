package identity

import "context"

// EventKind names a provider-side event.
type EventKind int

const (
	EventLoginSuccess EventKind = iota + 1
	EventTokenAcquired
	EventLogoutSuccess
	// EventInteractionIdle fires when the provider finishes any interactive
	// or redirect handshake and returns to idle.
	EventInteractionIdle
)

func (k EventKind) String() string {
	switch k {
	case EventLoginSuccess:
		return "login_success"
	case EventTokenAcquired:
		return "acquire_token_success"
	case EventLogoutSuccess:
		return "logout_success"
	case EventInteractionIdle:
		return "interaction_idle"
	default:
		return "unknown"
	}
}

// ProviderEvent is emitted by a Client. Account is set for login and token
// events.
type ProviderEvent struct {
	Kind    EventKind
	Account *Account
}

// Client is the capability surface of an identity provider's client
// library. Implementations may call Subscribe handlers from any goroutine.
type Client interface {
	Initialize(ctx context.Context) error

	// HandleRedirect completes an interactive login that left the process
	// (redirect mode). It returns nil when nothing is pending.
	HandleRedirect(ctx context.Context) (*Account, error)

	AcquireTokenSilent(ctx context.Context, account Account, scopes []string) (Token, error)

	// SSOSilent authenticates without an account using the provider's
	// session. loginHint may be empty.
	SSOSilent(ctx context.Context, scopes []string, loginHint string) (*Account, error)

	// LoginInteractive may block until the user finishes. In redirect mode
	// it returns ErrNavigatedAway.
	LoginInteractive(ctx context.Context, scopes []string, loginHint string) (*Account, error)

	Logout(ctx context.Context) error

	Accounts(ctx context.Context) ([]Account, error)
	ActiveAccount() *Account
	SetActiveAccount(account Account)

	Subscribe(handler func(ProviderEvent)) (cancel func())
}
