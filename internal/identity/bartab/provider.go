// Package bartab is an identity.Client for BarTab-compatible OAuth2
// servers, built on pkg/authsdk. Accounts, the active account, sealed
// refresh tokens and pending interactive logins live in a store.Store;
// access tokens are only ever held in memory.
package bartab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aussiebroadwan/signon/internal/identity"
	"github.com/aussiebroadwan/signon/internal/store"
	"github.com/aussiebroadwan/signon/pkg/authsdk"
	"github.com/aussiebroadwan/signon/pkg/cryptox"
	"github.com/aussiebroadwan/signon/pkg/idx"
	"github.com/aussiebroadwan/signon/pkg/jwtx"
	"github.com/aussiebroadwan/signon/pkg/slogx"
	"github.com/patrickmn/go-cache"
)

// SealPurpose is the HKDF purpose refresh tokens are sealed under.
const SealPurpose = "signon/refresh-token"

// Opener shows an authorize URL to the user, usually by launching a
// browser or printing the link.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, url string) error

func (f OpenerFunc) Open(ctx context.Context, url string) error { return f(ctx, url) }

// Provider implements identity.Client.
type Provider struct {
	cfg    Config
	sdk    *authsdk.SDKClient
	store  store.Store
	sealer *cryptox.Sealer
	opener Opener
	log    *slog.Logger
	now    func() time.Time

	keys     *jwtx.KeySet
	verifier *jwtx.Verifier

	// tokens holds access tokens keyed by account and scope set. Entries
	// expire RenewalOffset before the token does.
	tokens *cache.Cache

	mu       sync.Mutex
	accounts []identity.Account
	active   *identity.Account
	callback string
	subs     map[string]func(identity.ProviderEvent)
}

var _ identity.Client = (*Provider)(nil)

// New builds a Provider. Nothing touches the network or the store until
// Initialize.
func New(cfg Config, st store.Store, sealer *cryptox.Sealer, opener Opener, log *slog.Logger) *Provider {
	log = slogx.OrDiscard(log).With(slog.String("component", "bartab"))

	sdk := authsdk.NewSDKClient(cfg.Authority)
	sdk.HTTPClient.Transport = &slogx.Transport{Logger: log}

	keys := jwtx.NewKeySet()
	return &Provider{
		cfg:      cfg,
		sdk:      sdk,
		store:    st,
		sealer:   sealer,
		opener:   opener,
		log:      log,
		now:      time.Now,
		keys:     keys,
		verifier: jwtx.NewVerifier(keys, jwtx.VerifyOptions{Leeway: 30 * time.Second}),
		tokens:   cache.New(cache.NoExpiration, 10*time.Minute),
		subs:     make(map[string]func(identity.ProviderEvent)),
	}
}

// Initialize validates the configuration and loads the cached accounts.
func (p *Provider) Initialize(ctx context.Context) error {
	if err := p.cfg.validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if p.store == nil || p.sealer == nil {
		return errors.New("store and sealer are required")
	}

	accs, err := p.store.Accounts().ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}

	var active *identity.Account
	id, err := p.store.Accounts().ActiveAccountID(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load active account: %w", err)
	default:
		for _, a := range accs {
			if a.ID == id {
				active = &a
				break
			}
		}
	}

	p.mu.Lock()
	p.accounts, p.active = accs, active
	p.mu.Unlock()

	p.log.DebugContext(ctx, "provider initialized",
		slog.Int("accounts", len(accs)),
		slog.String("mode", string(p.cfg.Mode)),
		slog.Bool("auto_broker", p.cfg.AutoBroker))
	return nil
}

// Ping checks that the authority answers.
func (p *Provider) Ping(ctx context.Context) error {
	_, err := p.sdk.GetLiveness(ctx)
	return err
}

// SetHTTPClient replaces the client used to reach the authority.
func (p *Provider) SetHTTPClient(hc *http.Client) {
	p.sdk.HTTPClient = hc
}

// SetCallbackURL records the URL the browser was sent back to after a
// redirect-mode login. The next HandleRedirect consumes it.
func (p *Provider) SetCallbackURL(u string) {
	p.mu.Lock()
	p.callback = u
	p.mu.Unlock()
}

func (p *Provider) Accounts(ctx context.Context) ([]identity.Account, error) {
	accs, err := p.store.Accounts().ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.accounts = accs
	p.mu.Unlock()
	return append([]identity.Account(nil), accs...), nil
}

func (p *Provider) ActiveAccount() *identity.Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return nil
	}
	acc := *p.active
	return &acc
}

func (p *Provider) SetActiveAccount(account identity.Account) {
	p.mu.Lock()
	p.active = &account
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.Accounts().SetActiveAccountID(ctx, account.ID); err != nil {
		p.log.Warn("persist active account failed",
			slog.String("account_id", account.ID),
			slog.String("error", err.Error()))
	}
}

func (p *Provider) Subscribe(handler func(identity.ProviderEvent)) func() {
	id := idx.New().String()

	p.mu.Lock()
	p.subs[id] = handler
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// emit runs every handler on the calling goroutine. It must be called
// without p.mu held.
func (p *Provider) emit(kind identity.EventKind, acc *identity.Account) {
	p.mu.Lock()
	handlers := make([]func(identity.ProviderEvent), 0, len(p.subs))
	for _, h := range p.subs {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	ev := identity.ProviderEvent{Kind: kind}
	if acc != nil {
		a := *acc
		ev.Account = &a
	}
	for _, h := range handlers {
		h(ev)
	}
}

// remember saves acc and its refresh token and adds it to the account list.
func (p *Provider) remember(ctx context.Context, acc identity.Account, refreshToken string) error {
	if err := p.store.Accounts().SaveAccount(ctx, acc); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	if refreshToken != "" {
		if err := p.saveRefreshToken(ctx, acc.ID, refreshToken); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i, a := range p.accounts {
		if a.ID == acc.ID {
			p.accounts[i] = acc
			return nil
		}
	}
	p.accounts = append(p.accounts, acc)
	return nil
}

func (p *Provider) forget(ctx context.Context, id string) error {
	if err := p.store.Accounts().DeleteAccount(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete account: %w", err)
	}
	p.dropTokens(id)

	p.mu.Lock()
	defer p.mu.Unlock()
	for i, a := range p.accounts {
		if a.ID == id {
			p.accounts = append(p.accounts[:i:i], p.accounts[i+1:]...)
			break
		}
	}
	if p.active != nil && p.active.ID == id {
		p.active = nil
	}
	return nil
}

func (p *Provider) saveRefreshToken(ctx context.Context, accountID, rt string) error {
	sealed, err := p.sealer.Seal([]byte(rt), []byte(accountID))
	if err != nil {
		return fmt.Errorf("seal refresh token: %w", err)
	}
	if err := p.store.RefreshTokens().SaveRefreshToken(ctx, accountID, sealed); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// refreshToken returns "" when the account has no usable refresh token. A
// token sealed under a different (ephemeral) key counts as missing.
func (p *Provider) refreshToken(ctx context.Context, accountID string) (string, error) {
	sealed, err := p.store.RefreshTokens().GetRefreshToken(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load refresh token: %w", err)
	}

	rt, err := p.sealer.Open(sealed, []byte(accountID))
	if err != nil {
		p.log.WarnContext(ctx, "refresh token unreadable", slog.String("account_id", accountID))
		return "", nil
	}
	return string(rt), nil
}
