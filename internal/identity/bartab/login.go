package bartab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/signon/internal/identity"
	"github.com/aussiebroadwan/signon/internal/store"
	"github.com/aussiebroadwan/signon/pkg/authsdk"
	"github.com/aussiebroadwan/signon/pkg/idx"
)

// SSOSilent asks the authority for a code using the configured SSO session
// and, when loginHint names a known account, that account's last access
// token. No session at the authority means interaction is required.
func (p *Provider) SSOSilent(ctx context.Context, scopes []string, loginHint string) (*identity.Account, error) {
	var accessToken string
	if loginHint != "" {
		if acc, ok := p.accountByUsername(loginHint); ok {
			accessToken = p.lastAccessToken(acc.ID)
		}
	}
	if accessToken == "" && p.cfg.SSOSession == "" {
		return nil, fmt.Errorf("no sso session: %w", identity.ErrInteractionRequired)
	}

	pkce, err := authsdk.GeneratePKCEChallenge()
	if err != nil {
		return nil, err
	}

	code, err := p.sdk.AuthorizeViaRedirect(ctx,
		accessToken, p.cfg.SSOSession,
		p.cfg.ClientID, p.cfg.RedirectURI,
		scopes, pkce,
		authsdk.WithLoginHint(loginHint),
		authsdk.WithPrompt("none"),
	)
	if err != nil {
		if authsdk.IsInteractionRequired(err) {
			return nil, fmt.Errorf("authorize: %w: %w", identity.ErrInteractionRequired, err)
		}
		return nil, fmt.Errorf("authorize: %w", err)
	}

	acc, err := p.redeem(ctx, code, p.cfg.RedirectURI, pkce.Verifier, scopes)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// LoginInteractive sends the user to the authorize endpoint. In redirect
// mode the pending request is stored and ErrNavigatedAway returned; in
// popup mode the call blocks until the loopback callback arrives or ctx
// ends.
func (p *Provider) LoginInteractive(ctx context.Context, scopes []string, loginHint string) (*identity.Account, error) {
	if p.opener == nil {
		return nil, errors.New("no opener configured for interactive login")
	}

	pkce, err := authsdk.GeneratePKCEChallenge()
	if err != nil {
		return nil, err
	}
	state := idx.New().String()
	authURL := p.sdk.BuildAuthorizeURL(p.cfg.ClientID, p.cfg.RedirectURI, state, scopes, pkce,
		authsdk.WithLoginHint(loginHint))

	if p.cfg.Mode == InteractionPopup {
		return p.popup(ctx, authURL, state, pkce.Verifier, scopes)
	}

	err = p.store.Pending().SavePending(ctx, store.PendingRequest{
		State:        state,
		CodeVerifier: pkce.Verifier,
		RedirectURI:  p.cfg.RedirectURI,
		Scopes:       scopes,
		LoginHint:    loginHint,
		ExpiresAt:    p.now().Add(store.PendingTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("save pending login: %w", err)
	}

	if err := p.opener.Open(ctx, authURL); err != nil {
		return nil, fmt.Errorf("open authorize url: %w", err)
	}
	p.log.InfoContext(ctx, "interactive login started", slog.String("mode", string(p.cfg.Mode)))
	return nil, identity.ErrNavigatedAway
}

// HandleRedirect completes a redirect-mode login from the callback URL set
// by SetCallbackURL. It returns (nil, nil) when there is none.
func (p *Provider) HandleRedirect(ctx context.Context) (*identity.Account, error) {
	p.mu.Lock()
	callback := p.callback
	p.callback = ""
	p.mu.Unlock()

	if callback == "" {
		return nil, nil
	}
	defer p.emit(identity.EventInteractionIdle, nil)

	code, state, err := authsdk.ParseAuthorizationCallback(callback)
	if err != nil {
		return nil, err
	}
	if _, err := idx.Parse(state); err != nil {
		return nil, fmt.Errorf("malformed callback state: %w", err)
	}

	pending, err := p.store.Pending().TakePending(ctx, state)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errors.New("callback state is unknown or expired")
	}
	if err != nil {
		return nil, fmt.Errorf("load pending login: %w", err)
	}

	acc, err := p.redeem(ctx, code, pending.RedirectURI, pending.CodeVerifier, pending.Scopes)
	if err != nil {
		return nil, err
	}

	p.SetActiveAccount(acc)
	p.emit(identity.EventLoginSuccess, &acc)
	return &acc, nil
}

// redeem exchanges an authorization code and remembers the account it
// belongs to.
func (p *Provider) redeem(ctx context.Context, code, redirectURI, verifier string, scopes []string) (identity.Account, error) {
	resp, err := p.sdk.ExchangeAuthorizationCode(ctx, p.cfg.ClientID, "", code, redirectURI, verifier)
	if err != nil {
		if authsdk.IsInteractionRequired(err) {
			return identity.Account{}, fmt.Errorf("exchange code: %w: %w", identity.ErrInteractionRequired, err)
		}
		return identity.Account{}, fmt.Errorf("exchange code: %w", err)
	}

	acc, err := p.accountFor(ctx, resp)
	if err != nil {
		return identity.Account{}, fmt.Errorf("read token claims: %w", err)
	}
	if err := p.remember(ctx, acc, resp.RefreshToken); err != nil {
		return identity.Account{}, err
	}
	p.cacheToken(acc, scopes, resp)
	return acc, nil
}

// Logout revokes the active account's refresh token and forgets the
// account. Revocation failures are logged; the local sign-out still
// happens.
func (p *Provider) Logout(ctx context.Context) error {
	acc := p.ActiveAccount()
	if acc != nil {
		rt, err := p.refreshToken(ctx, acc.ID)
		if err != nil {
			return err
		}
		if rt != "" {
			if err := p.sdk.RevokeToken(ctx, p.cfg.ClientID, rt); err != nil {
				p.log.WarnContext(ctx, "revoke refresh token failed", slog.String("error", err.Error()))
			}
		}
		if err := p.forget(ctx, acc.ID); err != nil {
			return err
		}
	}

	p.emit(identity.EventLogoutSuccess, acc)

	if p.cfg.PostLogoutRedirectURI != "" && p.opener != nil {
		if err := p.opener.Open(ctx, p.cfg.PostLogoutRedirectURI); err != nil {
			p.log.WarnContext(ctx, "open post-logout uri failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (p *Provider) accountByUsername(username string) (identity.Account, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.accounts {
		if a.Username == username {
			return a, true
		}
	}
	return identity.Account{}, false
}
