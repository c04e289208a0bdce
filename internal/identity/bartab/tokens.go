package bartab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/aussiebroadwan/signon/internal/identity"
	"github.com/aussiebroadwan/signon/pkg/authsdk"
	"github.com/aussiebroadwan/signon/pkg/cryptox"
	"github.com/aussiebroadwan/signon/pkg/httpx"
	"github.com/aussiebroadwan/signon/pkg/jwtx"
)

func tokenKey(accountID string, scopes []string) string {
	s := slices.Clone(scopes)
	slices.Sort(s)
	return accountID + "|" + strings.Join(slices.Compact(s), " ")
}

// lastKey holds the most recent access token of an account for SSOSilent
// hints, whatever its scopes.
func lastKey(accountID string) string {
	return "last|" + accountID
}

// AcquireTokenSilent serves a cached access token while more than the
// renewal offset remains, and otherwise redeems the refresh token.
func (p *Provider) AcquireTokenSilent(ctx context.Context, account identity.Account, scopes []string) (identity.Token, error) {
	key := tokenKey(account.ID, scopes)
	if v, ok := p.tokens.Get(key); ok {
		return v.(identity.Token), nil
	}

	rt, err := p.refreshToken(ctx, account.ID)
	if err != nil {
		return identity.Token{}, err
	}
	if rt == "" {
		return identity.Token{}, fmt.Errorf("no refresh token for account: %w", identity.ErrInteractionRequired)
	}

	resp, err := p.sdk.RefreshGrant(ctx, p.cfg.ClientID, rt, scopes...)
	if err != nil {
		if authsdk.IsInteractionRequired(err) {
			return identity.Token{}, fmt.Errorf("refresh grant: %w: %w", identity.ErrInteractionRequired, err)
		}
		return identity.Token{}, fmt.Errorf("refresh grant: %w", err)
	}

	if resp.RefreshToken != "" && resp.RefreshToken != rt {
		if err := p.saveRefreshToken(ctx, account.ID, resp.RefreshToken); err != nil {
			return identity.Token{}, err
		}
		p.log.DebugContext(ctx, "refresh token rotated",
			slog.Any("account", account), slog.String("fingerprint", cryptox.FingerprintToken(resp.RefreshToken)))
	}

	tok := p.cacheToken(account, scopes, resp)
	p.emit(identity.EventTokenAcquired, &account)
	return tok, nil
}

// cacheToken builds the Token for resp and keeps it until RenewalOffset
// before it expires.
func (p *Provider) cacheToken(account identity.Account, requested []string, resp *authsdk.TokenResponse) identity.Token {
	granted := httpx.ParseSpaceDelimitedFields(resp.Scope)
	if len(granted) == 0 {
		granted = slices.Clone(requested)
	}

	tok := identity.Token{
		Value:   resp.AccessToken,
		Scopes:  granted,
		Account: account,
	}
	if resp.ExpiresIn > 0 {
		tok.ExpiresAt = p.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	ttl := cacheTTL(p.now(), tok.ExpiresAt, p.cfg.RenewalOffset)
	if ttl > 0 {
		p.tokens.Set(tokenKey(account.ID, requested), tok, ttl)
		p.tokens.Set(lastKey(account.ID), tok, ttl)
	}
	return tok
}

// cacheTTL is zero when the token is already inside the renewal window.
// Tokens without an expiry are cached for one renewal offset.
func cacheTTL(now, expiresAt time.Time, offset time.Duration) time.Duration {
	if expiresAt.IsZero() {
		return offset
	}
	return max(expiresAt.Sub(now)-offset, 0)
}

func (p *Provider) lastAccessToken(accountID string) string {
	if v, ok := p.tokens.Get(lastKey(accountID)); ok {
		return v.(identity.Token).Value
	}
	return ""
}

func (p *Provider) dropTokens(accountID string) {
	prefix := accountID + "|"
	for k := range p.tokens.Items() {
		if strings.HasPrefix(k, prefix) {
			p.tokens.Delete(k)
		}
	}
	p.tokens.Delete(lastKey(accountID))
}

// accountFor derives the account a token response belongs to, preferring
// the ID token. Signatures are checked against the authority's JWKS.
func (p *Provider) accountFor(ctx context.Context, resp *authsdk.TokenResponse) (identity.Account, error) {
	raw := resp.IDToken
	if raw == "" {
		raw = resp.AccessToken
	}

	claims, err := p.verify(ctx, raw)
	if err != nil {
		return identity.Account{}, err
	}
	if claims.Subject == "" {
		return identity.Account{}, errors.New("token has no subject")
	}

	acc := identity.Account{
		ID:       claims.Subject,
		Name:     claims.DisplayName(),
		Username: claims.Login(),
		TenantID: claims.TenantID,
	}
	if acc.Username == "" {
		acc.Username = claims.Email
	}
	if acc.TenantID != "" {
		acc.ID = claims.Subject + "." + claims.TenantID
	}
	return acc, nil
}

// verify refreshes the key set once when the token names an unknown kid.
// When the authority publishes no usable JWKS the claims are decoded
// unverified; the token came straight from the token endpoint.
func (p *Provider) verify(ctx context.Context, raw string) (jwtx.Claims, error) {
	claims, err := p.verifier.Verify(raw)
	if err == nil || !errors.Is(err, jwtx.ErrUnknownKID) {
		return claims, err
	}

	jwks, ferr := p.sdk.GetJWKS(ctx)
	if ferr == nil {
		ferr = p.keys.ResetFromJWKS(*jwks)
	}
	if ferr != nil {
		p.log.WarnContext(ctx, "jwks unavailable, decoding token unverified", slog.String("error", ferr.Error()))
		return jwtx.ParseUnverified(raw)
	}
	return p.verifier.Verify(raw)
}
