package userinfo

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aussiebroadwan/signon/internal/identity"
	"github.com/aussiebroadwan/signon/internal/metrics"
	"github.com/aussiebroadwan/signon/pkg/slogx"
)

// TokenSource hands out access tokens. *session.Orchestrator satisfies it.
type TokenSource interface {
	AccessToken(ctx context.Context, scopes ...string) (identity.Token, error)
}

// DefaultAPIMarker is the substring that marks a URL as an API endpoint.
const DefaultAPIMarker = "api"

// BearerTransport attaches the session's access token to API requests.
//
// Requests to the identity provider itself and URLs that are neither a
// protected resource nor contain the API marker pass through untouched. A
// missing token never fails the request: it goes out unauthenticated and the
// server decides.
type BearerTransport struct {
	Base   http.RoundTripper
	Tokens TokenSource

	// SkipHosts are identity provider hosts.
	SkipHosts []string

	// APIMarker defaults to DefaultAPIMarker.
	APIMarker string

	// Protected maps URL prefixes to the scopes their tokens need. The
	// longest matching prefix wins; nil scopes mean the session default.
	Protected map[string][]string
}

func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	scopes, ok := t.match(req.URL)
	if !ok || req.Header.Get("Authorization") != "" {
		return base.RoundTrip(req)
	}

	tok, err := t.Tokens.AccessToken(req.Context(), scopes...)
	if err != nil || tok.IsZero() {
		log := slogx.FromContext(req.Context())
		if err != nil {
			log.Debug("sending request without token", "host", req.URL.Host, "error", err.Error())
		}
		return base.RoundTrip(req)
	}

	// RoundTrippers must not modify the caller's request.
	authed := req.Clone(req.Context())
	authed.Header.Set("Authorization", "Bearer "+tok.Value)
	return base.RoundTrip(authed)
}

// match reports whether u should carry a token, and with which scopes.
func (t *BearerTransport) match(u *url.URL) ([]string, bool) {
	host := strings.ToLower(u.Hostname())
	for _, h := range t.SkipHosts {
		if strings.EqualFold(h, host) {
			return nil, false
		}
	}

	raw := u.String()
	best, found := "", false
	for prefix := range t.Protected {
		if strings.HasPrefix(raw, prefix) && len(prefix) >= len(best) {
			best, found = prefix, true
		}
	}
	if found {
		return t.Protected[best], true
	}

	marker := t.APIMarker
	if marker == "" {
		marker = DefaultAPIMarker
	}
	return nil, strings.Contains(raw, marker)
}

// InstrumentedTransport records latency per host and status.
type InstrumentedTransport struct {
	Base http.RoundTripper
}

func (t *InstrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	start := time.Now()
	resp, err := base.RoundTrip(req)
	status := 0
	if err == nil {
		status = resp.StatusCode
	}
	metrics.ObserveUpstream(req.URL.Host, status, time.Since(start))
	return resp, err
}
