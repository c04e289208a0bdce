package bartab

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/aussiebroadwan/signon/internal/identity"
	"github.com/aussiebroadwan/signon/pkg/authsdk"
)

var errLoopbackOnly = errors.New("popup mode needs an http loopback redirect uri")

// popup serves the redirect URI on loopback, opens the authorize URL and
// waits for the browser to come back.
func (p *Provider) popup(ctx context.Context, authURL, state, verifier string, scopes []string) (*identity.Account, error) {
	defer p.emit(identity.EventInteractionIdle, nil)

	redirect, err := url.Parse(p.cfg.RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("parse redirect uri: %w", err)
	}
	if redirect.Scheme != "http" || !isLoopback(redirect.Hostname()) {
		return nil, errLoopbackOnly
	}

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("listen on redirect uri: %w", err)
	}

	callbacks := make(chan string, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath(redirect), func(w http.ResponseWriter, r *http.Request) {
		select {
		case callbacks <- p.cfg.RedirectURI + "?" + r.URL.RawQuery:
		default:
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Sign-in complete. You can close this window.\n"))
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := p.opener.Open(ctx, authURL); err != nil {
		return nil, fmt.Errorf("open authorize url: %w", err)
	}

	var callback string
	select {
	case callback = <-callbacks:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	code, got, err := authsdk.ParseAuthorizationCallback(callback)
	if err != nil {
		return nil, err
	}
	if got != state {
		return nil, errors.New("callback state does not match the login request")
	}

	acc, err := p.redeem(ctx, code, p.cfg.RedirectURI, verifier, scopes)
	if err != nil {
		return nil, err
	}

	p.SetActiveAccount(acc)
	p.emit(identity.EventLoginSuccess, &acc)
	return &acc, nil
}

func callbackPath(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
