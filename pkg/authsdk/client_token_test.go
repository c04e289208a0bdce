package authsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestRefreshGrant(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/oauth2/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		require.Equal(t, "cli", r.PostForm.Get("client_id"))

		switch r.PostForm.Get("refresh_token") {
		case "good":
			require.Equal(t, "profile:read", r.PostForm.Get("scope"))
			writeJSON(w, http.StatusOK, TokenResponse{
				AccessToken:  "at",
				RefreshToken: "rt2",
				TokenType:    "Bearer",
				ExpiresIn:    900,
				Scope:        "profile:read",
			})
		case "dead":
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorCodeInvalidGrant, ErrorDescription: "revoked"})
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	t.Cleanup(srv.Close)

	client := NewSDKClient(srv.URL + "/")
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		tok, err := client.RefreshGrant(ctx, "cli", "good", "profile:read")
		require.NoError(t, err)
		require.Equal(t, "at", tok.AccessToken)
		require.Equal(t, "rt2", tok.RefreshToken)
		require.Equal(t, 900, tok.ExpiresIn)
	})

	t.Run("invalid grant requires interaction", func(t *testing.T) {
		_, err := client.RefreshGrant(ctx, "cli", "dead")
		require.Error(t, err)

		var oerr *OAuth2Error
		require.True(t, errors.As(err, &oerr))
		require.Equal(t, http.StatusBadRequest, oerr.StatusCode)
		require.Equal(t, ErrorCodeInvalidGrant, oerr.Code)
		require.True(t, IsInteractionRequired(err))
	})

	t.Run("bad gateway is transient", func(t *testing.T) {
		_, err := client.RefreshGrant(ctx, "cli", "other")
		require.Error(t, err)
		require.False(t, IsInteractionRequired(err))

		var oerr *OAuth2Error
		require.True(t, errors.As(err, &oerr))
		require.Equal(t, ErrorCodeServerError, oerr.Code)
	})
}

func TestExchangeAuthorizationCode(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		require.Equal(t, "the-code", r.PostForm.Get("code"))
		require.Equal(t, "verifier", r.PostForm.Get("code_verifier"))
		require.Equal(t, "http://127.0.0.1/cb", r.PostForm.Get("redirect_uri"))
		require.Empty(t, r.PostForm.Get("client_secret"))
		writeJSON(w, http.StatusOK, TokenResponse{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 60})
	}))
	t.Cleanup(srv.Close)

	tok, err := NewSDKClient(srv.URL).ExchangeAuthorizationCode(
		context.Background(), "cli", "", "the-code", "http://127.0.0.1/cb", "verifier")
	require.NoError(t, err)
	require.Equal(t, "rt", tok.RefreshToken)
}

func TestRevokeToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/oauth2/revoke", r.URL.Path)
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("token") == "bad-client" {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: ErrorCodeInvalidClient})
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	client := NewSDKClient(srv.URL)
	require.NoError(t, client.RevokeToken(context.Background(), "cli", "rt"))

	err := client.RevokeToken(context.Background(), "cli", "bad-client")
	var oerr *OAuth2Error
	require.True(t, errors.As(err, &oerr))
	require.Equal(t, ErrorCodeInvalidClient, oerr.Code)
}

func TestAuthorizeViaRedirect(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/oauth2/authorize", r.URL.Path)
		redirect, err := url.Parse(r.URL.Query().Get("redirect_uri"))
		require.NoError(t, err)

		cookie, err := r.Cookie(DefaultSessionCookie)
		switch {
		case err == nil && cookie.Value == "sso":
			q := redirect.Query()
			q.Set("code", "code-123")
			redirect.RawQuery = q.Encode()
			http.Redirect(w, r, redirect.String(), http.StatusFound)
		case r.Header.Get("Authorization") == "Bearer consent":
			q := redirect.Query()
			q.Set("error", ErrorCodeConsentRequired)
			redirect.RawQuery = q.Encode()
			http.Redirect(w, r, redirect.String(), http.StatusFound)
		case r.URL.Query().Get("prompt") == "none":
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorCodeLoginRequired})
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	t.Cleanup(srv.Close)

	client := NewSDKClient(srv.URL)
	ctx := context.Background()
	pkce, err := GeneratePKCEChallenge()
	require.NoError(t, err)

	t.Run("session cookie yields code", func(t *testing.T) {
		code, err := client.AuthorizeViaRedirect(ctx, "", "sso", "cli", "http://127.0.0.1/cb", nil, pkce)
		require.NoError(t, err)
		require.Equal(t, "code-123", code)
	})

	t.Run("no session is login required", func(t *testing.T) {
		_, err := client.AuthorizeViaRedirect(ctx, "", "", "cli", "http://127.0.0.1/cb", nil, pkce)
		require.True(t, IsInteractionRequired(err))
	})

	t.Run("prompt none error body", func(t *testing.T) {
		_, err := client.AuthorizeViaRedirect(ctx, "", "", "cli", "http://127.0.0.1/cb", nil, pkce, WithPrompt("none"))
		var oerr *OAuth2Error
		require.True(t, errors.As(err, &oerr))
		require.Equal(t, ErrorCodeLoginRequired, oerr.Code)
	})

	t.Run("error on redirect", func(t *testing.T) {
		_, err := client.AuthorizeViaRedirect(ctx, "consent", "", "cli", "http://127.0.0.1/cb", nil, pkce)
		var oerr *OAuth2Error
		require.True(t, errors.As(err, &oerr))
		require.Equal(t, ErrorCodeConsentRequired, oerr.Code)
		require.True(t, IsInteractionRequired(err))
	})
}

func TestIsInteractionRequired(t *testing.T) {
	t.Parallel()

	require.False(t, IsInteractionRequired(nil))
	require.False(t, IsInteractionRequired(errors.New("dial tcp: refused")))
	require.False(t, IsInteractionRequired(NewOAuth2Error(503, ErrorCodeTemporarily, "")))
	require.True(t, IsInteractionRequired(NewOAuth2Error(400, ErrorCodeInteractionRequired, "")))
}

func TestGetJWKSAndLiveness(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/jwks.json":
			writeJSON(w, http.StatusOK, map[string]any{"keys": []map[string]string{{"kty": "OKP", "kid": "k1", "crv": "Ed25519", "x": "AA"}}})
		case "/livez":
			writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	client := NewSDKClient(srv.URL)

	jwks, err := client.GetJWKS(context.Background())
	require.NoError(t, err)
	require.Len(t, jwks.Keys, 1)
	require.Equal(t, "k1", jwks.Keys[0].Kid)

	health, err := client.GetLiveness(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ok", health.Status)
}
