package bartab_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/signon/pkg/authsdk"
	"github.com/aussiebroadwan/signon/pkg/httpx"
	"github.com/aussiebroadwan/signon/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const ssoSession = "sso-ok"

type issuedCode struct {
	challenge   string
	redirectURI string
}

// fakeIdP is a minimal BarTab authority: authorize (session cookie or
// bearer), token (authorization_code, refresh_token), revoke, JWKS, livez.
type fakeIdP struct {
	t    *testing.T
	srv  *httptest.Server
	priv ed25519.PrivateKey
	jwks jwtx.JWKS

	mu        sync.Mutex
	n         int
	codes     map[string]issuedCode
	refresh   map[string]bool // token -> live
	refreshes int
	revoked   []string
	tokenTTL  time.Duration
	fail      bool
}

func newIdP(t *testing.T) *fakeIdP {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	f := &fakeIdP{
		t:        t,
		priv:     priv,
		jwks:     jwtx.JWKS{Keys: []jwtx.JWK{jwtx.NewEd25519JWK("k1", "sig", "EdDSA", pub)}},
		codes:    make(map[string]issuedCode),
		refresh:  make(map[string]bool),
		tokenTTL: time.Hour,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/oauth2/authorize", f.authorize)
	mux.HandleFunc("POST /v1/oauth2/token", f.token)
	mux.HandleFunc("POST /v1/oauth2/revoke", f.revoke)
	mux.HandleFunc("GET /.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, f.jwks)
	})
	mux.HandleFunc("GET /livez", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, authsdk.HealthResponse{Status: "ok"})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeIdP) next(prefix string) string {
	f.n++
	return fmt.Sprintf("%s-%d", prefix, f.n)
}

func (f *fakeIdP) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c, _ := r.Cookie(authsdk.DefaultSessionCookie)
	authed := (c != nil && c.Value == ssoSession) || r.Header.Get("Authorization") != ""
	if !authed {
		// Interactive users always "sign in" in this fake, unless the
		// request asks not to be prompted.
		if q.Get("prompt") == "none" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	f.mu.Lock()
	code := f.next("code")
	f.codes[code] = issuedCode{challenge: q.Get("code_challenge"), redirectURI: q.Get("redirect_uri")}
	f.mu.Unlock()

	target := q.Get("redirect_uri") + "?" + url.Values{"code": {code}, "state": {q.Get("state")}}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

func (f *fakeIdP) token(w http.ResponseWriter, r *http.Request) {
	require.NoError(f.t, r.ParseForm())

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		httpx.WriteError(w, http.StatusServiceUnavailable, authsdk.ErrorCodeTemporarily, "down")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		issued, ok := f.codes[r.PostForm.Get("code")]
		delete(f.codes, r.PostForm.Get("code"))
		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		if !ok || issued.redirectURI != r.PostForm.Get("redirect_uri") ||
			base64.RawURLEncoding.EncodeToString(sum[:]) != issued.challenge {
			httpx.WriteError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidGrant, "bad code")
			return
		}
	case "refresh_token":
		rt := r.PostForm.Get("refresh_token")
		if !f.refresh[rt] {
			httpx.WriteError(w, http.StatusBadRequest, authsdk.ErrorCodeInvalidGrant, "refresh token revoked")
			return
		}
		delete(f.refresh, rt)
		f.refreshes++
	default:
		httpx.WriteError(w, http.StatusBadRequest, "unsupported_grant_type", "")
		return
	}

	rt := f.next("rt")
	f.refresh[rt] = true
	httpx.WriteJSON(w, http.StatusOK, authsdk.TokenResponse{
		AccessToken:  f.sign(f.next("at")),
		RefreshToken: rt,
		TokenType:    "Bearer",
		ExpiresIn:    int(f.tokenTTL.Seconds()),
		Scope:        r.PostForm.Get("scope"),
	})
}

func (f *fakeIdP) revoke(w http.ResponseWriter, r *http.Request) {
	require.NoError(f.t, r.ParseForm())
	f.mu.Lock()
	rt := r.PostForm.Get("token")
	delete(f.refresh, rt)
	f.revoked = append(f.revoked, rt)
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (f *fakeIdP) sign(jti string) string {
	now := time.Now()
	claims := jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(f.tokenTTL)),
		},
		Username:      "ada",
		PreferredName: "Ada Lovelace",
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = "k1"
	s, err := tok.SignedString(f.priv)
	require.NoError(f.t, err)
	return s
}

func (f *fakeIdP) setTTL(d time.Duration) {
	f.mu.Lock()
	f.tokenTTL = d
	f.mu.Unlock()
}

func (f *fakeIdP) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeIdP) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

func (f *fakeIdP) revokedTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.revoked...)
}

// browse follows the authorize URL like a browser would, without following
// the final redirect, and returns the callback URL.
func browse(t *testing.T, authURL string) string {
	t.Helper()

	hc := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := hc.Get(authURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	return resp.Header.Get("Location")
}
