package authsdk

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aussiebroadwan/signon/pkg/cryptox"
)

// PKCEChallenge holds the PKCE verifier and challenge pair.
// The verifier is kept secret by the client, and the challenge is sent to the authorization endpoint.
type PKCEChallenge struct {
	// Verifier is the high-entropy cryptographic random string (kept secret)
	Verifier string

	// Challenge is the base64url-encoded SHA256 hash of the verifier (sent to server)
	Challenge string

	// Method is always "S256" for SHA256
	Method string
}

// GeneratePKCEChallenge creates a new PKCE code verifier and challenge pair.
// Uses cryptox.TokenSize256 (256 bits of entropy) and SHA256 hashing per RFC 7636.
func GeneratePKCEChallenge() (*PKCEChallenge, error) {
	verifier, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}

	hash := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(hash[:])

	return &PKCEChallenge{
		Verifier:  verifier,
		Challenge: challenge,
		Method:    "S256",
	}, nil
}

// AuthorizeOption adds optional OIDC parameters to an authorization request.
type AuthorizeOption func(url.Values)

// WithLoginHint pre-selects the account the provider should sign in.
func WithLoginHint(hint string) AuthorizeOption {
	return func(v url.Values) {
		if hint != "" {
			v.Set("login_hint", hint)
		}
	}
}

// WithPrompt sets the OIDC prompt parameter ("none", "login", "select_account").
func WithPrompt(prompt string) AuthorizeOption {
	return func(v url.Values) {
		if prompt != "" {
			v.Set("prompt", prompt)
		}
	}
}

// BuildAuthorizeURL constructs an OAuth2 authorization URL for the authorization code flow.
// This URL should be used to redirect the user's browser to begin the authorization flow.
//
// Parameters:
//   - redirectURI: The URI to redirect back to after authorization (must match registered redirect URI)
//   - state: Opaque value used to maintain state between request and callback (recommended for CSRF protection)
//   - scopes: List of scopes to request (optional, will use client's default scopes if empty)
//   - pkce: PKCE challenge (optional but highly recommended, required for public clients)
func (c *SDKClient) BuildAuthorizeURL(
	clientID, redirectURI, state string,
	scopes []string,
	pkce *PKCEChallenge,
	opts ...AuthorizeOption,
) string {
	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", clientID)
	params.Set("redirect_uri", redirectURI)

	if state != "" {
		params.Set("state", state)
	}

	if len(scopes) > 0 {
		params.Set("scope", strings.Join(scopes, " "))
	}

	if pkce != nil {
		params.Set("code_challenge", pkce.Challenge)
		params.Set("code_challenge_method", pkce.Method)
	}

	for _, opt := range opts {
		opt(params)
	}

	return fmt.Sprintf("%s/v1/oauth2/authorize?%s", c.BaseURL, params.Encode())
}

// AuthorizeViaRedirect performs authorization using an existing session via redirect,
// the way a hidden iframe would during silent SSO.
//
// The session can be provided via:
//   - accessToken: Sent as Authorization: Bearer header
//   - sessionCookie: Sent as HTTP cookie (name: SessionCookieName)
//
// Returns the authorization code on success. When there is no usable session
// the error is an *OAuth2Error with Code login_required (see IsInteractionRequired).
func (c *SDKClient) AuthorizeViaRedirect(
	ctx context.Context,
	accessToken, sessionCookie string,
	clientID, redirectURI string,
	scopes []string,
	pkce *PKCEChallenge,
	opts ...AuthorizeOption,
) (string, error) {
	authURL := c.BuildAuthorizeURL(clientID, redirectURI, "", scopes, pkce, opts...)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	if sessionCookie != "" {
		name := c.SessionCookieName
		if name == "" {
			name = DefaultSessionCookie
		}
		req.AddCookie(&http.Cookie{Name: name, Value: sessionCookie})
	}

	resp, err := c.noRedirectClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusFound && resp.StatusCode != http.StatusSeeOther {
		return "", parseErrorResponse(resp, bodyBytes)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("redirect response missing Location header")
	}

	code, _, err := ParseAuthorizationCallback(location)
	return code, err
}

// ExchangeAuthorizationCode exchanges an authorization code for tokens.
// This completes the authorization code flow by trading the code for an access token and refresh token.
//
// Parameters:
//   - clientID: The OAuth2 client ID
//   - clientSecret: The client secret (only for confidential clients, use empty string for public clients)
//   - code: The authorization code received from the authorize endpoint
//   - redirectURI: Must match the redirect_uri used in the authorization request
//   - codeVerifier: The PKCE verifier from the original PKCEChallenge (optional, but required if PKCE was used)
func (c *SDKClient) ExchangeAuthorizationCode(
	ctx context.Context,
	clientID, clientSecret, code, redirectURI, codeVerifier string,
) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":   {"authorization_code"},
		"client_id":    {clientID},
		"code":         {code},
		"redirect_uri": {redirectURI},
	}

	if clientSecret != "" {
		data.Set("client_secret", clientSecret)
	}

	if codeVerifier != "" {
		data.Set("code_verifier", codeVerifier)
	}

	return c.requestToken(ctx, data)
}

// ParseAuthorizationCallback parses the callback URL from an authorization redirect.
// This extracts the authorization code and state from the redirect URL query parameters.
//
// Returns the authorization code and state, or an *OAuth2Error if the callback
// carries an error response.
func ParseAuthorizationCallback(callbackURL string) (code, state string, err error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse callback URL: %w", err)
	}

	query := u.Query()

	if errorCode := query.Get("error"); errorCode != "" {
		return "", query.Get("state"), &OAuth2Error{
			Code:        errorCode,
			Description: query.Get("error_description"),
		}
	}

	code = query.Get("code")
	if code == "" {
		return "", "", fmt.Errorf("callback missing authorization code")
	}

	state = query.Get("state")

	return code, state, nil
}
