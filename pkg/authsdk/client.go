package authsdk

import (
	"net/http"
	"strings"
	"time"
)

// DefaultSessionCookie is the cookie the BarTab authorize endpoint reads the
// browser SSO session from.
const DefaultSessionCookie = "bartab_session"

// SDKClient is a client for the BarTab authentication service. It only
// speaks the public OAuth2 endpoints; holding tokens is the caller's job.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client

	// SessionCookieName is the cookie name used by AuthorizeViaRedirect.
	// Default: DefaultSessionCookie
	SessionCookieName string
}

// NewSDKClient creates a new auth service client.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		SessionCookieName: DefaultSessionCookie,
	}
}

// noRedirectClient shares the transport and timeout of HTTPClient but stops
// at the first redirect so the authorization code can be read from Location.
func (c *SDKClient) noRedirectClient() *http.Client {
	return &http.Client{
		Transport: c.HTTPClient.Transport,
		Timeout:   c.HTTPClient.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
