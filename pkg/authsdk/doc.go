/*
Package authsdk is a thin client for the public OAuth2 endpoints of a
BarTab-compatible authentication service.

It covers what a public client needs to hold a user session without ever
seeing a password:

  - PKCE authorization code flow: GeneratePKCEChallenge, BuildAuthorizeURL,
    ParseAuthorizationCallback, ExchangeAuthorizationCode
  - Silent SSO: AuthorizeViaRedirect replays the browser session cookie (or
    an existing bearer token) against the authorize endpoint and reads the
    code from the redirect
  - Refresh and revocation: RefreshGrant, RevokeToken
  - Key discovery and health: GetJWKS, GetLiveness

Token storage, expiry tracking and retries belong to the caller.

# Errors

Non-2xx responses come back as *OAuth2Error. IsInteractionRequired
separates "the user must sign in again" (invalid_grant, login_required,
interaction_required, consent_required, ...) from transient failures:

	tokens, err := client.RefreshGrant(ctx, clientID, refreshToken)
	if authsdk.IsInteractionRequired(err) {
		// start an interactive login
	}

# Example

	client := authsdk.NewSDKClient("https://auth.example.com")

	pkce, _ := authsdk.GeneratePKCEChallenge()
	authURL := client.BuildAuthorizeURL(clientID, redirectURI, state, scopes, pkce,
		authsdk.WithLoginHint("ada"))
	// send the user to authURL, receive callbackURL

	code, gotState, err := authsdk.ParseAuthorizationCallback(callbackURL)
	// compare gotState with state
	tokens, err := client.ExchangeAuthorizationCode(ctx, clientID, "", code, redirectURI, pkce.Verifier)
*/
package authsdk
