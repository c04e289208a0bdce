package authsdk

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// RefreshGrant requests new tokens using a refresh token. Passing scopes
// narrows the access token to a subset of the original grant.
func (c *SDKClient) RefreshGrant(
	ctx context.Context,
	clientID, refreshToken string,
	scopes ...string,
) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {clientID},
	}
	if len(scopes) > 0 {
		data.Set("scope", strings.Join(scopes, " "))
	}

	return c.requestToken(ctx, data)
}

// RevokeToken revokes a refresh token per RFC 7009.
func (c *SDKClient) RevokeToken(ctx context.Context, clientID, token string) error {
	data := url.Values{
		"token":           {token},
		"token_type_hint": {"refresh_token"},
		"client_id":       {clientID},
	}

	resp, err := c.postForm(ctx, "/v1/oauth2/revoke", data)
	if err != nil {
		return err
	}

	return checkStatusOK(resp)
}

func (c *SDKClient) requestToken(ctx context.Context, data url.Values) (*TokenResponse, error) {
	resp, err := c.postForm(ctx, "/v1/oauth2/token", data)
	if err != nil {
		return nil, err
	}

	var tokenResp TokenResponse
	if err := decodeJSON(resp, &tokenResp, http.StatusOK); err != nil {
		return nil, err
	}

	return &tokenResp, nil
}
