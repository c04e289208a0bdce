package authsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// OAuth2 Error Codes (RFC 6749, OIDC Core 3.1.2.6)
// ============================================================================

const (
	ErrorCodeInvalidRequest      = "invalid_request"
	ErrorCodeInvalidClient       = "invalid_client"
	ErrorCodeInvalidGrant        = "invalid_grant"
	ErrorCodeUnauthorizedClient  = "unauthorized_client"
	ErrorCodeInvalidScope        = "invalid_scope"
	ErrorCodeServerError         = "server_error"
	ErrorCodeTemporarily         = "temporarily_unavailable"
	ErrorCodeAccessDenied        = "access_denied"
	ErrorCodeLoginRequired       = "login_required"
	ErrorCodeInteractionRequired = "interaction_required"
	ErrorCodeConsentRequired     = "consent_required"
	ErrorCodeMFARequired         = "mfa_required"
)

// OAuth2Error represents a standard OAuth2 error response per RFC 6749.
type OAuth2Error struct {
	// StatusCode is the HTTP status code of the response, 0 when the error
	// arrived on a redirect.
	StatusCode int `json:"-"`

	// Code is the OAuth2 error code (e.g., "invalid_request", "invalid_grant")
	Code string `json:"error"`

	// Description is a human-readable description of the error
	Description string `json:"error_description"`
}

// Error implements the error interface.
func (e *OAuth2Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuth2Error creates a new OAuth2Error with the given status code, error code, and description.
func NewOAuth2Error(statusCode int, code, description string) *OAuth2Error {
	return &OAuth2Error{
		StatusCode:  statusCode,
		Code:        code,
		Description: description,
	}
}

// IsInteractionRequired reports whether err means the user has to sign in
// again: the grant is dead or the provider wants a prompt. Everything else
// (network, 5xx, malformed responses) is worth retrying later.
func IsInteractionRequired(err error) bool {
	var oerr *OAuth2Error
	if !errors.As(err, &oerr) {
		return false
	}

	switch oerr.Code {
	case ErrorCodeInvalidGrant,
		ErrorCodeLoginRequired,
		ErrorCodeInteractionRequired,
		ErrorCodeConsentRequired,
		ErrorCodeMFARequired,
		ErrorCodeAccessDenied:
		return true
	}
	return false
}

// parseErrorResponse attempts to parse an HTTP error response into a typed error.
// Returns nil if the response indicates success (2xx status code).
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &OAuth2Error{
			StatusCode:  resp.StatusCode,
			Code:        errResp.Error,
			Description: errResp.ErrorDescription,
		}
	}

	// The BarTab authorize endpoint answers 401 without a body when no
	// session is present.
	if resp.StatusCode == http.StatusUnauthorized {
		return &OAuth2Error{
			StatusCode:  resp.StatusCode,
			Code:        ErrorCodeLoginRequired,
			Description: "authentication required",
		}
	}

	return &OAuth2Error{
		StatusCode:  resp.StatusCode,
		Code:        ErrorCodeServerError,
		Description: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}
