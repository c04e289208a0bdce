package jwtx

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the access-token claims a relying party cares about. The
// bartab identity provider emits username/preferred_name; OIDC providers
// emit name/preferred_username/oid/tid. Both shapes decode into one struct.
type Claims struct {
	jwt.RegisteredClaims

	// Session ID
	SID string `json:"sid,omitempty"`

	// Permission Scopes "chat:read, chat:write"
	Scopes []string `json:"scopes,omitempty"`

	// Authentication Methods Reference ["pwd","mfa"]
	AMR []string `json:"amr,omitempty"`

	Username      string `json:"username,omitempty"`
	PreferredName string `json:"preferred_name,omitempty"`

	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Email             string `json:"email,omitempty"`
	ObjectID          string `json:"oid,omitempty"`
	TenantID          string `json:"tid,omitempty"`
}

// DisplayName picks the best human-readable name in the claims.
func (c *Claims) DisplayName() string {
	for _, s := range []string{c.Name, c.PreferredName, c.PreferredUsername, c.Username} {
		if s != "" {
			return s
		}
	}
	return c.Subject
}

// Login returns the login handle, preferring the OIDC claim.
func (c *Claims) Login() string {
	if c.PreferredUsername != "" {
		return c.PreferredUsername
	}
	return c.Username
}

// Expiry returns exp, or the zero time when the token carries none.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}

	if c.Issuer != expected {
		return ErrIssuer
	}

	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil // nothing to enforce
	}

	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}

	return ErrAudience
}

// ValidateExpiryWithLeeway checks exp and nbf allowing for clock skew.
func (c *Claims) ValidateExpiryWithLeeway(now time.Time, leeway time.Duration) error {
	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}

	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}

	return nil
}
