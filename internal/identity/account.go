package identity

import (
	"log/slog"
	"strings"
	"time"
)

// Account is a signed-in identity as reported by the provider. Accounts are
// immutable once returned.
type Account struct {
	// ID is the provider's stable home account identifier.
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
}

// IsZero reports whether a is the empty account.
func (a Account) IsZero() bool {
	return a.ID == ""
}

// LogValue keeps log lines to the id and tenant.
func (a Account) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", a.ID),
		slog.String("tenant_id", a.TenantID),
	)
}

// Token is an access token for one account and scope set. The raw value is
// never printed or logged.
type Token struct {
	Value     string
	Scopes    []string
	ExpiresAt time.Time
	Account   Account
}

// IsZero reports whether t carries no token, which callers treat as "send
// the request unauthenticated".
func (t Token) IsZero() bool {
	return t.Value == ""
}

// ExpiresWithin reports whether the token expires within d of now.
func (t Token) ExpiresWithin(now time.Time, d time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(d).Before(t.ExpiresAt)
}

// String implements fmt.Stringer without revealing the token.
func (t Token) String() string {
	if t.IsZero() {
		return "Token(none)"
	}
	return "Token([REDACTED] scopes=" + strings.Join(t.Scopes, " ") + ")"
}

// GoString keeps %#v from dumping the value.
func (t Token) GoString() string {
	return t.String()
}

// LogValue implements slog.LogValuer.
func (t Token) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("value", "[REDACTED]"),
		slog.String("scopes", strings.Join(t.Scopes, " ")),
		slog.Time("expires_at", t.ExpiresAt),
		slog.String("account_id", t.Account.ID),
	)
}
