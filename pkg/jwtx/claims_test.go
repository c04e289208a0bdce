package jwtx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/signon/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestValidateIssuer(t *testing.T) {
	t.Parallel()

	c := &jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "auth-service",
		},
	}

	t.Run("matching issuer", func(t *testing.T) {
		require.NoError(t, c.ValidateIssuer("auth-service"))
	})

	t.Run("empty expected issuer", func(t *testing.T) {
		require.NoError(t, c.ValidateIssuer(""))
	})

	t.Run("mismatched issuer", func(t *testing.T) {
		require.ErrorIs(t, c.ValidateIssuer("chat-service"), jwtx.ErrIssuer)
	})
}

func TestValidateAudience(t *testing.T) {
	t.Parallel()

	c := &jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience: []string{"chat", "media"},
		},
	}

	t.Run("contains match", func(t *testing.T) {
		require.NoError(t, c.ValidateAudience([]string{"chat"}))
	})

	t.Run("multiple match", func(t *testing.T) {
		require.NoError(t, c.ValidateAudience([]string{"foo", "media"}))
	})

	t.Run("no match", func(t *testing.T) {
		require.ErrorIs(t, c.ValidateAudience([]string{"admin"}), jwtx.ErrAudience)
	})

	t.Run("empty expected list", func(t *testing.T) {
		require.NoError(t, c.ValidateAudience(nil))
	})
}

func TestValidateExpiryWithLeeway(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	t.Run("valid", func(t *testing.T) {
		c := &jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
		}}
		require.NoError(t, c.ValidateExpiryWithLeeway(now, 0))
	})

	t.Run("expired within leeway", func(t *testing.T) {
		c := &jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(-10 * time.Second)),
		}}
		require.NoError(t, c.ValidateExpiryWithLeeway(now, 30*time.Second))
		require.ErrorIs(t, c.ValidateExpiryWithLeeway(now, 0), jwtx.ErrExpired)
	})

	t.Run("not yet valid", func(t *testing.T) {
		c := &jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{
			NotBefore: jwt.NewNumericDate(now.Add(time.Hour)),
		}}
		require.ErrorIs(t, c.ValidateExpiryWithLeeway(now, time.Minute), jwtx.ErrNotYetValid)
	})
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		claims jwtx.Claims
		want   string
	}{
		{"oidc name wins", jwtx.Claims{Name: "Ada Lovelace", PreferredName: "Ada", Username: "ada"}, "Ada Lovelace"},
		{"bartab preferred name", jwtx.Claims{PreferredName: "Ada", Username: "ada"}, "Ada"},
		{"preferred username", jwtx.Claims{PreferredUsername: "ada@example.com"}, "ada@example.com"},
		{"username", jwtx.Claims{Username: "ada"}, "ada"},
		{"subject fallback", jwtx.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1"}}, "u-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.claims.DisplayName())
		})
	}
}

func TestLoginAndExpiry(t *testing.T) {
	t.Parallel()

	c := jwtx.Claims{Username: "ada"}
	require.Equal(t, "ada", c.Login())
	require.True(t, c.Expiry().IsZero())

	c.PreferredUsername = "ada@example.com"
	exp := time.Unix(1_900_000_000, 0)
	c.ExpiresAt = jwt.NewNumericDate(exp)
	require.Equal(t, "ada@example.com", c.Login())
	require.True(t, exp.Equal(c.Expiry()))
}
