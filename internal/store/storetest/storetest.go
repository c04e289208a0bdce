// Package storetest is the behaviour every store driver must share.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/signon/internal/identity"
	"github.com/aussiebroadwan/signon/internal/store"
	"github.com/stretchr/testify/require"
)

// Run exercises a driver. newStore must return an empty, migrated store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("accounts keep first-saved order", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := s.Accounts()

		accs, err := a.ListAccounts(ctx)
		require.NoError(t, err)
		require.Empty(t, accs)

		require.NoError(t, a.SaveAccount(ctx, identity.Account{ID: "b", Name: "Bob"}))
		time.Sleep(2 * time.Millisecond)
		require.NoError(t, a.SaveAccount(ctx, identity.Account{ID: "a", Name: "Ada"}))
		require.NoError(t, a.SaveAccount(ctx, identity.Account{ID: "b", Name: "Robert", TenantID: "t1"}))

		accs, err = a.ListAccounts(ctx)
		require.NoError(t, err)
		require.Equal(t, []identity.Account{
			{ID: "b", Name: "Robert", TenantID: "t1"},
			{ID: "a", Name: "Ada"},
		}, accs)
	})

	t.Run("active account", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := s.Accounts()

		_, err := a.ActiveAccountID(ctx)
		require.ErrorIs(t, err, store.ErrNotFound)
		require.ErrorIs(t, a.SetActiveAccountID(ctx, "ghost"), store.ErrNotFound)

		require.NoError(t, a.SaveAccount(ctx, identity.Account{ID: "a"}))
		require.NoError(t, a.SaveAccount(ctx, identity.Account{ID: "b"}))
		require.NoError(t, a.SetActiveAccountID(ctx, "a"))
		require.NoError(t, a.SetActiveAccountID(ctx, "b"))

		id, err := a.ActiveAccountID(ctx)
		require.NoError(t, err)
		require.Equal(t, "b", id)

		// Deleting another account keeps the marker.
		require.NoError(t, a.DeleteAccount(ctx, "a"))
		id, err = a.ActiveAccountID(ctx)
		require.NoError(t, err)
		require.Equal(t, "b", id)

		require.NoError(t, a.DeleteAccount(ctx, "b"))
		_, err = a.ActiveAccountID(ctx)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("refresh tokens", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Accounts().SaveAccount(ctx, identity.Account{ID: "a"}))
		rt := s.RefreshTokens()

		_, err := rt.GetRefreshToken(ctx, "a")
		require.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, rt.SaveRefreshToken(ctx, "a", []byte{1, 2, 3}))
		require.NoError(t, rt.SaveRefreshToken(ctx, "a", []byte{4, 5}))
		got, err := rt.GetRefreshToken(ctx, "a")
		require.NoError(t, err)
		require.Equal(t, []byte{4, 5}, got)

		require.NoError(t, s.Accounts().DeleteAccount(ctx, "a"))
		_, err = rt.GetRefreshToken(ctx, "a")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("pending requests are single use", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p := s.Pending()

		req := store.PendingRequest{
			State:        "01J0STATE",
			CodeVerifier: "verifier",
			RedirectURI:  "http://127.0.0.1:8400/callback",
			Scopes:       []string{"openid", "profile"},
			LoginHint:    "ada@example.com",
			ExpiresAt:    time.Now().Add(time.Minute),
		}
		require.NoError(t, p.SavePending(ctx, req))

		got, err := p.TakePending(ctx, req.State)
		require.NoError(t, err)
		require.Equal(t, req.CodeVerifier, got.CodeVerifier)
		require.Equal(t, req.RedirectURI, got.RedirectURI)
		require.Equal(t, req.Scopes, got.Scopes)
		require.Equal(t, req.LoginHint, got.LoginHint)
		require.Equal(t, req.ExpiresAt.Unix(), got.ExpiresAt.Unix())

		_, err = p.TakePending(ctx, req.State)
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = p.TakePending(ctx, "unknown")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("expired pending requests are gone", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		p := s.Pending()

		require.NoError(t, p.SavePending(ctx, store.PendingRequest{
			State:     "old",
			ExpiresAt: time.Now().Add(-time.Second),
		}))
		_, err := p.TakePending(ctx, "old")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("ping", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Ping(context.Background()))
	})
}
