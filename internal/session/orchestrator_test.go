package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/signon/internal/eventbus"
	"github.com/aussiebroadwan/signon/internal/identity"
	"github.com/aussiebroadwan/signon/internal/identity/identitytest"
	"github.com/aussiebroadwan/signon/internal/session"
	"github.com/stretchr/testify/require"
)

func TestStartCompletesRedirectWithoutSilentLogin(t *testing.T) {
	t.Parallel()

	fake := identitytest.New()
	fake.Redirect = &ada
	fake.SilentFn = silentOK
	fake.SSOFn = func(ctx context.Context, scopes []string, hint string) (*identity.Account, error) {
		return &bob, nil
	}
	h := newHarness(t, session.Config{}, fake)

	snap := h.start(t)
	require.Equal(t, session.Authenticated, snap.State)
	require.Equal(t, ada.ID, snap.Account.ID)
	require.Zero(t, fake.Calls("AcquireTokenSilent"))
	require.Zero(t, fake.Calls("SSOSilent"))
	require.Equal(t, ada.ID, fake.ActiveAccount().ID)

	h.waitEvents(t, eventbus.LoginSuccess, eventbus.ProfileReady)
}

func TestStartRunsOnce(t *testing.T) {
	t.Parallel()

	fake := identitytest.New(ada)
	fake.SilentFn = silentOK
	h := newHarness(t, session.Config{}, fake)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.start(t)
		}()
	}
	wg.Wait()
	h.start(t)

	require.Equal(t, 1, fake.Calls("Initialize"))
	require.Equal(t, 1, fake.Calls("HandleRedirect"))
	require.Equal(t, 1, fake.Calls("AcquireTokenSilent"))
}

func TestStartCallerMayStopWaiting(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	fake := identitytest.New(ada)
	fake.SilentFn = func(ctx context.Context, acc identity.Account, scopes []string) (identity.Token, error) {
		<-gate
		return silentOK(ctx, acc, scopes)
	}
	h := newHarness(t, session.Config{}, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	snap, err := h.o.Start(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, session.Initializing, snap.State)

	// The sequence keeps running and still resolves.
	close(gate)
	snap, err = h.o.WaitResolved(context.Background())
	require.NoError(t, err)
	require.Equal(t, session.Authenticated, snap.State)
}

func TestInitializationFailure(t *testing.T) {
	t.Parallel()

	fake := identitytest.New(ada)
	fake.InitErr = errors.New("authority unreachable")
	h := newHarness(t, session.Config{AutoRedirectOnFailure: true}, fake)

	snap := h.start(t)
	require.Equal(t, session.AuthFailed, snap.State)
	require.Equal(t, session.ReasonInitFailed, snap.Reason)
	require.Zero(t, fake.Calls("HandleRedirect"))
	require.Zero(t, fake.Calls("LoginInteractive"))
	h.waitEvents(t, eventbus.AuthFailed)
}

func TestRedirectErrorTreatedAsNonePending(t *testing.T) {
	t.Parallel()

	fake := identitytest.New(ada)
	fake.RedirectErr = errors.New("state mismatch")
	fake.SilentFn = silentOK
	h := newHarness(t, session.Config{}, fake)

	snap := h.start(t)
	require.Equal(t, session.Authenticated, snap.State)
	require.Equal(t, 1, fake.Calls("AcquireTokenSilent"))
}

func TestZeroAccountsSSOInteractionRequiredNoAutoRedirect(t *testing.T) {
	t.Parallel()

	fake := identitytest.New()
	h := newHarness(t, session.Config{AutoRedirectOnFailure: false}, fake)

	snap := h.start(t)
	require.Equal(t, session.AuthFailed, snap.State)
	require.Equal(t, session.ReasonInteractionRequired, snap.Reason)
	require.Nil(t, snap.Account)

	// The probe runs without an account hint and no token call is made.
	require.Equal(t, []string{""}, h.fake.Hints())
	require.Zero(t, fake.Calls("AcquireTokenSilent"))

	h.waitEvents(t, eventbus.AuthFailed)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, h.events.count(eventbus.AuthFailed))
	require.Zero(t, fake.Calls("LoginInteractive"))
	require.Nil(t, h.profiles.Current())
	require.Zero(t, h.fetch.profiles.Load())
}

func TestZeroAccountsAutoRedirectSchedulesOneInteractiveLogin(t *testing.T) {
	t.Parallel()

	const delay = 40 * time.Millisecond
	var calledAt atomic.Int64
	release := make(chan struct{})
	fake := identitytest.New()
	fake.InteractiveFn = func(ctx context.Context, scopes []string, hint string) (*identity.Account, error) {
		calledAt.Store(time.Now().UnixNano())
		<-release
		return &ada, nil
	}
	h := newHarness(t, session.Config{AutoRedirectOnFailure: true, InteractiveDelay: delay}, fake)

	started := time.Now()
	snap := h.start(t)
	require.Equal(t, session.Unauthenticated, snap.State)
	require.Equal(t, session.ReasonInteractivePending, snap.Reason)
	require.True(t, h.o.InteractivePending())

	require.Eventually(t, func() bool { return fake.Calls("LoginInteractive") == 1 }, 2*time.Second, time.Millisecond)
	require.GreaterOrEqual(t, time.Duration(calledAt.Load()-started.UnixNano()), delay)

	// A guard or a retry while the login is in progress schedules nothing new.
	ok, err := session.NewGuard(h.o).Allow(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	_, err = h.o.Retry(context.Background())
	require.NoError(t, err)
	require.Zero(t, h.events.count(eventbus.AuthFailed))

	close(release)
	require.Eventually(t, func() bool {
		return h.o.Snapshot().State == session.Authenticated
	}, 2*time.Second, time.Millisecond)
	require.False(t, h.o.InteractivePending())

	time.Sleep(2 * delay)
	require.Equal(t, 1, fake.Calls("LoginInteractive"))
	require.Zero(t, h.events.count(eventbus.AuthFailed))
	require.Equal(t, 1, h.events.count(eventbus.LoginSuccess))
}

func TestScheduledInteractiveFailureEndsInAuthFailed(t *testing.T) {
	t.Parallel()

	fake := identitytest.New()
	fake.InteractiveFn = func(ctx context.Context, scopes []string, hint string) (*identity.Account, error) {
		return nil, errors.New("popup closed")
	}
	h := newHarness(t, session.Config{AutoRedirectOnFailure: true, InteractiveDelay: time.Millisecond}, fake)

	h.start(t)
	require.Eventually(t, func() bool {
		return h.o.Snapshot().State == session.AuthFailed
	}, 2*time.Second, time.Millisecond)
	require.Equal(t, session.ReasonInteractiveFailed, h.o.Snapshot().Reason)
	h.waitEvents(t, eventbus.AuthFailed)
}

func TestOneCachedAccountSilentSuccess(t *testing.T) {
	t.Parallel()

	fake := identitytest.New(ada)
	fake.SilentFn = silentOK
	h := newHarness(t, session.Config{}, fake)

	snap := h.start(t)
	require.Equal(t, session.Authenticated, snap.State)
	require.Equal(t, ada.ID, snap.Account.ID)
	require.Equal(t, ada.ID, fake.ActiveAccount().ID)
	require.Zero(t, fake.Calls("SSOSilent"))

	h.waitEvents(t, eventbus.LoginSuccess, eventbus.ProfileReady)
	require.EqualValues(t, 1, h.fetch.profiles.Load())
	require.LessOrEqual(t, h.fetch.avatars.Load(), int32(1))

	h.events.mu.Lock()
	ready := h.events.events[1]
	h.events.mu.Unlock()
	require.Equal(t, "Ada Lovelace", ready.Profile.DisplayName)
	require.True(t, ready.Profile.AvatarChecked)
}

func TestCachedAccountFailureFallsBackToSSOOnce(t *testing.T) {
	t.Parallel()

	fake := identitytest.New(ada)
	fake.SilentFn = func(ctx context.Context, acc identity.Account, scopes []string) (identity.Token, error) {
		return identity.Token{}, errors.New("connection reset")
	}
	fake.SSOFn = func(ctx context.Context, scopes []string, hint string) (*identity.Account, error) {
		return &bob, nil
	}
	h := newHarness(t, session.Config{}, fake)

	snap := h.start(t)
	require.Equal(t, session.Authenticated, snap.State)
	require.Equal(t, bob.ID, snap.Account.ID)
	require.Equal(t, 1, fake.Calls("SSOSilent"))
	require.Equal(t, []string{""}, fake.Hints())
}

func TestSilentFailuresApplyPolicy(t *testing.T) {
	t.Parallel()

	fake := identitytest.New(ada)
	fake.SSOFn = func(ctx context.Context, scopes []string, hint string) (*identity.Account, error) {
		return nil, errors.New("503")
	}
	h := newHarness(t, session.Config{}, fake)

	snap := h.start(t)
	require.Equal(t, session.AuthFailed, snap.State)
	require.Equal(t, session.ReasonSilentFailed, snap.Reason)
	require.Equal(t, 1, fake.Calls("AcquireTokenSilent"))
	require.Equal(t, 1, fake.Calls("SSOSilent"))
}

func TestRetryFromAuthFailed(t *testing.T) {
	t.Parallel()

	fake := identitytest.New()
	h := newHarness(t, session.Config{}, fake)
	require.Equal(t, session.AuthFailed, h.start(t).State)

	fake.SSOFn = func(ctx context.Context, scopes []string, hint string) (*identity.Account, error) {
		return &ada, nil
	}
	snap, err := h.o.Retry(context.Background())
	require.NoError(t, err)
	require.Equal(t, session.Authenticated, snap.State)
	require.Equal(t, 1, fake.Calls("Initialize"))

	// Retrying an authenticated session does nothing.
	_, err = h.o.Retry(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, fake.Calls("SSOSilent"))
}

func TestProviderLogoutResetsProfile(t *testing.T) {
	t.Parallel()

	fake := identitytest.New(ada)
	fake.SilentFn = silentOK
	h := newHarness(t, session.Config{}, fake)
	h.start(t)
	h.waitEvents(t, eventbus.LoginSuccess, eventbus.ProfileReady)
	require.NotNil(t, h.profiles.Current())

	require.NoError(t, fake.Logout(context.Background()))
	fake.Emit(identity.ProviderEvent{Kind: identity.EventLogoutSuccess})

	snap := h.o.Snapshot()
	require.Equal(t, session.Unauthenticated, snap.State)
	require.Equal(t, session.ReasonLoggedOut, snap.Reason)
	require.Nil(t, h.profiles.Current())
	require.False(t, h.profiles.Avatars().Checked())

	fetches := h.fetch.profiles.Load()
	p, err := h.profiles.Profile(context.Background())
	require.NoError(t, err)
	require.Nil(t, p)
	require.Equal(t, fetches, h.fetch.profiles.Load())

	h.waitEvents(t, eventbus.LoginSuccess, eventbus.ProfileReady, eventbus.LogoutSuccess)

	// A repeated provider event is not announced twice.
	fake.Emit(identity.ProviderEvent{Kind: identity.EventLogoutSuccess})
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, h.events.count(eventbus.LogoutSuccess))
}

func TestLogout(t *testing.T) {
	t.Parallel()

	fake := identitytest.New(ada)
	fake.SilentFn = silentOK
	h := newHarness(t, session.Config{}, fake)
	h.start(t)
	h.waitEvents(t, eventbus.LoginSuccess, eventbus.ProfileReady)

	fake.LogoutErr = errors.New("revocation endpoint down")
	snap, err := h.o.Logout(context.Background())
	require.True(t, identity.IsTransient(err))
	require.Equal(t, session.Authenticated, snap.State)

	fake.LogoutErr = nil
	snap, err = h.o.Logout(context.Background())
	require.NoError(t, err)
	require.Equal(t, session.Unauthenticated, snap.State)
	require.Nil(t, h.profiles.Current())
	h.waitEvents(t, eventbus.LoginSuccess, eventbus.ProfileReady, eventbus.LogoutSuccess)
}

func TestProviderLoginEventActivatesAccount(t *testing.T) {
	t.Parallel()

	fake := identitytest.New(ada)
	fake.SilentFn = silentOK
	h := newHarness(t, session.Config{}, fake)
	h.start(t)
	h.waitEvents(t, eventbus.LoginSuccess, eventbus.ProfileReady)

	fake.AddAccount(bob)
	fake.Emit(identity.ProviderEvent{Kind: identity.EventLoginSuccess, Account: &bob})

	snap := h.o.Snapshot()
	require.Equal(t, session.Authenticated, snap.State)
	require.Equal(t, bob.ID, snap.Account.ID)
	require.Equal(t, bob.ID, fake.ActiveAccount().ID)
	h.waitEvents(t, eventbus.LoginSuccess, eventbus.ProfileReady, eventbus.LoginSuccess, eventbus.ProfileReady)

	// Token events for the active account reload the profile without a new
	// LoginSuccess.
	fake.Emit(identity.ProviderEvent{Kind: identity.EventTokenAcquired, Account: &bob})
	require.Eventually(t, func() bool { return h.fetch.profiles.Load() == 3 }, 2*time.Second, time.Millisecond)
	require.Equal(t, 2, h.events.count(eventbus.LoginSuccess))
	require.Eventually(t, func() bool { return h.events.count(eventbus.TokenAcquired) == 1 }, 2*time.Second, time.Millisecond)
}

func TestInteractionIdleSelfHeals(t *testing.T) {
	t.Parallel()

	fake := identitytest.New()
	h := newHarness(t, session.Config{}, fake)
	h.start(t)
	require.Nil(t, fake.ActiveAccount())

	fake.AddAccount(bob)
	fake.AddAccount(ada)
	fake.Emit(identity.ProviderEvent{Kind: identity.EventInteractionIdle})

	require.Eventually(t, func() bool {
		acc := fake.ActiveAccount()
		return acc != nil && acc.ID == bob.ID
	}, 2*time.Second, time.Millisecond)
}

func TestAccessToken(t *testing.T) {
	t.Parallel()

	t.Run("no account", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, session.Config{}, identitytest.New())
		h.start(t)

		_, err := h.o.AccessToken(context.Background())
		require.ErrorIs(t, err, session.ErrNotAuthenticated)
	})

	t.Run("default scopes", func(t *testing.T) {
		t.Parallel()
		fake := identitytest.New(ada)
		fake.SilentFn = silentOK
		h := newHarness(t, session.Config{Scopes: []string{"api://bartab/.default"}}, fake)
		h.start(t)

		tok, err := h.o.AccessToken(context.Background())
		require.NoError(t, err)
		require.Equal(t, "at-"+ada.ID, tok.Value)
		require.Equal(t, []string{"api://bartab/.default"}, tok.Scopes)
	})

	t.Run("transient failure yields absent token", func(t *testing.T) {
		t.Parallel()
		var fail atomic.Bool
		fake := identitytest.New(ada)
		fake.SilentFn = func(ctx context.Context, acc identity.Account, scopes []string) (identity.Token, error) {
			if fail.Load() {
				return identity.Token{}, errors.New("timeout")
			}
			return silentOK(ctx, acc, scopes)
		}
		h := newHarness(t, session.Config{}, fake)
		h.start(t)

		fail.Store(true)
		tok, err := h.o.AccessToken(context.Background(), "Mail.Read")
		require.NoError(t, err)
		require.True(t, tok.IsZero())
		require.Equal(t, session.Authenticated, h.o.Snapshot().State)
	})

	t.Run("interaction required schedules login under auto redirect", func(t *testing.T) {
		t.Parallel()
		var need atomic.Bool
		fake := identitytest.New(ada)
		fake.SilentFn = func(ctx context.Context, acc identity.Account, scopes []string) (identity.Token, error) {
			if need.Load() {
				return identity.Token{}, identity.ErrInteractionRequired
			}
			return silentOK(ctx, acc, scopes)
		}
		h := newHarness(t, session.Config{AutoRedirectOnFailure: true, InteractiveDelay: time.Millisecond}, fake)
		h.start(t)

		need.Store(true)
		_, err := h.o.AccessToken(context.Background())
		require.ErrorIs(t, err, identity.ErrInteractionRequired)
		require.Eventually(t, func() bool { return fake.Calls("LoginInteractive") == 1 }, 2*time.Second, time.Millisecond)
	})
}

func TestLogin(t *testing.T) {
	t.Parallel()

	t.Run("success and throttle", func(t *testing.T) {
		t.Parallel()
		fake := identitytest.New()
		fake.InteractiveFn = func(ctx context.Context, scopes []string, hint string) (*identity.Account, error) {
			return &ada, nil
		}
		h := newHarness(t, session.Config{LoginInterval: time.Hour}, fake)
		h.start(t)

		snap, err := h.o.Login(context.Background())
		require.NoError(t, err)
		require.Equal(t, session.Authenticated, snap.State)

		_, err = h.o.Login(context.Background())
		require.ErrorIs(t, err, session.ErrLoginThrottled)
		require.Equal(t, 1, fake.Calls("LoginInteractive"))
	})

	t.Run("redirect mode awaits callback", func(t *testing.T) {
		t.Parallel()
		fake := identitytest.New()
		h := newHarness(t, session.Config{LoginInterval: -1}, fake)
		h.start(t)

		snap, err := h.o.Login(context.Background())
		require.ErrorIs(t, err, identity.ErrNavigatedAway)
		require.Equal(t, session.Unauthenticated, snap.State)
		require.Equal(t, session.ReasonAwaitingRedirect, snap.Reason)

		// The guard does not open a second browser window.
		ok, err := session.NewGuard(h.o).Allow(context.Background())
		require.NoError(t, err)
		require.False(t, ok)
		require.False(t, h.o.InteractivePending())
	})
}

func TestFailedInteractiveLoginKeepsAuthenticatedSession(t *testing.T) {
	t.Parallel()

	signedIn := func(t *testing.T, cfg session.Config, fake *identitytest.Fake) *harness {
		t.Helper()
		fake.InteractiveFn = func(ctx context.Context, scopes []string, hint string) (*identity.Account, error) {
			return nil, errors.New("popup closed by user")
		}
		h := newHarness(t, cfg, fake)
		h.fetch.withAvatar.Store(true)

		require.Equal(t, session.Authenticated, h.start(t).State)
		h.waitEvents(t, eventbus.LoginSuccess, eventbus.ProfileReady)

		p := h.profiles.Current()
		require.NotNil(t, p)
		require.NotNil(t, p.Avatar)
		return h
	}

	requireKept := func(t *testing.T, h *harness) {
		t.Helper()
		snap := h.o.Snapshot()
		require.Equal(t, session.Authenticated, snap.State)
		require.Equal(t, ada.ID, snap.Account.ID)

		p := h.profiles.Current()
		require.NotNil(t, p)
		require.Equal(t, "Ada Lovelace", p.DisplayName)
		require.NotNil(t, p.Avatar)
		require.False(t, p.Avatar.Released())
		require.True(t, h.profiles.Avatars().Checked())
		require.Zero(t, h.events.count(eventbus.AuthFailed))
		require.Equal(t, int32(1), h.fetch.avatars.Load())
	}

	t.Run("user-triggered login", func(t *testing.T) {
		t.Parallel()
		fake := identitytest.New(ada)
		fake.SilentFn = silentOK
		h := signedIn(t, session.Config{LoginInterval: -1}, fake)

		snap, err := h.o.Login(context.Background())
		require.ErrorContains(t, err, "popup closed by user")
		require.Equal(t, session.Authenticated, snap.State)
		requireKept(t, h)
	})

	t.Run("scheduled login", func(t *testing.T) {
		t.Parallel()
		var need atomic.Bool
		fake := identitytest.New(ada)
		fake.SilentFn = func(ctx context.Context, acc identity.Account, scopes []string) (identity.Token, error) {
			if need.Load() {
				return identity.Token{}, identity.ErrInteractionRequired
			}
			return silentOK(ctx, acc, scopes)
		}
		h := signedIn(t, session.Config{AutoRedirectOnFailure: true, InteractiveDelay: time.Millisecond}, fake)

		need.Store(true)
		_, err := h.o.AccessToken(context.Background())
		require.ErrorIs(t, err, identity.ErrInteractionRequired)
		require.Eventually(t, func() bool {
			return fake.Calls("LoginInteractive") == 1 && !h.o.InteractivePending()
		}, 2*time.Second, time.Millisecond)
		requireKept(t, h)
	})
}

func TestGuard(t *testing.T) {
	t.Parallel()

	t.Run("allows authenticated", func(t *testing.T) {
		t.Parallel()
		fake := identitytest.New(ada)
		fake.SilentFn = silentOK
		h := newHarness(t, session.Config{}, fake)

		// The guard starts the session itself.
		ok, err := session.NewGuard(h.o).Allow(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("denies and schedules interactive login", func(t *testing.T) {
		t.Parallel()
		fake := identitytest.New()
		fake.InteractiveFn = func(ctx context.Context, scopes []string, hint string) (*identity.Account, error) {
			return &ada, nil
		}
		h := newHarness(t, session.Config{InteractiveDelay: time.Millisecond}, fake)

		ok, err := session.NewGuard(h.o).Allow(context.Background())
		require.NoError(t, err)
		require.False(t, ok)
		require.Eventually(t, func() bool {
			return h.o.Snapshot().State == session.Authenticated
		}, 2*time.Second, time.Millisecond)
	})
}

func TestCloseCancelsScheduledLogin(t *testing.T) {
	t.Parallel()

	fake := identitytest.New()
	h := newHarness(t, session.Config{AutoRedirectOnFailure: true, InteractiveDelay: time.Hour}, fake)
	h.start(t)
	require.True(t, h.o.InteractivePending())

	h.o.Close()
	require.False(t, h.o.InteractivePending())
	require.Zero(t, fake.Calls("LoginInteractive"))

	_, err := h.o.Login(context.Background())
	require.ErrorIs(t, err, session.ErrClosed)
	require.Zero(t, fake.Subscribers())
}
