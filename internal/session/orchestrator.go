// Package session decides whether the user is signed in.
//
// The Orchestrator runs the startup sequence once (initialize, complete a
// pending redirect, then the silent strategies), applies the login policy
// when silent login fails, and reacts to provider events for the rest of the
// process lifetime. Every state change goes through the Holder and is
// announced on the event bus.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/signon/internal/eventbus"
	"github.com/aussiebroadwan/signon/internal/identity"
	"github.com/aussiebroadwan/signon/internal/profile"
	"github.com/aussiebroadwan/signon/internal/tokencache"
	"github.com/aussiebroadwan/signon/pkg/flight"
	"github.com/aussiebroadwan/signon/pkg/slogx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("github.com/aussiebroadwan/signon/internal/session")

const (
	DefaultInteractiveDelay = 500 * time.Millisecond
	DefaultLoginInterval    = 2 * time.Second
)

// Config is the login policy.
type Config struct {
	// Scopes are requested by silent and interactive login and are the
	// default for AccessToken.
	Scopes []string

	// AutoRedirectOnFailure schedules an interactive login when silent
	// login fails instead of settling in AuthFailed.
	AutoRedirectOnFailure bool

	// InteractiveDelay postpones the scheduled interactive login so the
	// current view can render first. Zero means DefaultInteractiveDelay.
	InteractiveDelay time.Duration

	// LoginInterval is the minimum gap between user-triggered logins.
	// Zero means DefaultLoginInterval; negative disables the limit.
	LoginInterval time.Duration
}

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Identity *identity.Adapter
	Tokens   *tokencache.Cache
	Profiles *profile.Cache
	Bus      *eventbus.Bus
}

// Orchestrator is the session state machine. Create one per process.
type Orchestrator struct {
	cfg        Config
	id         *identity.Adapter
	tokens     *tokencache.Cache
	profiles   *profile.Cache
	bus        *eventbus.Bus
	holder     *Holder
	strategies []Strategy
	limiter    *rate.Limiter
	log        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	seq       flight.Group[Snapshot]
	startOnce sync.Once
	startDone chan struct{}

	mu          sync.Mutex
	unsubscribe func()
	pending     bool
	timer       *time.Timer
	closed      bool
	wg          sync.WaitGroup
}

// New wires an orchestrator. It takes over deps.Tokens.OnFailure.
func New(cfg Config, deps Deps, log *slog.Logger) *Orchestrator {
	if cfg.InteractiveDelay <= 0 {
		cfg.InteractiveDelay = DefaultInteractiveDelay
	}
	limit := rate.Inf
	switch {
	case cfg.LoginInterval == 0:
		limit = rate.Every(DefaultLoginInterval)
	case cfg.LoginInterval > 0:
		limit = rate.Every(cfg.LoginInterval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:      cfg,
		id:       deps.Identity,
		tokens:   deps.Tokens,
		profiles: deps.Profiles,
		bus:      deps.Bus,
		holder:   NewHolder(),
		limiter:  rate.NewLimiter(limit, 1),
		log:      slogx.OrDiscard(log).With(slog.String("component", "session")),
		ctx:      ctx,
		cancel:   cancel,

		startDone: make(chan struct{}),
	}
	o.strategies = []Strategy{
		CachedAccount(o.id, o.tokens, cfg.Scopes),
		SSONoHint(o.id, cfg.Scopes),
	}
	o.tokens.OnFailure = o.tokenFailed
	return o
}

// Holder exposes the state holder for watchers.
func (o *Orchestrator) Holder() *Holder {
	return o.holder
}

// Snapshot returns the current session state.
func (o *Orchestrator) Snapshot() Snapshot {
	return o.holder.Snapshot()
}

// Start runs the startup sequence once per process. Later and concurrent
// calls wait for the same run. The sequence itself runs to a terminal state
// even if ctx ends; ctx only bounds how long this caller waits.
func (o *Orchestrator) Start(ctx context.Context) (Snapshot, error) {
	o.startOnce.Do(func() {
		go func() {
			defer close(o.startDone)
			_, _, _ = o.seq.Do(o.ctx, "sequence", o.sequence)
		}()
	})

	select {
	case <-o.startDone:
		return o.holder.Snapshot(), nil
	case <-ctx.Done():
		return o.holder.Snapshot(), ctx.Err()
	}
}

// WaitResolved blocks until the session is Authenticated, Unauthenticated or
// AuthFailed.
func (o *Orchestrator) WaitResolved(ctx context.Context) (Snapshot, error) {
	for {
		snap, changed := o.holder.Watch()
		if snap.State.Resolved() {
			return snap, nil
		}
		select {
		case <-changed:
			if o.isClosed() {
				return o.holder.Snapshot(), ErrClosed
			}
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

// Retry re-runs the silent sequence, typically from AuthFailed. It joins a
// sequence already in flight and is a no-op when Authenticated.
func (o *Orchestrator) Retry(ctx context.Context) (Snapshot, error) {
	switch snap := o.holder.Snapshot(); snap.State {
	case Authenticated:
		return snap, nil
	case Uninitialized:
		return o.Start(ctx)
	}
	if o.isClosed() {
		return o.holder.Snapshot(), ErrClosed
	}
	snap, _, err := o.seq.Do(ctx, "sequence", o.sequence)
	return snap, err
}

// sequence never returns an error; failures end in a state.
func (o *Orchestrator) sequence(ctx context.Context) (Snapshot, error) {
	ctx, span := tracer.Start(ctx, "session.startup")
	defer span.End()

	if _, _, err := o.holder.Transition(Initializing, nil, ""); err != nil {
		o.log.ErrorContext(ctx, "cannot start sequence", slog.String("error", err.Error()))
		return o.holder.Snapshot(), nil
	}

	if err := o.id.Initialize(ctx); err != nil {
		o.log.ErrorContext(ctx, "identity client initialization failed", slog.String("error", err.Error()))
		return o.fail(ctx, ReasonInitFailed), nil
	}
	o.subscribeProvider()

	acc, err := o.id.CompletePendingRedirect(ctx)
	switch {
	case err != nil:
		o.log.WarnContext(ctx, "redirect completion failed; continuing as if none pending",
			slog.String("error", err.Error()))
	case acc != nil:
		span.SetAttributes(attribute.String("session.resolved_by", "redirect"))
		return o.activate(ctx, *acc, false), nil
	}

	out := Drive(ctx, o.log, o.strategies...)
	if out.Kind == Success {
		span.SetAttributes(attribute.String("session.resolved_by", "silent"))
		return o.activate(ctx, *out.Account, false), nil
	}
	if errors.Is(out.Err, identity.ErrNotInitialized) {
		return o.fail(ctx, out.Reason()), nil
	}
	return o.applyPolicy(ctx, out), nil
}

// applyPolicy settles a failed silent login. With AutoRedirectOnFailure the
// session waits in Unauthenticated for the scheduled interactive login and
// no AuthFailed is published before that attempt resolves.
func (o *Orchestrator) applyPolicy(ctx context.Context, out Outcome) Snapshot {
	if !o.cfg.AutoRedirectOnFailure {
		return o.fail(ctx, out.Reason())
	}

	snap, _, err := o.holder.Transition(Unauthenticated, nil, ReasonInteractivePending, Initializing)
	if err != nil {
		o.log.ErrorContext(ctx, "transition failed", slog.String("error", err.Error()))
	}
	o.scheduleInteractive()
	return snap
}

// activate marks account active and Authenticated. LoginSuccess is published
// only when the state or the account actually changed; the profile is loaded
// then, or always when reload is set.
func (o *Orchestrator) activate(ctx context.Context, account identity.Account, reload bool) Snapshot {
	if err := o.id.SetActiveAccount(account); err != nil {
		o.log.WarnContext(ctx, "set active account failed", slog.String("error", err.Error()))
	}

	prev := o.holder.Snapshot()
	if prev.Account != nil && prev.Account.ID != account.ID {
		o.profiles.Reset()
	}

	snap, changed, err := o.holder.Transition(Authenticated, &account, "")
	if err != nil {
		o.log.ErrorContext(ctx, "transition failed", slog.String("error", err.Error()))
		return snap
	}
	if changed {
		o.log.InfoContext(ctx, "session authenticated", slog.Any("account", account))
		o.bus.Publish(eventbus.Event{Kind: eventbus.LoginSuccess, Account: &account})
	}
	if changed || reload {
		o.loadProfile(account)
	}
	return snap
}

// fail moves to AuthFailed unless the session got authenticated meanwhile.
// An authenticated session keeps its profile: a failed account switch or
// re-login leaves the current user signed in.
func (o *Orchestrator) fail(ctx context.Context, reason string) Snapshot {
	snap, changed, err := o.holder.Transition(AuthFailed, nil, reason, Initializing, Unauthenticated)
	if err != nil {
		o.log.ErrorContext(ctx, "transition failed", slog.String("error", err.Error()))
	}
	if changed {
		o.profiles.Reset()
		o.log.WarnContext(ctx, "session failed", slog.String("reason", reason))
		o.bus.Publish(eventbus.Event{Kind: eventbus.AuthFailed, Reason: reason})
	}
	return snap
}

// signedOut clears the profile before the state change so no subscriber can
// observe the previous user's data after LogoutSuccess.
func (o *Orchestrator) signedOut(ctx context.Context) Snapshot {
	o.profiles.Reset()
	snap, changed, err := o.holder.Transition(Unauthenticated, nil, ReasonLoggedOut)
	if err != nil {
		o.log.ErrorContext(ctx, "transition failed", slog.String("error", err.Error()))
	}
	if changed {
		o.log.InfoContext(ctx, "session signed out")
		o.bus.Publish(eventbus.Event{Kind: eventbus.LogoutSuccess})
	}
	return snap
}

func (o *Orchestrator) loadProfile(account identity.Account) {
	o.goBackground(func(ctx context.Context) {
		p, err := o.profiles.Load(ctx)
		if err != nil {
			o.log.WarnContext(ctx, "profile unavailable", slog.String("error", err.Error()))
			return
		}
		if p == nil {
			return
		}
		o.bus.Publish(eventbus.Event{Kind: eventbus.ProfileReady, Account: &account, Profile: p})
	})
}

// AccessToken returns a token for the active account through the token
// cache. Scopes default to Config.Scopes. A zero token with a nil error
// means acquisition failed and the caller should proceed unauthenticated.
// ErrInteractionRequired schedules an interactive login under
// AutoRedirectOnFailure.
func (o *Orchestrator) AccessToken(ctx context.Context, scopes ...string) (identity.Token, error) {
	if len(scopes) == 0 {
		scopes = o.cfg.Scopes
	}

	acc, err := ensureActive(ctx, o.id)
	if err != nil {
		return identity.Token{}, err
	}
	if acc == nil {
		return identity.Token{}, ErrNotAuthenticated
	}

	tok, err := o.tokens.Token(ctx, *acc, scopes)
	if errors.Is(err, identity.ErrInteractionRequired) && o.cfg.AutoRedirectOnFailure {
		o.scheduleInteractive()
	}
	return tok, err
}

func (o *Orchestrator) tokenFailed(account identity.Account, err error) {
	o.log.Warn("token acquisition failed; request proceeds unauthenticated",
		slog.Any("account", account), slog.String("error", err.Error()))
}

// Logout signs out at the provider, then clears the profile and moves to
// Unauthenticated.
func (o *Orchestrator) Logout(ctx context.Context) (Snapshot, error) {
	if err := o.id.Logout(ctx); err != nil {
		return o.holder.Snapshot(), err
	}
	return o.signedOut(ctx), nil
}

// Close cancels the scheduled interactive login and background profile
// loads, drops the provider subscription and closes the holder. It does not
// close the event bus.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	if o.timer != nil && o.timer.Stop() {
		o.pending = false
	}
	unsubscribe := o.unsubscribe
	o.unsubscribe = nil
	o.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	o.cancel()
	o.wg.Wait()
	o.holder.Close()
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// goBackground runs fn on the orchestrator's lifetime context unless closed.
func (o *Orchestrator) goBackground(fn func(ctx context.Context)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn(o.ctx)
	}()
}
