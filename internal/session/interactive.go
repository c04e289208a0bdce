package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/signon/internal/eventbus"
	"github.com/aussiebroadwan/signon/internal/identity"
)

// Login starts a user-triggered interactive login and blocks until it
// resolves. In redirect mode it returns identity.ErrNavigatedAway and the
// session waits in Unauthenticated for the callback.
func (o *Orchestrator) Login(ctx context.Context) (Snapshot, error) {
	if o.isClosed() {
		return o.holder.Snapshot(), ErrClosed
	}
	if !o.limiter.Allow() {
		return o.holder.Snapshot(), ErrLoginThrottled
	}
	return o.interactive(ctx)
}

// InteractivePending reports whether an interactive login is scheduled or
// running.
func (o *Orchestrator) InteractivePending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending
}

// scheduleInteractive arms exactly one interactive login after
// InteractiveDelay. It does nothing while one is pending or while a redirect
// login is awaiting its callback.
func (o *Orchestrator) scheduleInteractive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.pending || o.holder.Snapshot().Reason == ReasonAwaitingRedirect {
		return false
	}
	o.pending = true
	o.timer = time.AfterFunc(o.cfg.InteractiveDelay, o.runScheduled)
	o.log.Info("interactive login scheduled", slog.Duration("delay", o.cfg.InteractiveDelay))
	return true
}

func (o *Orchestrator) runScheduled() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()

	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		o.pending, o.timer = false, nil
		o.mu.Unlock()
	}()

	_, _ = o.interactive(o.ctx)
}

func (o *Orchestrator) interactive(ctx context.Context) (Snapshot, error) {
	ctx, span := tracer.Start(ctx, "session.interactive")
	defer span.End()

	var hint string
	if acc, _ := o.id.ActiveAccount(); acc != nil {
		hint = acc.Username
	}

	acc, err := o.id.LoginInteractive(ctx, o.cfg.Scopes, hint)
	switch {
	case err == nil:
		return o.activate(ctx, *acc, false), nil
	case errors.Is(err, identity.ErrNavigatedAway):
		o.log.InfoContext(ctx, "interactive login continues in the browser")
		snap, _, terr := o.holder.Transition(Unauthenticated, nil, ReasonAwaitingRedirect,
			Initializing, Unauthenticated, AuthFailed)
		if terr != nil {
			o.log.ErrorContext(ctx, "transition failed", slog.String("error", terr.Error()))
		}
		return snap, err
	default:
		span.RecordError(err)
		o.log.WarnContext(ctx, "interactive login failed", slog.String("error", err.Error()))
		return o.fail(ctx, ReasonInteractiveFailed), err
	}
}

func (o *Orchestrator) subscribeProvider() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.unsubscribe != nil {
		return
	}

	cancel, err := o.id.Subscribe(o.onProviderEvent)
	if err != nil {
		o.log.Error("subscribe to provider events failed", slog.String("error", err.Error()))
		return
	}
	o.unsubscribe = cancel
}

// onProviderEvent runs on the provider's goroutine. Anything that may call
// back into the provider beyond setting the active account runs in the
// background.
func (o *Orchestrator) onProviderEvent(ev identity.ProviderEvent) {
	if o.isClosed() {
		return
	}
	ctx := o.ctx
	o.log.DebugContext(ctx, "provider event", slog.String("kind", ev.Kind.String()))

	switch ev.Kind {
	case identity.EventLoginSuccess, identity.EventTokenAcquired:
		if ev.Account == nil || ev.Account.IsZero() {
			o.goBackground(o.selfHeal)
			return
		}
		acc := *ev.Account
		o.activate(ctx, acc, true)
		if ev.Kind == identity.EventTokenAcquired {
			o.bus.Publish(eventbus.Event{Kind: eventbus.TokenAcquired, Account: &acc})
		}
	case identity.EventLogoutSuccess:
		o.signedOut(ctx)
	case identity.EventInteractionIdle:
		o.goBackground(o.selfHeal)
	}
}

// selfHeal selects the first cached account when accounts exist but none is
// active.
func (o *Orchestrator) selfHeal(ctx context.Context) {
	acc, err := ensureActive(ctx, o.id)
	if err != nil {
		o.log.WarnContext(ctx, "active account check failed", slog.String("error", err.Error()))
		return
	}
	if acc != nil {
		o.log.DebugContext(ctx, "active account verified", slog.Any("account", *acc))
	}
}
