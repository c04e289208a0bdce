package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aussiebroadwan/signon/internal/identity"
	"github.com/aussiebroadwan/signon/internal/metrics"
	"github.com/aussiebroadwan/signon/internal/tokencache"
	"github.com/aussiebroadwan/signon/pkg/slogx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// OutcomeKind tags the result of one silent login strategy.
type OutcomeKind int

const (
	Success OutcomeKind = iota + 1
	NeedsInteraction
	TransientFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case NeedsInteraction:
		return "interaction"
	case TransientFailure:
		return "transient"
	default:
		return "unknown"
	}
}

// Outcome is what a Strategy returns. Account is set on Success, Err on
// TransientFailure (and on NeedsInteraction when the provider said so).
type Outcome struct {
	Kind    OutcomeKind
	Account *identity.Account
	Err     error
}

// Reason maps a failed outcome to a Snapshot reason.
func (o Outcome) Reason() string {
	switch {
	case errors.Is(o.Err, identity.ErrNotInitialized):
		return ReasonNotInitialized
	case o.Kind == NeedsInteraction:
		return ReasonInteractionRequired
	default:
		return ReasonSilentFailed
	}
}

func outcomeOf(acc *identity.Account, err error) Outcome {
	switch {
	case err == nil && acc != nil:
		return Outcome{Kind: Success, Account: acc}
	case err == nil, errors.Is(err, identity.ErrInteractionRequired):
		return Outcome{Kind: NeedsInteraction, Err: err}
	default:
		return Outcome{Kind: TransientFailure, Err: err}
	}
}

// Strategy is one way of signing in without user interaction.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context) Outcome
}

type cachedAccount struct {
	id     *identity.Adapter
	tokens *tokencache.Cache
	scopes []string
}

// CachedAccount acquires a token silently for the active account, selecting
// the first cached account when none is active. With no cached accounts it
// reports NeedsInteraction without calling the provider.
func CachedAccount(id *identity.Adapter, tokens *tokencache.Cache, scopes []string) Strategy {
	return &cachedAccount{id: id, tokens: tokens, scopes: scopes}
}

func (s *cachedAccount) Name() string { return "cached-account" }

func (s *cachedAccount) Attempt(ctx context.Context) Outcome {
	acc, err := ensureActive(ctx, s.id)
	if err != nil {
		return Outcome{Kind: TransientFailure, Err: err}
	}
	if acc == nil {
		return Outcome{Kind: NeedsInteraction}
	}

	tok, err := s.tokens.Token(ctx, *acc, s.scopes)
	switch {
	case err != nil:
		return outcomeOf(nil, err)
	case tok.IsZero():
		// The cache already reported the underlying failure.
		return Outcome{Kind: TransientFailure, Err: ErrTokenUnavailable}
	}
	return Outcome{Kind: Success, Account: acc}
}

type ssoNoHint struct {
	id     *identity.Adapter
	scopes []string
}

// SSONoHint probes the provider's session without naming an account.
func SSONoHint(id *identity.Adapter, scopes []string) Strategy {
	return &ssoNoHint{id: id, scopes: scopes}
}

func (s *ssoNoHint) Name() string { return "sso-no-hint" }

func (s *ssoNoHint) Attempt(ctx context.Context) Outcome {
	return outcomeOf(s.id.SSOSilent(ctx, s.scopes, ""))
}

// Drive tries strategies in order and returns the first Success. Otherwise
// it returns the last outcome. ErrNotInitialized stops the fold at once.
// An empty list needs interaction.
func Drive(ctx context.Context, log *slog.Logger, strategies ...Strategy) Outcome {
	log = slogx.OrDiscard(log)
	out := Outcome{Kind: NeedsInteraction}
	for _, s := range strategies {
		out = attempt(ctx, log, s)
		if out.Kind == Success || errors.Is(out.Err, identity.ErrNotInitialized) {
			return out
		}
	}
	return out
}

func attempt(ctx context.Context, log *slog.Logger, s Strategy) Outcome {
	ctx, span := tracer.Start(ctx, "session.strategy")
	defer span.End()
	span.SetAttributes(attribute.String("session.strategy", s.Name()))

	out := s.Attempt(ctx)
	metrics.StrategyOutcomes.WithLabelValues(s.Name(), out.Kind.String()).Inc()
	span.SetAttributes(attribute.String("session.outcome", out.Kind.String()))

	attrs := []any{slog.String("strategy", s.Name()), slog.String("outcome", out.Kind.String())}
	switch out.Kind {
	case Success:
		log.InfoContext(ctx, "silent login succeeded", append(attrs, slog.Any("account", out.Account))...)
	case NeedsInteraction:
		log.DebugContext(ctx, "silent login needs interaction", attrs...)
	default:
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, "silent login failed")
		log.WarnContext(ctx, "silent login failed", append(attrs, slog.String("error", out.Err.Error()))...)
	}
	return out
}

// ensureActive returns the active account, first selecting the first cached
// account when accounts exist but none is active. It returns nil when no
// account is cached.
func ensureActive(ctx context.Context, id *identity.Adapter) (*identity.Account, error) {
	acc, err := id.ActiveAccount()
	if err != nil || acc != nil {
		return acc, err
	}

	accs, err := id.Accounts(ctx)
	if err != nil || len(accs) == 0 {
		return nil, err
	}
	first := accs[0]
	if err := id.SetActiveAccount(first); err != nil {
		return nil, err
	}
	return &first, nil
}
