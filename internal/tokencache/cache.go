// Package tokencache de-duplicates concurrent access-token requests.
//
// It stores nothing: the provider's client owns token storage and expiry.
// The cache only ensures that callers asking for the same account and scope
// set at the same time share one provider call.
package tokencache

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/aussiebroadwan/signon/internal/identity"
	"github.com/aussiebroadwan/signon/internal/metrics"
	"github.com/aussiebroadwan/signon/pkg/flight"
	"github.com/aussiebroadwan/signon/pkg/slogx"
)

// Acquirer is the slice of *identity.Adapter the cache needs.
type Acquirer interface {
	AcquireTokenSilent(ctx context.Context, account identity.Account, scopes []string) (identity.Token, error)
}

// Cache single-flights token acquisition per (account, scope set).
type Cache struct {
	acq   Acquirer
	log   *slog.Logger
	group flight.Group[identity.Token]

	// OnFailure is called once per failed acquisition (not per waiting
	// caller) with any error other than identity.ErrInteractionRequired.
	// Set it before first use.
	OnFailure func(account identity.Account, err error)
}

// New returns a Cache over acq.
func New(acq Acquirer, log *slog.Logger) *Cache {
	return &Cache{
		acq: acq,
		log: slogx.OrDiscard(log).With(slog.String("component", "tokencache")),
	}
}

// Token returns an access token for account and scopes.
//
// identity.ErrInteractionRequired is returned as is. Any other failure yields
// the zero Token and a nil error so the caller proceeds unauthenticated; the
// failure goes to OnFailure. A cancelled ctx returns ctx.Err().
func (c *Cache) Token(ctx context.Context, account identity.Account, scopes []string) (identity.Token, error) {
	tok, shared, err := c.group.Do(ctx, Key(account, scopes), func(ctx context.Context) (identity.Token, error) {
		tok, err := c.acq.AcquireTokenSilent(ctx, account, scopes)
		switch {
		case err == nil:
		case errors.Is(err, identity.ErrInteractionRequired):
			c.log.DebugContext(ctx, "token needs interaction", slog.Any("account", account))
		default:
			c.log.WarnContext(ctx, "token acquisition failed",
				slog.Any("account", account), slog.String("error", err.Error()))
			if c.OnFailure != nil {
				c.OnFailure(account, err)
			}
		}
		return tok, err
	})

	metrics.TokenAcquisitions.WithLabelValues(result(err), strconv.FormatBool(shared)).Inc()

	switch {
	case err == nil:
		return tok, nil
	case errors.Is(err, identity.ErrInteractionRequired):
		return identity.Token{}, identity.ErrInteractionRequired
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return identity.Token{}, err
	default:
		return identity.Token{}, nil
	}
}

// Key is the single-flight key: account id plus the sorted, de-duplicated
// scope set. Scope order never splits a flight.
func Key(account identity.Account, scopes []string) string {
	set := slices.Clone(scopes)
	for i := range set {
		set[i] = strings.ToLower(strings.TrimSpace(set[i]))
	}
	slices.Sort(set)
	set = slices.Compact(set)
	return account.ID + "|" + strings.Join(set, " ")
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, identity.ErrInteractionRequired):
		return "interaction"
	default:
		return "failed"
	}
}
