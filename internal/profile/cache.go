package profile

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/aussiebroadwan/signon/internal/metrics"
	"github.com/aussiebroadwan/signon/pkg/flight"
	"github.com/aussiebroadwan/signon/pkg/slogx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/aussiebroadwan/signon/internal/profile")

// Cache holds the profile of the active account. Loads are single-flight
// and a Reset invalidates any load still in flight.
type Cache struct {
	accounts AccountSource
	fetcher  Fetcher
	avatars  *AvatarCache
	log      *slog.Logger

	group flight.Group[*UserProfile]

	mu      sync.Mutex
	gen     uint64
	current *UserProfile
	// avatarChecked/hasAvatar/avatar record the avatar outcome for this
	// session so reloading the profile never refetches the photo.
	avatarChecked bool
	hasAvatar     bool
	avatar        *Handle
}

// NewCache builds a Cache. The avatar cache is created over
// fetcher.FetchAvatar.
func NewCache(accounts AccountSource, fetcher Fetcher, log *slog.Logger) *Cache {
	log = slogx.OrDiscard(log).With(slog.String("component", "profile"))
	return &Cache{
		accounts: accounts,
		fetcher:  fetcher,
		avatars:  NewAvatarCache(fetcher.FetchAvatar, log),
		log:      log,
	}
}

// Avatars exposes the avatar cache.
func (c *Cache) Avatars() *AvatarCache {
	return c.avatars
}

// Current returns the cached profile without I/O, or nil.
func (c *Cache) Current() *UserProfile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.clone()
}

// Profile returns the cached profile, loading it if needed.
func (c *Cache) Profile(ctx context.Context) (*UserProfile, error) {
	if p := c.Current(); p != nil {
		return p, nil
	}
	return c.Load(ctx)
}

// Load fetches the profile of the active account. With no active account it
// returns (nil, nil) without I/O. Concurrent loads share one fetch.
func (c *Cache) Load(ctx context.Context) (*UserProfile, error) {
	acc, err := c.accounts.ActiveAccount()
	if err != nil || acc == nil {
		return nil, err
	}

	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	key := strconv.FormatUint(gen, 10) + ":" + acc.ID
	p, _, err := c.group.Do(ctx, key, func(ctx context.Context) (*UserProfile, error) {
		return c.load(ctx, gen)
	})
	return p.clone(), err
}

func (c *Cache) load(ctx context.Context, gen uint64) (*UserProfile, error) {
	ctx, span := tracer.Start(ctx, "profile.load")
	defer span.End()

	p, err := c.fetcher.FetchProfile(ctx)
	metrics.ProfileFetches.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch profile")
		c.log.WarnContext(ctx, "profile fetch failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrProfileFetch, err)
	}
	p = p.clone()

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return nil, nil
	}
	checked, has, h := c.avatarChecked, c.hasAvatar, c.avatar
	c.mu.Unlock()

	fetched := !checked
	if fetched {
		h, err = c.avatars.Avatar(ctx)
		if err != nil {
			// Only the context can fail here; keep the profile without a photo.
			h = nil
		} else {
			checked, has = true, h != nil
		}
	}
	p.Avatar, p.HasAvatar, p.AvatarChecked = h, has, checked
	span.SetAttributes(attribute.Bool("profile.has_avatar", has))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		// Reset ran while we were fetching; the result belongs to a dead session.
		if fetched {
			h.Release()
		}
		return nil, nil
	}
	if checked {
		c.avatarChecked, c.hasAvatar, c.avatar = true, has, h
	}
	c.current = p
	return p.clone(), nil
}

// Reset clears the profile, the avatar-checked flag and the avatar cache.
// It returns after the state is cleared.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.gen++
	c.current = nil
	c.avatarChecked, c.hasAvatar, c.avatar = false, false, nil
	c.mu.Unlock()

	c.avatars.Reset()
}
