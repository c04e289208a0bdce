package profile

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aussiebroadwan/signon/internal/metrics"
	"github.com/aussiebroadwan/signon/pkg/flight"
	"github.com/aussiebroadwan/signon/pkg/slogx"
)

// AvatarCache fetches the user's avatar at most once per session. "No
// avatar" and failed fetches are both remembered until Reset, so a user
// without a photo costs one request.
type AvatarCache struct {
	fetch func(context.Context) (*Handle, error)
	log   *slog.Logger
	memo  flight.Memo[*Handle]
}

// NewAvatarCache caches the results of fetch.
func NewAvatarCache(fetch func(context.Context) (*Handle, error), log *slog.Logger) *AvatarCache {
	return &AvatarCache{fetch: fetch, log: slogx.OrDiscard(log)}
}

// Avatar returns the avatar handle, or nil when the user has none or the
// fetch failed. The only error is the caller's context ending.
func (c *AvatarCache) Avatar(ctx context.Context) (*Handle, error) {
	return c.memo.Get(ctx, func(ctx context.Context) (*Handle, error) {
		h, err := c.fetch(ctx)
		switch {
		case err == nil && h != nil:
			metrics.AvatarFetches.WithLabelValues("found").Inc()
			return h, nil
		case err == nil, errors.Is(err, ErrNoAvatar):
			metrics.AvatarFetches.WithLabelValues("none").Inc()
			c.log.DebugContext(ctx, "user has no avatar")
		default:
			metrics.AvatarFetches.WithLabelValues("failed").Inc()
			c.log.WarnContext(ctx, "avatar fetch failed, continuing without",
				slog.String("error", err.Error()))
		}
		return nil, nil
	})
}

// Checked reports whether a fetch has completed since the last Reset.
func (c *AvatarCache) Checked() bool {
	_, ok := c.memo.Peek()
	return ok
}

// Reset forgets the memoized outcome and releases the held bytes.
func (c *AvatarCache) Reset() {
	if h, ok := c.memo.Peek(); ok {
		h.Release()
	}
	c.memo.Reset()
}
