// Package flight provides the single-flight primitives shared by the token,
// profile and avatar caches.
//
// Group de-duplicates concurrent calls per key and remembers nothing once the
// call returns. Memo additionally keeps the first successful result until it
// is explicitly Reset.
package flight

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Group runs at most one call per key at a time. Callers arriving while a call
// is outstanding wait for it and receive the same value and error.
type Group[V any] struct {
	sf singleflight.Group
}

// Do executes fn for key unless a call for key is already in flight, in which
// case it waits for that call. The returned bool reports whether the result was
// shared with another caller.
//
// fn runs on a context detached from the caller's cancellation so one caller
// giving up does not fail everyone else waiting on the same key. ctx only
// bounds how long this caller waits.
func (g *Group[V]) Do(ctx context.Context, key string, fn func(context.Context) (V, error)) (V, bool, error) {
	detached := context.WithoutCancel(ctx)

	ch := g.sf.DoChan(key, func() (any, error) {
		return fn(detached)
	})

	select {
	case res := <-ch:
		var v V
		if res.Val != nil {
			v = res.Val.(V)
		}
		return v, res.Shared, res.Err
	case <-ctx.Done():
		var zero V
		return zero, false, ctx.Err()
	}
}

// Forget drops any in-flight call for key so the next Do starts a fresh one.
// Callers already waiting still receive the old result.
func (g *Group[V]) Forget(key string) {
	g.sf.Forget(key)
}
