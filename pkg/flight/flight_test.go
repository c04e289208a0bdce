package flight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGroupDo(t *testing.T) {
	t.Parallel()

	t.Run("concurrent callers share one call", func(t *testing.T) {
		var g Group[string]
		var calls atomic.Int32
		release := make(chan struct{})

		const callers = 8
		var wg sync.WaitGroup
		results := make([]string, callers)
		started := make(chan struct{}, callers)

		for i := range callers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				started <- struct{}{}
				v, _, err := g.Do(context.Background(), "k", func(context.Context) (string, error) {
					calls.Add(1)
					<-release
					return "token", nil
				})
				require.NoError(t, err)
				results[i] = v
			}(i)
		}

		for range callers {
			<-started
		}
		// Give every goroutine time to join the in-flight call.
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		require.Equal(t, int32(1), calls.Load())
		for _, r := range results {
			require.Equal(t, "token", r)
		}
	})

	t.Run("sequential calls are not memoized", func(t *testing.T) {
		var g Group[int]
		var calls atomic.Int32
		fn := func(context.Context) (int, error) { return int(calls.Add(1)), nil }

		first, _, err := g.Do(context.Background(), "k", fn)
		require.NoError(t, err)
		second, _, err := g.Do(context.Background(), "k", fn)
		require.NoError(t, err)

		require.Equal(t, 1, first)
		require.Equal(t, 2, second)
	})

	t.Run("caller cancellation does not cancel the call", func(t *testing.T) {
		var g Group[string]
		release := make(chan struct{})
		fnCtxErr := make(chan error, 1)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			_, _, err := g.Do(ctx, "k", func(fctx context.Context) (string, error) {
				<-release
				fnCtxErr <- fctx.Err()
				return "late", nil
			})
			done <- err
		}()

		time.Sleep(20 * time.Millisecond)
		cancel()
		require.ErrorIs(t, <-done, context.Canceled)

		close(release)
		require.NoError(t, <-fnCtxErr)
	})
}

func TestMemoGet(t *testing.T) {
	t.Parallel()

	t.Run("late callers receive the memoized value", func(t *testing.T) {
		var m Memo[string]
		var calls atomic.Int32
		fn := func(context.Context) (string, error) {
			calls.Add(1)
			return "avatar", nil
		}

		v, err := m.Get(context.Background(), fn)
		require.NoError(t, err)
		require.Equal(t, "avatar", v)

		v, err = m.Get(context.Background(), fn)
		require.NoError(t, err)
		require.Equal(t, "avatar", v)
		require.Equal(t, int32(1), calls.Load())

		peeked, ok := m.Peek()
		require.True(t, ok)
		require.Equal(t, "avatar", peeked)
	})

	t.Run("errors are shared but not kept", func(t *testing.T) {
		var m Memo[string]
		var calls atomic.Int32
		boom := errors.New("boom")

		_, err := m.Get(context.Background(), func(context.Context) (string, error) {
			calls.Add(1)
			return "", boom
		})
		require.ErrorIs(t, err, boom)

		_, ok := m.Peek()
		require.False(t, ok)

		v, err := m.Get(context.Background(), func(context.Context) (string, error) {
			calls.Add(1)
			return "second", nil
		})
		require.NoError(t, err)
		require.Equal(t, "second", v)
		require.Equal(t, int32(2), calls.Load())
	})

	t.Run("reset forces a new call", func(t *testing.T) {
		var m Memo[int]
		var calls atomic.Int32
		fn := func(context.Context) (int, error) { return int(calls.Add(1)), nil }

		v, err := m.Get(context.Background(), fn)
		require.NoError(t, err)
		require.Equal(t, 1, v)

		m.Reset()
		_, ok := m.Peek()
		require.False(t, ok)

		v, err = m.Get(context.Background(), fn)
		require.NoError(t, err)
		require.Equal(t, 2, v)
	})

	t.Run("concurrent callers trigger one call", func(t *testing.T) {
		var m Memo[string]
		var calls atomic.Int32
		release := make(chan struct{})

		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := m.Get(context.Background(), func(context.Context) (string, error) {
					calls.Add(1)
					<-release
					return "shared", nil
				})
				require.NoError(t, err)
				require.Equal(t, "shared", v)
			}()
		}

		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()
		require.Equal(t, int32(1), calls.Load())
	})
}
