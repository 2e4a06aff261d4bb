package taskview

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFetchGuardSequence(t *testing.T) {
	g := NewFetchGuard()
	p := fetchParams{TenantID: "t1"}

	require.True(t, g.ShouldFetch(p))
	require.True(t, g.ShouldFetch(p), "nothing is suppressed until params are marked")
	g.MarkAsFetched(p)
	require.False(t, g.ShouldFetch(p))
	require.True(t, g.ShouldFetch(fetchParams{TenantID: "t2"}))
	g.Reset()
	require.True(t, g.ShouldFetch(p))
}

func TestFetchGuardSingleSlot(t *testing.T) {
	g := NewFetchGuard()
	a := map[string]string{"tenant": "a"}
	b := map[string]string{"tenant": "b"}

	g.MarkAsFetched(a)
	g.MarkAsFetched(b)
	require.True(t, g.ShouldFetch(a), "only the last marked params are remembered")
	require.False(t, g.ShouldFetch(b))
}

func TestFetchGuardUnserializableAlwaysFetches(t *testing.T) {
	g := NewFetchGuard()
	bad := map[string]any{"fn": func() {}}
	g.MarkAsFetched(bad)
	require.True(t, g.ShouldFetch(bad))
}

func TestInFlightSharesConcurrentCalls(t *testing.T) {
	var f InFlight[int]
	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})

	fn := func(ctx context.Context) (int, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 5)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _, _ = f.Do(context.Background(), "k", fn)
	}()
	<-started
	for i := 1; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, _ = f.Do(context.Background(), "k", fn)
		}(i)
	}
	// let the followers reach the group before releasing the leader
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		require.Equal(t, 42, r)
	}
}

func TestInFlightDifferentKeysDoNotBlock(t *testing.T) {
	var f InFlight[string]
	block := make(chan struct{})
	defer close(block)

	go f.Do(context.Background(), "slow", func(ctx context.Context) (string, error) {
		<-block
		return "slow", nil
	})

	done := make(chan string, 1)
	go func() {
		v, _, _ := f.Do(context.Background(), "fast", func(ctx context.Context) (string, error) {
			return "fast", nil
		})
		done <- v
	}()

	select {
	case v := <-done:
		require.Equal(t, "fast", v)
	case <-time.After(time.Second):
		t.Fatal("load of a different key waited on an unrelated call")
	}
}

func TestInFlightCancelledCallerStopsWaiting(t *testing.T) {
	var f InFlight[int]
	release := make(chan struct{})
	var innerErr atomic.Value

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, _, err := f.Do(ctx, "k", func(inner context.Context) (int, error) {
			<-release
			if err := inner.Err(); err != nil {
				innerErr.Store(err)
			}
			return 1, nil
		})
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	err := <-errCh
	require.True(t, errors.Is(err, context.Canceled))

	close(release)
	v, _, err := f.Do(context.Background(), "k", func(context.Context) (int, error) { return 2, nil })
	require.NoError(t, err)
	require.Contains(t, []int{1, 2}, v)
	require.Nil(t, innerErr.Load(), "the shared call is not cancelled with its first caller")
}
