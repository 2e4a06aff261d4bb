package taskview

import (
	"context"
	"encoding/json"
	"sync"

	"golang.org/x/sync/singleflight"
)

// FetchGuard suppresses a fetch whose parameters equal the last fetched ones.
// It holds a single slot: only the most recent parameter set is remembered.
type FetchGuard struct {
	mu   sync.Mutex
	last string
	set  bool
}

// NewFetchGuard creates an empty guard
func NewFetchGuard() *FetchGuard {
	return &FetchGuard{}
}

// ShouldFetch returns false when params serialize identically to the last marked params
func (g *FetchGuard) ShouldFetch(params any) bool {
	key, ok := serializeParams(params)
	if !ok {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.set || g.last != key
}

// MarkAsFetched records params as the last fetched parameter set
func (g *FetchGuard) MarkAsFetched(params any) {
	key, ok := serializeParams(params)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = key
	g.set = ok
}

// Reset forgets the remembered params so the next ShouldFetch returns true
func (g *FetchGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = ""
	g.set = false
}

// serializeParams returns ok=false for params that cannot be marshaled; those always fetch
func serializeParams(params any) (string, bool) {
	data, err := json.Marshal(params)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// InFlight collapses concurrent loads of the same key into one call.
// Different keys never wait on each other.
type InFlight[T any] struct {
	group singleflight.Group
}

// Do runs fn once per key among concurrent callers. fn receives a context that
// is not cancelled with the caller's, so an abandoned caller does not fail the
// others; the caller itself stops waiting as soon as ctx is done.
func (f *InFlight[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (T, bool, error) {
	ch := f.group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Shared, res.Err
		}
		return res.Val.(T), res.Shared, nil
	}
}

// Forget drops the in-flight call for key so the next Do starts a new one
func (f *InFlight[T]) Forget(key string) {
	f.group.Forget(key)
}
