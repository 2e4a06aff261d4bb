package taskview

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"taskhub/internal/models"
)

// FetchMetrics describes the last completed read
type FetchMetrics struct {
	FetchTime       time.Duration `json:"fetch_time"`
	DataSize        int           `json:"data_size"`
	CacheHit        bool          `json:"cache_hit"`
	QueryComplexity int           `json:"query_complexity"`
	LastUpdate      time.Time     `json:"last_update"`
}

// ReaderState is what a viewer sees
type ReaderState struct {
	Tasks   []models.Task    `json:"tasks"`
	Stats   models.TaskStats `json:"stats"`
	Loading bool             `json:"loading"`
	Error   string           `json:"error,omitempty"`
	Metrics FetchMetrics     `json:"metrics"`
}

type fetchParams struct {
	TenantID   string             `json:"tenantId"`
	Filters    models.TaskFilters `json:"filters"`
	SuperAdmin bool               `json:"isSuperAdmin"`
}

// Reader holds the task list of one viewer for one scope and filter set.
// A failed fetch keeps the previous tasks and stats and records the error.
type Reader struct {
	service *Service
	guard   *FetchGuard

	// serializes Sync and Refresh so each caller gets the state of its own cycle
	cycleMu sync.Mutex

	mu         sync.Mutex
	scope      models.Scope
	filters    models.TaskFilters
	state      ReaderState
	generation uint64
	cancel     context.CancelFunc
}

// NewReader creates a reader. Nothing is fetched until Fetch or SetParams.
func NewReader(service *Service, scope models.Scope, filters models.TaskFilters) *Reader {
	return &Reader{
		service: service,
		guard:   NewFetchGuard(),
		scope:   scope,
		filters: filters,
		state:   ReaderState{Tasks: []models.Task{}, Loading: true},
	}
}

// State returns a copy of the current state
func (r *Reader) State() ReaderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Params returns the current scope and filters
func (r *Reader) Params() (models.Scope, models.TaskFilters) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scope, r.filters
}

// Key returns the cache key for the current parameters
func (r *Reader) Key() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.service.Key(r.scope, r.filters)
}

// SetParams switches scope and filters, then fetches unless the guard suppresses it
func (r *Reader) SetParams(ctx context.Context, scope models.Scope, filters models.TaskFilters) ReaderState {
	r.mu.Lock()
	r.scope = scope
	r.filters = filters
	r.mu.Unlock()
	return r.Fetch(ctx, false)
}

// Sync is SetParams that also re-fetches when the cached read for the
// parameters has gone stale or was invalidated
func (r *Reader) Sync(ctx context.Context, scope models.Scope, filters models.TaskFilters) ReaderState {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	r.mu.Lock()
	r.scope = scope
	r.filters = filters
	r.mu.Unlock()

	if r.IsStale() {
		r.guard.Reset()
	}
	return r.Fetch(ctx, false)
}

// Fetch runs one read cycle. With force the guard and the cache are bypassed.
// Starting a cycle cancels the previous one; results of a superseded cycle
// are discarded.
func (r *Reader) Fetch(ctx context.Context, force bool) ReaderState {
	r.mu.Lock()
	scope, filters := r.scope, r.filters

	if !scope.CanRead() {
		r.state.Loading = false
		defer r.mu.Unlock()
		return r.state
	}

	params := fetchParams{TenantID: scope.TenantID, Filters: filters, SuperAdmin: scope.SuperAdmin}
	if !force && !r.guard.ShouldFetch(params) {
		defer r.mu.Unlock()
		return r.state
	}

	key := r.service.Key(scope, filters)
	if !force {
		if entry, ok := r.service.Cached(key); ok {
			r.state.Tasks = entry.Value.Tasks
			r.state.Stats = entry.Value.Stats
			r.state.Loading = false
			r.state.Error = ""
			r.state.Metrics = FetchMetrics{
				DataSize:        len(entry.Value.Tasks),
				CacheHit:        true,
				QueryComplexity: entry.Value.Complexity,
				LastUpdate:      entry.CreatedAt,
			}
			defer r.mu.Unlock()
			return r.state
		}
	}

	if r.cancel != nil {
		r.cancel()
	}
	r.generation++
	generation := r.generation
	cycleCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.state.Loading = true
	r.state.Error = ""
	r.mu.Unlock()

	var snap Snapshot
	var err error
	if force {
		snap, err = r.service.Reload(cycleCtx, scope, filters)
	} else {
		snap, err = r.service.Load(cycleCtx, scope, filters)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cancel()
	if generation != r.generation {
		return r.state
	}
	r.cancel = nil
	r.state.Loading = false

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return r.state
		}
		slog.Error("fetching tasks failed", "key", key, "error", err)
		r.state.Error = err.Error()
		return r.state
	}

	r.state.Tasks = snap.Tasks
	r.state.Stats = snap.Stats
	r.state.Metrics = FetchMetrics{
		FetchTime:       snap.FetchTime,
		DataSize:        len(snap.Tasks),
		QueryComplexity: snap.Complexity,
		LastUpdate:      r.service.Now(),
	}
	r.guard.MarkAsFetched(params)
	return r.state
}

// Refresh invalidates the current key, resets the guard and fetches again
func (r *Reader) Refresh(ctx context.Context) ReaderState {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	r.service.InvalidateKey(r.Key())
	r.guard.Reset()
	return r.Fetch(ctx, true)
}

// ClearCache drops every cached read of the service
func (r *Reader) ClearCache() {
	r.service.Clear()
}

// IsStale reports whether the current key has no fresh cache entry
func (r *Reader) IsStale() bool {
	return r.service.IsStale(r.Key())
}

// Close cancels an in-flight cycle
func (r *Reader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.generation++
}
