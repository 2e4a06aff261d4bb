package taskview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"taskhub/internal/models"
)

const (
	superAdminKey      = "tasks_super_admin"
	tenantKeyPrefix    = "tasks_"
	defaultLoadTimeout = 30 * time.Second
)

// Source loads the flat task list for a query, actions included
type Source interface {
	FetchTasks(ctx context.Context, q Query) ([]models.Task, error)
}

// Recorder receives read-path telemetry
type Recorder interface {
	RecordCacheLookup(hit bool)
	RecordFetch(complexity int, duration time.Duration, items int, err error)
	RecordOrphans(count int)
}

// Invalidator drops cached reads after a tenant's tasks changed
type Invalidator interface {
	InvalidateTenant(tenantID string) []string
}

type nopRecorder struct{}

func (nopRecorder) RecordCacheLookup(bool)                     {}
func (nopRecorder) RecordFetch(int, time.Duration, int, error) {}
func (nopRecorder) RecordOrphans(int)                          {}

// Snapshot is one organized read, as cached
type Snapshot struct {
	Tasks      []models.Task    `json:"tasks"`
	Stats      models.TaskStats `json:"stats"`
	Orphans    int              `json:"orphans"`
	Complexity int              `json:"complexity"`
	FetchTime  time.Duration    `json:"fetch_time"`
}

// Service owns the process-wide read cache and loads snapshots from a Source.
// Readers for individual viewers share one Service.
type Service struct {
	cache       *Cache[Snapshot]
	inflight    InFlight[Snapshot]
	builder     *QueryBuilder
	source      Source
	recorder    Recorder
	now         func() time.Time
	loadTimeout time.Duration
	// bumped by every invalidation; loads started before it do not write the cache
	epoch atomic.Uint64
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithRecorder sets the telemetry recorder
func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithClock sets the clock used for cache freshness and overdue stats
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLoadTimeout bounds a single remote fetch
func WithLoadTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.loadTimeout = d
		}
	}
}

// WithQueryBuilder replaces the default tasks/task_actions builder
func WithQueryBuilder(b *QueryBuilder) ServiceOption {
	return func(s *Service) {
		if b != nil {
			s.builder = b
		}
	}
}

// NewService creates a read service over source with the given cache TTL
func NewService(source Source, ttl time.Duration, opts ...ServiceOption) *Service {
	s := &Service{
		builder:     NewQueryBuilder(),
		source:      source,
		recorder:    nopRecorder{},
		now:         time.Now,
		loadTimeout: defaultLoadTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = NewCache[Snapshot](ttl, s.now)
	return s
}

// Builder returns the query builder
func (s *Service) Builder() *QueryBuilder {
	return s.builder
}

// TTL returns how long a cached read stays fresh
func (s *Service) TTL() time.Duration {
	return s.cache.TTL()
}

// Now returns the service clock's current time
func (s *Service) Now() time.Time {
	return s.now()
}

// Key derives the cache key for a scope and filter set
func (s *Service) Key(scope models.Scope, filters models.TaskFilters) string {
	base := scopeKey(scope)
	if filters.IsEmpty() {
		return base
	}
	data, err := json.Marshal(filters)
	if err != nil {
		return base
	}
	return base + "_" + string(data)
}

func scopeKey(scope models.Scope) string {
	if scope.SuperAdmin {
		return superAdminKey
	}
	return tenantKeyPrefix + scope.TenantID
}

// Cached returns a fresh cache entry for key
func (s *Service) Cached(key string) (Entry[Snapshot], bool) {
	entry, ok := s.cache.Get(key)
	s.recorder.RecordCacheLookup(ok)
	return entry, ok
}

// IsStale reports whether key has no fresh entry
func (s *Service) IsStale(key string) bool {
	return s.cache.IsStale(key)
}

// Load fetches, organizes and caches the tasks visible to scope.
// Concurrent loads of the same key share one remote call.
func (s *Service) Load(ctx context.Context, scope models.Scope, filters models.TaskFilters) (Snapshot, error) {
	key := s.Key(scope, filters)
	snap, shared, err := s.inflight.Do(ctx, key, func(ctx context.Context) (Snapshot, error) {
		return s.load(ctx, key, scope, filters)
	})
	if shared {
		slog.Debug("task load shared with concurrent caller", "key", key)
	}
	return snap, err
}

// Reload drops key and loads it again without joining an earlier in-flight load
func (s *Service) Reload(ctx context.Context, scope models.Scope, filters models.TaskFilters) (Snapshot, error) {
	s.InvalidateKey(s.Key(scope, filters))
	return s.Load(ctx, scope, filters)
}

// Fetch loads the raw, unorganized list for scope straight from the source
func (s *Service) Fetch(ctx context.Context, scope models.Scope, filters models.TaskFilters) ([]models.Task, error) {
	query := s.builder.BuildQuery(scope.TenantID, scope.SuperAdmin, filters)
	return s.source.FetchTasks(ctx, query)
}

func (s *Service) load(ctx context.Context, key string, scope models.Scope, filters models.TaskFilters) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.loadTimeout)
	defer cancel()

	epoch := s.epoch.Load()
	query := s.builder.BuildQuery(scope.TenantID, scope.SuperAdmin, filters)
	complexity := s.builder.Complexity(filters, scope.SuperAdmin)

	start := time.Now()
	raw, err := s.source.FetchTasks(ctx, query)
	elapsed := time.Since(start)
	s.recorder.RecordFetch(complexity, elapsed, len(raw), err)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch tasks: %w", err)
	}

	organized, orphans := OrganizeWithOrphans(raw)
	if len(orphans) > 0 {
		s.recorder.RecordOrphans(len(orphans))
		slog.Warn("dropped subtasks whose parent is not in the result set",
			"key", key, "orphans", len(orphans))
	}

	snap := Snapshot{
		Tasks:      organized,
		Stats:      Aggregate(raw, s.now()),
		Orphans:    len(orphans),
		Complexity: complexity,
		FetchTime:  elapsed,
	}
	if s.epoch.Load() == epoch {
		s.cache.Set(key, snap)
	}
	return snap, nil
}

// InvalidateKey drops a single cache key
func (s *Service) InvalidateKey(key string) {
	s.epoch.Add(1)
	s.cache.Invalidate(key)
	s.inflight.Forget(key)
}

// InvalidateTenant drops every key of the tenant and every super-admin key,
// since super-admin reads span all tenants
func (s *Service) InvalidateTenant(tenantID string) []string {
	s.epoch.Add(1)
	tenantBase := tenantKeyPrefix + tenantID
	removed := s.cache.InvalidateMatching(func(key string) bool {
		return matchesBase(key, superAdminKey) || (tenantID != "" && matchesBase(key, tenantBase))
	})
	for _, key := range removed {
		s.inflight.Forget(key)
	}
	return removed
}

func matchesBase(key, base string) bool {
	return key == base || strings.HasPrefix(key, base+"_{")
}

// Clear drops every cached read
func (s *Service) Clear() {
	s.epoch.Add(1)
	s.cache.Clear()
}

// Prune deletes stale entries and returns how many were removed
func (s *Service) Prune() int {
	return s.cache.Prune()
}

// CacheKeys returns the stored cache keys
func (s *Service) CacheKeys() []string {
	return s.cache.Keys()
}

// CacheLen returns the number of stored cache entries
func (s *Service) CacheLen() int {
	return s.cache.Len()
}
