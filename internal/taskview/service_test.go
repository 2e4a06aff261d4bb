package taskview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskhub/internal/models"
)

type fakeSource struct {
	mu      sync.Mutex
	tasks   []models.Task
	err     error
	calls   int
	queries []Query
	gate    chan struct{}
}

func (s *fakeSource) FetchTasks(ctx context.Context, q Query) ([]models.Task, error) {
	s.mu.Lock()
	s.calls++
	s.queries = append(s.queries, q)
	gate := s.gate
	err := s.err
	tasks := append([]models.Task(nil), s.tasks...)
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	var out []models.Task
	for _, task := range tasks {
		if q.AllTenants || task.TenantID == q.TenantID {
			out = append(out, task)
		}
	}
	return out, nil
}

func (s *fakeSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeSource) setTasks(tasks []models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = tasks
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type countingRecorder struct {
	mu      sync.Mutex
	hits    int
	misses  int
	fetches int
	orphans int
}

func (r *countingRecorder) RecordCacheLookup(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.hits++
	} else {
		r.misses++
	}
}

func (r *countingRecorder) RecordFetch(int, time.Duration, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches++
}

func (r *countingRecorder) RecordOrphans(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orphans += n
}

func sampleTasks() []models.Task {
	return []models.Task{
		{ID: "A", TenantID: "t1", Status: models.TaskStatusTodo, DisplayOrder: "1"},
		{ID: "B", TenantID: "t1", ParentID: "A", Status: models.TaskStatusDone, DisplayOrder: "2"},
		{ID: "C", TenantID: "t1", ParentID: "A", Status: models.TaskStatusDoing, DisplayOrder: "1"},
		{ID: "D", TenantID: "t2", Status: models.TaskStatusTodo, DisplayOrder: "1"},
	}
}

func TestServiceKey(t *testing.T) {
	s := NewService(&fakeSource{}, time.Minute)

	require.Equal(t, "tasks_t1", s.Key(models.Scope{TenantID: "t1"}, models.TaskFilters{}))
	require.Equal(t, "tasks_super_admin", s.Key(models.Scope{TenantID: "t1", SuperAdmin: true}, models.TaskFilters{}))
	require.Equal(t, `tasks_t1_{"status":"done"}`,
		s.Key(models.Scope{TenantID: "t1"}, models.TaskFilters{Status: models.TaskStatusDone}))
}

func TestServiceLoadOrganizesAndCaches(t *testing.T) {
	src := &fakeSource{tasks: sampleTasks()}
	rec := &countingRecorder{}
	s := NewService(src, time.Minute, WithRecorder(rec))
	scope := models.Scope{TenantID: "t1"}

	snap, err := s.Load(context.Background(), scope, models.TaskFilters{})
	require.NoError(t, err)
	require.Equal(t, []string{"A", "C", "B"}, ids(snap.Tasks))
	require.Equal(t, models.TaskStats{Total: 3, Active: 2, Completed: 1}, snap.Stats)
	require.Equal(t, 1, snap.Complexity)

	entry, ok := s.Cached("tasks_t1")
	require.True(t, ok)
	require.Equal(t, snap.Tasks, entry.Value.Tasks)
	require.Equal(t, 1, rec.fetches)
	require.Equal(t, 1, rec.hits)
}

func TestServiceLoadCountsOrphans(t *testing.T) {
	src := &fakeSource{tasks: []models.Task{
		{ID: "A", TenantID: "t1"},
		{ID: "X", TenantID: "t1", ParentID: "gone"},
	}}
	rec := &countingRecorder{}
	s := NewService(src, time.Minute, WithRecorder(rec))

	snap, err := s.Load(context.Background(), models.Scope{TenantID: "t1"}, models.TaskFilters{})
	require.NoError(t, err)
	require.Equal(t, []string{"A"}, ids(snap.Tasks))
	require.Equal(t, 1, snap.Orphans)
	require.Equal(t, 2, snap.Stats.Total)
	require.Equal(t, 1, rec.orphans)
}

func TestServiceLoadErrorIsWrapped(t *testing.T) {
	boom := errors.New("connection refused")
	s := NewService(&fakeSource{err: boom}, time.Minute)

	_, err := s.Load(context.Background(), models.Scope{TenantID: "t1"}, models.TaskFilters{})
	require.ErrorIs(t, err, boom)
	require.True(t, s.IsStale("tasks_t1"))
}

func TestServiceInvalidateTenant(t *testing.T) {
	src := &fakeSource{tasks: sampleTasks()}
	s := NewService(src, time.Minute)
	ctx := context.Background()

	for _, load := range []struct {
		scope   models.Scope
		filters models.TaskFilters
	}{
		{models.Scope{TenantID: "t1"}, models.TaskFilters{}},
		{models.Scope{TenantID: "t1"}, models.TaskFilters{Status: models.TaskStatusTodo}},
		{models.Scope{TenantID: "t10"}, models.TaskFilters{}},
		{models.Scope{TenantID: "t2"}, models.TaskFilters{}},
		{models.Scope{SuperAdmin: true}, models.TaskFilters{}},
	} {
		_, err := s.Load(ctx, load.scope, load.filters)
		require.NoError(t, err)
	}
	require.Equal(t, 5, s.CacheLen())

	removed := s.InvalidateTenant("t1")
	require.ElementsMatch(t, []string{"tasks_t1", `tasks_t1_{"status":"todo"}`, "tasks_super_admin"}, removed)
	require.Equal(t, []string{"tasks_t10", "tasks_t2"}, s.CacheKeys())
}

func TestServiceInvalidationDuringLoadSkipsCacheWrite(t *testing.T) {
	src := &fakeSource{tasks: sampleTasks(), gate: make(chan struct{})}
	s := NewService(src, time.Minute)
	scope := models.Scope{TenantID: "t1"}

	done := make(chan error, 1)
	go func() {
		_, err := s.Load(context.Background(), scope, models.TaskFilters{})
		done <- err
	}()

	require.Eventually(t, func() bool { return src.callCount() == 1 }, time.Second, time.Millisecond)
	s.InvalidateTenant("t1")
	close(src.gate)
	require.NoError(t, <-done)
	require.True(t, s.IsStale("tasks_t1"), "a load that raced an invalidation must not repopulate the cache")
}

func TestServicePrune(t *testing.T) {
	clock := newFakeClock()
	s := NewService(&fakeSource{tasks: sampleTasks()}, time.Minute, WithClock(clock.Now))

	_, err := s.Load(context.Background(), models.Scope{TenantID: "t1"}, models.TaskFilters{})
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	require.Equal(t, 1, s.Prune())
	require.Equal(t, 0, s.CacheLen())
}
