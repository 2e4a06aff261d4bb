package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"taskhub/internal/models"
	"taskhub/internal/services"
)

type stubFetcher struct {
	tasks []models.Task
	err   error
	scope models.Scope
}

func (f *stubFetcher) Fetch(_ context.Context, scope models.Scope, _ models.TaskFilters) ([]models.Task, error) {
	f.scope = scope
	return f.tasks, f.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	toasts []services.Toast
}

func (n *recordingNotifier) Notify(_ context.Context, toast services.Toast) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toasts = append(n.toasts, toast)
}

type stubPruner struct{ calls int }

func (p *stubPruner) Prune() int {
	p.calls++
	return 2
}

type stubLocker struct {
	acquire  bool
	released int
}

func (l *stubLocker) AcquireLock(context.Context, string, string, time.Duration) (bool, error) {
	return l.acquire, nil
}

func (l *stubLocker) ReleaseLock(context.Context, string, string) (bool, error) {
	l.released++
	return true, nil
}

type countingJob struct{ runs int }

func (j *countingJob) Run(context.Context) error {
	j.runs++
	return nil
}

func TestOverdueDigestJob(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	day := func(d int) time.Time { return time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC) }

	fetcher := &stubFetcher{tasks: []models.Task{
		{ID: "1", TenantID: "t1", Title: "Late report", Status: models.TaskStatusTodo, DueDate: day(5)},
		{ID: "2", TenantID: "t1", Title: "Later", Status: models.TaskStatusDoing, DueDate: day(8)},
		{ID: "3", TenantID: "t1", Title: "Finished", Status: models.TaskStatusDone, DueDate: day(1)},
		{ID: "4", TenantID: "t2", Title: "Future", Status: models.TaskStatusTodo, DueDate: day(20)},
		{ID: "5", TenantID: "t3", Title: "Only one", Status: models.TaskStatusBlocked, DueDate: day(9)},
	}}
	notifier := &recordingNotifier{}

	job := NewOverdueDigestJob(fetcher, notifier)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !fetcher.scope.SuperAdmin {
		t.Error("digest should read with elevated scope")
	}
	if len(notifier.toasts) != 2 {
		t.Fatalf("expected 2 toasts, got %d", len(notifier.toasts))
	}

	first := notifier.toasts[0]
	if first.TenantID != "t1" {
		t.Errorf("first toast tenant = %q, want t1", first.TenantID)
	}
	if first.Description != "2 tasks are overdue: Late report, Later" {
		t.Errorf("unexpected description %q", first.Description)
	}
	if first.Variant != services.ToastDestructive {
		t.Errorf("variant = %q, want destructive", first.Variant)
	}
	if notifier.toasts[1].Description != "1 task is overdue: Only one" {
		t.Errorf("unexpected description %q", notifier.toasts[1].Description)
	}
}

func TestOverdueDigestJob_FetchError(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("boom")}
	notifier := &recordingNotifier{}

	err := NewOverdueDigestJob(fetcher, notifier).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected wrapped fetch error, got %v", err)
	}
	if len(notifier.toasts) != 0 {
		t.Errorf("no toast expected on failure, got %d", len(notifier.toasts))
	}
}

func TestDigestDescription_Truncates(t *testing.T) {
	var overdue []models.Task
	for _, title := range []string{"a", "b", "c", "d", "e"} {
		overdue = append(overdue, models.Task{Title: title})
	}
	got := digestDescription(overdue)
	want := "5 tasks are overdue: a, b, c and 2 more"
	if got != want {
		t.Errorf("digestDescription() = %q, want %q", got, want)
	}
}

func TestCachePruneJob(t *testing.T) {
	pruner := &stubPruner{}
	if err := NewCachePruneJob(pruner).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if pruner.calls != 1 {
		t.Errorf("Prune called %d times, want 1", pruner.calls)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewCachePruneJob(pruner).Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestJobScheduler_RegisterAndRunNow(t *testing.T) {
	s, err := NewJobScheduler(nil)
	if err != nil {
		t.Fatalf("NewJobScheduler() error = %v", err)
	}
	defer s.Stop()

	job := &countingJob{}
	if err := s.Register("count", time.Hour, job); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := s.Register("bad", 0, job); err == nil {
		t.Error("expected error for zero interval")
	}

	if err := s.RunNow("count"); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if job.runs != 1 {
		t.Errorf("runs = %d, want 1", job.runs)
	}
	if err := s.RunNow("missing"); err == nil {
		t.Error("expected error for unknown job")
	}

	status := s.GetStatus()
	if _, ok := status["count"]; !ok {
		t.Error("status should include registered job")
	}
}

func TestJobScheduler_Lock(t *testing.T) {
	tests := []struct {
		name     string
		acquire  bool
		wantRuns int
	}{
		{"lock acquired", true, 1},
		{"held elsewhere", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locker := &stubLocker{acquire: tt.acquire}
			s, err := NewJobScheduler(locker)
			if err != nil {
				t.Fatalf("NewJobScheduler() error = %v", err)
			}
			defer s.Stop()

			job := &countingJob{}
			err = s.runJob("digest", time.Minute, job)
			if tt.acquire && err != nil {
				t.Errorf("runJob() error = %v", err)
			}
			if !tt.acquire && !errors.Is(err, ErrJobLocked) {
				t.Errorf("expected ErrJobLocked, got %v", err)
			}

			if job.runs != tt.wantRuns {
				t.Errorf("runs = %d, want %d", job.runs, tt.wantRuns)
			}
			if locker.released != tt.wantRuns {
				t.Errorf("released = %d, want %d", locker.released, tt.wantRuns)
			}
		})
	}
}

func TestJobScheduler_RunNowTakesLock(t *testing.T) {
	locker := &stubLocker{acquire: false}
	s, err := NewJobScheduler(locker)
	if err != nil {
		t.Fatalf("NewJobScheduler() error = %v", err)
	}
	defer s.Stop()

	job := &countingJob{}
	if err := s.Register("overdue_digest", time.Hour, job); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := s.RunNow("overdue_digest"); !errors.Is(err, ErrJobLocked) {
		t.Errorf("expected ErrJobLocked while another instance holds the lock, got %v", err)
	}
	if job.runs != 0 {
		t.Errorf("runs = %d, want 0", job.runs)
	}

	locker.acquire = true
	if err := s.RunNow("overdue_digest"); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if job.runs != 1 || locker.released != 1 {
		t.Errorf("runs = %d, released = %d, want 1 and 1", job.runs, locker.released)
	}
}
