package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// ErrJobLocked is returned when another instance holds the job's lock
var ErrJobLocked = errors.New("job is running on another instance")

// Job interface that all scheduled jobs must implement
type Job interface {
	Run(ctx context.Context) error
}

// Locker guards a job so only one instance runs it at a time
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, lockValue string, expiration time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error)
}

// JobScheduler runs registered jobs on fixed intervals through gocron
type JobScheduler struct {
	scheduler gocron.Scheduler
	jobs      map[string]Job
	intervals map[string]time.Duration
	entries   map[string]gocron.Job
	locker    Locker
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
}

// NewJobScheduler creates a new job scheduler. locker may be nil.
func NewJobScheduler(locker Locker) (*JobScheduler, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &JobScheduler{
		scheduler: scheduler,
		jobs:      make(map[string]Job),
		intervals: make(map[string]time.Duration),
		entries:   make(map[string]gocron.Job),
		locker:    locker,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Register adds a job that runs every interval
func (s *JobScheduler) Register(name string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			_ = s.runJob(name, interval, job)
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to register job %s: %w", name, err)
	}

	s.jobs[name] = job
	s.intervals[name] = interval
	s.entries[name] = entry
	log.Printf("✅ [SCHEDULER] Registered job: %s (every %v)", name, interval)
	return nil
}

// Start begins running all registered jobs
func (s *JobScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Printf("🚀 [SCHEDULER] Starting job scheduler with %d jobs", len(s.jobs))
	s.scheduler.Start()
}

// runJob executes a job, holding the distributed lock when one is configured
func (s *JobScheduler) runJob(name string, interval time.Duration, job Job) error {
	if s.locker != nil {
		lockKey := "lock:job:" + name
		lockValue := uuid.NewString()
		acquired, err := s.locker.AcquireLock(s.ctx, lockKey, lockValue, interval)
		if err != nil {
			log.Printf("⚠️  [SCHEDULER] Could not lock job '%s': %v", name, err)
			return fmt.Errorf("failed to lock job %s: %w", name, err)
		}
		if !acquired {
			log.Printf("⏭️  [SCHEDULER] Job '%s' is running on another instance", name)
			return ErrJobLocked
		}
		defer s.locker.ReleaseLock(context.Background(), lockKey, lockValue)
	}

	log.Printf("▶️  [SCHEDULER] Running job: %s", name)
	startTime := time.Now()

	if err := job.Run(s.ctx); err != nil {
		log.Printf("❌ [SCHEDULER] Job '%s' failed: %v", name, err)
		return err
	}

	log.Printf("✅ [SCHEDULER] Job '%s' completed in %v", name, time.Since(startTime))
	return nil
}

// Stop gracefully stops all jobs
func (s *JobScheduler) Stop() error {
	log.Println("🛑 [SCHEDULER] Stopping job scheduler...")
	s.cancel()
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	log.Println("✅ [SCHEDULER] Job scheduler stopped")
	return nil
}

// RunNow immediately runs a specific job under the same lock as scheduled runs
func (s *JobScheduler) RunNow(name string) error {
	s.mu.Lock()
	job, exists := s.jobs[name]
	interval := s.intervals[name]
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("job %s not found", name)
	}

	log.Printf("🚀 [SCHEDULER] Running job '%s' immediately", name)
	return s.runJob(name, interval, job)
}

// GetStatus returns the status of all jobs
func (s *JobScheduler) GetStatus() map[string]JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := make(map[string]JobStatus)
	for name, entry := range s.entries {
		next, _ := entry.NextRun()
		last, _ := entry.LastRun()
		status[name] = JobStatus{
			Name:        name,
			NextRunTime: next,
			LastRunTime: last,
			Registered:  true,
		}
	}

	return status
}

// JobStatus represents the status of a job
type JobStatus struct {
	Name        string    `json:"name"`
	NextRunTime time.Time `json:"next_run_time"`
	LastRunTime time.Time `json:"last_run_time"`
	Registered  bool      `json:"registered"`
}
