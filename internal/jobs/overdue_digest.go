package jobs

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"taskhub/internal/models"
	"taskhub/internal/services"
)

const digestTitleLimit = 3

// TaskFetcher loads the raw task list for a scope
type TaskFetcher interface {
	Fetch(ctx context.Context, scope models.Scope, filters models.TaskFilters) ([]models.Task, error)
}

// OverdueDigestJob sends each tenant one toast listing its overdue tasks
type OverdueDigestJob struct {
	tasks    TaskFetcher
	notifier services.Notifier
	now      func() time.Time
}

// NewOverdueDigestJob creates a new overdue digest job
func NewOverdueDigestJob(tasks TaskFetcher, notifier services.Notifier) *OverdueDigestJob {
	return &OverdueDigestJob{tasks: tasks, notifier: notifier, now: time.Now}
}

// Run reads every tenant's tasks straight from the store, bypassing the read cache
func (j *OverdueDigestJob) Run(ctx context.Context) error {
	all, err := j.tasks.Fetch(ctx, models.Scope{SuperAdmin: true}, models.TaskFilters{})
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}

	byTenant := overdueByTenant(all, j.now())
	tenants := make([]string, 0, len(byTenant))
	for tenant := range byTenant {
		tenants = append(tenants, tenant)
	}
	sort.Strings(tenants)

	for _, tenant := range tenants {
		overdue := byTenant[tenant]
		j.notifier.Notify(ctx, services.Toast{
			Title:       "Overdue tasks",
			Description: digestDescription(overdue),
			Variant:     services.ToastDestructive,
			TenantID:    tenant,
		})
	}

	if len(tenants) > 0 {
		log.Printf("📬 [OVERDUE-DIGEST] Sent digests to %d tenants", len(tenants))
	}
	return nil
}

func overdueByTenant(tasks []models.Task, now time.Time) map[string][]models.Task {
	out := make(map[string][]models.Task)
	for _, t := range tasks {
		if t.TenantID == "" || !t.IsOverdue(now) {
			continue
		}
		out[t.TenantID] = append(out[t.TenantID], t)
	}
	for _, list := range out {
		sort.SliceStable(list, func(a, b int) bool {
			return list[a].DueDate.Before(list[b].DueDate)
		})
	}
	return out
}

func digestDescription(overdue []models.Task) string {
	titles := make([]string, 0, digestTitleLimit)
	for i, t := range overdue {
		if i == digestTitleLimit {
			break
		}
		titles = append(titles, t.Title)
	}

	noun := "tasks are"
	if len(overdue) == 1 {
		noun = "task is"
	}
	desc := fmt.Sprintf("%d %s overdue: %s", len(overdue), noun, strings.Join(titles, ", "))
	if extra := len(overdue) - len(titles); extra > 0 {
		desc += fmt.Sprintf(" and %d more", extra)
	}
	return desc
}
