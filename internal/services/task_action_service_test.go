package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskhub/internal/models"
	"taskhub/internal/taskview"
)

type recordingNotifier struct {
	mu     sync.Mutex
	toasts []Toast
}

func (n *recordingNotifier) Notify(_ context.Context, toast Toast) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toasts = append(n.toasts, toast)
}

func (n *recordingNotifier) last() Toast {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.toasts) == 0 {
		return Toast{}
	}
	return n.toasts[len(n.toasts)-1]
}

type recordingInvalidator struct {
	tenants []string
}

func (r *recordingInvalidator) InvalidateTenant(tenantID string) []string {
	r.tenants = append(r.tenants, tenantID)
	return []string{"tasks_" + tenantID}
}

type recordingMutations struct {
	ops    []string
	failed int
}

func (r *recordingMutations) RecordMutation(operation string, err error) {
	r.ops = append(r.ops, operation)
	if err != nil {
		r.failed++
	}
}

type actionFixture struct {
	store       *SQLTaskStore
	service     *TaskActionService
	notifier    *recordingNotifier
	invalidator *recordingInvalidator
	recorder    *recordingMutations
	actor       Actor
}

var fixedNow = time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)

func newActionFixture(t *testing.T) *actionFixture {
	t.Helper()
	f := &actionFixture{
		store:       newTestStore(t),
		notifier:    &recordingNotifier{},
		invalidator: &recordingInvalidator{},
		recorder:    &recordingMutations{},
		actor:       Actor{UserID: "u1", Scope: models.Scope{TenantID: "t1"}},
	}
	f.service = NewTaskActionService(f.store, f.notifier, f.invalidator)
	f.service.SetClock(func() time.Time { return fixedNow })
	f.service.SetRecorder(f.recorder)
	return f
}

func (f *actionFixture) create(t *testing.T, title string) *models.Task {
	t.Helper()
	result, err := f.service.CreateTask(context.Background(), f.actor, models.CreateTaskRequest{
		Title: title, Assignee: "Ana", Department: "Ops", Project: "Launch",
	})
	if err != nil {
		t.Fatalf("CreateTask(%q) error = %v", title, err)
	}
	return result.Task
}

func TestCreateTask_Defaults(t *testing.T) {
	f := newActionFixture(t)

	result, err := f.service.CreateTask(context.Background(), f.actor, models.CreateTaskRequest{
		Title: "  Plan launch ", Assignee: "Ana", Department: "Ops", Project: "Launch",
	})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	task := result.Task
	if task.Title != "Plan launch" {
		t.Errorf("Expected trimmed title, got %q", task.Title)
	}
	if task.Status != models.TaskStatusTodo || task.Priority != models.TaskPriorityMedium {
		t.Errorf("Expected todo/medium, got %s/%s", task.Status, task.Priority)
	}
	wantStart := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	if !task.StartDate.Equal(wantStart) {
		t.Errorf("Expected start %v, got %v", wantStart, task.StartDate)
	}
	if !task.DueDate.Equal(wantStart.AddDate(0, 0, 7)) {
		t.Errorf("Expected due one week after start, got %v", task.DueDate)
	}
	if task.DisplayOrder != models.FirstDisplayOrder() || task.TaskLevel != 0 || task.TenantID != "t1" {
		t.Errorf("Unexpected placement %+v", task)
	}

	if len(result.AffectedKeys) != 1 || result.AffectedKeys[0] != "tasks_t1" {
		t.Errorf("Expected affected key tasks_t1, got %v", result.AffectedKeys)
	}
	toast := f.notifier.last()
	if toast.Title != "Task created" || toast.Variant != ToastDefault {
		t.Errorf("Unexpected toast %+v", toast)
	}

	second := f.create(t, "Second")
	if second.DisplayOrder != "2" {
		t.Errorf("Expected second root at 2, got %q", second.DisplayOrder)
	}
}

func TestCreateTask_ValidationFailure(t *testing.T) {
	f := newActionFixture(t)

	_, err := f.service.CreateTask(context.Background(), f.actor, models.CreateTaskRequest{Title: "No owner", Department: "Ops", Project: "Launch"})
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}

	toast := f.notifier.last()
	if toast.Title != "Error" || toast.Variant != ToastDestructive {
		t.Errorf("Expected destructive error toast, got %+v", toast)
	}
	if len(f.invalidator.tenants) != 0 {
		t.Errorf("Failed mutation should not invalidate, got %v", f.invalidator.tenants)
	}
	if f.recorder.failed != 1 {
		t.Errorf("Expected 1 recorded failure, got %d", f.recorder.failed)
	}
}

func TestUpdateTask(t *testing.T) {
	f := newActionFixture(t)
	ctx := context.Background()
	task := f.create(t, "Draft")

	result, err := f.service.UpdateStatus(ctx, f.actor, task.ID, models.TaskStatusDoing)
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if result.Task.Status != models.TaskStatusDoing {
		t.Errorf("Expected doing, got %s", result.Task.Status)
	}

	if _, err := f.service.UpdateTask(ctx, f.actor, task.ID, models.TaskUpdate{}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected ErrValidation for empty update, got %v", err)
	}
	if _, err := f.service.UpdateStatus(ctx, f.actor, task.ID, "archived"); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected ErrValidation for unknown status, got %v", err)
	}
	if _, err := f.service.UpdateAssignee(ctx, f.actor, task.ID, "", " "); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected ErrValidation for empty assignee, got %v", err)
	}

	// due before start is accepted
	start := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)
	due := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	result, err = f.service.UpdateDates(ctx, f.actor, task.ID, &start, &due)
	if err != nil {
		t.Fatalf("UpdateDates() error = %v", err)
	}
	if !result.Task.StartDate.Equal(start) || !result.Task.DueDate.Equal(due) {
		t.Errorf("Dates not updated: %v %v", result.Task.StartDate, result.Task.DueDate)
	}
}

func TestCrossTenantAccessIsNotFound(t *testing.T) {
	f := newActionFixture(t)
	ctx := context.Background()
	task := f.create(t, "Private")

	other := Actor{UserID: "u2", Scope: models.Scope{TenantID: "t2"}}
	if _, err := f.service.UpdateStatus(ctx, other, task.ID, models.TaskStatusDone); !errors.Is(err, models.ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
	if _, err := f.service.DeleteTask(ctx, other, task.ID); !errors.Is(err, models.ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}

	admin := Actor{UserID: "root", Scope: models.Scope{SuperAdmin: true}}
	result, err := f.service.UpdateStatus(ctx, admin, task.ID, models.TaskStatusDone)
	if err != nil {
		t.Fatalf("super admin UpdateStatus() error = %v", err)
	}
	if result.Task.Status != models.TaskStatusDone {
		t.Errorf("Expected done, got %s", result.Task.Status)
	}
	if got := f.invalidator.tenants[len(f.invalidator.tenants)-1]; got != "t1" {
		t.Errorf("Expected invalidation of owning tenant t1, got %q", got)
	}
}

func TestDeleteTask_LeavesSubtasks(t *testing.T) {
	f := newActionFixture(t)
	ctx := context.Background()
	parent := f.create(t, "Parent")

	sub, err := f.service.CreateSubtask(ctx, f.actor, parent.ID, models.SubtaskInput{})
	if err != nil {
		t.Fatalf("CreateSubtask() error = %v", err)
	}
	if _, err := f.service.DeleteTask(ctx, f.actor, parent.ID); err != nil {
		t.Fatalf("DeleteTask() error = %v", err)
	}
	if _, err := f.store.GetTask(ctx, sub.Task.ID); err != nil {
		t.Errorf("Subtask should survive its parent, got %v", err)
	}
}

func TestDuplicateTask(t *testing.T) {
	f := newActionFixture(t)
	ctx := context.Background()
	task := f.create(t, "Original")

	if _, err := f.service.AddDetailedAction(ctx, f.actor, task.ID, models.ActionInput{Title: "Check"}); err != nil {
		t.Fatalf("AddDetailedAction() error = %v", err)
	}
	actions, _ := f.store.GetTask(ctx, task.ID)
	if _, err := f.service.ToggleAction(ctx, f.actor, actions.Actions[0].ID); err != nil {
		t.Fatalf("ToggleAction() error = %v", err)
	}
	if _, err := f.service.UpdateStatus(ctx, f.actor, task.ID, models.TaskStatusDone); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	result, err := f.service.DuplicateTask(ctx, f.actor, task.ID)
	if err != nil {
		t.Fatalf("DuplicateTask() error = %v", err)
	}

	dup, err := f.store.GetTask(ctx, result.Task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if dup.ID == task.ID || dup.Title != "Original (copy)" {
		t.Errorf("Unexpected duplicate %q (%s)", dup.Title, dup.ID)
	}
	if dup.Status != models.TaskStatusTodo {
		t.Errorf("Expected duplicate to be todo, got %s", dup.Status)
	}
	if dup.DisplayOrder != "2" {
		t.Errorf("Expected duplicate after its sibling, got %q", dup.DisplayOrder)
	}
	if len(dup.Actions) != 1 || dup.Actions[0].IsDone {
		t.Errorf("Expected one undone action, got %+v", dup.Actions)
	}
}

func TestCreateSubtask(t *testing.T) {
	f := newActionFixture(t)
	ctx := context.Background()
	parent := f.create(t, "Parent")

	result, err := f.service.CreateSubtaskWithActions(ctx, f.actor, parent.ID,
		models.SubtaskInput{Title: "Child"},
		[]models.ActionInput{{Title: "one"}, {Title: " "}, {Title: "two"}, {Title: "three"}},
	)
	if err != nil {
		t.Fatalf("CreateSubtaskWithActions() error = %v", err)
	}

	sub := result.Task
	if sub.ParentID != parent.ID || sub.TaskLevel != 1 {
		t.Errorf("Expected child of %s at level 1, got %s/%d", parent.ID, sub.ParentID, sub.TaskLevel)
	}
	if sub.AssignedName != "Ana" || sub.ProjectName != "Launch" || sub.DepartmentName != "Ops" {
		t.Errorf("Subtask did not inherit from parent: %+v", sub)
	}
	if !sub.DueDate.Equal(parent.DueDate) || sub.EffortEstimateHours != defaultSubtaskEffort {
		t.Errorf("Unexpected subtask dates or effort: %v %v", sub.DueDate, sub.EffortEstimateHours)
	}
	if len(sub.Actions) != 3 {
		t.Fatalf("Expected 3 actions (blank skipped), got %d", len(sub.Actions))
	}
	total := 0
	for _, a := range sub.Actions {
		total += a.WeightPercentage
	}
	if total != 100 {
		t.Errorf("Expected weights to sum to 100, got %d", total)
	}

	if _, err := f.service.CreateSubtask(ctx, f.actor, sub.ID, models.SubtaskInput{}); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected ErrValidation for a subtask of a subtask, got %v", err)
	}
}

func TestAddActionColumn(t *testing.T) {
	f := newActionFixture(t)
	ctx := context.Background()
	a := f.create(t, "A")
	b := f.create(t, "B")

	result, err := f.service.AddActionColumn(ctx, f.actor, "Review", "")
	if err != nil {
		t.Fatalf("AddActionColumn() error = %v", err)
	}
	if toast := f.notifier.last(); toast.Description != `"Review" was added to 2 tasks` {
		t.Errorf("Unexpected toast description %q", toast.Description)
	}
	if len(result.AffectedKeys) == 0 {
		t.Error("Expected affected keys")
	}

	for _, id := range []string{a.ID, b.ID} {
		task, _ := f.store.GetTask(ctx, id)
		if len(task.Actions) != 1 || task.Actions[0].Title != "Review" || task.Actions[0].WeightPercentage != 100 {
			t.Errorf("Task %s: unexpected actions %+v", id, task.Actions)
		}
	}

	if _, err := f.service.AddActionColumn(ctx, f.actor, "Sign-off", a.ID); err != nil {
		t.Fatalf("AddActionColumn(single) error = %v", err)
	}
	task, _ := f.store.GetTask(ctx, a.ID)
	if len(task.Actions) != 2 || task.Actions[1].Position != 1 {
		t.Errorf("Expected appended action at position 1, got %+v", task.Actions)
	}

	if _, err := f.service.AddActionColumn(ctx, f.actor, " ", ""); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected ErrValidation for blank title, got %v", err)
	}
}

func TestToggleAction(t *testing.T) {
	f := newActionFixture(t)
	ctx := context.Background()
	task := f.create(t, "Checklist")

	added, err := f.service.AddDetailedAction(ctx, f.actor, task.ID, models.ActionInput{Title: "Step"})
	if err != nil {
		t.Fatalf("AddDetailedAction() error = %v", err)
	}
	id := added.Action.ID

	result, err := f.service.ToggleAction(ctx, f.actor, id)
	if err != nil {
		t.Fatalf("ToggleAction() error = %v", err)
	}
	if !result.Action.IsDone {
		t.Error("Expected action to be done after first toggle")
	}
	result, _ = f.service.ToggleAction(ctx, f.actor, id)
	if result.Action.IsDone {
		t.Error("Expected action to be reopened after second toggle")
	}

	other := Actor{UserID: "u2", Scope: models.Scope{TenantID: "t2"}}
	if _, err := f.service.ToggleAction(ctx, other, id); !errors.Is(err, models.ErrActionNotFound) {
		t.Errorf("Expected ErrActionNotFound across tenants, got %v", err)
	}
}

func TestMoveTask(t *testing.T) {
	f := newActionFixture(t)
	ctx := context.Background()
	a := f.create(t, "A")
	b := f.create(t, "B")
	c := f.create(t, "C")

	result, err := f.service.MoveTask(ctx, f.actor, c.ID, a.ID, b.ID)
	if err != nil {
		t.Fatalf("MoveTask() error = %v", err)
	}
	if result.Task.DisplayOrder != "1.5" {
		t.Errorf("Expected 1.5 between 1 and 2, got %q", result.Task.DisplayOrder)
	}

	sub, err := f.service.CreateSubtask(ctx, f.actor, a.ID, models.SubtaskInput{})
	if err != nil {
		t.Fatalf("CreateSubtask() error = %v", err)
	}
	if _, err := f.service.MoveTask(ctx, f.actor, sub.Task.ID, b.ID, ""); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected ErrValidation for non-sibling neighbour, got %v", err)
	}
	if _, err := f.service.MoveTask(ctx, f.actor, a.ID, "", ""); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected ErrValidation without neighbours, got %v", err)
	}
	if _, err := f.service.MoveTask(ctx, f.actor, a.ID, a.ID, ""); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected ErrValidation when a task is its own neighbour, got %v", err)
	}
}

// failingActionsStore lets task writes through and fails every action insert
type failingActionsStore struct {
	*SQLTaskStore
}

func (s failingActionsStore) InsertActions(context.Context, []models.TaskAction) error {
	return errors.New("actions table unavailable")
}

func TestCreateSubtaskWithActions_PartialFailureInvalidates(t *testing.T) {
	f := newActionFixture(t)
	ctx := context.Background()
	parent := f.create(t, "Parent")

	reads := taskview.NewService(f.store, time.Minute)
	scope := models.Scope{TenantID: "t1"}
	if _, err := reads.Load(ctx, scope, models.TaskFilters{}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	recorder := &recordingMutations{}
	service := NewTaskActionService(failingActionsStore{f.store}, f.notifier, reads)
	service.SetClock(func() time.Time { return fixedNow })
	service.SetRecorder(recorder)

	_, err := service.CreateSubtaskWithActions(ctx, f.actor, parent.ID,
		models.SubtaskInput{Title: "Child"}, []models.ActionInput{{Title: "Step"}})
	if err == nil {
		t.Fatal("Expected an error when actions cannot be inserted")
	}

	if !reads.IsStale(reads.Key(scope, models.TaskFilters{})) {
		t.Error("Expected the tenant's cached read to be dropped after the subtask was written")
	}
	snap, err := reads.Load(ctx, scope, models.TaskFilters{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(snap.Tasks) != 2 {
		t.Errorf("Expected parent and the written subtask, got %d tasks", len(snap.Tasks))
	}
	if len(recorder.ops) != 1 || recorder.ops[0] != "create_subtask_with_actions" || recorder.failed != 1 {
		t.Errorf("Unexpected recorded mutations %v (failed %d)", recorder.ops, recorder.failed)
	}
}

func TestAddDetailedAction_FirstWriteFailureDoesNotInvalidate(t *testing.T) {
	f := newActionFixture(t)
	task := f.create(t, "Task")
	f.invalidator.tenants = nil

	service := NewTaskActionService(failingActionsStore{f.store}, f.notifier, f.invalidator)
	if _, err := service.AddDetailedAction(context.Background(), f.actor, task.ID, models.ActionInput{Title: "Step"}); err == nil {
		t.Fatal("Expected an error")
	}
	if len(f.invalidator.tenants) != 0 {
		t.Errorf("Expected no invalidation when nothing was written, got %v", f.invalidator.tenants)
	}
}

func TestMutationMetricsUseOperationNames(t *testing.T) {
	f := newActionFixture(t)
	ctx := context.Background()

	task := f.create(t, "Task")
	if _, err := f.service.CreateTask(ctx, f.actor, models.CreateTaskRequest{Title: ""}); err == nil {
		t.Fatal("Expected a validation error")
	}
	if _, err := f.service.DeleteTask(ctx, f.actor, task.ID); err != nil {
		t.Fatalf("DeleteTask() error = %v", err)
	}

	want := []string{"create_task", "create_task", "delete_task"}
	if len(f.recorder.ops) != len(want) {
		t.Fatalf("Expected %v, got %v", want, f.recorder.ops)
	}
	for i := range want {
		if f.recorder.ops[i] != want[i] {
			t.Errorf("Expected operation %q at %d, got %q", want[i], i, f.recorder.ops[i])
		}
	}
}

func TestUpdateTask_RejectsMalformedDisplayOrder(t *testing.T) {
	f := newActionFixture(t)
	ctx := context.Background()
	a := f.create(t, "A")

	bad := models.DisplayOrder("1e999999")
	if _, err := f.service.UpdateTask(ctx, f.actor, a.ID, models.TaskUpdate{DisplayOrder: &bad}); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("Expected ErrValidation for display order %q, got %v", bad, err)
	}
	stored, err := f.store.GetTask(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if stored.DisplayOrder != "1" {
		t.Errorf("Expected display order to stay 1, got %q", stored.DisplayOrder)
	}
}
