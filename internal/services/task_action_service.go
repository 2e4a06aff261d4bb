package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskhub/internal/logging"
	"taskhub/internal/models"
	"taskhub/internal/taskview"
)

const (
	defaultSubtaskEffort = 1.0
	defaultTaskSpan      = 7 * 24 * time.Hour
	duplicateSuffix      = " (copy)"
)

// MutationResult is returned by every successful mutation. AffectedKeys lists
// the read-cache keys that were invalidated.
type MutationResult struct {
	Task         *models.Task       `json:"task,omitempty"`
	Action       *models.TaskAction `json:"action,omitempty"`
	AffectedKeys []string           `json:"affected_keys"`
}

// Actor is the caller of a mutation
type Actor struct {
	UserID string
	Scope  models.Scope
}

// MutationRecorder observes mutation outcomes
type MutationRecorder interface {
	RecordMutation(operation string, err error)
}

// TaskActionService performs task writes, reports each outcome as a toast and
// invalidates the read cache of the affected tenant. Multi-step operations are
// independent writes and are not rolled back on partial failure.
type TaskActionService struct {
	store       TaskStore
	notifier    Notifier
	invalidator taskview.Invalidator
	recorder    MutationRecorder
	now         func() time.Time
	newID       func() string
}

// NewTaskActionService creates the mutation service
func NewTaskActionService(store TaskStore, notifier Notifier, invalidator taskview.Invalidator) *TaskActionService {
	if notifier == nil {
		notifier = NewLogNotifier(nil)
	}
	return &TaskActionService{
		store:       store,
		notifier:    notifier,
		invalidator: invalidator,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// SetClock replaces the clock used for default dates and timestamps
func (s *TaskActionService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetRecorder installs a recorder for mutation outcomes
func (s *TaskActionService) SetRecorder(r MutationRecorder) {
	s.recorder = r
}

// operation names a mutation for metrics and its failure toast
type operation struct {
	name    string
	failure string
}

var (
	opCreateTask               = operation{"create_task", "Could not create the task"}
	opUpdateTask               = operation{"update_task", "Could not update the task"}
	opDeleteTask               = operation{"delete_task", "Could not delete the task"}
	opDuplicateTask            = operation{"duplicate_task", "Could not duplicate the task"}
	opCreateSubtask            = operation{"create_subtask", "Could not create the subtask"}
	opCreateSubtaskWithActions = operation{"create_subtask_with_actions", "Could not create the subtask"}
	opAddAction                = operation{"add_action", "Could not add the action"}
	opAddActionColumn          = operation{"add_action_column", "Could not add the action column"}
	opToggleAction             = operation{"toggle_action", "Could not update the action"}
	opMoveTask                 = operation{"move_task", "Could not move the task"}
)

func (s *TaskActionService) succeed(ctx context.Context, actor Actor, op operation, tenantID, title, description string, result *MutationResult) *MutationResult {
	if s.invalidator != nil {
		result.AffectedKeys = s.invalidator.InvalidateTenant(tenantID)
	}
	if result.AffectedKeys == nil {
		result.AffectedKeys = []string{}
	}
	if s.recorder != nil {
		s.recorder.RecordMutation(op.name, nil)
	}
	s.notifier.Notify(ctx, Toast{Title: title, Description: description, Variant: ToastDefault, TenantID: tenantID})
	logging.WithScope(actor.Scope.TenantID, actor.Scope.SuperAdmin, actor.UserID).
		Info("task mutation succeeded", "operation", op.name, "affected_keys", len(result.AffectedKeys))
	return result
}

func (s *TaskActionService) fail(ctx context.Context, actor Actor, op operation, err error) error {
	if s.recorder != nil {
		s.recorder.RecordMutation(op.name, err)
	}
	s.notifier.Notify(ctx, Toast{
		Title:       "Error",
		Description: op.failure,
		Variant:     ToastDestructive,
		TenantID:    actor.Scope.TenantID,
	})
	logging.WithScope(actor.Scope.TenantID, actor.Scope.SuperAdmin, actor.UserID).
		Error(op.failure, "operation", op.name, "error", err)
	return fmt.Errorf("%s: %w", strings.ToLower(op.failure), err)
}

// failAfterWrite is fail for a sequence where an earlier write already landed.
// The tenant's cached reads are dropped so they do not hide that write.
func (s *TaskActionService) failAfterWrite(ctx context.Context, actor Actor, op operation, tenantID string, err error) error {
	if s.invalidator != nil {
		s.invalidator.InvalidateTenant(tenantID)
	}
	return s.fail(ctx, actor, op, err)
}

// loadTask fetches a task visible to the actor. Tasks of other tenants are reported as not found.
func (s *TaskActionService) loadTask(ctx context.Context, actor Actor, id string) (*models.Task, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Scope.SuperAdmin && task.TenantID != actor.Scope.TenantID {
		return nil, models.ErrTaskNotFound
	}
	return task, nil
}

func today(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func required(fields map[string]string) error {
	var missing []string
	for _, name := range []string{"title", "assignee", "department", "project"} {
		if v, ok := fields[name]; ok && strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", models.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// CreateTask creates a root task at the end of the tenant's list
func (s *TaskActionService) CreateTask(ctx context.Context, actor Actor, req models.CreateTaskRequest) (*MutationResult, error) {
	op := opCreateTask

	if err := required(map[string]string{
		"title": req.Title, "assignee": req.Assignee, "department": req.Department, "project": req.Project,
	}); err != nil {
		return nil, s.fail(ctx, actor, op, err)
	}
	if actor.Scope.TenantID == "" {
		return nil, s.fail(ctx, actor, op, fmt.Errorf("%w: tenant required", models.ErrValidation))
	}
	if req.Status == "" {
		req.Status = models.TaskStatusTodo
	}
	if req.Priority == "" {
		req.Priority = models.TaskPriorityMedium
	}
	if !req.Status.Valid() || !req.Priority.Valid() {
		return nil, s.fail(ctx, actor, op, fmt.Errorf("%w: invalid status or priority", models.ErrValidation))
	}
	if req.EffortEstimateHours < 0 {
		return nil, s.fail(ctx, actor, op, fmt.Errorf("%w: effort estimate cannot be negative", models.ErrValidation))
	}

	now := s.now()
	start := today(now)
	if req.StartDate != nil {
		start = *req.StartDate
	}
	due := today(now).Add(defaultTaskSpan)
	if req.DueDate != nil {
		due = *req.DueDate
	}

	order, err := s.store.NextDisplayOrder(ctx, "", actor.Scope.TenantID)
	if err != nil {
		return nil, s.fail(ctx, actor, op, err)
	}

	task := &models.Task{
		ID:                  s.newID(),
		Title:               strings.TrimSpace(req.Title),
		Description:         req.Description,
		Status:              req.Status,
		Priority:            req.Priority,
		StartDate:           start,
		DueDate:             due,
		AssigneeID:          req.AssigneeID,
		AssignedName:        req.Assignee,
		ProjectID:           req.ProjectID,
		ProjectName:         req.Project,
		DepartmentName:      req.Department,
		TaskLevel:           0,
		DisplayOrder:        order,
		TenantID:            actor.Scope.TenantID,
		EffortEstimateHours: req.EffortEstimateHours,
		CreatedAt:           now,
		UpdatedAt:           now,
		Actions:             []models.TaskAction{},
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		return nil, s.fail(ctx, actor, op, err)
	}

	return s.succeed(ctx, actor, op, task.TenantID, "Task created",
		fmt.Sprintf("%q was created", task.Title), &MutationResult{Task: task}), nil
}

// UpdateTask applies a partial update
func (s *TaskActionService) UpdateTask(ctx context.Context, actor Actor, id string, update models.TaskUpdate) (*MutationResult, error) {
	op := opUpdateTask

	if update.IsEmpty() {
		return nil, s.fail(ctx, actor, op, fmt.Errorf("%w: nothing to update", models.ErrValidation))
	}
	if err := update.Validate(); err != nil {
		return nil, s.fail(ctx, actor, op, err)
	}
	task, err := s.loadTask(ctx, actor, id)
	if err != nil {
		return nil, s.fail(ctx, actor, op, err)
	}
	if err := s.store.UpdateTask(ctx, id, update, s.now()); err != nil {
		return nil, s.fail(ctx, actor, op, err)
	}

	updated, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, s.failAfterWrite(ctx, actor, op, task.TenantID, err)
	}
	return s.succeed(ctx, actor, op, task.TenantID, "Task updated",
		fmt.Sprintf("%q was updated", updated.Title), &MutationResult{Task: updated}), nil
}

// UpdateStatus changes the status of a task
func (s *TaskActionService) UpdateStatus(ctx context.Context, actor Actor, id string, status models.TaskStatus) (*MutationResult, error) {
	return s.UpdateTask(ctx, actor, id, models.TaskUpdate{Status: &status})
}

// UpdateAssignee reassigns a task
func (s *TaskActionService) UpdateAssignee(ctx context.Context, actor Actor, id, assigneeID, assignedName string) (*MutationResult, error) {
	if strings.TrimSpace(assigneeID) == "" && strings.TrimSpace(assignedName) == "" {
		return nil, s.fail(ctx, actor, opUpdateTask, fmt.Errorf("%w: assignee required", models.ErrValidation))
	}
	return s.UpdateTask(ctx, actor, id, models.TaskUpdate{AssigneeID: &assigneeID, AssignedName: &assignedName})
}

// UpdateDates changes the start and/or due date. No ordering between them is enforced.
func (s *TaskActionService) UpdateDates(ctx context.Context, actor Actor, id string, start, due *time.Time) (*MutationResult, error) {
	return s.UpdateTask(ctx, actor, id, models.TaskUpdate{StartDate: start, DueDate: due})
}

// DeleteTask deletes a task and its actions. Its subtasks are left in place.
func (s *TaskActionService) DeleteTask(ctx context.Context, actor Actor, id string) (*MutationResult, error) {
	op := opDeleteTask

	task, err := s.loadTask(ctx, actor, id)
	if err != nil {
		return nil, s.fail(ctx, actor, op, err)
	}
	if err := s.store.DeleteTask(ctx, id); err != nil {
		return nil, s.fail(ctx, actor, op, err)
	}
	return s.succeed(ctx, actor, op, task.TenantID, "Task deleted",
		fmt.Sprintf("%q was deleted", task.Title), &MutationResult{Task: task}), nil
}

// DuplicateTask copies a task as a new todo item after its siblings. Actions are copied undone.
func (s *TaskActionService) DuplicateTask(ctx context.Context, actor Actor, id string) (*MutationResult, error) {
	op := opDuplicateTask

	original, err := s.loadTask(ctx, actor, id)
	if err != nil {
		return nil, s.fail(ctx, actor, op, err)
	}
	order, err := s.store.NextDisplayOrder(ctx, original.ParentID, original.TenantID)
	if err != nil {
		return nil, s.fail(ctx, actor, op, err)
	}

	now := s.now()
	dup := *original
	dup.ID = s.newID()
	dup.Title = original.Title + duplicateSuffix
	dup.Status = models.TaskStatusTodo
	dup.Progress = 0
	dup.DisplayOrder = order
	dup.CreatedAt = now
	dup.UpdatedAt = now
	dup.Subtasks = nil
	dup.IsSubtask = false
	dup.Actions = make([]models.TaskAction, 0, len(original.Actions))
	for _, a := range original.Actions {
		a.ID = s.newID()
		a.TaskID = dup.ID
		a.TenantID = dup.TenantID
		a.IsDone = false
		dup.Actions = append(dup.Actions, a)
	}

	if err := s.store.InsertTask(ctx, &dup); err != nil {
		return nil, s.fail(ctx, actor, op, err)
	}
	if len(dup.Actions) > 0 {
		if err := s.store.InsertActions(ctx, dup.Actions); err != nil {
			return nil, s.failAfterWrite(ctx, actor, op, dup.TenantID, err)
		}
	}
	return s.succeed(ctx, actor, op, dup.TenantID, "Task duplicated",
		fmt.Sprintf("%q was created", dup.Title), &MutationResult{Task: &dup}), nil
}

// CreateSubtask creates a child of parentID inheriting its priority, department,
// project, tenant and dates unless input overrides them
func (s *TaskActionService) CreateSubtask(ctx context.Context, actor Actor, parentID string, input models.SubtaskInput) (*MutationResult, error) {
	op := opCreateSubtask

	task, err := s.insertSubtask(ctx, actor, parentID, input)
	if err != nil {
		return nil, s.fail(ctx, actor, op, err)
	}
	return s.succeed(ctx, actor, op, task.TenantID, "Subtask created",
		fmt.Sprintf("%q was created", task.Title), &MutationResult{Task: task}), nil
}

func (s *TaskActionService) insertSubtask(ctx context.Context, actor Actor, parentID string, input models.SubtaskInput) (*models.Task, error) {
	parent, err := s.loadTask(ctx, actor, parentID)
	if err != nil {
		return nil, err
	}
	if !parent.IsRoot() {
		return nil, fmt.Errorf("%w: subtasks can only be added to root tasks", models.ErrValidation)
	}

	assignee := strings.TrimSpace(input.Assignee)
	assigneeID := ""
	if assignee == "" {
		assignee = parent.AssignedName
		assigneeID = parent.AssigneeID
	}
	if assignee == "" {
		return nil, fmt.Errorf("%w: assignee required", models.ErrValidation)
	}
	if input.EffortEstimateHours < 0 {
		return nil, fmt.Errorf("%w: effort estimate cannot be negative", models.ErrValidation)
	}

	order, err := s.store.NextDisplayOrder(ctx, parent.ID, parent.TenantID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	task := &models.Task{
		ID:                  s.newID(),
		Title:               strings.TrimSpace(input.Title),
		Status:              models.TaskStatusTodo,
		Priority:            parent.Priority,
		StartDate:           parent.StartDate,
		DueDate:             parent.DueDate,
		Progress:            0,
		AssigneeID:          assigneeID,
		AssignedName:        assignee,
		ProjectID:           parent.ProjectID,
		ProjectName:         parent.ProjectName,
		DepartmentID:        parent.DepartmentID,
		DepartmentName:      parent.DepartmentName,
		LinkedActionID:      input.LinkedActionID,
		ParentID:            parent.ID,
		TaskLevel:           parent.TaskLevel + 1,
		DisplayOrder:        order,
		TenantID:            parent.TenantID,
		EffortEstimateHours: input.EffortEstimateHours,
		CreatedAt:           now,
		UpdatedAt:           now,
		Actions:             []models.TaskAction{},
	}
	if task.Title == "" {
		task.Title = "Subtask of " + parent.Title
	}
	if task.EffortEstimateHours == 0 {
		task.EffortEstimateHours = defaultSubtaskEffort
	}
	if input.StartDate != nil {
		task.StartDate = *input.StartDate
	}
	if input.DueDate != nil {
		task.DueDate = *input.DueDate
	}

	if err := s.store.InsertTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// CreateSubtaskWithActions creates a subtask, inserts its actions and
// redistributes their weights equally
func (s *TaskActionService) CreateSubtaskWithActions(ctx context.Context, actor Actor, parentID string, input models.SubtaskInput, actions []models.ActionInput) (*MutationResult, error) {
	op := opCreateSubtaskWithActions

	task, err := s.insertSubtask(ctx, actor, parentID, input)
	if err != nil {
		return nil, s.fail(ctx, actor, op, err)
	}

	rows := make([]models.TaskAction, 0, len(actions))
	for i, in := range actions {
		if strings.TrimSpace(in.Title) == "" {
			continue
		}
		rows = append(rows, s.newAction(task, in, i))
	}
	if len(rows) > 0 {
		if err := s.store.InsertActions(ctx, rows); err != nil {
			return nil, s.failAfterWrite(ctx, actor, op, task.TenantID, err)
		}
		if err := s.store.DistributeEqualWeights(ctx, task.ID); err != nil {
			return nil, s.failAfterWrite(ctx, actor, op, task.TenantID, err)
		}
	}

	created, err := s.store.GetTask(ctx, task.ID)
	if err != nil {
		return nil, s.failAfterWrite(ctx, actor, op, task.TenantID, err)
	}
	return s.succeed(ctx, actor, op, task.TenantID, "Subtask created",
		fmt.Sprintf("%q was created with %d actions", created.Title, len(created.Actions)),
		&MutationResult{Task: created}), nil
}

func (s *TaskActionService) newAction(task *models.Task, in models.ActionInput, position int) models.TaskAction {
	a := models.TaskAction{
		ID:               s.newID(),
		TaskID:           task.ID,
		Title:            strings.TrimSpace(in.Title),
		OwnerID:          task.AssigneeID,
		Notes:            in.Notes,
		Position:         position,
		WeightPercentage: in.WeightPercentage,
		TenantID:         task.TenantID,
	}
	if in.DueDate != nil {
		a.DueDate = *in.DueDate
	}
	return a
}

// AddDetailedAction appends one action to a task and redistributes weights
func (s *TaskActionService) AddDetailedAction(ctx context.Context, actor Actor, taskID string, input models.ActionInput) (*MutationResult, error) {
	op := opAddAction

	if strings.TrimSpace(input.Title) == "" {
		return nil, s.fail(ctx, actor, op, fmt.Errorf("%w: title required", models.ErrValidation))
	}
	task, err := s.loadTask(ctx, actor, taskID)
	if err != nil {
		return nil, s.fail(ctx, actor, op, err)
	}

	action := s.newAction(task, input, nextPosition(task.Actions))
	if err := s.store.InsertActions(ctx, []models.TaskAction{action}); err != nil {
		return nil, s.fail(ctx, actor, op, err)
	}
	if err := s.store.DistributeEqualWeights(ctx, task.ID); err != nil {
		return nil, s.failAfterWrite(ctx, actor, op, task.TenantID, err)
	}

	updated, err := s.store.GetTask(ctx, task.ID)
	if err != nil {
		return nil, s.failAfterWrite(ctx, actor, op, task.TenantID, err)
	}
	return s.succeed(ctx, actor, op, task.TenantID, "Action added",
		fmt.Sprintf("%q was added to %q", action.Title, task.Title),
		&MutationResult{Task: updated, Action: &action}), nil
}

// AddActionColumn adds the same action to one task, or to every task of the
// actor's tenant when taskID is empty
func (s *TaskActionService) AddActionColumn(ctx context.Context, actor Actor, title, taskID string) (*MutationResult, error) {
	op := opAddActionColumn

	if strings.TrimSpace(title) == "" {
		return nil, s.fail(ctx, actor, op, fmt.Errorf("%w: title required", models.ErrValidation))
	}

	var targets []models.Task
	tenantID := actor.Scope.TenantID
	if taskID != "" {
		task, err := s.loadTask(ctx, actor, taskID)
		if err != nil {
			return nil, s.fail(ctx, actor, op, err)
		}
		targets = []models.Task{*task}
		tenantID = task.TenantID
	} else {
		if tenantID == "" {
			return nil, s.fail(ctx, actor, op, fmt.Errorf("%w: tenant required", models.ErrValidation))
		}
		q := taskview.NewQueryBuilder().BuildQuery(tenantID, false, models.TaskFilters{})
		all, err := s.store.FetchTasks(ctx, q)
		if err != nil {
			return nil, s.fail(ctx, actor, op, err)
		}
		targets = all
	}

	for i := range targets {
		action := s.newAction(&targets[i], models.ActionInput{Title: title}, nextPosition(targets[i].Actions))
		if err := s.store.InsertActions(ctx, []models.TaskAction{action}); err != nil {
			if i > 0 {
				return nil, s.failAfterWrite(ctx, actor, op, tenantID, err)
			}
			return nil, s.fail(ctx, actor, op, err)
		}
		if err := s.store.DistributeEqualWeights(ctx, targets[i].ID); err != nil {
			return nil, s.failAfterWrite(ctx, actor, op, tenantID, err)
		}
	}

	return s.succeed(ctx, actor, op, tenantID, "Action column added",
		fmt.Sprintf("%q was added to %d tasks", title, len(targets)), &MutationResult{}), nil
}

func nextPosition(actions []models.TaskAction) int {
	next := 0
	for _, a := range actions {
		if a.Position >= next {
			next = a.Position + 1
		}
	}
	return next
}

// ToggleAction flips is_done on an action
func (s *TaskActionService) ToggleAction(ctx context.Context, actor Actor, actionID string) (*MutationResult, error) {
	op := opToggleAction

	action, err := s.store.GetAction(ctx, actionID)
	if err != nil {
		return nil, s.fail(ctx, actor, op, err)
	}
	task, err := s.loadTask(ctx, actor, action.TaskID)
	if err != nil {
		if errors.Is(err, models.ErrTaskNotFound) {
			err = models.ErrActionNotFound
		}
		return nil, s.fail(ctx, actor, op, err)
	}

	action.IsDone = !action.IsDone
	if err := s.store.SetActionDone(ctx, action.ID, action.IsDone); err != nil {
		return nil, s.fail(ctx, actor, op, err)
	}
	state := "reopened"
	if action.IsDone {
		state = "done"
	}
	return s.succeed(ctx, actor, op, task.TenantID, "Action updated",
		fmt.Sprintf("%q is %s", action.Title, state), &MutationResult{Task: task, Action: action}), nil
}

// MoveTask places a task between two siblings. afterID is the sibling it should
// follow and beforeID the one it should precede; either may be empty, not both.
func (s *TaskActionService) MoveTask(ctx context.Context, actor Actor, id, afterID, beforeID string) (*MutationResult, error) {
	op := opMoveTask

	if afterID == "" && beforeID == "" {
		return nil, s.fail(ctx, actor, op, fmt.Errorf("%w: a neighbour is required", models.ErrValidation))
	}
	task, err := s.loadTask(ctx, actor, id)
	if err != nil {
		return nil, s.fail(ctx, actor, op, err)
	}

	neighbour := func(nid string) (models.DisplayOrder, error) {
		if nid == "" {
			return "", nil
		}
		if nid == id {
			return "", fmt.Errorf("%w: a task cannot be its own neighbour", models.ErrValidation)
		}
		n, err := s.loadTask(ctx, actor, nid)
		if err != nil {
			return "", err
		}
		if n.ParentID != task.ParentID || n.TenantID != task.TenantID {
			return "", fmt.Errorf("%w: neighbour %s is not a sibling", models.ErrValidation, nid)
		}
		return n.DisplayOrder, nil
	}

	after, err := neighbour(afterID)
	if err != nil {
		return nil, s.fail(ctx, actor, op, err)
	}
	before, err := neighbour(beforeID)
	if err != nil {
		return nil, s.fail(ctx, actor, op, err)
	}

	order := models.Between(after, before)
	if !order.Valid() {
		return nil, s.fail(ctx, actor, op, fmt.Errorf("%w: no room left between %s and %s", models.ErrValidation, after, before))
	}
	if err := s.store.UpdateTask(ctx, id, models.TaskUpdate{DisplayOrder: &order}, s.now()); err != nil {
		return nil, s.fail(ctx, actor, op, err)
	}
	task.DisplayOrder = order
	return s.succeed(ctx, actor, op, task.TenantID, "Task moved",
		fmt.Sprintf("%q was moved", task.Title), &MutationResult{Task: task}), nil
}
