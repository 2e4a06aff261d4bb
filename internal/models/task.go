package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TaskStatus represents the workflow state of a task
type TaskStatus string

const (
	TaskStatusTodo    TaskStatus = "todo"
	TaskStatusDoing   TaskStatus = "doing"
	TaskStatusBlocked TaskStatus = "blocked"
	TaskStatusDone    TaskStatus = "done"
)

// Valid reports whether s is one of the known statuses
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusTodo, TaskStatusDoing, TaskStatusBlocked, TaskStatusDone:
		return true
	}
	return false
}

// Label returns the human readable label used in exports
func (s TaskStatus) Label() string {
	switch s {
	case TaskStatusTodo:
		return "To do"
	case TaskStatusDoing:
		return "In progress"
	case TaskStatusBlocked:
		return "Blocked"
	case TaskStatusDone:
		return "Done"
	}
	return string(s)
}

// TaskPriority represents how urgent a task is
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityUrgent TaskPriority = "urgent"
)

// Valid reports whether p is one of the known priorities
func (p TaskPriority) Valid() bool {
	switch p {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh, TaskPriorityUrgent:
		return true
	}
	return false
}

// Label returns the human readable label used in exports
func (p TaskPriority) Label() string {
	switch p {
	case TaskPriorityLow:
		return "Low"
	case TaskPriorityMedium:
		return "Medium"
	case TaskPriorityHigh:
		return "High"
	case TaskPriorityUrgent:
		return "Urgent"
	}
	return string(p)
}

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrActionNotFound = errors.New("task action not found")
	ErrValidation     = errors.New("validation failed")
)

// Task is a unit of work. A task without ParentID is a root item,
// a task with ParentID is a subtask of that root.
type Task struct {
	ID          string       `json:"id" bson:"_id"`
	Title       string       `json:"title" bson:"title"`
	Description string       `json:"description,omitempty" bson:"description,omitempty"`
	Status      TaskStatus   `json:"status" bson:"status"`
	Priority    TaskPriority `json:"priority" bson:"priority"`
	StartDate   time.Time    `json:"start_date" bson:"startDate"`
	DueDate     time.Time    `json:"due_date" bson:"dueDate"`
	Progress    int          `json:"progress" bson:"progress"`

	AssigneeID     string `json:"assignee_id,omitempty" bson:"assigneeId,omitempty"`
	AssignedName   string `json:"assigned_name,omitempty" bson:"assignedName,omitempty"`
	ProjectID      string `json:"project_id,omitempty" bson:"projectId,omitempty"`
	ProjectName    string `json:"project_name,omitempty" bson:"projectName,omitempty"`
	DepartmentID   string `json:"department_id,omitempty" bson:"departmentId,omitempty"`
	DepartmentName string `json:"department_name,omitempty" bson:"departmentName,omitempty"`
	LinkedActionID string `json:"linked_action_id,omitempty" bson:"linkedActionId,omitempty"`

	ParentID     string       `json:"parent_id,omitempty" bson:"parentId,omitempty"`
	TaskLevel    int          `json:"task_level" bson:"taskLevel"`
	DisplayOrder DisplayOrder `json:"display_order" bson:"displayOrder"`
	TenantID     string       `json:"tenant_id" bson:"tenantId"`

	EffortEstimateHours float64 `json:"effort_estimate_h" bson:"effortEstimateH"`

	CreatedAt time.Time `json:"created_at" bson:"createdAt"`
	UpdatedAt time.Time `json:"updated_at" bson:"updatedAt"`

	Actions []TaskAction `json:"task_actions" bson:"actions"`

	// Set by the hierarchy organizer, never persisted
	Subtasks  []Task `json:"subtasks,omitempty" bson:"-"`
	IsSubtask bool   `json:"is_subtask" bson:"-"`
}

// IsRoot reports whether the task has no parent
func (t *Task) IsRoot() bool {
	return t.ParentID == ""
}

// IsOverdue reports whether the task is past its due date and not done
func (t *Task) IsOverdue(now time.Time) bool {
	return !t.DueDate.IsZero() && t.DueDate.Before(now) && t.Status != TaskStatusDone
}

// TaskAction is a checklist row attached to a task
type TaskAction struct {
	ID               string    `json:"id" bson:"id"`
	TaskID           string    `json:"task_id" bson:"-"`
	Title            string    `json:"title" bson:"title"`
	IsDone           bool      `json:"is_done" bson:"isDone"`
	OwnerID          string    `json:"owner_id,omitempty" bson:"ownerId,omitempty"`
	DueDate          time.Time `json:"due_date,omitempty" bson:"dueDate,omitempty"`
	Notes            string    `json:"notes,omitempty" bson:"notes,omitempty"`
	Position         int       `json:"position" bson:"position"`
	WeightPercentage int       `json:"weight_percentage" bson:"weightPercentage"`
	TenantID         string    `json:"tenant_id,omitempty" bson:"-"`
}

// TaskStats summarizes a flat task list
type TaskStats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Overdue   int `json:"overdue"`
}

// Scope identifies whose tasks are visible. SuperAdmin removes the tenant restriction.
type Scope struct {
	TenantID   string `json:"tenant_id"`
	SuperAdmin bool   `json:"super_admin"`
}

// CanRead reports whether the scope is allowed to query at all
func (s Scope) CanRead() bool {
	return s.SuperAdmin || s.TenantID != ""
}

// TaskUpdate is a partial update; nil fields are left untouched
type TaskUpdate struct {
	Title               *string       `json:"title,omitempty"`
	Description         *string       `json:"description,omitempty"`
	Status              *TaskStatus   `json:"status,omitempty"`
	Priority            *TaskPriority `json:"priority,omitempty"`
	StartDate           *time.Time    `json:"start_date,omitempty"`
	DueDate             *time.Time    `json:"due_date,omitempty"`
	Progress            *int          `json:"progress,omitempty"`
	AssigneeID          *string       `json:"assignee_id,omitempty"`
	AssignedName        *string       `json:"assigned_name,omitempty"`
	ProjectName         *string       `json:"project_name,omitempty"`
	DepartmentName      *string       `json:"department_name,omitempty"`
	EffortEstimateHours *float64      `json:"effort_estimate_h,omitempty"`
	DisplayOrder        *DisplayOrder `json:"display_order,omitempty"`
}

// IsEmpty reports whether the update changes nothing
func (u TaskUpdate) IsEmpty() bool {
	return u.Title == nil && u.Description == nil && u.Status == nil && u.Priority == nil &&
		u.StartDate == nil && u.DueDate == nil && u.Progress == nil && u.AssigneeID == nil &&
		u.AssignedName == nil && u.ProjectName == nil && u.DepartmentName == nil &&
		u.EffortEstimateHours == nil && u.DisplayOrder == nil
}

// Validate checks the enum and text fields that are present
func (u TaskUpdate) Validate() error {
	if u.Title != nil && strings.TrimSpace(*u.Title) == "" {
		return fmt.Errorf("%w: title cannot be empty", ErrValidation)
	}
	if u.Status != nil && !u.Status.Valid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, *u.Status)
	}
	if u.Priority != nil && !u.Priority.Valid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, *u.Priority)
	}
	if u.EffortEstimateHours != nil && *u.EffortEstimateHours < 0 {
		return fmt.Errorf("%w: effort estimate cannot be negative", ErrValidation)
	}
	if u.DisplayOrder != nil && !u.DisplayOrder.Valid() {
		return fmt.Errorf("%w: display order must be a decimal of at most %d characters", ErrValidation, MaxDisplayOrderLength)
	}
	return nil
}

// CreateTaskRequest is the payload for creating a root task
type CreateTaskRequest struct {
	Title               string       `json:"title"`
	Description         string       `json:"description,omitempty"`
	AssigneeID          string       `json:"assignee_id,omitempty"`
	Assignee            string       `json:"assignee"`
	Department          string       `json:"department"`
	Project             string       `json:"project"`
	ProjectID           string       `json:"project_id,omitempty"`
	Priority            TaskPriority `json:"priority"`
	Status              TaskStatus   `json:"status"`
	EffortEstimateHours float64      `json:"effort_estimate_h"`
	StartDate           *time.Time   `json:"start_date,omitempty"`
	DueDate             *time.Time   `json:"due_date,omitempty"`
}

// SubtaskInput customizes a subtask; zero values inherit from the parent
type SubtaskInput struct {
	Title               string     `json:"title,omitempty"`
	StartDate           *time.Time `json:"start_date,omitempty"`
	DueDate             *time.Time `json:"due_date,omitempty"`
	EffortEstimateHours float64    `json:"effort_estimate_h,omitempty"`
	Assignee            string     `json:"assignee,omitempty"`
	LinkedActionID      string     `json:"linked_action_id,omitempty"`
}

// ActionInput describes a checklist row to add to a task
type ActionInput struct {
	Title            string     `json:"title"`
	WeightPercentage int        `json:"weight_percentage"`
	DueDate          *time.Time `json:"due_date,omitempty"`
	Notes            string     `json:"notes,omitempty"`
}
