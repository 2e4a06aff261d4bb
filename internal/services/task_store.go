package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskhub/internal/database"
	"taskhub/internal/models"
	"taskhub/internal/taskview"
)

// TaskStore is the remote store behind reads and mutations
type TaskStore interface {
	taskview.Source

	GetTask(ctx context.Context, id string) (*models.Task, error)
	InsertTask(ctx context.Context, task *models.Task) error
	UpdateTask(ctx context.Context, id string, update models.TaskUpdate, at time.Time) error
	DeleteTask(ctx context.Context, id string) error

	InsertActions(ctx context.Context, actions []models.TaskAction) error
	GetAction(ctx context.Context, id string) (*models.TaskAction, error)
	SetActionDone(ctx context.Context, id string, done bool) error

	// DistributeEqualWeights gives every action of the task an equal share of 100
	DistributeEqualWeights(ctx context.Context, taskID string) error
	// NextDisplayOrder returns the key after the last sibling under parentID,
	// or after the last root of the tenant when parentID is empty
	NextDisplayOrder(ctx context.Context, parentID, tenantID string) (models.DisplayOrder, error)
}

const (
	sqlDateLayout      = "2006-01-02"
	sqlTimestampLayout = "2006-01-02 15:04:05"
	likeEscape         = "!"
)

var sqlColumns = map[taskview.Field]string{
	taskview.FieldStatus:     "t.status",
	taskview.FieldPriority:   "t.priority",
	taskview.FieldAssigneeID: "t.assignee_id",
	taskview.FieldProjectID:  "t.project_id",
	taskview.FieldDueDate:    "t.due_date",
	taskview.FieldStartDate:  "t.start_date",
	taskview.FieldTenantID:   "t.tenant_id",
	taskview.FieldCreatedAt:  "t.created_at",
}

const taskSelect = `SELECT
	t.id, t.tenant_id, t.parent_id, t.title, t.description, t.status, t.priority,
	t.start_date, t.due_date, t.progress, t.assignee_id, t.assigned_name,
	t.project_id, t.project_name, t.department_id, t.department_name,
	t.linked_action_id, t.task_level, t.display_order, t.effort_estimate_h,
	t.created_at, t.updated_at,
	a.id, a.title, a.is_done, a.owner_id, a.due_date, a.notes, a.position, a.weight_percentage
FROM tasks t
LEFT JOIN task_actions a ON a.task_id = t.id`

// SQLTaskStore stores tasks in MySQL or SQLite
type SQLTaskStore struct {
	db *database.DB
}

// NewSQLTaskStore creates a store over an initialized database
func NewSQLTaskStore(db *database.DB) *SQLTaskStore {
	return &SQLTaskStore{db: db}
}

// FetchTasks runs the query as a single joined statement
func (s *SQLTaskStore) FetchTasks(ctx context.Context, q taskview.Query) ([]models.Task, error) {
	where, args, err := compileSQLWhere(q)
	if err != nil {
		return nil, err
	}
	orderBy, err := compileSQLOrder(q.OrderBy)
	if err != nil {
		return nil, err
	}
	return s.queryTasks(ctx, taskSelect+where+orderBy, args...)
}

// compileSQLWhere builds the WHERE clause with ? placeholders
func compileSQLWhere(q taskview.Query) (string, []any, error) {
	var sb strings.Builder
	var args []any
	sb.WriteString(" WHERE 1=1")

	if !q.AllTenants {
		if q.TenantID == "" {
			return "", nil, fmt.Errorf("%w: tenant scope required", models.ErrValidation)
		}
		sb.WriteString(" AND t.tenant_id = ?")
		args = append(args, q.TenantID)
	}

	for _, c := range q.Conditions {
		if c.Op == taskview.OpSearch {
			pattern := "%" + escapeLike(strings.ToLower(c.Value)) + "%"
			sb.WriteString(" AND (LOWER(t.title) LIKE ? ESCAPE '" + likeEscape + "' OR LOWER(COALESCE(t.description, '')) LIKE ? ESCAPE '" + likeEscape + "')")
			args = append(args, pattern, pattern)
			continue
		}

		column, ok := sqlColumns[c.Field]
		if !ok {
			return "", nil, fmt.Errorf("%w: unsupported filter field %q", models.ErrValidation, c.Field)
		}
		switch c.Op {
		case taskview.OpEq:
			sb.WriteString(" AND " + column + " = ?")
		case taskview.OpGte:
			sb.WriteString(" AND " + column + " >= ?")
		case taskview.OpLte:
			sb.WriteString(" AND " + column + " <= ?")
		default:
			return "", nil, fmt.Errorf("%w: unsupported operator %q", models.ErrValidation, c.Op)
		}
		args = append(args, c.Value)
	}
	return sb.String(), args, nil
}

func compileSQLOrder(orders []taskview.Order) (string, error) {
	terms := make([]string, 0, len(orders)+2)
	for _, o := range orders {
		column, ok := sqlColumns[o.Field]
		if !ok {
			return "", fmt.Errorf("%w: unsupported order field %q", models.ErrValidation, o.Field)
		}
		if o.Desc {
			terms = append(terms, column+" DESC")
		} else {
			terms = append(terms, column+" ASC")
		}
	}
	terms = append(terms, "t.id ASC", "a.position ASC")
	return " ORDER BY " + strings.Join(terms, ", "), nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_")
	return r.Replace(s)
}

// queryTasks scans joined rows and folds the actions into their task, keeping row order
func (s *SQLTaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	index := make(map[string]int)
	for rows.Next() {
		var (
			t                                                          models.Task
			parentID, description, assigneeID, assignedName, projectID sql.NullString
			projectName, departmentID, departmentName, linkedActionID  sql.NullString
			startDate, dueDate, createdAt, updatedAt                   sql.NullString
			status, priority, displayOrder                             string
			progress, level                                            sql.NullInt64
			effort                                                     sql.NullFloat64

			actionID, actionTitle, ownerID, actionDue, notes sql.NullString
			isDone                                           sql.NullBool
			position, weight                                 sql.NullInt64
		)
		if err := rows.Scan(
			&t.ID, &t.TenantID, &parentID, &t.Title, &description, &status, &priority,
			&startDate, &dueDate, &progress, &assigneeID, &assignedName,
			&projectID, &projectName, &departmentID, &departmentName,
			&linkedActionID, &level, &displayOrder, &effort,
			&createdAt, &updatedAt,
			&actionID, &actionTitle, &isDone, &ownerID, &actionDue, &notes, &position, &weight,
		); err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}

		i, seen := index[t.ID]
		if !seen {
			t.ParentID = parentID.String
			t.Description = description.String
			t.Status = models.TaskStatus(status)
			t.Priority = models.TaskPriority(priority)
			t.StartDate = parseDBTime(startDate.String)
			t.DueDate = parseDBTime(dueDate.String)
			t.Progress = int(progress.Int64)
			t.AssigneeID = assigneeID.String
			t.AssignedName = assignedName.String
			t.ProjectID = projectID.String
			t.ProjectName = projectName.String
			t.DepartmentID = departmentID.String
			t.DepartmentName = departmentName.String
			t.LinkedActionID = linkedActionID.String
			t.TaskLevel = int(level.Int64)
			t.DisplayOrder = models.DisplayOrder(displayOrder)
			t.EffortEstimateHours = effort.Float64
			t.CreatedAt = parseDBTime(createdAt.String)
			t.UpdatedAt = parseDBTime(updatedAt.String)
			t.Actions = []models.TaskAction{}

			i = len(tasks)
			index[t.ID] = i
			tasks = append(tasks, t)
		}

		if actionID.Valid {
			tasks[i].Actions = append(tasks[i].Actions, models.TaskAction{
				ID:               actionID.String,
				TaskID:           tasks[i].ID,
				Title:            actionTitle.String,
				IsDone:           isDone.Bool,
				OwnerID:          ownerID.String,
				DueDate:          parseDBTime(actionDue.String),
				Notes:            notes.String,
				Position:         int(position.Int64),
				WeightPercentage: int(weight.Int64),
				TenantID:         tasks[i].TenantID,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read task rows: %w", err)
	}
	return tasks, nil
}

// GetTask loads one task with its actions
func (s *SQLTaskStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	tasks, err := s.queryTasks(ctx, taskSelect+" WHERE t.id = ? ORDER BY a.position ASC", id)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, models.ErrTaskNotFound
	}
	return &tasks[0], nil
}

// InsertTask inserts the task row. Actions are inserted separately.
func (s *SQLTaskStore) InsertTask(ctx context.Context, task *models.Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, tenant_id, parent_id, title, description, status, priority,
			start_date, due_date, progress, assignee_id, assigned_name,
			project_id, project_name, department_id, department_name,
			linked_action_id, task_level, display_order, effort_estimate_h,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.TenantID, nullString(task.ParentID), task.Title, nullString(task.Description),
		string(task.Status), string(task.Priority),
		formatDBDate(task.StartDate), formatDBDate(task.DueDate), task.Progress,
		nullString(task.AssigneeID), nullString(task.AssignedName),
		nullString(task.ProjectID), nullString(task.ProjectName),
		nullString(task.DepartmentID), nullString(task.DepartmentName),
		nullString(task.LinkedActionID), task.TaskLevel, string(task.DisplayOrder), task.EffortEstimateHours,
		formatDBTimestamp(task.CreatedAt), formatDBTimestamp(task.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// UpdateTask applies the non-nil fields of update
func (s *SQLTaskStore) UpdateTask(ctx context.Context, id string, update models.TaskUpdate, at time.Time) error {
	var sets []string
	var args []any
	set := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if update.Title != nil {
		set("title", *update.Title)
	}
	if update.Description != nil {
		set("description", nullString(*update.Description))
	}
	if update.Status != nil {
		set("status", string(*update.Status))
	}
	if update.Priority != nil {
		set("priority", string(*update.Priority))
	}
	if update.StartDate != nil {
		set("start_date", formatDBDate(*update.StartDate))
	}
	if update.DueDate != nil {
		set("due_date", formatDBDate(*update.DueDate))
	}
	if update.Progress != nil {
		set("progress", *update.Progress)
	}
	if update.AssigneeID != nil {
		set("assignee_id", nullString(*update.AssigneeID))
	}
	if update.AssignedName != nil {
		set("assigned_name", nullString(*update.AssignedName))
	}
	if update.ProjectName != nil {
		set("project_name", nullString(*update.ProjectName))
	}
	if update.DepartmentName != nil {
		set("department_name", nullString(*update.DepartmentName))
	}
	if update.EffortEstimateHours != nil {
		set("effort_estimate_h", *update.EffortEstimateHours)
	}
	if update.DisplayOrder != nil {
		set("display_order", string(*update.DisplayOrder))
	}
	set("updated_at", formatDBTimestamp(at))

	args = append(args, id)
	if _, err := s.db.ExecContext(ctx, "UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}

// DeleteTask deletes the task's actions, then the task
func (s *SQLTaskStore) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM task_actions WHERE task_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete task actions: %w", err)
	}
	result, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return models.ErrTaskNotFound
	}
	return nil
}

// InsertActions inserts checklist rows one statement at a time
func (s *SQLTaskStore) InsertActions(ctx context.Context, actions []models.TaskAction) error {
	for _, a := range actions {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO task_actions (id, task_id, tenant_id, title, is_done, owner_id, due_date, notes, position, weight_percentage)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.TaskID, nullString(a.TenantID), a.Title, a.IsDone, nullString(a.OwnerID),
			formatDBDate(a.DueDate), nullString(a.Notes), a.Position, a.WeightPercentage,
		)
		if err != nil {
			return fmt.Errorf("failed to insert action %q: %w", a.Title, err)
		}
	}
	return nil
}

// GetAction loads one action
func (s *SQLTaskStore) GetAction(ctx context.Context, id string) (*models.TaskAction, error) {
	var (
		a                           models.TaskAction
		tenantID, ownerID, due, nts sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, tenant_id, title, is_done, owner_id, due_date, notes, position, weight_percentage
		FROM task_actions WHERE id = ?`, id,
	).Scan(&a.ID, &a.TaskID, &tenantID, &a.Title, &a.IsDone, &ownerID, &due, &nts, &a.Position, &a.WeightPercentage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrActionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action: %w", err)
	}
	a.TenantID = tenantID.String
	a.OwnerID = ownerID.String
	a.DueDate = parseDBTime(due.String)
	a.Notes = nts.String
	return &a, nil
}

// SetActionDone sets is_done on one action
func (s *SQLTaskStore) SetActionDone(ctx context.Context, id string, done bool) error {
	result, err := s.db.ExecContext(ctx, "UPDATE task_actions SET is_done = ? WHERE id = ?", done, id)
	if err != nil {
		return fmt.Errorf("failed to update action: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		// MySQL reports 0 when the value did not change
		if _, getErr := s.GetAction(ctx, id); getErr != nil {
			return getErr
		}
	}
	return nil
}

// DistributeEqualWeights rewrites weight_percentage of every action of the task
func (s *SQLTaskStore) DistributeEqualWeights(ctx context.Context, taskID string) error {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM task_actions WHERE task_id = ? ORDER BY position ASC, id ASC", taskID)
	if err != nil {
		return fmt.Errorf("failed to list actions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan action id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to list actions: %w", err)
	}

	for i, w := range equalWeights(len(ids)) {
		if _, err := s.db.ExecContext(ctx, "UPDATE task_actions SET weight_percentage = ? WHERE id = ?", w, ids[i]); err != nil {
			return fmt.Errorf("failed to update action weight: %w", err)
		}
	}
	return nil
}

// NextDisplayOrder returns After(max sibling key). Keys are compared numerically in Go.
func (s *SQLTaskStore) NextDisplayOrder(ctx context.Context, parentID, tenantID string) (models.DisplayOrder, error) {
	var rows *sql.Rows
	var err error
	if parentID == "" {
		rows, err = s.db.QueryContext(ctx,
			"SELECT display_order FROM tasks WHERE (parent_id IS NULL OR parent_id = '') AND tenant_id = ?", tenantID)
	} else {
		rows, err = s.db.QueryContext(ctx, "SELECT display_order FROM tasks WHERE parent_id = ?", parentID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to list display orders: %w", err)
	}
	defer rows.Close()

	var keys []models.DisplayOrder
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return "", fmt.Errorf("failed to scan display order: %w", err)
		}
		keys = append(keys, models.DisplayOrder(key))
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to list display orders: %w", err)
	}

	last := models.MaxDisplayOrder(keys...)
	if last == "" {
		return models.FirstDisplayOrder(), nil
	}
	return models.After(last), nil
}

// equalWeights splits 100 into n integer shares, the remainder going to the first shares
func equalWeights(n int) []int {
	if n <= 0 {
		return nil
	}
	weights := make([]int, n)
	base, rem := 100/n, 100%n
	for i := range weights {
		weights[i] = base
		if i < rem {
			weights[i]++
		}
	}
	return weights
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatDBDate(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(sqlDateLayout), Valid: true}
}

func formatDBTimestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(sqlTimestampLayout)
}

// parseDBTime accepts the layouts MySQL and SQLite drivers hand back for DATE and TIMESTAMP columns
func parseDBTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, sqlTimestampLayout, sqlDateLayout, "2006-01-02T15:04:05Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
