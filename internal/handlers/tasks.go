package handlers

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"taskhub/internal/middleware"
	"taskhub/internal/models"
	"taskhub/internal/services"
	"taskhub/internal/taskview"
)

// TaskHandler serves the task list and task mutations
type TaskHandler struct {
	sessions *taskview.Sessions
	actions  *services.TaskActionService
	exporter *services.ExportService
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(sessions *taskview.Sessions, actions *services.TaskActionService, exporter *services.ExportService) *TaskHandler {
	return &TaskHandler{
		sessions: sessions,
		actions:  actions,
		exporter: exporter,
	}
}

// RegisterRoutes mounts the task routes on api. mutationLimit and exportLimit may be nil.
func (h *TaskHandler) RegisterRoutes(api fiber.Router, mutationLimit, exportLimit fiber.Handler) {
	api.Get("/tasks", h.List)
	api.Post("/tasks/refresh", h.Refresh)
	api.Delete("/tasks/cache", h.ClearCache)
	api.Get("/tasks/export", with(exportLimit, h.Export)...)

	api.Post("/tasks", with(mutationLimit, h.Create)...)
	api.Put("/tasks/:id", with(mutationLimit, h.Update)...)
	api.Delete("/tasks/:id", with(mutationLimit, h.Delete)...)
	api.Post("/tasks/:id/duplicate", with(mutationLimit, h.Duplicate)...)
	api.Patch("/tasks/:id/status", with(mutationLimit, h.UpdateStatus)...)
	api.Patch("/tasks/:id/assignee", with(mutationLimit, h.UpdateAssignee)...)
	api.Patch("/tasks/:id/dates", with(mutationLimit, h.UpdateDates)...)
	api.Post("/tasks/:id/subtasks", with(mutationLimit, h.CreateSubtask)...)
	api.Post("/tasks/:id/actions", with(mutationLimit, h.AddAction)...)
	api.Post("/tasks/:id/move", with(mutationLimit, h.Move)...)
	api.Post("/actions/column", with(mutationLimit, h.AddActionColumn)...)
	api.Patch("/actions/:id/toggle", with(mutationLimit, h.ToggleAction)...)
}

func with(mw fiber.Handler, h fiber.Handler) []fiber.Handler {
	if mw == nil {
		return []fiber.Handler{h}
	}
	return []fiber.Handler{mw, h}
}

// listResponse is the reader state plus cache freshness
type listResponse struct {
	taskview.ReaderState
	Stale bool `json:"stale"`
}

// List returns the organized task list for the caller's scope and filters
// GET /api/tasks
func (h *TaskHandler) List(c *fiber.Ctx) error {
	filters, err := parseFilters(c)
	if err != nil {
		return writeError(c, err)
	}

	reader := h.reader(c, filters)
	state := reader.Sync(c.UserContext(), middleware.ScopeFromContext(c), filters)
	return c.JSON(listResponse{ReaderState: state, Stale: reader.IsStale()})
}

// Refresh bypasses the cache for the filters given as query params
// POST /api/tasks/refresh
func (h *TaskHandler) Refresh(c *fiber.Ctx) error {
	filters, err := parseFilters(c)
	if err != nil {
		return writeError(c, err)
	}

	reader := h.reader(c, filters)
	state := reader.Refresh(c.UserContext())
	return c.JSON(listResponse{ReaderState: state, Stale: reader.IsStale()})
}

// ClearCache drops every cached task list
// DELETE /api/tasks/cache
func (h *TaskHandler) ClearCache(c *fiber.Ctx) error {
	h.reader(c, models.TaskFilters{}).ClearCache()
	return c.JSON(fiber.Map{"cleared": true})
}

// Export downloads the filtered task list as an XLSX workbook
// GET /api/tasks/export
func (h *TaskHandler) Export(c *fiber.Ctx) error {
	filters, err := parseFilters(c)
	if err != nil {
		return writeError(c, err)
	}

	reader := h.reader(c, filters)
	state := reader.Sync(c.UserContext(), middleware.ScopeFromContext(c), filters)
	if state.Error != "" {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load tasks for export",
		})
	}

	data, err := h.exporter.XLSX(c.UserContext(), state.Tasks, services.ExportOptions{
		IncludeSummary: c.QueryBool("summary", true),
		Filters:        &filters,
		Stats:          &state.Stats,
	})
	if err != nil {
		log.Printf("❌ [EXPORT] Failed to build workbook: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to export tasks",
		})
	}

	c.Set(fiber.HeaderContentType, services.XLSXContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", h.exporter.Filename()))
	return c.Send(data)
}

func (h *TaskHandler) reader(c *fiber.Ctx, filters models.TaskFilters) *taskview.Reader {
	return h.sessions.Reader(middleware.UserIDFromContext(c), middleware.ScopeFromContext(c), filters)
}

func actorFrom(c *fiber.Ctx) services.Actor {
	return services.Actor{
		UserID: middleware.UserIDFromContext(c),
		Scope:  middleware.ScopeFromContext(c),
	}
}

// Create creates a root task
// POST /api/tasks
func (h *TaskHandler) Create(c *fiber.Ctx) error {
	var body struct {
		models.CreateTaskRequest
		StartDate *flexDate `json:"start_date,omitempty"`
		DueDate   *flexDate `json:"due_date,omitempty"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, err)
	}
	req := body.CreateTaskRequest
	req.StartDate = body.StartDate.ptr()
	req.DueDate = body.DueDate.ptr()

	result, err := h.actions.CreateTask(c.UserContext(), actorFrom(c), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// Update applies a partial update
// PUT /api/tasks/:id
func (h *TaskHandler) Update(c *fiber.Ctx) error {
	var body struct {
		models.TaskUpdate
		StartDate *flexDate `json:"start_date,omitempty"`
		DueDate   *flexDate `json:"due_date,omitempty"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, err)
	}
	update := body.TaskUpdate
	update.StartDate = body.StartDate.ptr()
	update.DueDate = body.DueDate.ptr()

	result, err := h.actions.UpdateTask(c.UserContext(), actorFrom(c), c.Params("id"), update)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(result)
}

// Delete deletes a task
// DELETE /api/tasks/:id
func (h *TaskHandler) Delete(c *fiber.Ctx) error {
	result, err := h.actions.DeleteTask(c.UserContext(), actorFrom(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(result)
}

// Duplicate copies a task
// POST /api/tasks/:id/duplicate
func (h *TaskHandler) Duplicate(c *fiber.Ctx) error {
	result, err := h.actions.DuplicateTask(c.UserContext(), actorFrom(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// UpdateStatus changes a task's status
// PATCH /api/tasks/:id/status
func (h *TaskHandler) UpdateStatus(c *fiber.Ctx) error {
	var body struct {
		Status models.TaskStatus `json:"status"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, err)
	}

	result, err := h.actions.UpdateStatus(c.UserContext(), actorFrom(c), c.Params("id"), body.Status)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(result)
}

// UpdateAssignee reassigns a task
// PATCH /api/tasks/:id/assignee
func (h *TaskHandler) UpdateAssignee(c *fiber.Ctx) error {
	var body struct {
		AssigneeID   string `json:"assignee_id"`
		AssignedName string `json:"assigned_name"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, err)
	}

	result, err := h.actions.UpdateAssignee(c.UserContext(), actorFrom(c), c.Params("id"), body.AssigneeID, body.AssignedName)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(result)
}

// UpdateDates changes a task's start and due dates
// PATCH /api/tasks/:id/dates
func (h *TaskHandler) UpdateDates(c *fiber.Ctx) error {
	var body struct {
		StartDate *flexDate `json:"start_date"`
		DueDate   *flexDate `json:"due_date"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, err)
	}

	result, err := h.actions.UpdateDates(c.UserContext(), actorFrom(c), c.Params("id"), body.StartDate.ptr(), body.DueDate.ptr())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(result)
}

type actionBody struct {
	models.ActionInput
	DueDate *flexDate `json:"due_date,omitempty"`
}

func (b actionBody) input() models.ActionInput {
	in := b.ActionInput
	in.DueDate = b.DueDate.ptr()
	return in
}

// CreateSubtask creates a subtask, optionally with its actions
// POST /api/tasks/:id/subtasks
func (h *TaskHandler) CreateSubtask(c *fiber.Ctx) error {
	var body struct {
		models.SubtaskInput
		StartDate *flexDate    `json:"start_date,omitempty"`
		DueDate   *flexDate    `json:"due_date,omitempty"`
		Actions   []actionBody `json:"actions,omitempty"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, err)
	}
	input := body.SubtaskInput
	input.StartDate = body.StartDate.ptr()
	input.DueDate = body.DueDate.ptr()

	var (
		result *services.MutationResult
		err    error
	)
	if len(body.Actions) > 0 {
		actions := make([]models.ActionInput, 0, len(body.Actions))
		for _, a := range body.Actions {
			actions = append(actions, a.input())
		}
		result, err = h.actions.CreateSubtaskWithActions(c.UserContext(), actorFrom(c), c.Params("id"), input, actions)
	} else {
		result, err = h.actions.CreateSubtask(c.UserContext(), actorFrom(c), c.Params("id"), input)
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// AddAction appends an action to a task
// POST /api/tasks/:id/actions
func (h *TaskHandler) AddAction(c *fiber.Ctx) error {
	var body actionBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, err)
	}

	result, err := h.actions.AddDetailedAction(c.UserContext(), actorFrom(c), c.Params("id"), body.input())
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// AddActionColumn adds one action to a task or to all of the tenant's tasks
// POST /api/actions/column
func (h *TaskHandler) AddActionColumn(c *fiber.Ctx) error {
	var body struct {
		Title  string `json:"title"`
		TaskID string `json:"task_id,omitempty"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, err)
	}

	result, err := h.actions.AddActionColumn(c.UserContext(), actorFrom(c), body.Title, body.TaskID)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// Move places a task between two siblings
// POST /api/tasks/:id/move
func (h *TaskHandler) Move(c *fiber.Ctx) error {
	var body struct {
		AfterID  string `json:"after_id"`
		BeforeID string `json:"before_id"`
	}
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, err)
	}

	result, err := h.actions.MoveTask(c.UserContext(), actorFrom(c), c.Params("id"), body.AfterID, body.BeforeID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(result)
}

// ToggleAction flips an action between done and open
// PATCH /api/actions/:id/toggle
func (h *TaskHandler) ToggleAction(c *fiber.Ctx) error {
	result, err := h.actions.ToggleAction(c.UserContext(), actorFrom(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(result)
}

// parseFilters reads TaskFilters from the query string
func parseFilters(c *fiber.Ctx) (models.TaskFilters, error) {
	filters := models.TaskFilters{
		Status:     models.TaskStatus(c.Query("status")),
		Priority:   models.TaskPriority(c.Query("priority")),
		AssigneeID: c.Query("assignee_id"),
		ProjectID:  c.Query("project_id"),
		DateFrom:   c.Query("date_from"),
		DateTo:     c.Query("date_to"),
		DateField:  models.DateField(c.Query("date_field")),
		Search:     c.Query("search"),
	}
	if err := filters.Validate(); err != nil {
		return models.TaskFilters{}, err
	}
	return filters, nil
}

// flexDate accepts both "2006-01-02" and RFC 3339 timestamps
type flexDate struct {
	time.Time
}

func (d *flexDate) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if t, err := time.Parse(models.DateLayout, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("%w: invalid date %s", models.ErrValidation, strconv.Quote(s))
	}
	d.Time = t
	return nil
}

func (d *flexDate) ptr() *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	t := d.Time
	return &t
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "Invalid request body: " + err.Error(),
	})
}

// writeError maps service errors to HTTP status codes
func writeError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrValidation):
		status = fiber.StatusBadRequest
	case errors.Is(err, models.ErrTaskNotFound), errors.Is(err, models.ErrActionNotFound):
		status = fiber.StatusNotFound
	}

	if status == fiber.StatusInternalServerError {
		log.Printf("❌ [TASKS] %s %s failed: %v", c.Method(), c.Path(), err)
		return c.Status(status).JSON(fiber.Map{"error": "Internal server error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
