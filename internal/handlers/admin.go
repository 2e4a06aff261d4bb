package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"taskhub/internal/jobs"
	"taskhub/internal/taskview"
)

// JobStatusProvider reports scheduled job status
type JobStatusProvider interface {
	GetStatus() map[string]jobs.JobStatus
	RunNow(name string) error
}

// AdminHandler exposes cache and job internals to superadmins
type AdminHandler struct {
	service  *taskview.Service
	sessions *taskview.Sessions
	jobs     JobStatusProvider
}

// NewAdminHandler creates a new admin handler. jobs may be nil.
func NewAdminHandler(service *taskview.Service, sessions *taskview.Sessions, jobs JobStatusProvider) *AdminHandler {
	return &AdminHandler{service: service, sessions: sessions, jobs: jobs}
}

// CacheStatus returns the cached keys and the number of live reader sessions
// GET /api/admin/cache
func (h *AdminHandler) CacheStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"entries":  h.service.CacheLen(),
		"keys":     h.service.CacheKeys(),
		"sessions": h.sessions.Len(),
		"ttl":      h.service.TTL().String(),
	})
}

// JobStatus lists the scheduled jobs
// GET /api/admin/jobs
func (h *AdminHandler) JobStatus(c *fiber.Ctx) error {
	if h.jobs == nil {
		return c.JSON(fiber.Map{"jobs": fiber.Map{}})
	}
	return c.JSON(fiber.Map{"jobs": h.jobs.GetStatus()})
}

// RunJob runs a job immediately
// POST /api/admin/jobs/:name/run
func (h *AdminHandler) RunJob(c *fiber.Ctx) error {
	if h.jobs == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Scheduler not running"})
	}
	if err := h.jobs.RunNow(c.Params("name")); err != nil {
		if errors.Is(err, jobs.ErrJobLocked) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"ran": c.Params("name")})
}
