package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithScope returns a logger tagged with the tenant scope of a request.
// Use this for all logging inside a task mutation.
func WithScope(tenantID string, superAdmin bool, userID string) *slog.Logger {
	return slog.With(
		"tenant_id", tenantID,
		"super_admin", superAdmin,
		"user_id", userID,
	)
}

// WithTask returns a logger scoped to a single task.
func WithTask(logger *slog.Logger, taskID string) *slog.Logger {
	return logger.With("task_id", taskID)
}
