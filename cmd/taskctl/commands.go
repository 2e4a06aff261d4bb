package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"taskhub/internal/database"
	"taskhub/internal/models"
	"taskhub/internal/services"
	"taskhub/internal/taskview"
	"taskhub/pkg/auth"
)

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the organized task hierarchy",
	RunE:  runList,
}

var StatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print task statistics for the scope and filters",
	RunE:  runStats,
}

var ExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the task list to an XLSX workbook",
	RunE:  runExport,
}

var TokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token signed with JWT_SECRET",
	RunE:  runToken,
}

func init() {
	for _, cmd := range []*cobra.Command{ListCmd, StatsCmd, ExportCmd} {
		cmd.Flags().String("status", "", "Filter by status (todo, doing, blocked, done)")
		cmd.Flags().String("priority", "", "Filter by priority (low, medium, high, urgent)")
		cmd.Flags().String("assignee", "", "Filter by assignee ID")
		cmd.Flags().String("project", "", "Filter by project ID")
		cmd.Flags().String("from", "", "Date range start (YYYY-MM-DD)")
		cmd.Flags().String("to", "", "Date range end (YYYY-MM-DD)")
		cmd.Flags().String("date-field", "", "Date the range applies to (due_date, start_date)")
		cmd.Flags().StringP("search", "s", "", "Case-insensitive text search in title and description")
	}

	ExportCmd.Flags().StringP("output", "o", "", "Output file (default tasks_YYYY-MM-DD.xlsx)")
	ExportCmd.Flags().Bool("no-summary", false, "Omit the Summary sheet")

	TokenCmd.Flags().String("user", "", "User ID (sub claim)")
	TokenCmd.Flags().String("email", "", "Email claim")
	TokenCmd.Flags().String("role", auth.RoleUser, "Role (user, super_admin)")
	TokenCmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
}

func filtersFromFlags(cmd *cobra.Command) (models.TaskFilters, error) {
	get := func(name string) string {
		v, _ := cmd.Flags().GetString(name)
		return strings.TrimSpace(v)
	}
	filters := models.TaskFilters{
		Status:     models.TaskStatus(get("status")),
		Priority:   models.TaskPriority(get("priority")),
		AssigneeID: get("assignee"),
		ProjectID:  get("project"),
		DateFrom:   get("from"),
		DateTo:     get("to"),
		DateField:  models.DateField(get("date-field")),
		Search:     get("search"),
	}
	return filters, filters.Validate()
}

// load reads one organized snapshot from the configured store
func load(cmd *cobra.Command) (taskview.Snapshot, models.TaskFilters, error) {
	filters, err := filtersFromFlags(cmd)
	if err != nil {
		return taskview.Snapshot{}, filters, err
	}
	scope := models.Scope{TenantID: tenantID, SuperAdmin: superAdmin}
	if !scope.CanRead() {
		return taskview.Snapshot{}, filters, fmt.Errorf("--tenant or --super-admin is required")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	source, closeSource, err := openSource(ctx)
	if err != nil {
		return taskview.Snapshot{}, filters, err
	}
	defer closeSource()

	snapshot, err := taskview.NewService(source, time.Minute).Load(ctx, scope, filters)
	return snapshot, filters, err
}

func openSource(ctx context.Context) (taskview.Source, func(), error) {
	if mongoURI != "" {
		mongoDB, err := database.NewMongoDB(mongoURI)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		return services.NewMongoTaskStore(mongoDB), func() { mongoDB.Close(context.Background()) }, nil
	}

	db, err := database.New(databaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Initialize(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return services.NewSQLTaskStore(db), func() { db.Close() }, nil
}

func runList(cmd *cobra.Command, args []string) error {
	snapshot, _, err := load(cmd)
	if err != nil {
		return err
	}

	if len(snapshot.Tasks) == 0 {
		fmt.Println("📋 No tasks found")
		return nil
	}

	for _, task := range snapshot.Tasks {
		indent := ""
		if task.IsSubtask {
			indent = "   └─ "
		}
		due := "-"
		if !task.DueDate.IsZero() {
			due = task.DueDate.Format(models.DateLayout)
		}
		fmt.Printf("%s%s [%s, %s] due %s (%s)\n", indent, task.Title, task.Status.Label(), task.Priority.Label(), due, task.ID)
	}
	fmt.Println()
	printStats(snapshot)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	snapshot, _, err := load(cmd)
	if err != nil {
		return err
	}
	printStats(snapshot)
	return nil
}

func printStats(snapshot taskview.Snapshot) {
	s := snapshot.Stats
	fmt.Printf("Total: %d (%d active, %d completed, %d overdue)\n", s.Total, s.Active, s.Completed, s.Overdue)
	if snapshot.Orphans > 0 {
		fmt.Printf("⚠️  %d subtasks hidden because their parent is not in the result\n", snapshot.Orphans)
	}
}

func runExport(cmd *cobra.Command, args []string) error {
	snapshot, filters, err := load(cmd)
	if err != nil {
		return err
	}

	exporter := services.NewExportService(nil)
	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		output = exporter.Filename()
	}
	noSummary, _ := cmd.Flags().GetBool("no-summary")

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", output, err)
	}
	defer f.Close()

	err = exporter.WriteXLSX(cmd.Context(), f, snapshot.Tasks, services.ExportOptions{
		IncludeSummary: !noSummary,
		Filters:        &filters,
		Stats:          &snapshot.Stats,
	})
	if err != nil {
		return err
	}

	fmt.Printf("✅ Exported %d tasks to %s\n", len(snapshot.Tasks), output)
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return fmt.Errorf("JWT_SECRET is not set")
	}

	userID, _ := cmd.Flags().GetString("user")
	email, _ := cmd.Flags().GetString("email")
	role, _ := cmd.Flags().GetString("role")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	jwtAuth, err := auth.NewLocalJWTAuth(secret, ttl)
	if err != nil {
		return err
	}
	token, err := jwtAuth.GenerateAccessToken(auth.User{ID: userID, Email: email, Role: role, TenantID: tenantID})
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}
