package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"taskhub/internal/models"
)

const (
	exportTasksSheet   = "Tasks"
	exportSummarySheet = "Summary"

	// XLSXContentType is the MIME type of exported workbooks
	XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var exportColumns = []struct {
	header string
	width  float64
}{
	{"ID", 38},
	{"Title", 40},
	{"Description", 50},
	{"Status", 12},
	{"Priority", 12},
	{"Assignee", 20},
	{"Project", 25},
	{"Start date", 12},
	{"Due date", 12},
	{"Progress (%)", 12},
	{"Effort (h)", 12},
	{"Parent task", 38},
	{"Created", 12},
}

// ExportOptions controls what goes into a workbook
type ExportOptions struct {
	IncludeSummary bool
	Filters        *models.TaskFilters
	Stats          *models.TaskStats
}

// ExportService renders organized task lists as XLSX workbooks
type ExportService struct {
	notifier Notifier
	now      func() time.Time
}

// NewExportService creates an export service. notifier may be nil.
func NewExportService(notifier Notifier) *ExportService {
	return &ExportService{notifier: notifier, now: time.Now}
}

// Filename returns the default export file name for today
func (s *ExportService) Filename() string {
	return fmt.Sprintf("tasks_%s.xlsx", s.now().Format(models.DateLayout))
}

// WriteXLSX writes the workbook for tasks to w. Subtasks are indented under their parent.
func (s *ExportService) WriteXLSX(ctx context.Context, w io.Writer, tasks []models.Task, opts ExportOptions) error {
	err := s.writeXLSX(w, tasks, opts)
	if s.notifier != nil {
		if err != nil {
			s.notifier.Notify(ctx, Toast{Title: "Export failed", Description: "Could not export the tasks", Variant: ToastDestructive})
		} else {
			s.notifier.Notify(ctx, Toast{Title: "Export ready", Description: fmt.Sprintf("%d tasks exported", len(tasks)), Variant: ToastDefault})
		}
	}
	return err
}

// XLSX returns the workbook as bytes
func (s *ExportService) XLSX(ctx context.Context, tasks []models.Task, opts ExportOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.WriteXLSX(ctx, &buf, tasks, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *ExportService) writeXLSX(w io.Writer, tasks []models.Task, opts ExportOptions) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportTasksSheet); err != nil {
		return fmt.Errorf("failed to create tasks sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"4F46E5"}},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, col := range exportColumns {
		name, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(exportTasksSheet, name, name, col.width); err != nil {
			return fmt.Errorf("failed to size column %s: %w", name, err)
		}
		if err := f.SetCellValue(exportTasksSheet, name+"1", col.header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	lastCol, _ := excelize.ColumnNumberToName(len(exportColumns))
	if err := f.SetCellStyle(exportTasksSheet, "A1", lastCol+"1", headerStyle); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, task := range tasks {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(exportTasksSheet, cell, &[]interface{}{
			task.ID,
			exportTitle(task),
			task.Description,
			task.Status.Label(),
			task.Priority.Label(),
			orDefault(task.AssignedName, "Unassigned"),
			orDefault(task.ProjectName, orDefault(task.ProjectID, "None")),
			exportDate(task.StartDate),
			exportDate(task.DueDate),
			fmt.Sprintf("%d%%", task.Progress),
			task.EffortEstimateHours,
			task.ParentID,
			exportDate(task.CreatedAt),
		}); err != nil {
			return fmt.Errorf("failed to write task row: %w", err)
		}
	}

	if opts.IncludeSummary {
		if err := s.writeSummary(f, tasks, opts); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func (s *ExportService) writeSummary(f *excelize.File, tasks []models.Task, opts ExportOptions) error {
	if _, err := f.NewSheet(exportSummarySheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	rows := [][]interface{}{
		{"Property", "Value"},
		{"Exported at", s.now().UTC().Format(time.RFC3339)},
		{"Task count", len(tasks)},
	}
	if opts.Stats != nil {
		rows = append(rows,
			[]interface{}{"Total", opts.Stats.Total},
			[]interface{}{"Active", opts.Stats.Active},
			[]interface{}{"Completed", opts.Stats.Completed},
			[]interface{}{"Overdue", opts.Stats.Overdue},
		)
	}

	filtered := opts.Filters != nil && !opts.Filters.IsEmpty()
	rows = append(rows, []interface{}{"Filters applied", yesNo(filtered)})
	if filtered {
		fl := opts.Filters
		if fl.Search != "" {
			rows = append(rows, []interface{}{"Search", fl.Search})
		}
		if fl.Status != "" {
			rows = append(rows, []interface{}{"Status", fl.Status.Label()})
		}
		if fl.Priority != "" {
			rows = append(rows, []interface{}{"Priority", fl.Priority.Label()})
		}
		if fl.HasDateRange() {
			rows = append(rows, []interface{}{"Period", fmt.Sprintf("%s -> %s (%s)",
				orDefault(fl.DateFrom, "..."), orDefault(fl.DateTo, "..."), fl.EffectiveDateField())})
		}
	}

	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(exportSummarySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	}
	if err := f.SetColWidth(exportSummarySheet, "A", "A", 20); err != nil {
		return fmt.Errorf("failed to size summary column: %w", err)
	}
	return f.SetColWidth(exportSummarySheet, "B", "B", 40)
}

func exportTitle(task models.Task) string {
	if task.IsSubtask {
		return "    " + task.Title
	}
	return task.Title
}

func exportDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(models.DateLayout)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
