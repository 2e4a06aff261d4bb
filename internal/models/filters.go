package models

import (
	"fmt"
	"time"
)

// DateField selects which date a date range applies to
type DateField string

const (
	DateFieldDue   DateField = "due_date"
	DateFieldStart DateField = "start_date"
)

// DateLayout is the calendar date format accepted in filters
const DateLayout = "2006-01-02"

// TaskFilters narrows a task query. All fields are optional and AND-combined.
// Field order is stable so the JSON form can be used as a cache key.
type TaskFilters struct {
	Status     TaskStatus   `json:"status,omitempty"`
	Priority   TaskPriority `json:"priority,omitempty"`
	AssigneeID string       `json:"assignee_id,omitempty"`
	ProjectID  string       `json:"project_id,omitempty"`
	DateFrom   string       `json:"date_from,omitempty"`
	DateTo     string       `json:"date_to,omitempty"`
	DateField  DateField    `json:"date_field,omitempty"`
	Search     string       `json:"search,omitempty"`
}

// IsEmpty reports whether no filter is set
func (f TaskFilters) IsEmpty() bool {
	return f == TaskFilters{}
}

// ActiveCount returns how many filter criteria are set. DateField alone does not count.
func (f TaskFilters) ActiveCount() int {
	n := 0
	for _, v := range []string{string(f.Status), string(f.Priority), f.AssigneeID, f.ProjectID, f.DateFrom, f.DateTo, f.Search} {
		if v != "" {
			n++
		}
	}
	return n
}

// HasDateRange reports whether either date bound is set
func (f TaskFilters) HasDateRange() bool {
	return f.DateFrom != "" || f.DateTo != ""
}

// EffectiveDateField returns the date field the range applies to, due_date by default
func (f TaskFilters) EffectiveDateField() DateField {
	if f.DateField == DateFieldStart {
		return DateFieldStart
	}
	return DateFieldDue
}

// Validate checks enum values and date formats
func (f TaskFilters) Validate() error {
	if f.Status != "" && !f.Status.Valid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, f.Status)
	}
	if f.Priority != "" && !f.Priority.Valid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, f.Priority)
	}
	if f.DateField != "" && f.DateField != DateFieldDue && f.DateField != DateFieldStart {
		return fmt.Errorf("%w: invalid date field %q", ErrValidation, f.DateField)
	}
	var from, to time.Time
	var err error
	if f.DateFrom != "" {
		if from, err = time.Parse(DateLayout, f.DateFrom); err != nil {
			return fmt.Errorf("%w: date_from must be YYYY-MM-DD", ErrValidation)
		}
	}
	if f.DateTo != "" {
		if to, err = time.Parse(DateLayout, f.DateTo); err != nil {
			return fmt.Errorf("%w: date_to must be YYYY-MM-DD", ErrValidation)
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return fmt.Errorf("%w: date_to is before date_from", ErrValidation)
	}
	return nil
}
