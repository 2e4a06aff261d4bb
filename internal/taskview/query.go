package taskview

import (
	"strings"

	"taskhub/internal/models"
)

// Field names a filterable task column
type Field string

const (
	FieldStatus     Field = "status"
	FieldPriority   Field = "priority"
	FieldAssigneeID Field = "assignee_id"
	FieldProjectID  Field = "project_id"
	FieldDueDate    Field = "due_date"
	FieldStartDate  Field = "start_date"
	FieldText       Field = "title,description"
	FieldTenantID   Field = "tenant_id"
	FieldCreatedAt  Field = "created_at"
)

// Op is a condition operator
type Op string

const (
	OpEq     Op = "eq"
	OpGte    Op = "gte"
	OpLte    Op = "lte"
	OpSearch Op = "search"
)

// Condition is one AND-combined predicate
type Condition struct {
	Field Field  `json:"field"`
	Op    Op     `json:"op"`
	Value string `json:"value"`
}

// Order is one sort term
type Order struct {
	Field Field `json:"field"`
	Desc  bool  `json:"desc"`
}

// Query describes a single round trip that loads tasks together with their actions
type Query struct {
	Table      string      `json:"table"`
	Embed      string      `json:"embed"`
	TenantID   string      `json:"tenant_id,omitempty"`
	AllTenants bool        `json:"all_tenants"`
	Conditions []Condition `json:"conditions"`
	OrderBy    []Order     `json:"order_by"`
}

// Condition returns the first condition on field with op
func (q Query) Condition(field Field, op Op) (Condition, bool) {
	for _, c := range q.Conditions {
		if c.Field == field && c.Op == op {
			return c, true
		}
	}
	return Condition{}, false
}

// QueryBuilder turns filters and scope into a Query
type QueryBuilder struct {
	Table string
	Embed string
}

// NewQueryBuilder returns a builder for the tasks table with embedded task_actions
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{Table: "tasks", Embed: "task_actions"}
}

// BuildQuery builds the query for a tenant, or across tenants when superAdmin is set
func (b *QueryBuilder) BuildQuery(tenantID string, superAdmin bool, filters models.TaskFilters) Query {
	q := Query{
		Table:      b.Table,
		Embed:      b.Embed,
		AllTenants: superAdmin,
		OrderBy:    []Order{{Field: FieldCreatedAt, Desc: true}},
	}
	if !superAdmin {
		q.TenantID = tenantID
	}

	eq := func(field Field, value string) {
		if value != "" {
			q.Conditions = append(q.Conditions, Condition{Field: field, Op: OpEq, Value: value})
		}
	}
	eq(FieldStatus, string(filters.Status))
	eq(FieldPriority, string(filters.Priority))
	eq(FieldAssigneeID, filters.AssigneeID)
	eq(FieldProjectID, filters.ProjectID)

	dateField := FieldDueDate
	if filters.EffectiveDateField() == models.DateFieldStart {
		dateField = FieldStartDate
	}
	if filters.DateFrom != "" {
		q.Conditions = append(q.Conditions, Condition{Field: dateField, Op: OpGte, Value: filters.DateFrom})
	}
	if filters.DateTo != "" {
		q.Conditions = append(q.Conditions, Condition{Field: dateField, Op: OpLte, Value: filters.DateTo})
	}

	if search := strings.TrimSpace(filters.Search); search != "" {
		q.Conditions = append(q.Conditions, Condition{Field: FieldText, Op: OpSearch, Value: search})
	}
	return q
}

// Complexity scores a query for telemetry. It never affects the query itself.
func (b *QueryBuilder) Complexity(filters models.TaskFilters, superAdmin bool) int {
	score := 1
	for _, v := range []string{string(filters.Status), string(filters.Priority), filters.AssigneeID, filters.ProjectID} {
		if v != "" {
			score++
		}
	}
	if filters.HasDateRange() {
		score++
	}
	if strings.TrimSpace(filters.Search) != "" {
		score += 2
	}
	if superAdmin {
		score += 3
	}
	return score
}
