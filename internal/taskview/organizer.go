package taskview

import (
	"math/big"
	"sort"
	"time"

	"taskhub/internal/models"
)

// Organize flattens a one-level hierarchy: each root in display order,
// immediately followed by its children in display order. Children whose
// parent is not a root of items are dropped.
func Organize(items []models.Task) []models.Task {
	organized, _ := OrganizeWithOrphans(items)
	return organized
}

// OrganizeWithOrphans is Organize that also returns the dropped children
func OrganizeWithOrphans(items []models.Task) ([]models.Task, []models.Task) {
	var roots []models.Task
	childrenByParent := make(map[string][]models.Task)
	for _, item := range items {
		if item.IsRoot() {
			roots = append(roots, item)
			continue
		}
		childrenByParent[item.ParentID] = append(childrenByParent[item.ParentID], item)
	}

	sortByDisplayOrder(roots)

	organized := make([]models.Task, 0, len(items))
	claimed := make(map[string]bool, len(roots))
	for _, root := range roots {
		children := childrenByParent[root.ID]
		claimed[root.ID] = true
		sortByDisplayOrder(children)

		for i := range children {
			children[i].IsSubtask = true
			children[i].Subtasks = nil
		}

		root.IsSubtask = false
		root.Subtasks = children
		organized = append(organized, root)
		organized = append(organized, children...)
	}

	var orphans []models.Task
	for _, item := range items {
		if !item.IsRoot() && !claimed[item.ParentID] {
			orphans = append(orphans, item)
		}
	}
	return organized, orphans
}

type orderedTask struct {
	task models.Task
	key  *big.Rat
}

// sortByDisplayOrder parses every key once, then sorts stably
func sortByDisplayOrder(tasks []models.Task) {
	decorated := make([]orderedTask, len(tasks))
	for i, task := range tasks {
		key, _ := task.DisplayOrder.Rat()
		decorated[i] = orderedTask{task: task, key: key}
	}
	sort.SliceStable(decorated, func(i, j int) bool {
		return models.CompareParsedOrder(decorated[i].key, decorated[j].key) < 0
	})
	for i := range decorated {
		tasks[i] = decorated[i].task
	}
}

// Aggregate counts the flat, unorganized list
func Aggregate(items []models.Task, now time.Time) models.TaskStats {
	stats := models.TaskStats{Total: len(items)}
	for i := range items {
		if items[i].Status == models.TaskStatusDone {
			stats.Completed++
		} else {
			stats.Active++
		}
		if items[i].IsOverdue(now) {
			stats.Overdue++
		}
	}
	return stats
}
