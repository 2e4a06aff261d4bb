package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"taskhub/internal/database"
	"taskhub/internal/models"
	"taskhub/internal/taskview"
)

// MongoTaskStore keeps each task as one document with its actions embedded
type MongoTaskStore struct {
	collection *mongo.Collection
}

// NewMongoTaskStore creates a new task store
func NewMongoTaskStore(mongodb *database.MongoDB) *MongoTaskStore {
	return &MongoTaskStore{
		collection: mongodb.Collection(database.CollectionTasks),
	}
}

var mongoFields = map[taskview.Field]string{
	taskview.FieldStatus:     "status",
	taskview.FieldPriority:   "priority",
	taskview.FieldAssigneeID: "assigneeId",
	taskview.FieldProjectID:  "projectId",
	taskview.FieldDueDate:    "dueDate",
	taskview.FieldStartDate:  "startDate",
	taskview.FieldTenantID:   "tenantId",
	taskview.FieldCreatedAt:  "createdAt",
}

// compileMongoFilter turns a Query into one filter document. Date bounds are
// whole days: lte includes the entire end day.
func compileMongoFilter(q taskview.Query) (bson.M, error) {
	filter := bson.M{}
	if !q.AllTenants {
		if q.TenantID == "" {
			return nil, fmt.Errorf("%w: tenant scope required", models.ErrValidation)
		}
		filter["tenantId"] = q.TenantID
	}

	for _, c := range q.Conditions {
		if c.Op == taskview.OpSearch {
			pattern := bson.M{"$regex": regexp.QuoteMeta(c.Value), "$options": "i"}
			filter["$or"] = bson.A{
				bson.M{"title": pattern},
				bson.M{"description": pattern},
			}
			continue
		}

		key, ok := mongoFields[c.Field]
		if !ok {
			return nil, fmt.Errorf("%w: unsupported filter field %q", models.ErrValidation, c.Field)
		}

		switch c.Op {
		case taskview.OpEq:
			filter[key] = c.Value
		case taskview.OpGte, taskview.OpLte:
			day, err := time.Parse(models.DateLayout, c.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid date %q", models.ErrValidation, c.Value)
			}
			bounds, _ := filter[key].(bson.M)
			if bounds == nil {
				bounds = bson.M{}
			}
			if c.Op == taskview.OpGte {
				bounds["$gte"] = day
			} else {
				bounds["$lt"] = day.AddDate(0, 0, 1)
			}
			filter[key] = bounds
		default:
			return nil, fmt.Errorf("%w: unsupported operator %q", models.ErrValidation, c.Op)
		}
	}
	return filter, nil
}

func compileMongoSort(orders []taskview.Order) (bson.D, error) {
	sortDoc := bson.D{}
	for _, o := range orders {
		key, ok := mongoFields[o.Field]
		if !ok {
			return nil, fmt.Errorf("%w: unsupported order field %q", models.ErrValidation, o.Field)
		}
		dir := 1
		if o.Desc {
			dir = -1
		}
		sortDoc = append(sortDoc, bson.E{Key: key, Value: dir})
	}
	return append(sortDoc, bson.E{Key: "_id", Value: 1}), nil
}

// FetchTasks runs the query as a single find
func (s *MongoTaskStore) FetchTasks(ctx context.Context, q taskview.Query) ([]models.Task, error) {
	filter, err := compileMongoFilter(q)
	if err != nil {
		return nil, err
	}
	sortDoc, err := compileMongoSort(q.OrderBy)
	if err != nil {
		return nil, err
	}

	cursor, err := s.collection.Find(ctx, filter, options.Find().SetSort(sortDoc))
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer cursor.Close(ctx)

	var tasks []models.Task
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode tasks: %w", err)
	}
	for i := range tasks {
		linkActions(&tasks[i])
	}
	return tasks, nil
}

// linkActions fills the fields that embedded actions do not store
func linkActions(task *models.Task) {
	if task.Actions == nil {
		task.Actions = []models.TaskAction{}
	}
	for i := range task.Actions {
		task.Actions[i].TaskID = task.ID
		task.Actions[i].TenantID = task.TenantID
	}
	sort.SliceStable(task.Actions, func(i, j int) bool {
		return task.Actions[i].Position < task.Actions[j].Position
	})
}

// GetTask retrieves a task by ID
func (s *MongoTaskStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&task)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	linkActions(&task)
	return &task, nil
}

// InsertTask inserts the task document without actions
func (s *MongoTaskStore) InsertTask(ctx context.Context, task *models.Task) error {
	doc := *task
	doc.Actions = []models.TaskAction{}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// UpdateTask applies the non-nil fields of update
func (s *MongoTaskStore) UpdateTask(ctx context.Context, id string, update models.TaskUpdate, at time.Time) error {
	set := bson.M{"updatedAt": at}
	if update.Title != nil {
		set["title"] = *update.Title
	}
	if update.Description != nil {
		set["description"] = *update.Description
	}
	if update.Status != nil {
		set["status"] = *update.Status
	}
	if update.Priority != nil {
		set["priority"] = *update.Priority
	}
	if update.StartDate != nil {
		set["startDate"] = *update.StartDate
	}
	if update.DueDate != nil {
		set["dueDate"] = *update.DueDate
	}
	if update.Progress != nil {
		set["progress"] = *update.Progress
	}
	if update.AssigneeID != nil {
		set["assigneeId"] = *update.AssigneeID
	}
	if update.AssignedName != nil {
		set["assignedName"] = *update.AssignedName
	}
	if update.ProjectName != nil {
		set["projectName"] = *update.ProjectName
	}
	if update.DepartmentName != nil {
		set["departmentName"] = *update.DepartmentName
	}
	if update.EffortEstimateHours != nil {
		set["effortEstimateH"] = *update.EffortEstimateHours
	}
	if update.DisplayOrder != nil {
		set["displayOrder"] = *update.DisplayOrder
	}

	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if result.MatchedCount == 0 {
		return models.ErrTaskNotFound
	}
	return nil
}

// DeleteTask deletes the task document, embedded actions included
func (s *MongoTaskStore) DeleteTask(ctx context.Context, id string) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if result.DeletedCount == 0 {
		return models.ErrTaskNotFound
	}
	return nil
}

// InsertActions appends actions to their task documents
func (s *MongoTaskStore) InsertActions(ctx context.Context, actions []models.TaskAction) error {
	byTask := make(map[string]bson.A)
	var order []string
	for _, a := range actions {
		if _, ok := byTask[a.TaskID]; !ok {
			order = append(order, a.TaskID)
		}
		byTask[a.TaskID] = append(byTask[a.TaskID], a)
	}

	for _, taskID := range order {
		result, err := s.collection.UpdateOne(ctx, bson.M{"_id": taskID},
			bson.M{"$push": bson.M{"actions": bson.M{"$each": byTask[taskID]}}})
		if err != nil {
			return fmt.Errorf("failed to insert actions: %w", err)
		}
		if result.MatchedCount == 0 {
			return models.ErrTaskNotFound
		}
	}
	return nil
}

// GetAction finds an action inside its task document
func (s *MongoTaskStore) GetAction(ctx context.Context, id string) (*models.TaskAction, error) {
	var task models.Task
	err := s.collection.FindOne(ctx, bson.M{"actions.id": id}).Decode(&task)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrActionNotFound
		}
		return nil, fmt.Errorf("failed to get action: %w", err)
	}
	linkActions(&task)
	for i := range task.Actions {
		if task.Actions[i].ID == id {
			return &task.Actions[i], nil
		}
	}
	return nil, models.ErrActionNotFound
}

// SetActionDone sets isDone on the matching embedded action
func (s *MongoTaskStore) SetActionDone(ctx context.Context, id string, done bool) error {
	result, err := s.collection.UpdateOne(ctx,
		bson.M{"actions.id": id},
		bson.M{"$set": bson.M{"actions.$.isDone": done}})
	if err != nil {
		return fmt.Errorf("failed to update action: %w", err)
	}
	if result.MatchedCount == 0 {
		return models.ErrActionNotFound
	}
	return nil
}

// DistributeEqualWeights rewrites the weight of every embedded action
func (s *MongoTaskStore) DistributeEqualWeights(ctx context.Context, taskID string) error {
	var task models.Task
	if err := s.collection.FindOne(ctx, bson.M{"_id": taskID}).Decode(&task); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.ErrTaskNotFound
		}
		return fmt.Errorf("failed to get task: %w", err)
	}
	if len(task.Actions) == 0 {
		return nil
	}

	// stored array indexes, ordered by position
	stored := make([]int, len(task.Actions))
	for i := range stored {
		stored[i] = i
	}
	sort.SliceStable(stored, func(i, j int) bool {
		return task.Actions[stored[i]].Position < task.Actions[stored[j]].Position
	})

	set := bson.M{}
	for i, w := range equalWeights(len(stored)) {
		set[fmt.Sprintf("actions.%d.weightPercentage", stored[i])] = w
	}
	if _, err := s.collection.UpdateOne(ctx, bson.M{"_id": taskID}, bson.M{"$set": set}); err != nil {
		return fmt.Errorf("failed to update action weights: %w", err)
	}
	return nil
}

// NextDisplayOrder returns After(max sibling key)
func (s *MongoTaskStore) NextDisplayOrder(ctx context.Context, parentID, tenantID string) (models.DisplayOrder, error) {
	filter := bson.M{"parentId": parentID}
	if parentID == "" {
		filter = bson.M{"parentId": bson.M{"$in": bson.A{nil, ""}}, "tenantId": tenantID}
	}

	cursor, err := s.collection.Find(ctx, filter, options.Find().SetProjection(bson.M{"displayOrder": 1}))
	if err != nil {
		return "", fmt.Errorf("failed to list display orders: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		DisplayOrder models.DisplayOrder `bson:"displayOrder"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return "", fmt.Errorf("failed to decode display orders: %w", err)
	}

	keys := make([]models.DisplayOrder, 0, len(docs))
	for _, d := range docs {
		keys = append(keys, d.DisplayOrder)
	}
	last := models.MaxDisplayOrder(keys...)
	if last == "" {
		return models.FirstDisplayOrder(), nil
	}
	return models.After(last), nil
}
