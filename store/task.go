package store

import (
	"context"
	"time"

	"github.com/pkg/errors"

	apperrors "github.com/hrygo/dayflow/internal/errors"
)

// TaskStatus is the lifecycle status of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusOther     TaskStatus = "other"
)

// DateLayout is the layout of Task.Date.
const DateLayout = "2006-01-02"

// Task is the object representing a task.
type Task struct {
	ID        int32
	UID       string
	CreatorID int32
	CreatedTs int64
	UpdatedTs int64

	Title    string
	Category string
	// Date is the calendar day the task belongs to, formatted with DateLayout.
	Date   string
	Status TaskStatus
	// Priority is an ordinal from 1 (lowest) to 5 (highest).
	Priority int
	// EstimatedMinutes is the expected duration; 0 means unknown.
	EstimatedMinutes int
	ScheduledStartTs *int64
}

// IsCompleted reports whether the task is done.
func (t *Task) IsCompleted() bool {
	return t.Status == TaskStatusCompleted
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.ScheduledStartTs != nil {
		ts := *t.ScheduledStartTs
		c.ScheduledStartTs = &ts
	}
	return &c
}

// Validate checks the fields every stored task must satisfy.
func (t *Task) Validate() error {
	if t.Title == "" {
		return apperrors.InvalidArgument("task title is required")
	}
	if t.Priority < 1 || t.Priority > 5 {
		return apperrors.InvalidArgument("task priority must be between 1 and 5")
	}
	switch t.Status {
	case TaskStatusPending, TaskStatusCompleted, TaskStatusOther:
	default:
		return apperrors.InvalidArgument("unknown task status " + string(t.Status))
	}
	if _, err := time.Parse(DateLayout, t.Date); err != nil {
		return apperrors.InvalidArgument("task date must be formatted as YYYY-MM-DD")
	}
	if t.EstimatedMinutes < 0 {
		return apperrors.InvalidArgument("estimated minutes cannot be negative")
	}
	return nil
}

// FindTask is the find condition for task.
type FindTask struct {
	UID       *string
	CreatorID *int32
	Date      *string
	Category  *string
	Status    *TaskStatus

	Limit *int
}

// UpdateTask is the update request for task.
type UpdateTask struct {
	UID              string
	UpdatedTs        *int64
	Title            *string
	Category         *string
	Date             *string
	Status           *TaskStatus
	Priority         *int
	EstimatedMinutes *int
	ScheduledStartTs *int64
	// ClearScheduledStart removes the scheduled start time.
	ClearScheduledStart bool
}

// IsEmpty reports whether the update changes nothing.
func (u *UpdateTask) IsEmpty() bool {
	return u.Title == nil && u.Category == nil && u.Date == nil && u.Status == nil &&
		u.Priority == nil && u.EstimatedMinutes == nil && u.ScheduledStartTs == nil && !u.ClearScheduledStart
}

// Apply returns a copy of task with the update applied.
func (u *UpdateTask) Apply(task *Task) *Task {
	t := task.Clone()
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Category != nil {
		t.Category = *u.Category
	}
	if u.Date != nil {
		t.Date = *u.Date
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.EstimatedMinutes != nil {
		t.EstimatedMinutes = *u.EstimatedMinutes
	}
	if u.ScheduledStartTs != nil {
		ts := *u.ScheduledStartTs
		t.ScheduledStartTs = &ts
	}
	if u.ClearScheduledStart {
		t.ScheduledStartTs = nil
	}
	if u.UpdatedTs != nil {
		t.UpdatedTs = *u.UpdatedTs
	}
	return t
}

// DeleteTask is the delete request for task.
type DeleteTask struct {
	UID string
}

// CreateTask validates and persists a new task.
func (s *Store) CreateTask(ctx context.Context, create *Task) (*Task, error) {
	if create.Status == "" {
		create.Status = TaskStatusPending
	}
	if err := create.Validate(); err != nil {
		return nil, err
	}
	now := s.now().Unix()
	if create.CreatedTs == 0 {
		create.CreatedTs = now
	}
	if create.UpdatedTs == 0 {
		create.UpdatedTs = now
	}
	return s.driver.CreateTask(ctx, create)
}

// ListTasks lists tasks with filter.
func (s *Store) ListTasks(ctx context.Context, find *FindTask) ([]*Task, error) {
	return s.driver.ListTasks(ctx, find)
}

// GetTask returns the task with the given uid, or a NotFound error.
func (s *Store) GetTask(ctx context.Context, uid string) (*Task, error) {
	list, err := s.driver.ListTasks(ctx, &FindTask{UID: &uid})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, apperrors.NotFound("task " + uid)
	}
	return list[0], nil
}

// FetchTasksForDate returns every task of creatorID scheduled on date.
func (s *Store) FetchTasksForDate(ctx context.Context, creatorID int32, date string) ([]*Task, error) {
	return s.driver.ListTasks(ctx, &FindTask{CreatorID: &creatorID, Date: &date})
}

// FetchTasksForCategory returns every task of creatorID in category.
func (s *Store) FetchTasksForCategory(ctx context.Context, creatorID int32, category string) ([]*Task, error) {
	return s.driver.ListTasks(ctx, &FindTask{CreatorID: &creatorID, Category: &category})
}

// UpdateTask applies update to an existing task and returns the stored result.
func (s *Store) UpdateTask(ctx context.Context, update *UpdateTask) (*Task, error) {
	current, err := s.GetTask(ctx, update.UID)
	if err != nil {
		return nil, err
	}
	now := s.now().Unix()
	// updated_ts must advance so fingerprints observe the change.
	if now <= current.UpdatedTs {
		now = current.UpdatedTs + 1
	}
	update.UpdatedTs = &now
	if err := update.Apply(current).Validate(); err != nil {
		return nil, err
	}
	if err := s.driver.UpdateTask(ctx, update); err != nil {
		return nil, errors.Wrapf(err, "failed to update task %s", update.UID)
	}
	return s.GetTask(ctx, update.UID)
}

// DeleteTask removes a task. Deleting an unknown uid returns NotFound.
func (s *Store) DeleteTask(ctx context.Context, delete *DeleteTask) error {
	if _, err := s.GetTask(ctx, delete.UID); err != nil {
		return err
	}
	return s.driver.DeleteTask(ctx, delete)
}
