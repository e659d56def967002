package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "github.com/hrygo/dayflow/internal/errors"
	"github.com/hrygo/dayflow/server/auth"
	"github.com/hrygo/dayflow/server/service/taskcache"
	"github.com/hrygo/dayflow/store"
)

// Task is the API representation of a task.
type Task struct {
	UID              string `json:"uid"`
	Title            string `json:"title"`
	Category         string `json:"category,omitempty"`
	Date             string `json:"date"`
	Status           string `json:"status"`
	Priority         int    `json:"priority"`
	EstimatedMinutes int    `json:"estimatedMinutes,omitempty"`
	ScheduledStartTs *int64 `json:"scheduledStartTs,omitempty"`
	CreatedTs        int64  `json:"createdTs"`
	UpdatedTs        int64  `json:"updatedTs"`
}

func convertTaskFromStore(t *store.Task) *Task {
	return &Task{
		UID:              t.UID,
		Title:            t.Title,
		Category:         t.Category,
		Date:             t.Date,
		Status:           string(t.Status),
		Priority:         t.Priority,
		EstimatedMinutes: t.EstimatedMinutes,
		ScheduledStartTs: t.ScheduledStartTs,
		CreatedTs:        t.CreatedTs,
		UpdatedTs:        t.UpdatedTs,
	}
}

func convertTasksFromStore(tasks []*store.Task) []*Task {
	out := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, convertTaskFromStore(t))
	}
	return out
}

// ListTasksResponse is the answer of GET /tasks.
type ListTasksResponse struct {
	Partition taskcache.Partition `json:"partition"`
	Tasks     []*Task             `json:"tasks"`
}

// CreateTaskRequest is the body of POST /tasks.
type CreateTaskRequest struct {
	Title            string `json:"title" validate:"required,max=256"`
	Category         string `json:"category" validate:"max=64"`
	Date             string `json:"date" validate:"required,datetime=2006-01-02"`
	Status           string `json:"status" validate:"omitempty,oneof=pending completed other"`
	Priority         int    `json:"priority" validate:"required,min=1,max=5"`
	EstimatedMinutes int    `json:"estimatedMinutes" validate:"min=0,max=1440"`
	ScheduledStartTs *int64 `json:"scheduledStartTs"`
}

// UpdateTaskRequest is the body of PATCH /tasks/:uid. Absent fields are kept.
type UpdateTaskRequest struct {
	Title               *string `json:"title" validate:"omitempty,min=1,max=256"`
	Category            *string `json:"category" validate:"omitempty,max=64"`
	Date                *string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Status              *string `json:"status" validate:"omitempty,oneof=pending completed other"`
	Priority            *int    `json:"priority" validate:"omitempty,min=1,max=5"`
	EstimatedMinutes    *int    `json:"estimatedMinutes" validate:"omitempty,min=0,max=1440"`
	ScheduledStartTs    *int64  `json:"scheduledStartTs"`
	ClearScheduledStart bool    `json:"clearScheduledStart"`
}

func (r *UpdateTaskRequest) toStore(uid string) *store.UpdateTask {
	update := &store.UpdateTask{
		UID:                 uid,
		Title:               r.Title,
		Category:            r.Category,
		Date:                r.Date,
		Priority:            r.Priority,
		EstimatedMinutes:    r.EstimatedMinutes,
		ScheduledStartTs:    r.ScheduledStartTs,
		ClearScheduledStart: r.ClearScheduledStart,
	}
	if r.Status != nil {
		status := store.TaskStatus(*r.Status)
		update.Status = &status
	}
	return update
}

// ListTasks serves one cached partition.
// GET /api/v1/tasks?date=YYYY-MM-DD | ?category=ID
func (s *APIV1Service) ListTasks(c echo.Context) error {
	userID, _ := auth.UserIDFromContext(c.Request().Context())
	partition, err := partitionFromQuery(c, userID)
	if err != nil {
		return s.respondError(c, err)
	}
	tasks, err := s.Tasks.Get(c.Request().Context(), partition)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, ListTasksResponse{Partition: partition, Tasks: convertTasksFromStore(tasks)})
}

func partitionFromQuery(c echo.Context, userID int32) (taskcache.Partition, error) {
	date, category := c.QueryParam("date"), c.QueryParam("category")
	switch {
	case date != "" && category != "":
		return taskcache.Partition{}, apperrors.InvalidArgument("pass either date or category, not both")
	case date != "":
		return taskcache.ForDate(userID, date), nil
	case category != "":
		return taskcache.ForCategory(userID, category), nil
	default:
		return taskcache.Partition{}, apperrors.InvalidArgument("date or category is required")
	}
}

// CreateTask creates a task and patches the cached partitions it joins.
// POST /api/v1/tasks
func (s *APIV1Service) CreateTask(c echo.Context) error {
	var req CreateTaskRequest
	if err := s.bind(c, &req); err != nil {
		return s.respondError(c, err)
	}
	userID, _ := auth.UserIDFromContext(c.Request().Context())
	task, err := s.Tasks.RecordCreated(c.Request().Context(), &store.Task{
		CreatorID:        userID,
		Title:            req.Title,
		Category:         req.Category,
		Date:             req.Date,
		Status:           store.TaskStatus(req.Status),
		Priority:         req.Priority,
		EstimatedMinutes: req.EstimatedMinutes,
		ScheduledStartTs: req.ScheduledStartTs,
	})
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, convertTaskFromStore(task))
}

// UpdateTask patches a task.
// PATCH /api/v1/tasks/:uid
func (s *APIV1Service) UpdateTask(c echo.Context) error {
	var req UpdateTaskRequest
	if err := s.bind(c, &req); err != nil {
		return s.respondError(c, err)
	}
	update := req.toStore(c.Param("uid"))
	if update.IsEmpty() {
		return s.respondError(c, apperrors.InvalidArgument("update changes nothing"))
	}
	userID, _ := auth.UserIDFromContext(c.Request().Context())
	task, err := s.Tasks.RecordUpdated(c.Request().Context(), userID, update)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, convertTaskFromStore(task))
}

// DeleteTask deletes a task.
// DELETE /api/v1/tasks/:uid
func (s *APIV1Service) DeleteTask(c echo.Context) error {
	userID, _ := auth.UserIDFromContext(c.Request().Context())
	if err := s.Tasks.RecordDeleted(c.Request().Context(), userID, c.Param("uid")); err != nil {
		return s.respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
