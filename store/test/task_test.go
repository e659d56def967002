package test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/hrygo/dayflow/internal/errors"
	"github.com/hrygo/dayflow/store"
)

func newTask(uid, date, category string, priority int) *store.Task {
	return &store.Task{
		UID:              uid,
		CreatorID:        1,
		Title:            "task " + uid,
		Category:         category,
		Date:             date,
		Priority:         priority,
		EstimatedMinutes: 20,
	}
}

func TestTaskStore(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	created, err := ts.CreateTask(ctx, newTask("t1", "2024-06-01", "work", 5))
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, store.TaskStatusPending, created.Status)
	assert.NotZero(t, created.UpdatedTs)

	start := int64(1717236000)
	second := newTask("t2", "2024-06-01", "home", 2)
	second.ScheduledStartTs = &start
	_, err = ts.CreateTask(ctx, second)
	require.NoError(t, err)
	_, err = ts.CreateTask(ctx, newTask("t3", "2024-06-02", "work", 3))
	require.NoError(t, err)
	foreign := newTask("t4", "2024-06-01", "work", 4)
	foreign.CreatorID = 2
	_, err = ts.CreateTask(ctx, foreign)
	require.NoError(t, err)

	byDate, err := ts.FetchTasksForDate(ctx, 1, "2024-06-01")
	require.NoError(t, err)
	require.Len(t, byDate, 2)
	assert.Equal(t, "t1", byDate[0].UID)
	require.NotNil(t, byDate[1].ScheduledStartTs)
	assert.Equal(t, start, *byDate[1].ScheduledStartTs)

	byCategory, err := ts.FetchTasksForCategory(ctx, 1, "work")
	require.NoError(t, err)
	assert.Len(t, byCategory, 2)

	byCategory, err = ts.FetchTasksForCategory(ctx, 2, "work")
	require.NoError(t, err)
	require.Len(t, byCategory, 1)
	assert.Equal(t, "t4", byCategory[0].UID)

	completed := store.TaskStatusCompleted
	updated, err := ts.UpdateTask(ctx, &store.UpdateTask{UID: "t1", Status: &completed})
	require.NoError(t, err)
	assert.True(t, updated.IsCompleted())
	assert.Greater(t, updated.UpdatedTs, created.UpdatedTs)

	updated, err = ts.UpdateTask(ctx, &store.UpdateTask{UID: "t2", ClearScheduledStart: true})
	require.NoError(t, err)
	assert.Nil(t, updated.ScheduledStartTs)

	require.NoError(t, ts.DeleteTask(ctx, &store.DeleteTask{UID: "t3"}))
	_, err = ts.GetTask(ctx, "t3")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	err = ts.DeleteTask(ctx, &store.DeleteTask{UID: "missing"})
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestTaskStore_Validation(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)

	_, err := ts.CreateTask(ctx, newTask("bad-priority", "2024-06-01", "work", 9))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidArgument))

	_, err = ts.CreateTask(ctx, newTask("bad-date", "06/01/2024", "work", 3))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidArgument))

	_, err = ts.CreateTask(ctx, newTask("ok", "2024-06-01", "work", 3))
	require.NoError(t, err)
	priority := 0
	_, err = ts.UpdateTask(ctx, &store.UpdateTask{UID: "ok", Priority: &priority})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidArgument))
}
