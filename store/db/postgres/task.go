package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hrygo/dayflow/store"
)

func (d *DB) CreateTask(ctx context.Context, create *store.Task) (*store.Task, error) {
	fields := []string{
		"uid", "creator_id", "created_ts", "updated_ts", "title", "category",
		"date", "status", "priority", "estimated_minutes", "scheduled_start_ts",
	}
	var scheduled sql.NullInt64
	if create.ScheduledStartTs != nil {
		scheduled = sql.NullInt64{Int64: *create.ScheduledStartTs, Valid: true}
	}
	args := []any{
		create.UID, create.CreatorID, create.CreatedTs, create.UpdatedTs, create.Title, create.Category,
		create.Date, string(create.Status), create.Priority, create.EstimatedMinutes, scheduled,
	}

	stmt := `INSERT INTO task (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return create, nil
}

func (d *DB) ListTasks(ctx context.Context, find *store.FindTask) ([]*store.Task, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.UID; v != nil {
		where, args = append(where, "task.uid = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.CreatorID; v != nil {
		where, args = append(where, "task.creator_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Date; v != nil {
		where, args = append(where, "task.date = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Category; v != nil {
		where, args = append(where, "task.category = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.Status; v != nil {
		where, args = append(where, "task.status = "+placeholder(len(args)+1)), append(args, string(*v))
	}

	query := `
		SELECT
			id, uid, creator_id, created_ts, updated_ts, title, category,
			date, status, priority, estimated_minutes, scheduled_start_ts
		FROM task
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY task.id ASC`
	if find.Limit != nil {
		query = fmt.Sprintf("%s LIMIT %d", query, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	list := make([]*store.Task, 0)
	for rows.Next() {
		var task store.Task
		var status string
		var scheduled sql.NullInt64
		if err := rows.Scan(
			&task.ID,
			&task.UID,
			&task.CreatorID,
			&task.CreatedTs,
			&task.UpdatedTs,
			&task.Title,
			&task.Category,
			&task.Date,
			&status,
			&task.Priority,
			&task.EstimatedMinutes,
			&scheduled,
		); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		task.Status = store.TaskStatus(status)
		if scheduled.Valid {
			task.ScheduledStartTs = &scheduled.Int64
		}
		list = append(list, &task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (d *DB) UpdateTask(ctx context.Context, update *store.UpdateTask) error {
	set, args := []string{}, []any{}

	if v := update.UpdatedTs; v != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Title; v != nil {
		set, args = append(set, "title = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Category; v != nil {
		set, args = append(set, "category = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Date; v != nil {
		set, args = append(set, "date = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Status; v != nil {
		set, args = append(set, "status = "+placeholder(len(args)+1)), append(args, string(*v))
	}
	if v := update.Priority; v != nil {
		set, args = append(set, "priority = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.EstimatedMinutes; v != nil {
		set, args = append(set, "estimated_minutes = "+placeholder(len(args)+1)), append(args, *v)
	}
	if update.ClearScheduledStart {
		set = append(set, "scheduled_start_ts = NULL")
	} else if v := update.ScheduledStartTs; v != nil {
		set, args = append(set, "scheduled_start_ts = "+placeholder(len(args)+1)), append(args, *v)
	}
	if len(set) == 0 {
		return nil
	}

	args = append(args, update.UID)
	stmt := `UPDATE task SET ` + strings.Join(set, ", ") + ` WHERE uid = ` + placeholder(len(args))
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}

func (d *DB) DeleteTask(ctx context.Context, delete *store.DeleteTask) error {
	stmt := `DELETE FROM task WHERE uid = ` + placeholder(1)
	if _, err := d.db.ExecContext(ctx, stmt, delete.UID); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}
