package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// InsertHealthMetric records one structured measurement.
func (db *DB) InsertHealthMetric(ctx context.Context, metric *HealthMetric) error {
	if metric.ID == "" {
		metric.ID = uuid.NewString()
	}
	if metric.Timestamp == 0 {
		metric.Timestamp = now()
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO health_metrics (id, metric_type, value, unit, notes, timestamp, session_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		metric.ID, metric.MetricType, metric.Value, metric.Unit,
		metric.Notes, metric.Timestamp, metric.SessionID,
	)
	if err != nil {
		return fmt.Errorf("insert health metric: %w", err)
	}
	return nil
}

// ListHealthMetrics returns measurements newest first, optionally filtered by
// metric type.
func (db *DB) ListHealthMetrics(ctx context.Context, metricType string, limit int) ([]*HealthMetric, error) {
	if limit <= 0 {
		limit = 30
	}
	var (
		rows *sql.Rows
		err  error
	)
	if metricType != "" {
		rows, err = db.conn.QueryContext(ctx,
			`SELECT id, metric_type, value, unit, notes, timestamp, session_id
			 FROM health_metrics WHERE metric_type = ? ORDER BY timestamp DESC LIMIT ?`,
			metricType, limit)
	} else {
		rows, err = db.conn.QueryContext(ctx,
			`SELECT id, metric_type, value, unit, notes, timestamp, session_id
			 FROM health_metrics ORDER BY timestamp DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list health metrics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var metrics []*HealthMetric
	for rows.Next() {
		var m HealthMetric
		var sessionID sql.NullString
		err := rows.Scan(&m.ID, &m.MetricType, &m.Value, &m.Unit, &m.Notes, &m.Timestamp, &sessionID)
		if err != nil {
			return nil, fmt.Errorf("scan health metric: %w", err)
		}
		m.SessionID = sessionID.String
		metrics = append(metrics, &m)
	}
	return metrics, rows.Err()
}

// CreateTask inserts a new task row.
func (db *DB) CreateTask(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Priority == "" {
		task.Priority = PriorityNormal
	}
	if task.Status == "" {
		task.Status = TaskStatusPending
	}
	if task.Tags == "" {
		task.Tags = "[]"
	}
	ts := now()
	task.CreatedAt = ts
	task.UpdatedAt = ts
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO tasks (id, title, description, priority, status, due_date, tags,
		 created_at, updated_at, session_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Title, task.Description, task.Priority, task.Status,
		task.DueDate, task.Tags, task.CreatedAt, task.UpdatedAt, task.SessionID,
	)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// UpdateTaskStatus moves a task between statuses, stamping completion.
func (db *DB) UpdateTaskStatus(ctx context.Context, id, status string) error {
	ts := now()
	var completedAt any
	if status == TaskStatusDone {
		completedAt = ts
	}
	result, err := db.conn.ExecContext(ctx,
		"UPDATE tasks SET status = ?, updated_at = ?, completed_at = ? WHERE id = ?",
		status, ts, completedAt, id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s not found", id)
	}
	return nil
}

// ListTasks returns tasks filtered by status ("" for all), urgent first.
func (db *DB) ListTasks(ctx context.Context, status string, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 50
	}
	order := `ORDER BY CASE priority
		WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END,
		created_at DESC`
	var (
		rows *sql.Rows
		err  error
	)
	if status != "" {
		rows, err = db.conn.QueryContext(ctx,
			`SELECT id, title, description, priority, status, due_date, tags,
			 created_at, updated_at, completed_at, session_id
			 FROM tasks WHERE status = ? `+order+` LIMIT ?`, status, limit)
	} else {
		rows, err = db.conn.QueryContext(ctx,
			`SELECT id, title, description, priority, status, due_date, tags,
			 created_at, updated_at, completed_at, session_id
			 FROM tasks `+order+` LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*Task
	for rows.Next() {
		var task Task
		var dueDate, sessionID sql.NullString
		var completedAt sql.NullFloat64
		err := rows.Scan(&task.ID, &task.Title, &task.Description, &task.Priority,
			&task.Status, &dueDate, &task.Tags, &task.CreatedAt, &task.UpdatedAt,
			&completedAt, &sessionID)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		task.DueDate = dueDate.String
		task.CompletedAt = completedAt.Float64
		task.SessionID = sessionID.String
		tasks = append(tasks, &task)
	}
	return tasks, rows.Err()
}
