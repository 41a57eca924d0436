package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TWRT/taskboard/internal/models"
)

// TaskRepository is the per-user task document store. Records are addressed
// by (uid, id).
type TaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `id, title, description, category, status, due_date, image_urls, created_at, updated_at`

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Insert stores a new task. An existing (uid, id) yields ErrDuplicate and
// leaves the stored record untouched.
func (r *TaskRepository) Insert(ctx context.Context, uid string, task models.Task) error {
	query := `
	INSERT INTO tasks (uid, id, title, description, category, status, due_date, image_urls, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query, append([]any{uid, task.ID}, taskValues(task)...)...)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("task %s: %w", task.ID, ErrDuplicate)
		}
		return fmt.Errorf("insert task %s: %w", task.ID, err)
	}
	return nil
}

// Update reads the task, passes it to fn and writes back what fn returns,
// all in one transaction. Concurrent updates of the same task are applied
// one after the other. An error from fn rolls back and is returned as is.
func (r *TaskRepository) Update(ctx context.Context, uid, id string, fn func(models.Task) (models.Task, error)) (models.Task, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Task{}, fmt.Errorf("begin update task %s: %w", id, err)
	}
	defer tx.Rollback()

	current, err := getTask(ctx, tx, uid, id)
	if err != nil {
		return models.Task{}, err
	}
	updated, err := fn(current)
	if err != nil {
		return models.Task{}, err
	}
	updated.ID = current.ID

	_, err = tx.ExecContext(ctx, `
	UPDATE tasks SET
		title = ?, description = ?, category = ?, status = ?,
		due_date = ?, image_urls = ?, created_at = ?, updated_at = ?
	WHERE uid = ? AND id = ?`,
		append(taskValues(updated), uid, id)...)
	if err != nil {
		return models.Task{}, fmt.Errorf("update task %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return models.Task{}, fmt.Errorf("commit update task %s: %w", id, err)
	}
	return updated, nil
}

// taskValues lists every column after uid and id, in table order.
func taskValues(task models.Task) []any {
	urls := task.ImageURLs
	if urls == nil {
		urls = []string{}
	}
	// A []string always marshals.
	imageURLs, _ := json.Marshal(urls)

	var due sql.NullInt64
	if task.DueDate != nil {
		due = sql.NullInt64{Int64: task.DueDate.UnixMilli(), Valid: true}
	}

	return []any{
		task.Title,
		task.Description,
		string(task.Category),
		string(task.Status),
		due,
		string(imageURLs),
		task.CreatedAt.UnixMilli(),
		task.UpdatedAt.UnixMilli(),
	}
}

func (r *TaskRepository) Get(ctx context.Context, uid, id string) (models.Task, error) {
	return getTask(ctx, r.db, uid, id)
}

func getTask(ctx context.Context, db queryer, uid, id string) (models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE uid = ? AND id = ?`

	task, err := scanTask(db.QueryRowContext(ctx, query, uid, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	return task, nil
}

// GetAll returns every task of uid ordered by creation time.
func (r *TaskRepository) GetAll(ctx context.Context, uid string) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE uid = ? ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, uid)
	if err != nil {
		return nil, fmt.Errorf("get tasks: %w", err)
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	return tasks, nil
}

func (r *TaskRepository) Delete(ctx context.Context, uid, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE uid = ? AND id = ?`, uid, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (models.Task, error) {
	var (
		t                    models.Task
		category, status     string
		due                  sql.NullInt64
		imageURLs            string
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&category,
		&status,
		&due,
		&imageURLs,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return models.Task{}, err
	}

	t.Category = models.Category(category)
	t.Status = models.Status(status)
	t.CreatedAt = time.UnixMilli(createdAt)
	t.UpdatedAt = time.UnixMilli(updatedAt)
	if due.Valid {
		d := time.UnixMilli(due.Int64)
		t.DueDate = &d
	}
	if err := json.Unmarshal([]byte(imageURLs), &t.ImageURLs); err != nil {
		return models.Task{}, fmt.Errorf("parse image urls: %w", err)
	}
	if t.ImageURLs == nil {
		t.ImageURLs = []string{}
	}
	return t, nil
}
