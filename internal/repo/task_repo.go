package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/mediaflow/internal/domain"
	"github.com/shaiso/mediaflow/internal/status"
)

var _ status.TaskStore = (*TaskRepo)(nil)

const taskColumns = `id, workspace_id, flow, status, progress, result, error_log, created_at, updated_at`

// TaskRepo — репозиторий для работы с tasks.
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

// Create создаёт новый task.
func (r *TaskRepo) Create(ctx context.Context, task *domain.Task) error {
	resultJSON, err := marshalResult(task.Result)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (id, workspace_id, flow, status, progress, result, error_log, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.pool.Exec(ctx, query,
		task.ID,
		task.WorkspaceID,
		task.Flow,
		string(task.Status),
		task.Progress,
		resultJSON,
		nullString(task.ErrorLog),
		task.CreatedAt,
		task.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("task %s: %w", task.ID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetByID возвращает task по ID.
func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

// List возвращает задачи по фильтру, новые первыми.
func (r *TaskRepo) List(ctx context.Context, f domain.TaskFilter) ([]domain.Task, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE ($1 = '' OR workspace_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query, f.WorkspaceID, string(f.Status), limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// UpdateTask применяет частичное обновление. Nil-поля не меняются.
// Реализует status.TaskStore.
func (r *TaskRepo) UpdateTask(ctx context.Context, id uuid.UUID, upd domain.TaskUpdate) error {
	var statusArg *string
	if upd.Status != nil {
		s := string(*upd.Status)
		statusArg = &s
	}

	resultJSON, err := marshalResult(upd.Result)
	if err != nil {
		return err
	}

	query := `
		UPDATE tasks
		SET status     = COALESCE($2, status),
		    progress   = COALESCE($3, progress),
		    result     = COALESCE($4, result),
		    error_log  = COALESCE($5, error_log),
		    updated_at = now()
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, id, statusArg, upd.Progress, resultJSON, upd.ErrorLog)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

func scanTask(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	var taskStatus string
	var resultJSON []byte
	var errorLog *string

	err := row.Scan(
		&task.ID,
		&task.WorkspaceID,
		&task.Flow,
		&taskStatus,
		&task.Progress,
		&resultJSON,
		&errorLog,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	task.Status = domain.TaskStatus(taskStatus)
	if resultJSON != nil {
		var tr domain.TaskResult
		if err := json.Unmarshal(resultJSON, &tr); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		task.Result = &tr
	}
	if errorLog != nil {
		task.ErrorLog = *errorLog
	}

	return &task, nil
}

// marshalResult возвращает nil для nil результата, чтобы COALESCE сохранил старое значение.
func marshalResult(tr *domain.TaskResult) ([]byte, error) {
	if tr == nil {
		return nil, nil
	}
	b, err := json.Marshal(tr)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return b, nil
}
