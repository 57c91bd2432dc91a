package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/mediaflow/internal/domain"
	"github.com/shaiso/mediaflow/internal/queue"
)

var _ queue.Store = (*JobRepo)(nil)

const jobColumns = `
	id, parent_id, task_id, name, data, state, attempts_made, retry,
	return_value, failed_reason, pending_children, version,
	created_at, processed_on, finished_on`

// JobRepo — очередь jobs в PostgreSQL. Реализует queue.Store.
//
// Переходы состояний выполняются условными UPDATE: job берёт в работу
// только тот worker, чей UPDATE ... WHERE state = 'waiting' прошёл.
type JobRepo struct {
	pool *pgxpool.Pool
}

// NewJobRepo создаёт JobRepo.
func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

// AddFlow сохраняет parent и детей в одной транзакции.
func (r *JobRepo) AddFlow(ctx context.Context, flow queue.Flow) error {
	if err := flow.Validate(); err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	parentState := domain.JobStateWaitingChildren
	if len(flow.Children) == 0 {
		parentState = domain.JobStateWaiting
	}

	if err := insertJob(ctx, tx, flow.Parent, parentState, len(flow.Children)); err != nil {
		return err
	}
	for _, c := range flow.Children {
		if err := insertJob(ctx, tx, c, domain.JobStateWaiting, 0); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit flow: %w", err)
	}
	return nil
}

func insertJob(ctx context.Context, tx pgx.Tx, job *domain.Job, state domain.JobState, pending int) error {
	retryJSON, err := json.Marshal(job.Retry)
	if err != nil {
		return fmt.Errorf("marshal retry: %w", err)
	}

	data := job.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, parent_id, task_id, name, data, state, retry, pending_children)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		job.ID,
		job.ParentID,
		job.TaskID,
		job.Name,
		[]byte(data),
		string(state),
		retryJSON,
		pending,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: job %s: %w", queue.ErrInvalidFlow, job.ID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob возвращает job по ID.
func (r *JobRepo) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", queue.ErrJobNotFound, id)
	}
	return job, err
}

// UpdateData заменяет данные job при совпадении версии.
func (r *JobRepo) UpdateData(ctx context.Context, id uuid.UUID, data json.RawMessage, expectedVersion int64) (int64, error) {
	var version int64
	err := r.pool.QueryRow(ctx, `
		UPDATE jobs SET data = $2, version = version + 1
		WHERE id = $1 AND version = $3
		RETURNING version
	`, id, []byte(data), expectedVersion).Scan(&version)

	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetJob(ctx, id); getErr != nil {
			return 0, getErr
		}
		return 0, fmt.Errorf("%w: job %s, expected version %d", queue.ErrVersionConflict, id, expectedVersion)
	}
	if err != nil {
		return 0, fmt.Errorf("update job data: %w", err)
	}
	return version, nil
}

// MarkActive берёт waiting job в работу.
func (r *JobRepo) MarkActive(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return r.transition(ctx, id, queue.ErrJobNotWaiting, `
		UPDATE jobs SET state = 'active', processed_on = now()
		WHERE id = $1 AND state = 'waiting'
		RETURNING `+jobColumns)
}

// RecordFailedAttempt учитывает неудачную попытку.
func (r *JobRepo) RecordFailedAttempt(ctx context.Context, id uuid.UUID, reason string) (*domain.Job, error) {
	return r.transition(ctx, id, queue.ErrJobNotActive, `
		UPDATE jobs SET attempts_made = attempts_made + 1, failed_reason = $2
		WHERE id = $1 AND state = 'active'
		RETURNING `+jobColumns, reason)
}

// MarkCompleted завершает job.
func (r *JobRepo) MarkCompleted(ctx context.Context, id uuid.UUID, returnValue json.RawMessage) (*domain.Job, error) {
	var value []byte
	if len(returnValue) > 0 {
		value = returnValue
	}
	return r.transition(ctx, id, queue.ErrJobNotActive, `
		UPDATE jobs SET state = 'completed', attempts_made = attempts_made + 1,
		       return_value = $2, finished_on = now()
		WHERE id = $1 AND state = 'active'
		RETURNING `+jobColumns, value)
}

// MarkFailed окончательно переводит job в failed.
func (r *JobRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*domain.Job, error) {
	return r.transition(ctx, id, queue.ErrJobNotActive, `
		UPDATE jobs SET state = 'failed', attempts_made = attempts_made + 1,
		       failed_reason = $2, finished_on = now()
		WHERE id = $1 AND state = 'active'
		RETURNING `+jobColumns, reason)
}

// transition выполняет условный UPDATE. Если строка не обновилась,
// различает отсутствие job и неподходящее состояние.
func (r *JobRepo) transition(ctx context.Context, id uuid.UUID, stateErr error, query string, args ...any) (*domain.Job, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, query, append([]any{id}, args...)...))
	if errors.Is(err, ErrNotFound) {
		cur, getErr := r.GetJob(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: %s is %s", stateErr, id, cur.State)
	}
	return job, err
}

// ResolveChild пересчитывает незавершённых детей под блокировкой parent.
//
// Подсчёт идёт после SELECT ... FOR UPDATE, поэтому два ребёнка,
// завершившиеся одновременно, не увидят друг друга незавершёнными.
func (r *JobRepo) ResolveChild(ctx context.Context, parentID uuid.UUID) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var stateStr string
	err = tx.QueryRow(ctx, `SELECT state FROM jobs WHERE id = $1 FOR UPDATE`, parentID).Scan(&stateStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", queue.ErrJobNotFound, parentID)
	}
	if err != nil {
		return false, fmt.Errorf("lock parent: %w", err)
	}

	var pending int
	err = tx.QueryRow(ctx, `
		SELECT count(*) FROM jobs
		WHERE parent_id = $1 AND state NOT IN ('completed', 'failed')
	`, parentID).Scan(&pending)
	if err != nil {
		return false, fmt.Errorf("count pending children: %w", err)
	}

	state := domain.JobState(stateStr)
	ready := pending == 0 && state == domain.JobStateWaitingChildren
	next := state
	if ready {
		next = domain.JobStateWaiting
	}

	_, err = tx.Exec(ctx, `UPDATE jobs SET pending_children = $2, state = $3 WHERE id = $1`,
		parentID, pending, string(next))
	if err != nil {
		return false, fmt.Errorf("update parent: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return ready, nil
}

// ChildrenValues возвращает ReturnValue завершённых детей.
func (r *JobRepo) ChildrenValues(ctx context.Context, parentID uuid.UUID) (map[uuid.UUID]json.RawMessage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, return_value FROM jobs
		WHERE parent_id = $1 AND state = 'completed' AND return_value IS NOT NULL
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("children values: %w", err)
	}
	defer rows.Close()

	values := make(map[uuid.UUID]json.RawMessage)
	for rows.Next() {
		var id uuid.UUID
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan child value: %w", err)
		}
		values[id] = raw
	}
	return values, rows.Err()
}

// ListChildren возвращает детей parent в указанных состояниях.
func (r *JobRepo) ListChildren(ctx context.Context, parentID uuid.UUID, states ...domain.JobState) ([]*domain.Job, error) {
	return r.list(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE parent_id = $1 AND (cardinality($2::text[]) = 0 OR state = ANY($2::text[]))
		ORDER BY created_at ASC, id ASC
	`, parentID, stateStrings(states))
}

// ListWaiting возвращает waiting jobs, старые первыми.
func (r *JobRepo) ListWaiting(ctx context.Context, limit int) ([]*domain.Job, error) {
	return r.list(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE state = 'waiting'
		ORDER BY created_at ASC, id ASC
		LIMIT $1
	`, limit)
}

// ListByTask возвращает все jobs задачи.
func (r *JobRepo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*domain.Job, error) {
	return r.list(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE task_id = $1
		ORDER BY created_at ASC, id ASC
	`, taskID)
}

// RepairStalledParents переводит в waiting parents без незавершённых детей.
func (r *JobRepo) RepairStalledParents(ctx context.Context) ([]uuid.UUID, error) {
	return r.ids(ctx, `
		UPDATE jobs p SET state = 'waiting', pending_children = 0
		WHERE p.state = 'waiting-children'
		  AND NOT EXISTS (
		      SELECT 1 FROM jobs c
		      WHERE c.parent_id = p.id AND c.state NOT IN ('completed', 'failed')
		  )
		RETURNING p.id
	`)
}

// RequeueStale возвращает в waiting active jobs, зависшие дольше olderThan.
func (r *JobRepo) RequeueStale(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error) {
	return r.ids(ctx, `
		UPDATE jobs SET state = 'waiting'
		WHERE state = 'active' AND processed_on < $1
		RETURNING id
	`, time.Now().Add(-olderThan))
}

func (r *JobRepo) list(ctx context.Context, query string, args ...any) ([]*domain.Job, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *JobRepo) ids(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Helpers ---

// scanJob сканирует строку с колонками jobColumns.
// pgx.Row и pgx.Rows оба удовлетворяют pgx.Row.
func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var state string
	var data, retryJSON, returnValue []byte
	var failedReason *string

	err := row.Scan(
		&job.ID,
		&job.ParentID,
		&job.TaskID,
		&job.Name,
		&data,
		&state,
		&job.AttemptsMade,
		&retryJSON,
		&returnValue,
		&failedReason,
		&job.PendingChildren,
		&job.Version,
		&job.CreatedAt,
		&job.ProcessedOn,
		&job.FinishedOn,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.State = domain.JobState(state)
	job.Data = data
	if len(returnValue) > 0 {
		job.ReturnValue = returnValue
	}
	if failedReason != nil {
		job.FailedReason = *failedReason
	}
	if len(retryJSON) > 0 {
		if err := json.Unmarshal(retryJSON, &job.Retry); err != nil {
			return nil, fmt.Errorf("unmarshal retry: %w", err)
		}
	}

	return &job, nil
}

func stateStrings(states []domain.JobState) []string {
	result := make([]string, len(states))
	for i, s := range states {
		result[i] = string(s)
	}
	return result
}
