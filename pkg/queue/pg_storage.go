package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/pixelmint/pkg/pg"
)

// PgStorage keeps tasks in the queue_tasks and queue_tasks_dlq tables.
// Claims use FOR UPDATE SKIP LOCKED so several workers can share a queue.
type PgStorage struct {
	db pg.DBTX
}

func NewPgStorage(db pg.DBTX) *PgStorage {
	return &PgStorage{db: db}
}

func (s *PgStorage) CreateTask(ctx context.Context, t *Task) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO queue_tasks
			(id, queue, task_type, task_name, payload, status, priority, retry_count, max_retries, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.Queue, t.TaskType, t.TaskName, t.Payload, string(t.Status),
		int16(t.Priority), int16(t.RetryCount), int16(t.MaxRetries), t.ScheduledAt, t.CreatedAt,
	)
	return err
}

func (s *PgStorage) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lock time.Duration) (*Task, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE queue_tasks SET
			status = 'processing',
			locked_until = now() + make_interval(secs => $3),
			locked_by = $2
		WHERE id = (
			SELECT id FROM queue_tasks
			WHERE queue = ANY($1)
			  AND scheduled_at <= now()
			  AND (status = 'pending' OR (status = 'processing' AND locked_until < now()))
			ORDER BY priority DESC, scheduled_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, queue, task_type, task_name, payload, status, priority, retry_count, max_retries,
			scheduled_at, locked_until, processed_at, error, created_at`,
		queues, workerID.String(), lock.Seconds(),
	)

	var t Task
	var status string
	var priority, retries, maxRetries int16
	err := row.Scan(&t.ID, &t.Queue, &t.TaskType, &t.TaskName, &t.Payload, &status, &priority,
		&retries, &maxRetries, &t.ScheduledAt, &t.LockedUntil, &t.ProcessedAt, &t.Error, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoTaskToClaim
	}
	if err != nil {
		return nil, err
	}
	t.Status = TaskStatus(status)
	t.Priority = Priority(priority)
	t.RetryCount = int8(retries)
	t.MaxRetries = int8(maxRetries)
	t.LockedBy = &workerID
	return &t, nil
}

func (s *PgStorage) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE queue_tasks SET status = 'completed', processed_at = now(), locked_until = NULL, locked_by = NULL
		WHERE id = $1 AND status = 'processing'`, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotClaimed
	}
	return nil
}

func (s *PgStorage) FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE queue_tasks SET
			retry_count = retry_count + 1,
			error = $2,
			locked_until = NULL,
			locked_by = NULL,
			status = CASE WHEN retry_count + 1 > max_retries THEN 'failed' ELSE 'pending' END,
			scheduled_at = CASE WHEN retry_count + 1 > max_retries THEN scheduled_at ELSE $3 END
		WHERE id = $1 AND status = 'processing'`, taskID, errMsg, retryAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotClaimed
	}
	return nil
}

func (s *PgStorage) MoveToDLQ(ctx context.Context, taskID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		WITH moved AS (
			DELETE FROM queue_tasks WHERE id = $1
			RETURNING id, queue, task_type, task_name, payload, priority, error, retry_count, max_retries, created_at
		)
		INSERT INTO queue_tasks_dlq
			(id, task_id, queue, task_type, task_name, payload, priority, error, retry_count, max_retries, created_at)
		SELECT $2, id, queue, task_type, task_name, payload, priority, COALESCE(error, ''), retry_count, max_retries, created_at
		FROM moved`, taskID, uuid.New())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// PurgeCompleted deletes completed tasks processed before the cutoff.
func (s *PgStorage) PurgeCompleted(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM queue_tasks WHERE status = 'completed' AND processed_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
