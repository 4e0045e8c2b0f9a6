package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const DefaultQueueName = "default"

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Priority orders claimable tasks; higher runs first.
type Priority int8

const (
	PriorityLow     Priority = 25
	PriorityDefault Priority = 50
	PriorityHigh    Priority = 75
)

func (p Priority) Valid() bool {
	return p >= 0 && p <= 100
}

// Task is a unit of work persisted by a Storage.
type Task struct {
	ID          uuid.UUID
	Queue       string
	TaskType    string // always "one-time"; kept for schema compatibility
	TaskName    string
	Payload     []byte
	Status      TaskStatus
	Priority    Priority
	RetryCount  int8
	MaxRetries  int8
	ScheduledAt time.Time
	LockedUntil *time.Time
	LockedBy    *uuid.UUID
	ProcessedAt *time.Time
	Error       *string
	CreatedAt   time.Time
}

// DeadTask is a task that exhausted its retries or had no handler.
type DeadTask struct {
	ID         uuid.UUID
	TaskID     uuid.UUID
	Queue      string
	TaskName   string
	Payload    []byte
	Priority   Priority
	Error      string
	RetryCount int8
	MaxRetries int8
	CreatedAt  time.Time
	FailedAt   time.Time
}

// Storage persists tasks. MemoryStorage and PgStorage implement it.
type Storage interface {
	CreateTask(ctx context.Context, task *Task) error
	// ClaimTask locks the next runnable task or returns ErrNoTaskToClaim.
	ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lock time.Duration) (*Task, error)
	CompleteTask(ctx context.Context, taskID uuid.UUID) error
	// FailTask records the error and increments the retry count. The task is
	// rescheduled at retryAt while retries remain, otherwise marked failed.
	FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryAt time.Time) error
	MoveToDLQ(ctx context.Context, taskID uuid.UUID) error
}
