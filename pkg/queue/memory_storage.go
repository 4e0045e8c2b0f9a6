package queue

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage is an in-process Storage for tests and single-node development.
// Expired locks are reclaimed lazily on claim.
type MemoryStorage struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*Task
	dlq   []DeadTask
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{tasks: make(map[uuid.UUID]*Task)}
}

func (s *MemoryStorage) CreateTask(_ context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (s *MemoryStorage) ClaimTask(_ context.Context, workerID uuid.UUID, queues []string, lock time.Duration) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var best *Task
	for _, t := range s.tasks {
		if !slices.Contains(queues, t.Queue) || t.ScheduledAt.After(now) {
			continue
		}
		claimable := t.Status == TaskStatusPending ||
			(t.Status == TaskStatusProcessing && t.LockedUntil != nil && t.LockedUntil.Before(now))
		if !claimable {
			continue
		}
		if best == nil || t.Priority > best.Priority ||
			(t.Priority == best.Priority && t.ScheduledAt.Before(best.ScheduledAt)) {
			best = t
		}
	}
	if best == nil {
		return nil, ErrNoTaskToClaim
	}

	until := now.Add(lock)
	best.Status = TaskStatusProcessing
	best.LockedUntil = &until
	best.LockedBy = &workerID

	cp := *best
	return &cp, nil
}

func (s *MemoryStorage) CompleteTask(_ context.Context, taskID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.processing(taskID)
	if err != nil {
		return err
	}
	now := time.Now()
	t.Status = TaskStatusCompleted
	t.ProcessedAt = &now
	t.LockedUntil, t.LockedBy = nil, nil
	return nil
}

func (s *MemoryStorage) FailTask(_ context.Context, taskID uuid.UUID, errMsg string, retryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.processing(taskID)
	if err != nil {
		return err
	}
	t.RetryCount++
	t.Error = &errMsg
	t.LockedUntil, t.LockedBy = nil, nil
	if t.RetryCount > t.MaxRetries {
		t.Status = TaskStatusFailed
		return nil
	}
	t.Status = TaskStatusPending
	t.ScheduledAt = retryAt
	return nil
}

func (s *MemoryStorage) MoveToDLQ(_ context.Context, taskID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	dead := DeadTask{
		ID:         uuid.New(),
		TaskID:     t.ID,
		Queue:      t.Queue,
		TaskName:   t.TaskName,
		Payload:    t.Payload,
		Priority:   t.Priority,
		RetryCount: t.RetryCount,
		MaxRetries: t.MaxRetries,
		CreatedAt:  t.CreatedAt,
		FailedAt:   time.Now(),
	}
	if t.Error != nil {
		dead.Error = *t.Error
	}
	s.dlq = append(s.dlq, dead)
	delete(s.tasks, taskID)
	return nil
}

// Task returns a copy of a stored task.
func (s *MemoryStorage) Task(taskID uuid.UUID) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// DeadLetters returns a copy of the dead letter queue.
func (s *MemoryStorage) DeadLetters() []DeadTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.dlq)
}

func (s *MemoryStorage) processing(taskID uuid.UUID) (*Task, error) {
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if t.Status != TaskStatusProcessing {
		return nil, ErrTaskNotClaimed
	}
	return t, nil
}
