package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enqueuer serialises payloads to JSON and stores them as pending tasks.
type Enqueuer struct {
	storage    Storage
	queue      string
	maxRetries int8
	now        func() time.Time
}

type EnqueuerOption func(*Enqueuer)

func WithDefaultQueue(name string) EnqueuerOption {
	return func(e *Enqueuer) {
		if name != "" {
			e.queue = name
		}
	}
}

func WithDefaultMaxRetries(n int8) EnqueuerOption {
	return func(e *Enqueuer) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

func NewEnqueuer(storage Storage, opts ...EnqueuerOption) (*Enqueuer, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}
	e := &Enqueuer{storage: storage, queue: DefaultQueueName, maxRetries: 3, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type enqueueOptions struct {
	queue      string
	name       string
	priority   Priority
	maxRetries int8
	delay      time.Duration
}

type EnqueueOption func(*enqueueOptions)

func WithQueue(name string) EnqueueOption {
	return func(o *enqueueOptions) {
		if name != "" {
			o.queue = name
		}
	}
}

// WithTaskName overrides the handler name derived from the payload type.
func WithTaskName(name string) EnqueueOption {
	return func(o *enqueueOptions) {
		if name != "" {
			o.name = name
		}
	}
}

func WithPriority(p Priority) EnqueueOption {
	return func(o *enqueueOptions) { o.priority = p }
}

func WithMaxRetries(n int8) EnqueueOption {
	return func(o *enqueueOptions) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

// Enqueue stores payload as a new task and returns its id.
func (e *Enqueuer) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) (uuid.UUID, error) {
	if payload == nil {
		return uuid.Nil, ErrPayloadNil
	}
	o := &enqueueOptions{queue: e.queue, priority: PriorityDefault, maxRetries: e.maxRetries}
	for _, opt := range opts {
		opt(o)
	}
	if !o.priority.Valid() {
		return uuid.Nil, ErrInvalidPriority
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal payload of type %T: %w", payload, err)
	}
	if o.name == "" {
		o.name = TaskName(payload)
	}

	now := e.now()
	task := &Task{
		ID:          uuid.New(),
		Queue:       o.queue,
		TaskType:    "one-time",
		TaskName:    o.name,
		Payload:     data,
		Status:      TaskStatusPending,
		Priority:    o.priority,
		MaxRetries:  o.maxRetries,
		ScheduledAt: now.Add(o.delay),
		CreatedAt:   now,
	}
	if err := e.storage.CreateTask(ctx, task); err != nil {
		return uuid.Nil, fmt.Errorf("create task %q in queue %q: %w", task.TaskName, task.Queue, err)
	}
	return task.ID, nil
}
