package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/pixelmint/pkg/logger"
	"github.com/dmitrymomot/pixelmint/pkg/retry"
)

// Observer receives the outcome of every processed task.
type Observer func(taskName string, status TaskStatus, elapsed time.Duration)

// Worker claims tasks from a Storage and runs the matching Handler with bounded concurrency.
type Worker struct {
	storage  Storage
	handlers map[string]Handler
	mu       sync.RWMutex
	id       uuid.UUID

	queues       []string
	pullInterval time.Duration
	lockTimeout  time.Duration
	slots        chan struct{}
	backoff      retry.Backoff
	observe      Observer
	log          *slog.Logger

	running sync.Mutex
	started bool
	wg      sync.WaitGroup
}

type WorkerOption func(*Worker)

func WithQueues(queues ...string) WorkerOption {
	return func(w *Worker) {
		if len(queues) > 0 {
			w.queues = queues
		}
	}
}

func WithPullInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pullInterval = d
		}
	}
}

// WithLockTimeout bounds a single handler run; the claim lock lasts as long.
func WithLockTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.lockTimeout = d
		}
	}
}

func WithMaxConcurrentTasks(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.slots = make(chan struct{}, n)
		}
	}
}

// WithRetryBackoff sets the reschedule delay for failed tasks.
func WithRetryBackoff(b retry.Backoff) WorkerOption {
	return func(w *Worker) {
		if b != nil {
			w.backoff = b
		}
	}
}

func WithObserver(fn Observer) WorkerOption {
	return func(w *Worker) { w.observe = fn }
}

func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.log = l
		}
	}
}

// WorkerOptionsFromConfig maps Config onto worker options.
func WorkerOptionsFromConfig(cfg Config) []WorkerOption {
	return []WorkerOption{
		WithPullInterval(cfg.PollInterval),
		WithLockTimeout(cfg.LockTimeout),
		WithMaxConcurrentTasks(cfg.MaxConcurrentTasks),
		WithRetryBackoff(retry.Linear{Interval: cfg.RetryBaseDelay, Max: time.Hour}),
	}
}

func NewWorker(storage Storage, opts ...WorkerOption) (*Worker, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}
	w := &Worker{
		storage:      storage,
		handlers:     make(map[string]Handler),
		id:           uuid.New(),
		queues:       []string{DefaultQueueName},
		pullInterval: 2 * time.Second,
		lockTimeout:  2 * time.Minute,
		slots:        make(chan struct{}, 1),
		backoff:      retry.Linear{Interval: 30 * time.Second, Max: time.Hour},
		observe:      func(string, TaskStatus, time.Duration) {},
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With(logger.Component("queue.worker"), slog.String("worker_id", w.id.String()))
	return w, nil
}

func (w *Worker) RegisterHandlers(handlers ...Handler) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, h := range handlers {
		if h == nil {
			continue
		}
		if _, ok := w.handlers[h.Name()]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateHandler, h.Name())
		}
		w.handlers[h.Name()] = h
	}
	return nil
}

// Run blocks processing tasks until ctx is done, then waits for in-flight
// tasks. It fits errgroup.Group.Go via a closure.
func (w *Worker) Run(ctx context.Context) error {
	w.running.Lock()
	if w.started {
		w.running.Unlock()
		return ErrWorkerStarted
	}
	w.mu.RLock()
	n := len(w.handlers)
	w.mu.RUnlock()
	if n == 0 {
		w.running.Unlock()
		return ErrNoHandlers
	}
	w.started = true
	w.running.Unlock()

	w.log.InfoContext(ctx, "worker started", slog.Any("queues", w.queues), slog.Int("max_concurrent", cap(w.slots)))

	ticker := time.NewTicker(w.pullInterval)
	defer ticker.Stop()

	for {
		w.drain(ctx)
		select {
		case <-ctx.Done():
			w.wg.Wait()
			w.log.Info("worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// drain claims tasks while free slots and runnable tasks remain.
func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		select {
		case w.slots <- struct{}{}:
		default:
			return
		}

		task, err := w.storage.ClaimTask(ctx, w.id, w.queues, w.lockTimeout)
		if err != nil || task == nil {
			<-w.slots
			if err != nil && !errors.Is(err, ErrNoTaskToClaim) && ctx.Err() == nil {
				w.log.ErrorContext(ctx, "failed to claim task", logger.Error(err))
			}
			return
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-w.slots }()
			w.process(task)
		}()
	}
}

// process runs detached from the poll context so shutdown lets tasks finish.
func (w *Worker) process(task *Task) {
	ctx, cancel := context.WithTimeout(context.Background(), w.lockTimeout)
	defer cancel()

	log := w.log.With(logger.TaskID(task.ID.String()), slog.String("task_name", task.TaskName))
	start := time.Now()

	w.mu.RLock()
	h, ok := w.handlers[task.TaskName]
	w.mu.RUnlock()
	if !ok {
		log.ErrorContext(ctx, "no handler registered for task")
		w.bury(ctx, log, task, ErrHandlerNotFound.Error())
		w.observe(task.TaskName, TaskStatusFailed, time.Since(start))
		return
	}

	err := w.safeHandle(ctx, h, task)
	elapsed := time.Since(start)
	if err == nil {
		if err := w.storage.CompleteTask(ctx, task.ID); err != nil {
			log.ErrorContext(ctx, "failed to mark task completed", logger.Error(err))
		}
		log.DebugContext(ctx, "task completed", logger.Duration(elapsed))
		w.observe(task.TaskName, TaskStatusCompleted, elapsed)
		return
	}

	attempt := int(task.RetryCount) + 1
	log.WarnContext(ctx, "task failed",
		logger.Error(err),
		logger.RetryCount(attempt),
		slog.Int("max_retries", int(task.MaxRetries)),
		logger.Duration(elapsed),
	)

	if attempt > int(task.MaxRetries) {
		w.bury(ctx, log, task, err.Error())
		w.observe(task.TaskName, TaskStatusFailed, elapsed)
		return
	}
	retryAt := time.Now().Add(w.backoff.NextInterval(attempt))
	if ferr := w.storage.FailTask(ctx, task.ID, err.Error(), retryAt); ferr != nil {
		log.ErrorContext(ctx, "failed to reschedule task", logger.Error(ferr))
	}
	w.observe(task.TaskName, TaskStatusPending, elapsed)
}

func (w *Worker) bury(ctx context.Context, log *slog.Logger, task *Task, msg string) {
	if err := w.storage.FailTask(ctx, task.ID, msg, time.Now()); err != nil {
		log.ErrorContext(ctx, "failed to mark task failed", logger.Error(err))
	}
	if err := w.storage.MoveToDLQ(ctx, task.ID); err != nil {
		log.ErrorContext(ctx, "failed to move task to dead letter queue", logger.Error(err))
		return
	}
	log.WarnContext(ctx, "task moved to dead letter queue")
}

func (w *Worker) safeHandle(ctx context.Context, h Handler, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler: %v", r)
		}
	}()
	return h.Handle(ctx, task.Payload)
}
