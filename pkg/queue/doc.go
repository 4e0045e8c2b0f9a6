// Package queue is a small durable task queue.
//
// An Enqueuer serialises payloads to JSON and writes them as pending tasks to
// a Storage. A Worker polls the storage, claims runnable tasks under a lock,
// and runs the Handler registered for the task name with bounded concurrency.
// Failed tasks are rescheduled with a retry.Backoff delay until MaxRetries is
// exceeded, after which they move to the dead letter queue. A task whose name
// has no handler goes to the dead letter queue immediately. Handler panics are
// recovered and treated as failures.
//
// Two storages are provided: PgStorage (queue_tasks tables, claims with
// FOR UPDATE SKIP LOCKED) for production and MemoryStorage for tests.
//
//	enq, _ := queue.NewEnqueuer(storage)
//	w, _ := queue.NewWorker(storage, queue.WorkerOptionsFromConfig(cfg)...)
//	_ = w.RegisterHandlers(queue.NewTaskHandler(func(ctx context.Context, p SyncUser) error {
//		return svc.Sync(ctx, p.UserID)
//	}))
//	g.Go(func() error { return w.Run(ctx) })
//	_, err := enq.Enqueue(ctx, SyncUser{UserID: "user_1"})
package queue
