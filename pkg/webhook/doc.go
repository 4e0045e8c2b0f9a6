// Package webhook receives third-party webhooks durably.
//
// An Ingestor verifies the request signature, enqueues the verified Event on
// the job queue and acknowledges immediately. A bad signature is answered
// with 400 and never enqueued. The queue worker hands events to a Processor,
// which skips events it has already processed, dispatches by event type and
// records a processed marker only after the handler succeeded. A failing
// handler returns its error to the worker, which retries with backoff and
// finally moves the task to the dead letter queue.
//
//	ing := webhook.NewIngestor("stripe", verifier, webhook.QueueSink(enqueuer))
//	router.Post("/api/webhooks/stripe", ing.ServeHTTP)
//
//	proc := webhook.NewProcessor(kv, webhook.WithProcessorLogger(log))
//	proc.Register("invoice.paid", onInvoicePaid)
//	worker.RegisterHandlers(proc.TaskHandler())
//
// Identity provider webhooks use the svix signing scheme, verified by
// SvixVerifier.
package webhook
