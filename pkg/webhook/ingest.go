package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/pixelmint/pkg/logger"
	"github.com/dmitrymomot/pixelmint/pkg/queue"
)

// DefaultMaxBodySize caps accepted webhook bodies.
const DefaultMaxBodySize int64 = 1 << 20

// Sink stores verified events for asynchronous processing.
type Sink interface {
	Put(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Put(ctx context.Context, ev Event) error { return f(ctx, ev) }

// TaskName is the queue task name carrying webhook events.
const TaskName = "webhook.event"

// QueueSink enqueues events as TaskName tasks.
func QueueSink(enq *queue.Enqueuer, opts ...queue.EnqueueOption) Sink {
	opts = append([]queue.EnqueueOption{queue.WithTaskName(TaskName), queue.WithPriority(queue.PriorityHigh)}, opts...)
	return SinkFunc(func(ctx context.Context, ev Event) error {
		_, err := enq.Enqueue(ctx, ev, opts...)
		return err
	})
}

// Ingestor is the HTTP endpoint of one webhook source.
type Ingestor struct {
	source   string
	verifier Verifier
	sink     Sink
	maxBody  int64
	log      *slog.Logger
	observe  func(source, outcome string)
}

type IngestorOption func(*Ingestor)

func WithMaxBodySize(n int64) IngestorOption {
	return func(i *Ingestor) { i.maxBody = n }
}

func WithIngestorLogger(l *slog.Logger) IngestorOption {
	return func(i *Ingestor) {
		if l != nil {
			i.log = l
		}
	}
}

// WithIngestObserver is called with outcome "accepted", "rejected" or "failed".
func WithIngestObserver(fn func(source, outcome string)) IngestorOption {
	return func(i *Ingestor) { i.observe = fn }
}

func NewIngestor(source string, verifier Verifier, sink Sink, opts ...IngestorOption) *Ingestor {
	i := &Ingestor{
		source:   source,
		verifier: verifier,
		sink:     sink,
		maxBody:  DefaultMaxBodySize,
		log:      logger.Discard(),
		observe:  func(string, string) {},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Ingestor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, i.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			i.reject(ctx, w, http.StatusRequestEntityTooLarge, ErrPayloadTooLarge)
			return
		}
		i.reject(ctx, w, http.StatusBadRequest, errors.Join(ErrInvalidPayload, err))
		return
	}

	ev, err := i.verifier.Verify(r, body)
	if err != nil {
		i.reject(ctx, w, http.StatusBadRequest, err)
		return
	}
	if ev.Source == "" {
		ev.Source = i.source
	}

	if err := i.sink.Put(ctx, ev); err != nil {
		i.observe(i.source, "failed")
		i.log.ErrorContext(ctx, "webhook enqueue failed",
			slog.String("source", i.source), logger.EventID(ev.ID), logger.EventType(ev.Type), logger.Error(err))
		http.Error(w, ErrEnqueueFailed.Error(), http.StatusInternalServerError)
		return
	}

	i.observe(i.source, "accepted")
	i.log.DebugContext(ctx, "webhook accepted",
		slog.String("source", i.source), logger.EventID(ev.ID), logger.EventType(ev.Type))
	w.WriteHeader(http.StatusOK)
}

func (i *Ingestor) reject(ctx context.Context, w http.ResponseWriter, status int, err error) {
	i.observe(i.source, "rejected")
	i.log.WarnContext(ctx, "webhook rejected", slog.String("source", i.source), logger.Error(err))
	http.Error(w, http.StatusText(status), status)
}
