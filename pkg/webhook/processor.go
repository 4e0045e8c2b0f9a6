package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/pixelmint/pkg/logger"
	"github.com/dmitrymomot/pixelmint/pkg/queue"
)

// ProcessedKeyPrefix prefixes the dedup markers of processed events.
const ProcessedKeyPrefix = "processed_event:"

// DefaultMarkerTTL is how long processed markers are kept.
const DefaultMarkerTTL = 24 * time.Hour

// MarkerStore keeps processed markers. *redis.KV satisfies it.
type MarkerStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Processor dedups and dispatches queued events.
type Processor struct {
	mu        sync.RWMutex
	handlers  map[string]HandlerFunc
	markers   MarkerStore
	markerTTL time.Duration
	log       *slog.Logger
	observe   func(ev Event, outcome string)
}

type ProcessorOption func(*Processor)

func WithMarkerTTL(d time.Duration) ProcessorOption {
	return func(p *Processor) { p.markerTTL = d }
}

func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.log = l
		}
	}
}

// WithProcessObserver is called with outcome "processed", "duplicate", "ignored" or "failed".
func WithProcessObserver(fn func(ev Event, outcome string)) ProcessorOption {
	return func(p *Processor) { p.observe = fn }
}

func NewProcessor(markers MarkerStore, opts ...ProcessorOption) *Processor {
	p := &Processor{
		handlers:  make(map[string]HandlerFunc),
		markers:   markers,
		markerTTL: DefaultMarkerTTL,
		log:       logger.Discard(),
		observe:   func(Event, string) {},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register binds a handler to an event type.
func (p *Processor) Register(eventType string, fn HandlerFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.handlers[eventType]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, eventType)
	}
	p.handlers[eventType] = fn
	return nil
}

// RegisterAll binds a dispatch table.
func (p *Processor) RegisterAll(table map[string]HandlerFunc) error {
	for t, fn := range table {
		if err := p.Register(t, fn); err != nil {
			return err
		}
	}
	return nil
}

// Handle processes one event. Returning an error makes the queue retry it.
func (p *Processor) Handle(ctx context.Context, ev Event) error {
	log := p.log.With(slog.String("source", ev.Source), logger.EventID(ev.ID), logger.EventType(ev.Type))
	key := ProcessedKeyPrefix + ev.ID

	seen, err := p.markers.Exists(ctx, key)
	if err != nil {
		// Handlers are idempotent; an unknown marker state falls through to dispatch.
		log.WarnContext(ctx, "processed marker lookup failed", logger.Error(err))
	}
	if seen {
		p.observe(ev, "duplicate")
		log.InfoContext(ctx, "duplicate webhook event skipped")
		return nil
	}

	p.mu.RLock()
	fn, ok := p.handlers[ev.Type]
	p.mu.RUnlock()

	outcome := "processed"
	if !ok {
		outcome = "ignored"
		log.InfoContext(ctx, "unhandled webhook event type")
	} else if err := fn(ctx, ev); err != nil {
		p.observe(ev, "failed")
		log.ErrorContext(ctx, "webhook handler failed", logger.Error(err))
		return fmt.Errorf("handle %s %s: %w", ev.Type, ev.ID, err)
	}

	if err := p.markers.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), p.markerTTL); err != nil {
		log.WarnContext(ctx, "processed marker write failed", logger.Error(err))
	}
	p.observe(ev, outcome)
	return nil
}

// TaskHandler exposes the processor to the queue worker.
func (p *Processor) TaskHandler() queue.Handler {
	return queue.NewNamedTaskHandler(TaskName, p.Handle)
}
