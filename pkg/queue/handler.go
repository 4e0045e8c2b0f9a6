package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Handler processes the payload of tasks with a matching name.
type Handler interface {
	Name() string
	Handle(ctx context.Context, payload json.RawMessage) error
}

// TaskName is the handler name for payload: its package-qualified type name.
func TaskName(payload any) string {
	return strings.TrimLeft(fmt.Sprintf("%T", payload), "*")
}

type typedHandler[T any] struct {
	name string
	fn   func(context.Context, T) error
}

// NewTaskHandler decodes JSON payloads into T. The handler name is TaskName of a zero T.
func NewTaskHandler[T any](fn func(ctx context.Context, payload T) error) Handler {
	var zero T
	return &typedHandler[T]{name: TaskName(zero), fn: fn}
}

// NewNamedTaskHandler is NewTaskHandler with an explicit name.
func NewNamedTaskHandler[T any](name string, fn func(ctx context.Context, payload T) error) Handler {
	return &typedHandler[T]{name: name, fn: fn}
}

func (h *typedHandler[T]) Name() string { return h.name }

func (h *typedHandler[T]) Handle(ctx context.Context, payload json.RawMessage) error {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return fmt.Errorf("decode %s payload: %w", h.name, err)
	}
	return h.fn(ctx, v)
}
