package telemetry_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmitrymomot/pixelmint/pkg/telemetry"
)

func TestSetupDisabled(t *testing.T) {
	t.Parallel()

	shutdown, err := telemetry.Setup(t.Context(), telemetry.Config{}, nil)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(t.Context()))
}

func TestLoggerExtractor(t *testing.T) {
	t.Parallel()

	extract := telemetry.LoggerExtractor()

	_, ok := extract(context.Background())
	assert.False(t, ok)

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	attr, ok := extract(ctx)
	require.True(t, ok)
	assert.Equal(t, "trace", attr.Key)
	assert.Equal(t, slog.KindGroup, attr.Value.Kind())

	got := map[string]string{}
	for _, a := range attr.Value.Group() {
		got[a.Key] = a.Value.String()
	}
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", got["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", got["span_id"])
}
