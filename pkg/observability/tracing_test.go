package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestTraceRecordsSpans(t *testing.T) {
	rec := withRecorder(t)

	err := Trace(context.Background(), "finalize", "users", func(context.Context) error { return nil })
	require.NoError(t, err)

	boom := errors.New("boom")
	err = Trace(context.Background(), "load_job", "orders", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "finalize", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, "load_job", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)

	var stream string
	for _, kv := range spans[1].Attributes() {
		if kv.Key == "stream" {
			stream = kv.Value.AsString()
		}
	}
	assert.Equal(t, "orders", stream)
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(DefaultTracingConfig())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestTracerProviderExportsToWriter(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultTracingConfig()
	cfg.Writer = &buf

	tp, err := NewTracerProvider(cfg)
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "load_job")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), `"Name":"load_job"`)
}
