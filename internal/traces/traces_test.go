package traces

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	shutdown, err := Init(context.Background(), Options{}, logger)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartSpan_NoopProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "tracker.TimeSeries", UserID(1), ActionID(2), WindowDays(30))
	defer span.End()

	assert.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsValid())
}

func TestEnd_RecordsError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	_, ok := tp.Tracer("test").Start(context.Background(), "ok")
	var nilErr error
	End(ok, &nilErr)

	_, bad := tp.Tracer("test").Start(context.Background(), "bad")
	err := errors.New("action not found")
	End(bad, &err)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "action not found", spans[1].Status().Description)
}

func TestAttributeHelpers(t *testing.T) {
	assert.Equal(t, int64(9), UserID(9).Value.AsInt64())
	assert.Equal(t, "tally.action_id", string(ActionID(3).Key))
	assert.Equal(t, int64(30), WindowDays(30).Value.AsInt64())
	assert.Equal(t, "week", Period("week").Value.AsString())
	assert.True(t, CacheHit(true).Value.AsBool())
}
