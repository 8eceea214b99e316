package tracing

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"signalrelay/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  models.TracingConfig
		wantErr string
	}{
		{"disabled skips checks", models.TracingConfig{}, ""},
		{"defaults enabled", func() models.TracingConfig { c := DefaultConfig(); c.Enabled = true; return c }(), ""},
		{"missing service", models.TracingConfig{Enabled: true, UseStdout: true}, "service_name"},
		{"sample rate too high", models.TracingConfig{Enabled: true, ServiceName: "s", UseStdout: true, SampleRate: 1.5}, "sample_rate"},
		{"otlp without endpoint", models.TracingConfig{Enabled: true, ServiceName: "s", SampleRate: 1}, "otlp_endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.config)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestManager_DisabledIsNoop(t *testing.T) {
	m := NewManager(DefaultConfig(), quietLogger())
	require.NoError(t, m.Initialize(context.Background()))
	assert.Nil(t, m.provider)
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_InitializeRejectsInvalidConfig(t *testing.T) {
	m := NewManager(models.TracingConfig{Enabled: true}, quietLogger())
	assert.Error(t, m.Initialize(context.Background()))
}

func TestStartSpan_RecordsAttributesAndErrors(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := trace.NewTracerProvider(trace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	ctx, span := StartSpan(context.Background(), "queue.claim", AttrQueue.String("mirror"))
	AddSpanAttributes(ctx, AttrWorkerID.String("w1"))
	RecordError(ctx, errors.New("boom"))
	assert.NotEmpty(t, TraceID(ctx))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "queue.claim", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Len(t, ended[0].Attributes(), 2)
}

func TestTraceID_WithoutSpan(t *testing.T) {
	assert.Empty(t, TraceID(context.Background()))
}

func TestRequestID(t *testing.T) {
	id := NewRequestID()
	assert.True(t, strings.HasPrefix(id, "req_"))
	assert.NotEqual(t, id, NewRequestID())

	ctx := WithRequestID(context.Background(), id)
	assert.Equal(t, id, RequestID(ctx))
	assert.Empty(t, RequestID(context.Background()))
}

func TestDuration(t *testing.T) {
	assert.Zero(t, Duration(context.Background()))
	ctx := WithStartTime(context.Background(), time.Now().Add(-time.Second))
	assert.GreaterOrEqual(t, Duration(ctx), time.Second)
}
