package observability

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level     string
		format    string
		expected  logrus.Level
		formatter logrus.Formatter
	}{
		{"debug", "text", logrus.DebugLevel, &logrus.TextFormatter{}},
		{"WARN", "json", logrus.WarnLevel, &logrus.JSONFormatter{}},
		{"bogus", "", logrus.InfoLevel, &logrus.TextFormatter{}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := NewLogger(tt.level, tt.format)
			assert.Equal(t, tt.expected, logger.GetLevel())
			assert.IsType(t, tt.formatter, logger.Formatter)
		})
	}
}

func TestWithTraceContext(t *testing.T) {
	entry := logrus.NewEntry(logrus.New())

	plain := WithTraceContext(context.Background(), entry)
	assert.NotContains(t, plain.Data, "trace_id")

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	traced := WithTraceContext(ctx, entry)
	require.Contains(t, traced.Data, "trace_id")
	assert.Equal(t, span.SpanContext().TraceID().String(), traced.Data["trace_id"])
	assert.Contains(t, traced.Data, "span_id")
}

func TestInitTracing_Disabled(t *testing.T) {
	tp, err := InitTracing(context.Background(), TracingConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.Nil(t, tp)
	assert.NoError(t, ShutdownTracing(context.Background(), nil, nil))
	assert.NotNil(t, Tracer())
}
