package tracing

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"fraudwatch/internal/config"
	"fraudwatch/internal/constants"
)

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(config.TracingConfig{}, "")
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsSampled())
	span.End()
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestResolveServiceName(t *testing.T) {
	assert.Equal(t, "custom", ResolveServiceName(config.TracingConfig{ServiceName: "custom"}, "caller"))
	assert.Equal(t, "caller", ResolveServiceName(config.TracingConfig{}, "caller"))
	assert.Equal(t, constants.ServiceName, ResolveServiceName(config.TracingConfig{}, ""))
}

func TestNewSampler(t *testing.T) {
	assert.Equal(t, sdktrace.NeverSample().Description(), NewSampler(config.SamplerConfig{Type: SamplerAlwaysOff}).Description())
	assert.Equal(t, sdktrace.AlwaysSample().Description(), NewSampler(config.SamplerConfig{Type: "unknown"}).Description())
	assert.Equal(t, sdktrace.TraceIDRatioBased(0.5).Description(), NewSampler(config.SamplerConfig{Type: SamplerRatio, Param: 0.5}).Description())
}

func TestKafkaHeaderCarrier_RoundTrip(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	carrier := &kafkaHeaderCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	require.Len(t, carrier.headers, 1)
	assert.Equal(t, "traceparent", carrier.headers[0].Key)

	extracted := propagation.TraceContext{}.Extract(context.Background(), &kafkaHeaderCarrier{headers: carrier.headers})
	assert.Equal(t, span.SpanContext().TraceID(), trace.SpanContextFromContext(extracted).TraceID())
}

func TestKafkaHeaderCarrier_SetReplaces(t *testing.T) {
	carrier := &kafkaHeaderCarrier{headers: []kafka.Header{{Key: "tracestate", Value: []byte("old")}}}
	carrier.Set("tracestate", "new")
	assert.Equal(t, "new", carrier.Get("tracestate"))
	assert.Equal(t, []string{"tracestate"}, carrier.Keys())
}
