package mq

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceContextRoundTripsThroughHeaders(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("mq-test").Start(context.Background(), "produce")
	defer span.End()

	msg := kafka.Message{Topic: "orders", Value: []byte(`{}`)}
	InjectTraceContext(ctx, &msg.Headers)
	require.NotEmpty(t, msg.Headers, "propagation headers must be written")

	consumerCtx := ExtractTraceContext(context.Background(), msg.Headers)
	got := trace.SpanContextFromContext(consumerCtx)
	assert.Equal(t, span.SpanContext().TraceID(), got.TraceID(),
		"the consumer must join the producer's trace")
}

func TestExtractTraceContextWithoutHeaders(t *testing.T) {
	ctx := ExtractTraceContext(context.Background(), nil)
	assert.False(t, trace.SpanContextFromContext(ctx).IsValid())
}
