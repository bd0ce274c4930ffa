package mq

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/wangyingjie930/nexus-commerce/internal/logger"
)

// KafkaHeaderCarrier adapts kafka message headers to the OpenTelemetry
// TextMapCarrier interface so trace context survives the broker hop.
type KafkaHeaderCarrier []kafka.Header

func (c KafkaHeaderCarrier) Get(key string) string {
	for _, h := range c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *KafkaHeaderCarrier) Set(key, value string) {
	for i := range *c {
		if (*c)[i].Key == key {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c KafkaHeaderCarrier) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = h.Key
	}
	return keys
}

// NewKafkaWriter creates an async producer tuned for batched throughput.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		Async:        true,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// NewKafkaReader creates a consumer-group reader.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        groupID,
		Topic:          topic,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
	})
}

// InjectTraceContext writes the current trace context into the headers.
func InjectTraceContext(ctx context.Context, headers *[]kafka.Header) {
	propagator := otel.GetTextMapPropagator()
	carrier := KafkaHeaderCarrier(*headers)
	propagator.Inject(ctx, &carrier)
	*headers = carrier
}

// ExtractTraceContext restores the trace context carried in the headers.
func ExtractTraceContext(ctx context.Context, headers []kafka.Header) context.Context {
	propagator := otel.GetTextMapPropagator()
	carrier := KafkaHeaderCarrier(headers)
	return propagator.Extract(ctx, &carrier)
}

// ProduceMessage publishes one message with the trace context injected.
func ProduceMessage(ctx context.Context, writer *kafka.Writer, key, value []byte) error {
	msg := kafka.Message{
		Key:   key,
		Value: value,
	}
	InjectTraceContext(ctx, &msg.Headers)

	logger.Ctx(ctx).Printf("Producing message to Kafka topic '%s', trace context injected.", writer.Topic)

	return writer.WriteMessages(ctx, msg)
}
