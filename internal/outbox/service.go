// Package outbox implements the transactional outbox: business code stages
// events in its own database transaction, and a background forwarder
// publishes them to Kafka. A crashed process loses nothing; pending rows are
// picked up on the next cycle.
package outbox

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/wangyingjie930/nexus-commerce/internal/logger"
	"github.com/wangyingjie930/nexus-commerce/internal/mq"
)

// maxForwardRetries before a message is parked as FAILED and left for
// operator inspection.
const maxForwardRetries = 10

// Publisher hands a staged message to the broker.
type Publisher interface {
	Publish(ctx context.Context, msg *Message) error
}

// KafkaPublisher publishes messages on their staged topic through a single
// shared writer.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg *Message) error {
	kafkaMsg := kafka.Message{
		Topic: msg.Topic,
		Key:   []byte(msg.Key),
		Value: msg.Payload,
	}
	mq.InjectTraceContext(ctx, &kafkaMsg.Headers)
	return p.writer.WriteMessages(ctx, kafkaMsg)
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// Service is the core transactional-message logic shared by the staging and
// forwarding sides.
type Service struct {
	store     Store
	publisher Publisher
}

func NewService(store Store, publisher Publisher) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
	}
}

// StageInTx records a message inside the caller's database transaction.
// This is the method business code calls.
func (s *Service) StageInTx(ctx context.Context, tx *gorm.DB, topic, key string, payload []byte) error {
	msg := &Message{
		Topic:   topic,
		Key:     key,
		Payload: payload,
		Status:  StatusPending,
	}
	return s.store.CreateInTx(ctx, tx, msg)
}

// ForwardPendingMessages publishes a batch of pending messages and records
// each outcome. Called periodically by the Forwarder.
func (s *Service) ForwardPendingMessages(ctx context.Context) error {
	log := logger.Ctx(ctx)

	messages, err := s.store.FindPendingMessages(ctx, 100)
	if err != nil {
		log.Error().Err(err).Msg("failed to find pending messages")
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	log.Info().Int("count", len(messages)).Msg("found pending outbox messages to forward")

	tracer := otel.Tracer("outbox-forwarder")
	for _, msg := range messages {
		spanCtx, span := tracer.Start(ctx, "forward_message")
		err := s.publisher.Publish(spanCtx, msg)
		span.End()

		if err != nil {
			log.Error().Err(err).Int64("msg_id", msg.ID).Msg("failed to publish outbox message")
			if msg.RetryCount+1 >= maxForwardRetries {
				_ = s.store.UpdateStatus(ctx, msg.ID, StatusFailed, msg.RetryCount+1)
			} else {
				_ = s.store.UpdateStatus(ctx, msg.ID, StatusPending, msg.RetryCount+1)
			}
		} else {
			log.Info().Int64("msg_id", msg.ID).Str("topic", msg.Topic).Msg("forwarded outbox message")
			_ = s.store.UpdateStatus(ctx, msg.ID, StatusSent, msg.RetryCount)
		}
	}

	return nil
}
