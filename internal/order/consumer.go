package order

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wangyingjie930/nexus-commerce/internal/apperr"
	"github.com/wangyingjie930/nexus-commerce/internal/logger"
	"github.com/wangyingjie930/nexus-commerce/internal/mq"
)

// MessageFetcher is the slice of kafka.Reader the consumer needs. Tests
// substitute an in-memory fetcher.
type MessageFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// ShippingEvent is what the shipping system publishes once a paid order
// leaves the warehouse.
type ShippingEvent struct {
	OrderID    string `json:"order_id"`
	Status     string `json:"status,omitempty"`
	TrackingID string `json:"tracking_id,omitempty"`
}

// statusDelivered is the only carrier status that moves an order forward.
const statusDelivered = "DELIVERED_TO_CARRIER"

// ShippingConsumer moves orders from PAID to SHIPPED as shipping events
// arrive. Processing is idempotent: a redelivered event for an order that
// already shipped is acknowledged without effect.
type ShippingConsumer struct {
	reader  MessageFetcher
	store   Store
	failure *mq.FailureHandler
}

func NewShippingConsumer(reader MessageFetcher, store Store, failure *mq.FailureHandler) *ShippingConsumer {
	return &ShippingConsumer{reader: reader, store: store, failure: failure}
}

// Run consumes until ctx is canceled.
func (c *ShippingConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
		msgCtx, span := otel.Tracer("shipping-consumer").Start(msgCtx, "HandleShippingEvent",
			trace.WithSpanKind(trace.SpanKindConsumer))

		if err := c.handle(msgCtx, msg); err != nil {
			logger.Ctx(msgCtx).Error().Err(err).Str("topic", msg.Topic).Msg("shipping event processing failed")
			if c.failure == nil {
				// Nowhere to reroute: leave the offset uncommitted so the
				// event is redelivered instead of silently dropped.
				span.End()
				continue
			}
			c.failure.Handle(msgCtx, msg, err)
		}
		span.End()

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(msgCtx).Error().Err(err).Msg("commit failed")
		}
	}
}

func (c *ShippingConsumer) handle(ctx context.Context, msg kafka.Message) error {
	var evt ShippingEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		// Malformed payloads never become processable; drop, don't retry.
		logger.Ctx(ctx).Warn().Err(err).Msg("dropping malformed shipping event")
		return nil
	}
	if evt.OrderID == "" {
		logger.Ctx(ctx).Warn().Msg("dropping shipping event without order_id")
		return nil
	}
	if evt.Status != "" && evt.Status != statusDelivered {
		return nil
	}

	o, err := c.store.Get(ctx, evt.OrderID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			logger.Ctx(ctx).Warn().Str("order_id", evt.OrderID).Msg("shipping event for unknown order")
			return nil
		}
		return err
	}
	if o.Status == StatusShipped {
		return nil
	}
	if o.Status != StatusPaid {
		logger.Ctx(ctx).Warn().Str("order_id", o.ID).Str("status", string(o.Status)).Msg("shipping event for order that is not paid")
		return nil
	}

	o.Status = StatusShipped
	if err := c.store.Transition(ctx, o.ID, StatusPaid, StatusShipped, "",
		newEventMessage(EventOrderShipped, o)); err != nil {
		if apperr.Is(err, apperr.KindRejection) {
			// Lost a race with a concurrent consumer; the order shipped.
			return nil
		}
		return err
	}
	logger.Ctx(ctx).Info().Str("order_id", o.ID).Str("tracking_id", evt.TrackingID).Msg("order shipped")
	return nil
}
