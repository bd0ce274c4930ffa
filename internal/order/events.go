package order

import (
	"encoding/json"
	"time"

	"github.com/wangyingjie930/nexus-commerce/internal/constants"
	"github.com/wangyingjie930/nexus-commerce/internal/outbox"
)

// Event types published on the order events topic.
const (
	EventOrderPaid    = "order.paid"
	EventOrderFailed  = "order.failed"
	EventOrderShipped = "order.shipped"
)

// Event is the payload staged in the outbox whenever an order reaches a
// state other services care about.
type Event struct {
	Type        string    `json:"type"`
	OrderID     string    `json:"order_id"`
	Status      Status    `json:"status"`
	AmountCents int64     `json:"amount_cents"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func newEventMessage(eventType string, o *Order) outbox.Message {
	payload, _ := json.Marshal(Event{
		Type:        eventType,
		OrderID:     o.ID,
		Status:      o.Status,
		AmountCents: o.AmountCents,
		Reason:      o.Reason,
		OccurredAt:  time.Now().UTC(),
	})
	return outbox.Message{
		Topic:   constants.OrderEventsTopic,
		Key:     o.ID,
		Payload: payload,
		Status:  outbox.StatusPending,
	}
}
