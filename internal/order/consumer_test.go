package order

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangyingjie930/nexus-commerce/internal/constants"
	"github.com/wangyingjie930/nexus-commerce/internal/outbox"
)

var errDrained = errors.New("no more messages")

// fakeFetcher replays a fixed batch and then reports errDrained so Run
// returns deterministically.
type fakeFetcher struct {
	msgs      []kafka.Message
	committed []kafka.Message
}

func (f *fakeFetcher) FetchMessage(_ context.Context) (kafka.Message, error) {
	if len(f.msgs) == 0 {
		return kafka.Message{}, errDrained
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeFetcher) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.committed = append(f.committed, msgs...)
	return nil
}

func shippingMessage(t *testing.T, evt ShippingEvent) kafka.Message {
	t.Helper()
	payload, err := json.Marshal(evt)
	require.NoError(t, err)
	return kafka.Message{Topic: constants.ShippingEventsTopic, Value: payload}
}

func paidOrder(t *testing.T, store Store, id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &Order{ID: id, Status: StatusNew, AmountCents: 100, Items: someItems()}))
	require.NoError(t, store.Transition(ctx, id, StatusNew, StatusReserving, ""))
	require.NoError(t, store.Transition(ctx, id, StatusReserving, StatusReserved, ""))
	require.NoError(t, store.Transition(ctx, id, StatusReserved, StatusCharging, ""))
	require.NoError(t, store.Transition(ctx, id, StatusCharging, StatusPaid, ""))
}

func TestShippingConsumerMarksOrderShipped(t *testing.T) {
	events := outbox.NewMemoryStore()
	store := NewMemoryStore(events)
	paidOrder(t, store, "order-1")

	fetcher := &fakeFetcher{msgs: []kafka.Message{
		shippingMessage(t, ShippingEvent{OrderID: "order-1", TrackingID: "trk-9"}),
	}}
	consumer := NewShippingConsumer(fetcher, store, nil)

	err := consumer.Run(context.Background())
	require.ErrorIs(t, err, errDrained)

	o, err := store.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, o.Status)
	assert.Len(t, fetcher.committed, 1)
}

func TestShippingConsumerIsIdempotent(t *testing.T) {
	events := outbox.NewMemoryStore()
	store := NewMemoryStore(events)
	paidOrder(t, store, "order-1")

	evt := shippingMessage(t, ShippingEvent{OrderID: "order-1"})
	fetcher := &fakeFetcher{msgs: []kafka.Message{evt, evt, evt}}
	consumer := NewShippingConsumer(fetcher, store, nil)

	err := consumer.Run(context.Background())
	require.ErrorIs(t, err, errDrained)

	o, err := store.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, o.Status)
	// All deliveries acknowledged, only one shipped event staged.
	assert.Len(t, fetcher.committed, 3)
	msgs, err := events.FindPendingMessages(context.Background(), 100)
	require.NoError(t, err)
	var shipped int
	for _, m := range msgs {
		var e Event
		require.NoError(t, json.Unmarshal(m.Payload, &e))
		if e.Type == EventOrderShipped {
			shipped++
		}
	}
	assert.Equal(t, 1, shipped)
}

func TestShippingConsumerSkipsBadMessages(t *testing.T) {
	events := outbox.NewMemoryStore()
	store := NewMemoryStore(events)
	paidOrder(t, store, "order-1")

	fetcher := &fakeFetcher{msgs: []kafka.Message{
		{Topic: constants.ShippingEventsTopic, Value: []byte("not json")},
		shippingMessage(t, ShippingEvent{OrderID: ""}),
		shippingMessage(t, ShippingEvent{OrderID: "ghost"}),
		shippingMessage(t, ShippingEvent{OrderID: "order-1"}),
	}}
	consumer := NewShippingConsumer(fetcher, store, nil)

	err := consumer.Run(context.Background())
	require.ErrorIs(t, err, errDrained)

	o, err := store.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, o.Status)
	assert.Len(t, fetcher.committed, 4, "bad messages are acknowledged, not redelivered forever")
}

func TestShippingConsumerIgnoresUnpaidOrders(t *testing.T) {
	events := outbox.NewMemoryStore()
	store := NewMemoryStore(events)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &Order{ID: "order-1", Status: StatusNew, AmountCents: 100, Items: someItems()}))

	fetcher := &fakeFetcher{msgs: []kafka.Message{
		shippingMessage(t, ShippingEvent{OrderID: "order-1"}),
	}}
	consumer := NewShippingConsumer(fetcher, store, nil)

	err := consumer.Run(context.Background())
	require.ErrorIs(t, err, errDrained)

	o, err := store.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, StatusNew, o.Status, "an order that never paid must not ship")
}

// failingStore simulates a transient persistence outage.
type failingStore struct {
	Store
	err error
}

func (f failingStore) Get(context.Context, string) (*Order, error) {
	return nil, f.err
}

func TestShippingConsumerDoesNotCommitOnTransientFailure(t *testing.T) {
	events := outbox.NewMemoryStore()
	store := NewMemoryStore(events)
	paidOrder(t, store, "order-1")

	fetcher := &fakeFetcher{msgs: []kafka.Message{
		shippingMessage(t, ShippingEvent{OrderID: "order-1"}),
	}}
	consumer := NewShippingConsumer(fetcher, failingStore{Store: store, err: errors.New("db down")}, nil)

	err := consumer.Run(context.Background())
	require.ErrorIs(t, err, errDrained)

	// Without a retry/DLT path the offset must stay uncommitted so the
	// event is redelivered once the store recovers.
	assert.Empty(t, fetcher.committed)

	o, err := store.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, o.Status)
}
