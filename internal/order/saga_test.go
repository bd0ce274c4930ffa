package order

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangyingjie930/nexus-commerce/internal/apperr"
	"github.com/wangyingjie930/nexus-commerce/internal/billing"
	"github.com/wangyingjie930/nexus-commerce/internal/logger"
	"github.com/wangyingjie930/nexus-commerce/internal/outbox"
)

func init() {
	logger.Init("order-test")
}

type stubInventory struct {
	mu           sync.Mutex
	reserveErr   error
	releaseErr   error
	reserveCalls int
	releaseCalls int
	held         bool
}

func (s *stubInventory) Reserve(_ context.Context, _ string, _ []Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserveCalls++
	if s.reserveErr != nil {
		return s.reserveErr
	}
	s.held = true
	return nil
}

func (s *stubInventory) Release(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseCalls++
	if s.releaseErr != nil {
		return s.releaseErr
	}
	s.held = false
	return nil
}

type stubBilling struct {
	mu      sync.Mutex
	result  *ChargeResult
	err     error
	calls   int
	lastKey string
}

func (s *stubBilling) Charge(_ context.Context, orderID string, _ int64, idempotencyKey string) (*ChargeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastKey = idempotencyKey
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &ChargeResult{Status: billing.StatusApproved, ReferenceID: "ref-" + orderID}, nil
}

type fixture struct {
	events      *outbox.MemoryStore
	store       *MemoryStore
	inventory   *stubInventory
	billing     *stubBilling
	coordinator *Coordinator
}

func newFixture() *fixture {
	events := outbox.NewMemoryStore()
	store := NewMemoryStore(events)
	inv := &stubInventory{}
	bil := &stubBilling{}
	return &fixture{
		events:      events,
		store:       store,
		inventory:   inv,
		billing:     bil,
		coordinator: NewCoordinator(store, inv, bil),
	}
}

func (f *fixture) pendingEvents(t *testing.T) []string {
	t.Helper()
	msgs, err := f.events.FindPendingMessages(context.Background(), 100)
	require.NoError(t, err)
	var types []string
	for _, m := range msgs {
		var evt Event
		require.NoError(t, json.Unmarshal(m.Payload, &evt))
		types = append(types, evt.Type)
	}
	return types
}

func someItems() []Item {
	return []Item{{SKU: "widget", Qty: 2}}
}

func TestPlaceOrderHappyPath(t *testing.T) {
	f := newFixture()

	o, err := f.coordinator.PlaceOrder(context.Background(), someItems(), 1999)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, o.Status)
	assert.NotEmpty(t, o.ID)

	assert.Equal(t, 1, f.inventory.reserveCalls)
	assert.Equal(t, 0, f.inventory.releaseCalls)
	assert.Equal(t, 1, f.billing.calls)
	assert.Equal(t, "charge-"+o.ID, f.billing.lastKey)

	stored, err := f.store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, stored.Status)

	assert.Equal(t, []string{EventOrderPaid}, f.pendingEvents(t))
}

func TestPlaceOrderChargeDeclined(t *testing.T) {
	f := newFixture()
	f.billing.result = &ChargeResult{Status: billing.StatusDeclined, Reason: "over limit"}

	o, err := f.coordinator.PlaceOrder(context.Background(), someItems(), 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, o.Status)
	assert.Equal(t, "over limit", o.Reason)

	assert.Equal(t, 1, f.inventory.releaseCalls, "reservation must be released after the decline")
	assert.False(t, f.inventory.held, "no reservation may remain held")
	assert.Equal(t, []string{EventOrderFailed}, f.pendingEvents(t))
}

func TestPlaceOrderInsufficientStock(t *testing.T) {
	f := newFixture()
	f.inventory.reserveErr = apperr.Rejectedf("insufficient stock for sku widget")

	o, err := f.coordinator.PlaceOrder(context.Background(), someItems(), 1999)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, o.Status)
	assert.Contains(t, o.Reason, "insufficient stock")

	assert.Equal(t, 0, f.billing.calls, "billing must never be called when reservation fails")
	assert.Equal(t, 0, f.inventory.releaseCalls, "nothing was reserved, nothing to release")
}

func TestPlaceOrderInventoryUnavailable(t *testing.T) {
	f := newFixture()
	f.inventory.reserveErr = apperr.Unavailable(nil, "inventory timed out")

	o, err := f.coordinator.PlaceOrder(context.Background(), someItems(), 1999)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, o.Status)

	// The reserve answer was lost, so a release is issued to cover the
	// case where the reservation landed anyway.
	assert.Equal(t, 1, f.inventory.releaseCalls)
	assert.Equal(t, 0, f.billing.calls)
}

func TestPlaceOrderBillingUnavailableReleasesReservation(t *testing.T) {
	f := newFixture()
	f.billing.err = apperr.Unavailable(nil, "billing exhausted retries")

	o, err := f.coordinator.PlaceOrder(context.Background(), someItems(), 1999)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, o.Status)
	assert.Equal(t, 1, f.inventory.releaseCalls)
	assert.False(t, f.inventory.held)
}

func TestPlaceOrderValidationIsFailFast(t *testing.T) {
	f := newFixture()

	cases := []struct {
		name   string
		items  []Item
		amount int64
	}{
		{"no items", nil, 1999},
		{"zero qty", []Item{{SKU: "widget", Qty: 0}}, 1999},
		{"missing sku", []Item{{Qty: 1}}, 1999},
		{"zero amount", someItems(), 0},
		{"negative amount", someItems(), -5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.coordinator.PlaceOrder(context.Background(), tc.items, tc.amount)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindValidation))
		})
	}

	assert.Equal(t, 0, f.inventory.reserveCalls, "invalid requests must not reach inventory")
	assert.Equal(t, 0, f.billing.calls, "invalid requests must not reach billing")

	orders, err := f.store.ListInStatus(context.Background(), StatusNew, StatusReserving, StatusReserved, StatusCharging, StatusPaid, StatusFailed)
	require.NoError(t, err)
	assert.Empty(t, orders, "invalid requests must not persist orders")
}

func TestReleaseFailureLeavesSagaInFlight(t *testing.T) {
	f := newFixture()
	f.billing.result = &ChargeResult{Status: billing.StatusDeclined, Reason: "declined"}
	f.inventory.releaseErr = apperr.Unavailable(nil, "inventory down")

	_, err := f.coordinator.PlaceOrder(context.Background(), someItems(), 1999)
	require.Error(t, err)

	// The order must not reach a terminal state while the reservation is
	// still held, or the reservation would be orphaned.
	inflight, err := f.store.ListInStatus(context.Background(), StatusCharging)
	require.NoError(t, err)
	require.Len(t, inflight, 1)
	assert.True(t, f.inventory.held)

	// Recovery finishes the compensation once inventory is reachable.
	f.inventory.releaseErr = nil
	require.NoError(t, f.coordinator.Recover(context.Background()))

	o, err := f.store.Get(context.Background(), inflight[0].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, o.Status)
	assert.False(t, f.inventory.held)
}

func TestRecoverResumesChargingWithSameKey(t *testing.T) {
	f := newFixture()

	// A crash after the CHARGING transition but before the verdict was
	// recorded leaves the order here.
	o := &Order{ID: "order-1", Status: StatusNew, AmountCents: 1999, Items: someItems()}
	require.NoError(t, f.store.Create(context.Background(), o))
	require.NoError(t, f.store.Transition(context.Background(), o.ID, StatusNew, StatusReserving, ""))
	require.NoError(t, f.store.Transition(context.Background(), o.ID, StatusReserving, StatusReserved, ""))
	require.NoError(t, f.store.Transition(context.Background(), o.ID, StatusReserved, StatusCharging, ""))

	require.NoError(t, f.coordinator.Recover(context.Background()))

	recovered, err := f.store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, recovered.Status)
	assert.Equal(t, "charge-order-1", f.billing.lastKey, "recovery must reuse the original idempotency key")
}

func TestCancelOrder(t *testing.T) {
	f := newFixture()

	o := &Order{ID: "order-2", Status: StatusNew, AmountCents: 500, Items: someItems()}
	require.NoError(t, f.store.Create(context.Background(), o))

	canceled, err := f.coordinator.CancelOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, canceled.Status)

	// A canceled order never enters fulfillment.
	require.NoError(t, f.coordinator.Recover(context.Background()))
	assert.Equal(t, 0, f.inventory.reserveCalls)
}

func TestCancelOrderAfterFulfillmentStarted(t *testing.T) {
	f := newFixture()

	o, err := f.coordinator.PlaceOrder(context.Background(), someItems(), 1999)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, o.Status)

	_, err = f.coordinator.CancelOrder(context.Background(), o.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindRejection))

	stored, err := f.store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, stored.Status)
}

func TestGetOrderUnknown(t *testing.T) {
	f := newFixture()
	_, err := f.coordinator.GetOrder(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, CanTransition(StatusNew, StatusReserving))
	assert.True(t, CanTransition(StatusNew, StatusCanceled))
	assert.True(t, CanTransition(StatusCharging, StatusPaid))
	assert.True(t, CanTransition(StatusPaid, StatusShipped))

	assert.False(t, CanTransition(StatusPaid, StatusCanceled))
	assert.False(t, CanTransition(StatusShipped, StatusPaid))
	assert.False(t, CanTransition(StatusFailed, StatusReserving))
	assert.False(t, CanTransition(StatusNew, StatusPaid))

	for _, s := range []Status{StatusShipped, StatusCanceled, StatusFailed} {
		assert.True(t, s.Terminal())
	}
	for _, s := range []Status{StatusNew, StatusReserving, StatusCharging, StatusPaid} {
		assert.False(t, s.Terminal())
	}
}
