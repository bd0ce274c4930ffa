package order

import (
	"context"

	"github.com/google/uuid"

	"github.com/wangyingjie930/nexus-commerce/internal/apperr"
	"github.com/wangyingjie930/nexus-commerce/internal/billing"
	"github.com/wangyingjie930/nexus-commerce/internal/logger"
)

// Coordinator drives the fulfillment saga: reserve inventory, then charge
// billing, compensating with a release when a later step fails. Each step
// transition is persisted before the outbound call, so after a crash the
// saga resumes from wherever it stopped. The downstream operations are
// idempotent, replaying a step is safe.
//
// The central correctness property: every reservation is eventually either
// matched by a PAID order or released. An order is only left in an
// in-flight status (RESERVING/CHARGING) when the compensating release
// itself failed, and Recover retries exactly those.
type Coordinator struct {
	store     Store
	inventory InventoryClient
	billing   BillingClient
}

func NewCoordinator(store Store, inventoryClient InventoryClient, billingClient BillingClient) *Coordinator {
	return &Coordinator{
		store:     store,
		inventory: inventoryClient,
		billing:   billingClient,
	}
}

// PlaceOrder validates, persists a NEW order, and synchronously drives the
// saga to a stable state. Validation happens before any side effect: a bad
// request never touches the network.
func (c *Coordinator) PlaceOrder(ctx context.Context, items []Item, amountCents int64) (*Order, error) {
	if len(items) == 0 {
		return nil, apperr.Validationf("at least one item is required")
	}
	for _, it := range items {
		if it.SKU == "" {
			return nil, apperr.Validationf("item sku is required")
		}
		if it.Qty <= 0 {
			return nil, apperr.Validationf("item qty must be positive, got %d for sku %q", it.Qty, it.SKU)
		}
	}
	if amountCents <= 0 {
		return nil, apperr.Validationf("amount_cents must be positive, got %d", amountCents)
	}

	o := &Order{
		ID:          uuid.NewString(),
		Status:      StatusNew,
		AmountCents: amountCents,
		Items:       items,
	}
	if err := c.store.Create(ctx, o); err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("order_id", o.ID).Int64("amount_cents", amountCents).Msg("order placed")

	return c.run(ctx, o)
}

// GetOrder is the read-only status query.
func (c *Coordinator) GetOrder(ctx context.Context, id string) (*Order, error) {
	if id == "" {
		return nil, apperr.Validationf("order id is required")
	}
	return c.store.Get(ctx, id)
}

// CancelOrder cancels an order that has not started fulfillment. Once the
// saga is running the outcome is decided by the saga, not the client.
func (c *Coordinator) CancelOrder(ctx context.Context, id string) (*Order, error) {
	o, err := c.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusNew {
		return nil, apperr.Rejectedf("order %s is %s and can no longer be canceled", id, o.Status)
	}
	if err := c.store.Transition(ctx, id, StatusNew, StatusCanceled, "canceled by client"); err != nil {
		return nil, err
	}
	o.Status = StatusCanceled
	o.Reason = "canceled by client"
	return o, nil
}

// Recover resumes every saga the previous process left in flight. Replaying
// a step is safe: reserve replays the order's existing reservation, and the
// charge carries the same idempotency key as the original attempt, so the
// recorded verdict is returned instead of charging twice.
func (c *Coordinator) Recover(ctx context.Context) error {
	stale, err := c.store.ListInStatus(ctx, StatusNew, StatusReserving, StatusReserved, StatusCharging)
	if err != nil {
		return err
	}
	for i := range stale {
		o := stale[i]
		logger.Ctx(ctx).Warn().Str("order_id", o.ID).Str("status", string(o.Status)).Msg("recovering in-flight saga")
		if _, err := c.run(ctx, &o); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("order_id", o.ID).Msg("saga recovery attempt failed, will retry on next run")
		}
	}
	return nil
}

// run advances the saga from the order's current status until it reaches a
// stable state. It returns an error only when the order could not be
// brought to one, i.e. a compensating release failed and the order stays
// in flight for Recover to pick up.
func (c *Coordinator) run(ctx context.Context, o *Order) (*Order, error) {
	log := logger.Ctx(ctx)

	for {
		switch o.Status {
		case StatusNew:
			if err := c.advance(o, StatusReserving, ""); err != nil {
				return nil, err
			}
			if err := c.store.Transition(ctx, o.ID, StatusNew, StatusReserving, ""); err != nil {
				return nil, err
			}

		case StatusReserving:
			err := c.inventory.Reserve(ctx, o.ID, o.Items)
			switch {
			case err == nil:
				if err := c.store.Transition(ctx, o.ID, StatusReserving, StatusReserved, ""); err != nil {
					return nil, err
				}
				o.Status = StatusReserved
			case apperr.Is(err, apperr.KindUnavailable):
				// The reservation may have landed downstream even though
				// we never saw the answer. Release before failing; if the
				// release also fails, stay in RESERVING so recovery
				// finishes the compensation later.
				if relErr := c.inventory.Release(ctx, o.ID); relErr != nil {
					log.Error().Err(relErr).Str("order_id", o.ID).Msg("compensating release failed, leaving saga in flight")
					return nil, relErr
				}
				return c.fail(ctx, o, StatusReserving, "inventory unavailable")
			default:
				// Insufficient stock (or a validation verdict): nothing
				// was reserved, billing is never called.
				return c.fail(ctx, o, StatusReserving, err.Error())
			}

		case StatusReserved:
			if err := c.store.Transition(ctx, o.ID, StatusReserved, StatusCharging, ""); err != nil {
				return nil, err
			}
			o.Status = StatusCharging

		case StatusCharging:
			result, err := c.billing.Charge(ctx, o.ID, o.AmountCents, "charge-"+o.ID)
			if err != nil {
				// Exhausted retries count the same as a decline for
				// compensation purposes: always attempt the release.
				return c.compensateAndFail(ctx, o, "billing unavailable")
			}
			if result.Status != billing.StatusApproved {
				reason := result.Reason
				if reason == "" {
					reason = "charge declined"
				}
				return c.compensateAndFail(ctx, o, reason)
			}
			o.Status = StatusPaid
			if err := c.store.Transition(ctx, o.ID, StatusCharging, StatusPaid, "",
				newEventMessage(EventOrderPaid, o)); err != nil {
				o.Status = StatusCharging
				return nil, err
			}
			log.Info().Str("order_id", o.ID).Str("charge_ref", result.ReferenceID).Msg("order paid")
			return o, nil

		default:
			// PAID or a terminal status: nothing left to drive.
			return o, nil
		}
	}
}

// compensateAndFail releases the order's reservation and marks the order
// FAILED. A failed release keeps the order in flight instead of orphaning
// the reservation.
func (c *Coordinator) compensateAndFail(ctx context.Context, o *Order, reason string) (*Order, error) {
	if err := c.inventory.Release(ctx, o.ID); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", o.ID).Msg("compensating release failed, leaving saga in flight")
		return nil, err
	}
	return c.fail(ctx, o, StatusCharging, reason)
}

func (c *Coordinator) fail(ctx context.Context, o *Order, from Status, reason string) (*Order, error) {
	o.Status = StatusFailed
	o.Reason = reason
	if err := c.store.Transition(ctx, o.ID, from, StatusFailed, reason,
		newEventMessage(EventOrderFailed, o)); err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("order_id", o.ID).Str("reason", reason).Msg("order failed")
	return o, nil
}

func (c *Coordinator) advance(o *Order, to Status, reason string) error {
	if !CanTransition(o.Status, to) {
		return apperr.Invariantf("illegal order transition %s -> %s", o.Status, to)
	}
	o.Status = to
	if reason != "" {
		o.Reason = reason
	}
	return nil
}
