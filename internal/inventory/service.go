package inventory

import (
	"context"

	"github.com/wangyingjie930/nexus-commerce/internal/apperr"
	"github.com/wangyingjie930/nexus-commerce/internal/logger"
)

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Reserve holds stock for every item of the order, or nothing at all.
// Re-reserving an order that already holds reservations returns the existing
// rows: callers retry after timeouts, and the second request must not take
// stock twice.
func (s *Service) Reserve(ctx context.Context, orderID string, items []Item) ([]Reservation, error) {
	if orderID == "" {
		return nil, apperr.Validationf("order_id is required")
	}
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

	existing, err := s.store.ReservationsForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if held := activeOnly(existing); len(held) > 0 {
		logger.Ctx(ctx).Info().Str("order_id", orderID).Msg("replaying existing reservation")
		return held, nil
	}

	reservations, err := s.store.CreateReservations(ctx, orderID, items)
	if err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("order_id", orderID).Int("items", len(reservations)).Msg("stock reserved")
	return reservations, nil
}

// Release frees whatever the order still holds. Releasing an order with no
// active reservation is a no-op success: compensating actions must be safely
// retriable.
func (s *Service) Release(ctx context.Context, orderID string) (int, error) {
	if orderID == "" {
		return 0, apperr.Validationf("order_id is required")
	}
	released, err := s.store.ReleaseReservations(ctx, orderID)
	if err != nil {
		return 0, err
	}
	if released > 0 {
		logger.Ctx(ctx).Info().Str("order_id", orderID).Int("released", released).Msg("reservation released")
	}
	return released, nil
}

// StockLevel is the read-only stock query.
func (s *Service) StockLevel(ctx context.Context, sku string) (int, error) {
	if sku == "" {
		return 0, apperr.Validationf("sku is required")
	}
	return s.store.StockLevel(ctx, sku)
}

func activeOnly(rows []Reservation) []Reservation {
	var out []Reservation
	for _, r := range rows {
		if r.State == StateReserved {
			out = append(out, r)
		}
	}
	return out
}
