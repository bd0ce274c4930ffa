package billing

import (
	"context"

	"github.com/google/uuid"

	"github.com/wangyingjie930/nexus-commerce/internal/apperr"
	"github.com/wangyingjie930/nexus-commerce/internal/logger"
)

// Approver decides a charge attempt. Swappable so tests (and one day a real
// payment gateway) can control the verdict.
type Approver func(orderID string, amountCents int64) (approved bool, reason string)

// LimitApprover approves every charge up to maxCents; 0 means no ceiling.
func LimitApprover(maxCents int64) Approver {
	return func(_ string, amountCents int64) (bool, string) {
		if maxCents > 0 && amountCents > maxCents {
			return false, "amount exceeds charge limit"
		}
		return true, ""
	}
}

type Service struct {
	store    Store
	approver Approver
}

func NewService(store Store, approver Approver) *Service {
	if approver == nil {
		approver = LimitApprover(0)
	}
	return &Service{store: store, approver: approver}
}

// Charge decides and records one charge attempt. If a record already exists
// for (orderID, idempotencyKey) the stored outcome is returned verbatim and
// nothing new is written. An empty key gets a generated one, which
// effectively disables replay protection for that single attempt.
func (s *Service) Charge(ctx context.Context, orderID string, amountCents int64, idempotencyKey string) (*ChargeRecord, error) {
	if orderID == "" {
		return nil, apperr.Validationf("order_id is required")
	}
	if amountCents <= 0 {
		return nil, apperr.Validationf("amount_cents must be positive, got %d", amountCents)
	}
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	if existing, err := s.store.FindByKey(ctx, orderID, idempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		logger.Ctx(ctx).Info().
			Str("order_id", orderID).
			Str("reference_id", existing.ReferenceID).
			Msg("replaying recorded charge outcome")
		return existing, nil
	}

	approved, reason := s.approver(orderID, amountCents)
	record := &ChargeRecord{
		OrderID:        orderID,
		IdempotencyKey: idempotencyKey,
		AmountCents:    amountCents,
		ReferenceID:    uuid.NewString(),
		Reason:         reason,
	}
	if approved {
		record.Status = StatusApproved
	} else {
		record.Status = StatusDeclined
	}

	if err := s.store.Create(ctx, record); err != nil {
		if err == errDuplicate {
			// Lost the insert race to a concurrent retry; its outcome wins.
			return s.store.FindByKey(ctx, orderID, idempotencyKey)
		}
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("order_id", orderID).
		Str("status", string(record.Status)).
		Int64("amount_cents", amountCents).
		Msg("charge recorded")
	return record, nil
}

// ChargesForOrder is the read-only ledger query.
func (s *Service) ChargesForOrder(ctx context.Context, orderID string) ([]ChargeRecord, error) {
	if orderID == "" {
		return nil, apperr.Validationf("order_id is required")
	}
	return s.store.FindByOrder(ctx, orderID)
}
