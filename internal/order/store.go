package order

import (
	"context"
	"sync"

	"gorm.io/gorm"

	"github.com/wangyingjie930/nexus-commerce/internal/apperr"
	"github.com/wangyingjie930/nexus-commerce/internal/outbox"
)

// Store persists orders and, crucially, performs each saga status change
// and its outbox events as one atomic write. That single property is what
// lets a crashed coordinator resume from the persisted state without losing
// or duplicating events.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// Transition moves id from `from` to `to` if and only if the stored
	// status still equals `from` and the step is legal, staging events
	// atomically with the change. A stale `from` yields KindRejection so
	// racing callers (cancel vs. saga) get a clean verdict.
	Transition(ctx context.Context, id string, from, to Status, reason string, events ...outbox.Message) error
	// ListInStatus returns orders currently in any of the given statuses,
	// used by crash recovery to find in-flight sagas.
	ListInStatus(ctx context.Context, statuses ...Status) ([]Order, error)
}

// --- in-memory store ---

type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]*Order
	events outbox.Store
}

func NewMemoryStore(events outbox.Store) *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*Order),
		events: events,
	}
}

func (s *MemoryStore) Create(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[o.ID]; exists {
		return apperr.Invariantf("order %s already exists", o.ID)
	}
	stored := *o
	s.orders[o.ID] = &stored
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperr.NotFoundf("order %q not found", id)
	}
	copied := *o
	return &copied, nil
}

func (s *MemoryStore) Transition(ctx context.Context, id string, from, to Status, reason string, events ...outbox.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return apperr.NotFoundf("order %q not found", id)
	}
	if !CanTransition(from, to) {
		return apperr.Invariantf("illegal order transition %s -> %s", from, to)
	}
	if o.Status != from {
		return apperr.Rejectedf("order %s is %s, expected %s", id, o.Status, from)
	}
	o.Status = to
	if reason != "" {
		o.Reason = reason
	}
	for i := range events {
		if err := s.events.CreateInTx(ctx, nil, &events[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) ListInStatus(_ context.Context, statuses ...Status) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Order
	for _, o := range s.orders {
		for _, status := range statuses {
			if o.Status == status {
				out = append(out, *o)
				break
			}
		}
	}
	return out, nil
}

// --- gorm store ---

type GormStore struct {
	db     *gorm.DB
	events outbox.Store
}

// NewGormStore wires the order table and the outbox to the same database,
// so Transition can cover both in one transaction.
func NewGormStore(db *gorm.DB, events outbox.Store) (*GormStore, error) {
	if err := db.AutoMigrate(&Order{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, events: events}, nil
}

func (s *GormStore) Create(ctx context.Context, o *Order) error {
	return s.db.WithContext(ctx).Create(o).Error
}

func (s *GormStore) Get(ctx context.Context, id string) (*Order, error) {
	var o Order
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&o).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.NotFoundf("order %q not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *GormStore) Transition(ctx context.Context, id string, from, to Status, reason string, events ...outbox.Message) error {
	if !CanTransition(from, to) {
		return apperr.Invariantf("illegal order transition %s -> %s", from, to)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{"status": to}
		if reason != "" {
			updates["reason"] = reason
		}
		res := tx.Model(&Order{}).
			Where("id = ? AND status = ?", id, from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			current, err := s.Get(ctx, id)
			if err != nil {
				return err
			}
			return apperr.Rejectedf("order %s is %s, expected %s", id, current.Status, from)
		}
		for i := range events {
			if err := s.events.CreateInTx(ctx, tx, &events[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormStore) ListInStatus(ctx context.Context, statuses ...Status) ([]Order, error) {
	var out []Order
	err := s.db.WithContext(ctx).Where("status IN ?", statuses).Find(&out).Error
	return out, err
}
