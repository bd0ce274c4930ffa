package inventory

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/wangyingjie930/nexus-commerce/internal/apperr"
)

// errDuplicateReservation signals a lost insert race on (order_id, sku);
// the store reacts by returning what the winner recorded.
var errDuplicateReservation = errors.New("reservation already exists")

// Store is the persistence boundary of the inventory service.
type Store interface {
	// StockLevel returns the available quantity for a SKU.
	StockLevel(ctx context.Context, sku string) (int, error)
	// ReservationsForOrder returns all reservations referencing orderID.
	ReservationsForOrder(ctx context.Context, orderID string) ([]Reservation, error)
	// CreateReservations decrements stock and records RESERVED rows for
	// every item, or does nothing at all if any single item is short
	// (KindRejection) or unknown (KindRejection as well: the order cannot
	// be fulfilled either way). Re-invoking for an order that already
	// holds active reservations replays them without taking stock again,
	// even under concurrent calls.
	CreateReservations(ctx context.Context, orderID string, items []Item) ([]Reservation, error)
	// ReleaseReservations returns held quantities to stock and flips the
	// rows to RELEASED. Idempotent: already-released or missing
	// reservations are a no-op.
	ReleaseReservations(ctx context.Context, orderID string) (int, error)
}

// --- in-memory store ---

// skuCell is one SKU's stock, guarded by its own lock.
type skuCell struct {
	mu        sync.Mutex
	available int
}

// MemoryStore keeps each SKU's stock in its own locked cell instead of
// behind one global mutex, so concurrent reservations for unrelated SKUs do
// not contend. Multi-SKU requests take their cell locks in sorted SKU order
// to stay deadlock-free, and cell locks are always acquired before the
// reservation-map lock.
type MemoryStore struct {
	cells sync.Map // sku -> *skuCell

	mu           sync.RWMutex // guards the reservation map only
	reservations map[string][]*Reservation
	nextID       int64
}

func NewMemoryStore(initialStock map[string]int) *MemoryStore {
	s := &MemoryStore{
		reservations: make(map[string][]*Reservation),
	}
	for sku, qty := range initialStock {
		s.cells.Store(sku, &skuCell{available: qty})
	}
	return s
}

func (s *MemoryStore) cellFor(sku string) (*skuCell, bool) {
	c, ok := s.cells.Load(sku)
	if !ok {
		return nil, false
	}
	return c.(*skuCell), true
}

// lockCells acquires the per-SKU cell locks in deterministic order and
// returns them with the unlock function. Unknown SKUs reject the whole
// request before any lock is taken.
func (s *MemoryStore) lockCells(items []Item) (map[string]*skuCell, func(), error) {
	skus := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if !seen[it.SKU] {
			seen[it.SKU] = true
			skus = append(skus, it.SKU)
		}
	}
	sort.Strings(skus)

	cells := make(map[string]*skuCell, len(skus))
	for _, sku := range skus {
		cell, ok := s.cellFor(sku)
		if !ok {
			return nil, nil, apperr.Rejectedf("insufficient stock for sku %q", sku)
		}
		cells[sku] = cell
	}
	for _, sku := range skus {
		cells[sku].mu.Lock()
	}
	unlock := func() {
		for i := len(skus) - 1; i >= 0; i-- {
			cells[skus[i]].mu.Unlock()
		}
	}
	return cells, unlock, nil
}

func (s *MemoryStore) StockLevel(_ context.Context, sku string) (int, error) {
	cell, ok := s.cellFor(sku)
	if !ok {
		return 0, apperr.NotFoundf("unknown sku %q", sku)
	}
	cell.mu.Lock()
	defer cell.mu.Unlock()
	return cell.available, nil
}

func (s *MemoryStore) ReservationsForOrder(_ context.Context, orderID string) ([]Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.reservations[orderID]
	out := make([]Reservation, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	return out, nil
}

func (s *MemoryStore) CreateReservations(_ context.Context, orderID string, items []Item) ([]Reservation, error) {
	cells, unlock, err := s.lockCells(items)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Replay check under the same locks as the mutation: concurrent
	// reserves for one order serialize on the cell locks, so exactly one
	// caller creates and the rest replay.
	s.mu.RLock()
	existing := s.reservations[orderID]
	held := make([]Reservation, 0, len(existing))
	for _, r := range existing {
		if r.State == StateReserved {
			held = append(held, *r)
		}
	}
	s.mu.RUnlock()
	if len(held) > 0 {
		return held, nil
	}
	if len(existing) > 0 {
		return nil, apperr.Rejectedf("reservation for order %s was already released", orderID)
	}

	// First pass: verify every item before touching anything.
	for _, it := range items {
		if cells[it.SKU].available < it.Qty {
			return nil, apperr.Rejectedf("insufficient stock for sku %q", it.SKU)
		}
	}

	out := make([]Reservation, 0, len(items))
	s.mu.Lock()
	for _, it := range items {
		cells[it.SKU].available -= it.Qty
		s.nextID++
		r := &Reservation{
			ID:      s.nextID,
			OrderID: orderID,
			SKU:     it.SKU,
			Qty:     it.Qty,
			State:   StateReserved,
		}
		s.reservations[orderID] = append(s.reservations[orderID], r)
		out = append(out, *r)
	}
	s.mu.Unlock()
	return out, nil
}

func (s *MemoryStore) ReleaseReservations(_ context.Context, orderID string) (int, error) {
	s.mu.RLock()
	var skus []string
	seen := make(map[string]bool)
	for _, r := range s.reservations[orderID] {
		if r.State == StateReserved && !seen[r.SKU] {
			seen[r.SKU] = true
			skus = append(skus, r.SKU)
		}
	}
	s.mu.RUnlock()
	if len(skus) == 0 {
		return 0, nil
	}

	// Same lock order as CreateReservations: cells first, then the map.
	sort.Strings(skus)
	cells := make(map[string]*skuCell, len(skus))
	for _, sku := range skus {
		cell, _ := s.cellFor(sku)
		cells[sku] = cell
		cell.mu.Lock()
	}
	defer func() {
		for i := len(skus) - 1; i >= 0; i-- {
			cells[skus[i]].mu.Unlock()
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	released := 0
	for _, r := range s.reservations[orderID] {
		if r.State != StateReserved {
			continue
		}
		r.State = StateReleased
		cells[r.SKU].available += r.Qty
		released++
	}
	return released, nil
}

// --- gorm store ---

// GormStore backs the service with MySQL. Per-SKU serialization comes from
// conditional single-row updates inside a transaction; there is no
// application-level lock at all.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB, initialStock map[string]int) (*GormStore, error) {
	if err := db.AutoMigrate(&Stock{}, &Reservation{}); err != nil {
		return nil, err
	}
	for sku, qty := range initialStock {
		// Seed only missing rows; restarts must not reset live stock.
		var existing Stock
		err := db.Where("sku = ?", sku).First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			if err := db.Create(&Stock{SKU: sku, Available: qty}).Error; err != nil {
				return nil, err
			}
		} else if err != nil {
			return nil, err
		}
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) StockLevel(ctx context.Context, sku string) (int, error) {
	var stock Stock
	err := s.db.WithContext(ctx).Where("sku = ?", sku).First(&stock).Error
	if err == gorm.ErrRecordNotFound {
		return 0, apperr.NotFoundf("unknown sku %q", sku)
	}
	if err != nil {
		return 0, err
	}
	return stock.Available, nil
}

func (s *GormStore) ReservationsForOrder(ctx context.Context, orderID string) ([]Reservation, error) {
	var rows []Reservation
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id asc").Find(&rows).Error
	return rows, err
}

func (s *GormStore) CreateReservations(ctx context.Context, orderID string, items []Item) ([]Reservation, error) {
	var out []Reservation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, it := range items {
			res := tx.Model(&Stock{}).
				Where("sku = ? AND available >= ?", it.SKU, it.Qty).
				Update("available", gorm.Expr("available - ?", it.Qty))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// Rolls back every decrement made so far.
				return apperr.Rejectedf("insufficient stock for sku %q", it.SKU)
			}
			r := Reservation{OrderID: orderID, SKU: it.SKU, Qty: it.Qty, State: StateReserved}
			if err := tx.Create(&r).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					// Rolls back the decrements; the winner's rows stand.
					return errDuplicateReservation
				}
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	if errors.Is(err, errDuplicateReservation) {
		rows, ferr := s.ReservationsForOrder(ctx, orderID)
		if ferr != nil {
			return nil, ferr
		}
		if heldRows := activeOnly(rows); len(heldRows) > 0 {
			return heldRows, nil
		}
		return nil, apperr.Rejectedf("reservation for order %s was already released", orderID)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) ReleaseReservations(ctx context.Context, orderID string) (int, error) {
	released := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []Reservation
		if err := tx.Where("order_id = ? AND state = ?", orderID, StateReserved).Find(&rows).Error; err != nil {
			return err
		}
		for _, r := range rows {
			res := tx.Model(&Reservation{}).
				Where("id = ? AND state = ?", r.ID, StateReserved).
				Update("state", StateReleased)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue // lost the race to another release, fine
			}
			if err := tx.Model(&Stock{}).Where("sku = ?", r.SKU).
				Update("available", gorm.Expr("available + ?", r.Qty)).Error; err != nil {
				return err
			}
			released++
		}
		return nil
	})
	return released, err
}
