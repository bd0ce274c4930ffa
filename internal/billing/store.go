package billing

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// errDuplicate signals a lost insert race on (order_id, idempotency_key);
// the service reacts by fetching the winner's record.
var errDuplicate = errors.New("charge record already exists")

// Store is the persistence boundary of the billing service.
type Store interface {
	// FindByKey returns the record for (orderID, key), or nil.
	FindByKey(ctx context.Context, orderID, key string) (*ChargeRecord, error)
	// FindByOrder returns every record referencing orderID, oldest first.
	FindByOrder(ctx context.Context, orderID string) ([]ChargeRecord, error)
	// Create appends a record; errDuplicate if (orderID, key) exists.
	Create(ctx context.Context, record *ChargeRecord) error
}

type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	byKey  map[string]*ChargeRecord
	byOrder map[string][]*ChargeRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKey:   make(map[string]*ChargeRecord),
		byOrder: make(map[string][]*ChargeRecord),
	}
}

func compositeKey(orderID, key string) string { return orderID + "\x00" + key }

func (s *MemoryStore) FindByKey(_ context.Context, orderID, key string) (*ChargeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.byKey[compositeKey(orderID, key)]; ok {
		copied := *r
		return &copied, nil
	}
	return nil, nil
}

func (s *MemoryStore) FindByOrder(_ context.Context, orderID string) ([]ChargeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.byOrder[orderID]
	out := make([]ChargeRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, record *ChargeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := compositeKey(record.OrderID, record.IdempotencyKey)
	if _, ok := s.byKey[k]; ok {
		return errDuplicate
	}
	s.nextID++
	record.ID = s.nextID
	stored := *record
	s.byKey[k] = &stored
	s.byOrder[record.OrderID] = append(s.byOrder[record.OrderID], &stored)
	return nil
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&ChargeRecord{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) FindByKey(ctx context.Context, orderID, key string) (*ChargeRecord, error) {
	var record ChargeRecord
	err := s.db.WithContext(ctx).
		Where("order_id = ? AND idempotency_key = ?", orderID, key).
		First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *GormStore) FindByOrder(ctx context.Context, orderID string) ([]ChargeRecord, error) {
	var rows []ChargeRecord
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id asc").Find(&rows).Error
	return rows, err
}

func (s *GormStore) Create(ctx context.Context, record *ChargeRecord) error {
	err := s.db.WithContext(ctx).Create(record).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errDuplicate
	}
	return err
}
