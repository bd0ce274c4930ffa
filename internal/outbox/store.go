package outbox

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"
)

// Store is the persistence interface for the outbox table.
type Store interface {
	// CreateInTx stages a message inside the caller's database transaction.
	// Passing a nil tx stages outside any transaction (memory store, tests).
	CreateInTx(ctx context.Context, tx *gorm.DB, msg *Message) error
	// FindPendingMessages returns up to limit messages awaiting forwarding.
	FindPendingMessages(ctx context.Context, limit int) ([]*Message, error)
	// UpdateStatus records the outcome of a forwarding attempt.
	UpdateStatus(ctx context.Context, id int64, status Status, newRetryCount int) error
}

type gormStore struct {
	db *gorm.DB
}

// NewGormStore wires the outbox to an already-open gorm connection and
// ensures the table exists.
func NewGormStore(db *gorm.DB) (Store, error) {
	if err := db.AutoMigrate(&Message{}); err != nil {
		return nil, err
	}
	return &gormStore{db: db}, nil
}

func (s *gormStore) CreateInTx(ctx context.Context, tx *gorm.DB, msg *Message) error {
	db := s.db
	if tx != nil {
		db = tx
	}
	return db.WithContext(ctx).Create(msg).Error
}

func (s *gormStore) FindPendingMessages(ctx context.Context, limit int) ([]*Message, error) {
	var messages []*Message
	// Fresh messages forward immediately; ones that already failed wait a
	// minute so a broken broker is not hammered in a tight loop.
	err := s.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Where("retry_count = 0 OR updated_at < ?", time.Now().Add(-1*time.Minute)).
		Order("id asc").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (s *gormStore) UpdateStatus(ctx context.Context, id int64, status Status, newRetryCount int) error {
	return s.db.WithContext(ctx).Model(&Message{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":      status,
		"retry_count": newRetryCount,
	}).Error
}

// MemoryStore keeps staged messages in process memory. It backs unit tests
// and the local single-process mode where no MySQL DSN is configured.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[int64]*Message)}
}

func (s *MemoryStore) CreateInTx(_ context.Context, _ *gorm.DB, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg.ID = s.nextID
	msg.CreatedAt = time.Now()
	msg.UpdatedAt = msg.CreatedAt
	stored := *msg
	s.rows[msg.ID] = &stored
	return nil
}

func (s *MemoryStore) FindPendingMessages(_ context.Context, limit int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Message
	for id := int64(1); id <= s.nextID && len(out) < limit; id++ {
		if row, ok := s.rows[id]; ok && row.Status == StatusPending {
			copied := *row
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id int64, status Status, newRetryCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok {
		row.Status = status
		row.RetryCount = newRetryCount
		row.UpdatedAt = time.Now()
	}
	return nil
}
