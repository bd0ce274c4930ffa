// Package billing owns the charge ledger. ChargeRecords are append-only:
// a record is never edited once written, corrections are new records. Replay
// protection is keyed on (order_id, idempotency_key) so a retried charge
// returns the original outcome instead of charging twice.
package billing

import (
	"time"
)

type ChargeStatus string

const (
	StatusApproved ChargeStatus = "APPROVED"
	StatusDeclined ChargeStatus = "DECLINED"
)

// ChargeRecord is one row of the ledger.
type ChargeRecord struct {
	ID             int64        `gorm:"primaryKey" json:"-"`
	OrderID        string       `gorm:"type:varchar(64);not null;uniqueIndex:idx_order_idem,priority:1" json:"order_id"`
	IdempotencyKey string       `gorm:"type:varchar(128);not null;uniqueIndex:idx_order_idem,priority:2" json:"-"`
	AmountCents    int64        `gorm:"not null" json:"amount_cents"`
	Status         ChargeStatus `gorm:"type:varchar(20);not null" json:"status"`
	ReferenceID    string       `gorm:"type:varchar(64);not null" json:"reference_id"`
	Reason         string       `gorm:"type:varchar(255)" json:"reason,omitempty"`
	CreatedAt      time.Time    `gorm:"autoCreateTime" json:"-"`
}

func (ChargeRecord) TableName() string { return "charge_records" }
