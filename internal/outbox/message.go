package outbox

import (
	"time"
)

// Status of a staged message.
type Status string

const (
	// StatusPending: staged in the local database, waiting to be forwarded.
	StatusPending Status = "PENDING"
	// StatusSent: successfully handed to the message broker.
	StatusSent Status = "SENT"
	// StatusFailed: forwarding gave up after exhausting retries.
	StatusFailed Status = "FAILED"
)

// Message is a row of the outbox table. It is written in the same database
// transaction as the business state change it announces, which is what makes
// the event log consistent with the service's own data without a distributed
// transaction.
type Message struct {
	ID         int64     `gorm:"primaryKey"`
	Topic      string    `gorm:"type:varchar(255);not null"`
	Key        string    `gorm:"type:varchar(255)"`
	Payload    []byte    `gorm:"type:blob;not null"`
	Status     Status    `gorm:"type:varchar(20);not null;index"`
	RetryCount int       `gorm:"not null;default:0"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (Message) TableName() string {
	return "outbox_messages"
}
