// Package order owns the Order entity and drives the fulfillment saga
// across the inventory and billing services. There is no distributed
// transaction anywhere: consistency comes from the persisted per-order state
// machine plus compensating actions.
package order

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

type Status string

const (
	StatusNew       Status = "NEW"
	StatusReserving Status = "RESERVING"
	StatusReserved  Status = "RESERVED"
	StatusCharging  Status = "CHARGING"
	StatusPaid      Status = "PAID"
	StatusShipped   Status = "SHIPPED"
	StatusCanceled  Status = "CANCELED"
	StatusFailed    Status = "FAILED"
)

// legalTransitions is the saga state machine. Every status change goes
// through Store.Transition, which rejects anything not listed here.
var legalTransitions = map[Status][]Status{
	StatusNew:       {StatusReserving, StatusCanceled},
	StatusReserving: {StatusReserved, StatusFailed},
	StatusReserved:  {StatusCharging},
	StatusCharging:  {StatusPaid, StatusFailed},
	StatusPaid:      {StatusShipped},
}

// CanTransition reports whether from -> to is a legal saga step.
func CanTransition(from, to Status) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusShipped || s == StatusCanceled || s == StatusFailed
}

// Item is one order line.
type Item struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

// ItemList stores the order lines as a JSON column.
type ItemList []Item

func (l ItemList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

func (l *ItemList) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return errors.Errorf("cannot scan %T into ItemList", src)
	}
}

// Order is owned exclusively by this service. Other services reference it by
// ID only.
type Order struct {
	ID          string   `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Status      Status   `gorm:"type:varchar(20);not null;index" json:"status"`
	AmountCents int64    `gorm:"not null" json:"amount_cents"`
	Items       ItemList `gorm:"type:text;not null" json:"items"`
	// Reason explains terminal FAILED states to the client.
	Reason    string    `gorm:"type:varchar(255)" json:"reason,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string { return "orders" }
