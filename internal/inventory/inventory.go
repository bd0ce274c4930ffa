// Package inventory owns stock levels and reservations. Reservations are
// all-or-nothing per order: either every requested item is reserved or no
// state changes at all, so a half-fulfilled order cannot exist.
package inventory

import (
	"time"
)

// Item is one line of a reservation request.
type Item struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

type ReservationState string

const (
	StateReserved ReservationState = "RESERVED"
	StateReleased ReservationState = "RELEASED"
)

// Reservation holds stock for one SKU on behalf of an order. The order ID is
// a reference, not ownership: the order entity itself lives in the order
// service and is never read or written here. The unique (order_id, sku)
// index makes a concurrent re-reserve for the same order lose the insert
// race instead of taking stock twice.
type Reservation struct {
	ID        int64            `gorm:"primaryKey" json:"-"`
	OrderID   string           `gorm:"type:varchar(64);not null;uniqueIndex:idx_order_sku,priority:1" json:"order_id"`
	SKU       string           `gorm:"type:varchar(64);not null;uniqueIndex:idx_order_sku,priority:2" json:"sku"`
	Qty       int              `gorm:"not null" json:"qty"`
	State     ReservationState `gorm:"type:varchar(20);not null" json:"state"`
	CreatedAt time.Time        `gorm:"autoCreateTime" json:"-"`
	UpdatedAt time.Time        `gorm:"autoUpdateTime" json:"-"`
}

func (Reservation) TableName() string { return "reservations" }

// Stock is the available quantity for one SKU.
type Stock struct {
	SKU       string `gorm:"primaryKey;type:varchar(64)" json:"sku"`
	Available int    `gorm:"not null" json:"available"`
}

func (Stock) TableName() string { return "stocks" }
