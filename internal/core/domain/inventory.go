package domain

import "time"

// ReservationLine holds back stock for one SKU of an order.
type ReservationLine struct {
	ProductID string
	SKU       string
	Quantity  int
}

// Reservation is stock held for an order until it is confirmed, released or
// it expires.
type Reservation struct {
	OrderID   string
	Lines     []ReservationLine
	ExpiresAt time.Time
}

func (r Reservation) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

func ReservationLinesFrom(items []ReservationItem) []ReservationLine {
	out := make([]ReservationLine, 0, len(items))
	for _, it := range items {
		out = append(out, ReservationLine{ProductID: it.ProductID, SKU: it.SKU, Quantity: it.Quantity})
	}
	return out
}
