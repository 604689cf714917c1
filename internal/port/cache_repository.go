package port

import (
	"context"
	"time"

	"github.com/rl1809/order-core/internal/core/domain"
)

type InventoryReserver interface {
	// Reserve atomically holds stock for every line, returns false if any SKU is short.
	// Reserving an order that already holds a reservation is a no-op returning true
	Reserve(ctx context.Context, orderID string, lines []domain.ReservationLine, ttl time.Duration) (bool, error)

	// Release returns held stock, no-op when nothing is held
	Release(ctx context.Context, orderID string) error

	// Confirm makes the reservation permanent and stops it from expiring
	Confirm(ctx context.Context, orderID string) error

	// Expired returns ids of orders whose reservation deadline has passed
	Expired(ctx context.Context, now time.Time, limit int) ([]string, error)
}

type EventDeduplicator interface {
	// Seen reports whether the event id was recorded as processed
	Seen(ctx context.Context, eventID string) (bool, error)

	// MarkProcessed records the event id, returns false if it was already recorded
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
}
