package port

import (
	"context"
	"time"

	"github.com/rl1809/order-core/internal/core/domain"
)

type CartRepository interface {
	// FindActiveByUser returns the user's ACTIVE cart, or nil when there is none.
	// Inside a unit of work the row is locked for update where the store supports it.
	FindActiveByUser(ctx context.Context, userID string) (*domain.Cart, error)

	// FindByID returns a NotFoundError when the cart does not exist
	FindByID(ctx context.Context, id string) (*domain.Cart, error)

	// Save inserts or updates the cart with a version check, returning ConflictError on a stale version
	// or when another ACTIVE cart exists for the user
	Save(ctx context.Context, cart *domain.Cart) error

	// ListStaleActive returns ids of ACTIVE carts not updated since before
	ListStaleActive(ctx context.Context, before time.Time, limit int) ([]string, error)
}

type OrderRepository interface {
	// FindByID returns a NotFoundError when the order does not exist
	FindByID(ctx context.Context, id string) (*domain.Order, error)

	// Save inserts or updates the order with a version check
	Save(ctx context.Context, order *domain.Order) error

	// ExistsForCart reports whether an order was already placed from the cart
	ExistsForCart(ctx context.Context, cartID string) (bool, error)

	// ListByUser returns the user's orders, newest first
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error)
}

// Tx is the transaction-scoped handle passed into UnitOfWork.Run.
// Aggregates saved through it have their events written to the outbox on commit.
type Tx interface {
	Carts() CartRepository
	Orders() OrderRepository
}

type UnitOfWork interface {
	// Run executes fn in one transaction. A nil return commits the writes and
	// the outbox rows for every collected event; any error rolls back both.
	Run(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type OutboxRepository interface {
	// FetchPending returns PENDING entries ordered by insertion sequence,
	// skipping every aggregate that has an entry waiting for a retry after now
	FetchPending(ctx context.Context, now time.Time, limit int) ([]domain.OutboxEntry, error)

	// MarkPublished records broker acknowledgement
	MarkPublished(ctx context.Context, id string, at time.Time) error

	// MarkRetry increments attempts and schedules the next try
	MarkRetry(ctx context.Context, id string, next time.Time, lastErr string) error

	// CountPending returns the backlog size
	CountPending(ctx context.Context) (int, error)
}

type ProductCatalog interface {
	// GetProductByID returns a NotFoundError for unknown products
	GetProductByID(ctx context.Context, id string) (domain.Product, error)
}

type SequenceSource interface {
	// Next returns the next value of the counter for period, starting at 1
	Next(ctx context.Context, period string) (int64, error)
}
