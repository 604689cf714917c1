package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rl1809/order-core/internal/core/domain"
	"github.com/rl1809/order-core/internal/port"
)

// ErrOptimisticLock is returned when a versioned UPDATE matched no row.
var ErrOptimisticLock = domain.NewConflictError("optimistic lock conflict")

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func persistErr(op string, err error) error {
	if isLockContention(err) {
		return fmt.Errorf("%w: %s: %w", domain.ErrConflict, op, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}

// Store owns the database handle and hands out repositories. Repositories
// returned here read committed state; writes that must reach the outbox go
// through UnitOfWork.Run.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

func NewStore(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, dialect: d}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Carts() port.CartRepository {
	return &cartRepository{q: s.db, d: s.dialect}
}

func (s *Store) Orders() port.OrderRepository {
	return &orderRepository{q: s.db, d: s.dialect}
}

func (s *Store) Outbox() *OutboxRepository {
	return &OutboxRepository{db: s.db}
}

func (s *Store) Catalog() *CatalogRepository {
	return &CatalogRepository{db: s.db}
}

func (s *Store) Sequence() *SQLSequence {
	return &SQLSequence{db: s.db, d: s.dialect}
}

func (s *Store) UnitOfWork() *UnitOfWork {
	return &UnitOfWork{db: s.db, dialect: s.dialect}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
