package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rl1809/order-core/internal/core/domain"
	"github.com/rl1809/order-core/internal/port"
)

// UnitOfWork runs a callback in one SQL transaction and appends the events of
// every aggregate saved through it to the outbox before committing.
type UnitOfWork struct {
	db      *sql.DB
	dialect Dialect
}

func NewUnitOfWork(db *sql.DB, d Dialect) *UnitOfWork {
	return &UnitOfWork{db: db, dialect: d}
}

func (u *UnitOfWork) Run(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin tx", err)
	}
	// Rollback after a successful Commit is a no-op; on panic it releases the tx.
	defer tx.Rollback()

	scope := &txScope{q: tx, d: u.dialect}
	if err := fn(ctx, scope); err != nil {
		return err
	}

	for _, a := range scope.tracked {
		for _, e := range a.PullEvents() {
			entry, err := domain.NewOutboxEntry(e)
			if err != nil {
				return fmt.Errorf("encode event %s: %w", e.Type, err)
			}
			if err := insertOutbox(ctx, tx, entry); err != nil {
				return persistErr("write outbox", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return persistErr("commit", err)
	}
	return nil
}

type txScope struct {
	q       DBTX
	d       Dialect
	tracked []domain.Aggregate
}

func (s *txScope) track(a domain.Aggregate) {
	s.tracked = append(s.tracked, a)
}

func (s *txScope) Carts() port.CartRepository {
	return &cartRepository{q: s.q, d: s.d, lock: s.d.lockClause, track: s.track}
}

func (s *txScope) Orders() port.OrderRepository {
	return &orderRepository{q: s.q, d: s.d, lock: s.d.lockClause, track: s.track}
}
