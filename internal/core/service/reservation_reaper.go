package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rl1809/order-core/internal/core/domain"
	"github.com/rl1809/order-core/internal/metrics"
	"github.com/rl1809/order-core/internal/port"
)

// PendingCanceller cancels an order only while it is still PENDING.
type PendingCanceller interface {
	CancelIfPending(ctx context.Context, orderID, reason string) (domain.OrderStatus, error)
}

// ReservationReaper cancels orders whose stock reservation expired while
// they were still PENDING, then returns the stock. An order that moved on
// before the saga confirmed its reservation keeps the stock.
type ReservationReaper struct {
	reserver  port.InventoryReserver
	orders    PendingCanceller
	batchSize int
	log       *slog.Logger
	now       func() time.Time
}

func NewReservationReaper(reserver port.InventoryReserver, orders PendingCanceller, batchSize int, log *slog.Logger) *ReservationReaper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ReservationReaper{
		reserver:  reserver,
		orders:    orders,
		batchSize: batchSize,
		log:       log,
		now:       time.Now,
	}
}

// Sweep handles one batch of expired reservations. A reservation whose
// order could not be compensated is kept for the next sweep.
func (r *ReservationReaper) Sweep(ctx context.Context) (int, error) {
	ids, err := r.reserver.Expired(ctx, r.now().UTC(), r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired reservations: %w", err)
	}

	released := 0
	for _, orderID := range ids {
		status, err := r.orders.CancelIfPending(ctx, orderID, ReasonReservationExpired)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			r.log.Error("cancel expired order", "order_id", orderID, "err", err)
			continue
		case status != domain.OrderStatusCancelled:
			if err := r.reserver.Confirm(ctx, orderID); err != nil {
				return released, fmt.Errorf("confirm %s: %w", orderID, err)
			}
			r.log.Info("reservation kept for order in fulfilment", "order_id", orderID, "status", status)
			continue
		}
		if err := r.reserver.Release(ctx, orderID); err != nil {
			return released, fmt.Errorf("release %s: %w", orderID, err)
		}
		released++
		metrics.ReservationsExpired.Inc()
		r.log.Info("reservation expired", "order_id", orderID)
	}
	return released, nil
}
