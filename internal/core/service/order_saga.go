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

const (
	ReasonInventoryUnavailable = "inventory unavailable"
	ReasonReservationExpired   = "inventory reservation expired"
)

// Compensator cancels an order as a follow-up to a failed step.
type Compensator interface {
	Compensate(ctx context.Context, orderID, reason string) error
}

// OrderSaga reacts to broker deliveries of order events. Each reaction runs
// in its own transaction, never in the one that placed the order.
type OrderSaga struct {
	uow            port.UnitOfWork
	orders         port.OrderRepository
	reserver       port.InventoryReserver
	dedupe         port.EventDeduplicator
	compensator    Compensator
	reservationTTL time.Duration
	log            *slog.Logger
}

func NewOrderSaga(
	uow port.UnitOfWork,
	orders port.OrderRepository,
	reserver port.InventoryReserver,
	dedupe port.EventDeduplicator,
	compensator Compensator,
	reservationTTL time.Duration,
	log *slog.Logger,
) *OrderSaga {
	return &OrderSaga{
		uow:            uow,
		orders:         orders,
		reserver:       reserver,
		dedupe:         dedupe,
		compensator:    compensator,
		reservationTTL: reservationTTL,
		log:            log,
	}
}

// Handle processes one delivery. Already-seen event ids are acknowledged
// without side effects; a returned error asks the broker to redeliver.
//
// The event is recorded as processed only after its reaction succeeded.
// Every reaction is idempotent, so two deliveries racing past Seen or a lost
// mark cost a repeated no-op, never a dropped event.
func (s *OrderSaga) Handle(ctx context.Context, env domain.Envelope) error {
	seen, err := s.dedupe.Seen(ctx, env.ID)
	if err != nil {
		return fmt.Errorf("dedupe %s: %w", env.ID, err)
	}
	if seen {
		s.log.Debug("duplicate event dropped", "event_id", env.ID, "event_type", env.Type)
		metrics.EventsHandled.WithLabelValues(string(env.Type), "duplicate").Inc()
		return nil
	}

	if err := s.dispatch(ctx, env); err != nil {
		metrics.EventsHandled.WithLabelValues(string(env.Type), "error").Inc()
		return err
	}
	if _, err := s.dedupe.MarkProcessed(ctx, env.ID); err != nil {
		s.log.Warn("mark event processed failed", "event_id", env.ID, "event_type", env.Type, "err", err)
	}
	metrics.EventsHandled.WithLabelValues(string(env.Type), "ok").Inc()
	return nil
}

func (s *OrderSaga) dispatch(ctx context.Context, env domain.Envelope) error {
	switch env.Type {
	case domain.EventOrderPlaced:
		var p domain.OrderPlaced
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		return s.convertCart(ctx, p)

	case domain.EventInventoryReservationRequested:
		var p domain.InventoryReservationRequested
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		return s.reserve(ctx, p)

	case domain.EventOrderProcessing:
		var p domain.OrderStatusChanged
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		return s.reserver.Confirm(ctx, p.OrderID)

	case domain.EventOrderCancelled:
		var p domain.OrderCancelled
		if err := env.DecodePayload(&p); err != nil {
			return err
		}
		return s.reserver.Release(ctx, p.OrderID)

	default:
		s.log.Debug("event ignored", "event_id", env.ID, "event_type", env.Type)
		return nil
	}
}

func (s *OrderSaga) convertCart(ctx context.Context, p domain.OrderPlaced) error {
	err := s.uow.Run(ctx, func(ctx context.Context, tx port.Tx) error {
		cart, err := tx.Carts().FindByID(ctx, p.CartID)
		if err != nil {
			return err
		}
		if cart.Status() == domain.CartStatusConverted {
			return nil
		}
		if err := cart.Convert(p.OrderID); err != nil {
			return err
		}
		return tx.Carts().Save(ctx, cart)
	})
	if errors.Is(err, domain.ErrInvalidTransition) {
		// The cart left ACTIVE some other way; a redelivery cannot change that.
		s.log.Warn("cart not converted", "cart_id", p.CartID, "order_id", p.OrderID, "err", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("convert cart %s: %w", p.CartID, err)
	}
	s.log.Info("cart converted", "cart_id", p.CartID, "order_id", p.OrderID)
	return nil
}

func (s *OrderSaga) reserve(ctx context.Context, p domain.InventoryReservationRequested) error {
	order, err := s.orders.FindByID(ctx, p.OrderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", p.OrderID, err)
	}
	if order.Status() != domain.OrderStatusPending {
		s.log.Info("reservation skipped", "order_id", p.OrderID, "status", order.Status())
		return nil
	}

	ok, err := s.reserver.Reserve(ctx, p.OrderID, domain.ReservationLinesFrom(p.Items), s.reservationTTL)
	if err != nil {
		return fmt.Errorf("reserve order %s: %w", p.OrderID, err)
	}
	if ok {
		s.log.Info("inventory reserved", "order_id", p.OrderID, "order_number", p.OrderNumber, "ttl", s.reservationTTL)
		return nil
	}

	s.log.Warn("inventory unavailable, cancelling order", "order_id", p.OrderID, "order_number", p.OrderNumber)
	if err := s.compensator.Compensate(ctx, p.OrderID, ReasonInventoryUnavailable); err != nil {
		return fmt.Errorf("compensate order %s: %w", p.OrderID, err)
	}
	return nil
}
