package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rl1809/order-core/internal/core/domain"
	"github.com/rl1809/order-core/internal/logging"
	"github.com/rl1809/order-core/internal/metrics"
	"github.com/rl1809/order-core/internal/port"
)

// conflictRetries bounds how often a command is re-run after losing a race
// on the active cart.
const conflictRetries = 3

type AddToCartInput struct {
	UserID    string
	ProductID string
	VariantID string
	Quantity  int
}

type CartService struct {
	uow     port.UnitOfWork
	carts   port.CartRepository
	catalog port.ProductCatalog
	now     func() time.Time
}

func NewCartService(uow port.UnitOfWork, carts port.CartRepository, catalog port.ProductCatalog) *CartService {
	return &CartService{uow: uow, carts: carts, catalog: catalog, now: time.Now}
}

func (s *CartService) AddToCart(ctx context.Context, in AddToCartInput) (CartView, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return CartView{}, domain.NewValidationError("user_id", "required")
	}
	if in.Quantity < 1 {
		return CartView{}, domain.NewValidationError("quantity", "must be at least 1")
	}
	product, err := s.catalog.GetProductByID(ctx, in.ProductID)
	if err != nil {
		return CartView{}, err
	}
	item, err := product.CartItem(in.VariantID, in.Quantity)
	if err != nil {
		return CartView{}, err
	}

	var view CartView
	err = runWithConflictRetry(ctx, s.uow, func(ctx context.Context, tx port.Tx) error {
		cart, err := tx.Carts().FindActiveByUser(ctx, in.UserID)
		if err != nil {
			return err
		}
		if cart == nil {
			if cart, err = domain.NewCart(in.UserID); err != nil {
				return err
			}
		}
		if _, err := cart.AddItem(item); err != nil {
			return err
		}
		if err := tx.Carts().Save(ctx, cart); err != nil {
			return err
		}
		view = toCartView(cart)
		return nil
	})
	return view, err
}

func (s *CartService) UpdateCartItem(ctx context.Context, userID, itemID string, quantity int) (CartView, error) {
	return s.mutateActive(ctx, userID, func(c *domain.Cart) error {
		return c.UpdateItemQuantity(itemID, quantity)
	})
}

func (s *CartService) RemoveFromCart(ctx context.Context, userID, itemID string) (CartView, error) {
	return s.mutateActive(ctx, userID, func(c *domain.Cart) error {
		return c.RemoveItem(itemID)
	})
}

func (s *CartService) ClearCart(ctx context.Context, userID string) (CartView, error) {
	return s.mutateActive(ctx, userID, (*domain.Cart).Clear)
}

// GetCart returns an empty view when the user has no active cart.
func (s *CartService) GetCart(ctx context.Context, userID string) (CartView, error) {
	cart, err := s.carts.FindActiveByUser(ctx, userID)
	if err != nil {
		return CartView{}, err
	}
	if cart == nil {
		return emptyCartView(userID), nil
	}
	return toCartView(cart), nil
}

// AbandonStaleCarts moves ACTIVE carts untouched for olderThan to ABANDONED.
// Carts modified concurrently are skipped until the next sweep.
func (s *CartService) AbandonStaleCarts(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	log := logging.FromCtx(ctx)
	ids, err := s.carts.ListStaleActive(ctx, s.now().UTC().Add(-olderThan), limit)
	if err != nil {
		return 0, fmt.Errorf("list stale carts: %w", err)
	}

	abandoned := 0
	for _, id := range ids {
		err := s.uow.Run(ctx, func(ctx context.Context, tx port.Tx) error {
			cart, err := tx.Carts().FindByID(ctx, id)
			if err != nil {
				return err
			}
			if cart.Status() != domain.CartStatusActive {
				return nil
			}
			if err := cart.Abandon(); err != nil {
				return err
			}
			return tx.Carts().Save(ctx, cart)
		})
		switch {
		case err == nil:
			abandoned++
			metrics.CartsAbandoned.Inc()
		case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNotFound):
			log.Info("skip stale cart", "cart_id", id, "err", err)
		default:
			return abandoned, fmt.Errorf("abandon cart %s: %w", id, err)
		}
	}
	return abandoned, nil
}

func (s *CartService) mutateActive(ctx context.Context, userID string, fn func(*domain.Cart) error) (CartView, error) {
	var view CartView
	err := runWithConflictRetry(ctx, s.uow, func(ctx context.Context, tx port.Tx) error {
		cart, err := tx.Carts().FindActiveByUser(ctx, userID)
		if err != nil {
			return err
		}
		if cart == nil {
			return domain.NewNotFoundError("active cart", userID)
		}
		if err := fn(cart); err != nil {
			return err
		}
		if err := tx.Carts().Save(ctx, cart); err != nil {
			return err
		}
		view = toCartView(cart)
		return nil
	})
	return view, err
}

// runWithConflictRetry re-runs fn in a fresh unit of work while it fails with
// ErrConflict, so the losing writer re-reads the row the winner committed.
func runWithConflictRetry(ctx context.Context, uow port.UnitOfWork, fn func(context.Context, port.Tx) error) error {
	var err error
	for attempt := 1; attempt <= conflictRetries; attempt++ {
		err = uow.Run(ctx, fn)
		if !errors.Is(err, domain.ErrConflict) {
			return err
		}
		logging.FromCtx(ctx).Debug("retrying after conflict", "attempt", attempt, "err", err)
	}
	return err
}
