package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rl1809/order-core/internal/core/domain"
	"github.com/rl1809/order-core/internal/logging"
	"github.com/rl1809/order-core/internal/port"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type PlaceOrderInput struct {
	UserID          string
	ShippingAddress domain.Address
	// BillingAddress defaults to the shipping address when left empty.
	BillingAddress domain.Address
}

type OrderService struct {
	uow     port.UnitOfWork
	orders  port.OrderRepository
	catalog port.ProductCatalog
	numbers *OrderNumberGenerator
}

func NewOrderService(uow port.UnitOfWork, orders port.OrderRepository, catalog port.ProductCatalog, numbers *OrderNumberGenerator) *OrderService {
	return &OrderService{
		uow:     uow,
		orders:  orders,
		catalog: catalog,
		numbers: numbers,
	}
}

// PlaceOrder creates a PENDING order from the user's active cart. The order
// row and its OrderPlaced and InventoryReservationRequested events commit
// together; the cart itself is converted later by the saga.
func (s *OrderService) PlaceOrder(ctx context.Context, in PlaceOrderInput) (OrderView, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return OrderView{}, domain.NewValidationError("user_id", "required")
	}
	if in.BillingAddress == (domain.Address{}) {
		in.BillingAddress = in.ShippingAddress
	}

	// Rejected checkouts should not burn sequence values, so the cart is
	// checked before a number is drawn and again inside the transaction.
	if err := s.uow.Run(ctx, func(ctx context.Context, tx port.Tx) error {
		_, err := checkoutCart(ctx, tx, in.UserID)
		return err
	}); err != nil {
		return OrderView{}, err
	}

	number, err := s.numbers.Next(ctx)
	if err != nil {
		return OrderView{}, err
	}

	var view OrderView
	err = s.uow.Run(ctx, func(ctx context.Context, tx port.Tx) error {
		cart, err := checkoutCart(ctx, tx, in.UserID)
		if err != nil {
			return err
		}

		order, err := domain.NewOrder(domain.OrderParams{
			UserID:          in.UserID,
			CartID:          cart.ID(),
			Number:          number,
			Items:           orderItemsFromCart(cart),
			ShippingAddress: in.ShippingAddress,
			BillingAddress:  in.BillingAddress,
		})
		if err != nil {
			return err
		}
		if err := tx.Orders().Save(ctx, order); err != nil {
			return err
		}
		view = toOrderView(order)
		return nil
	})
	if err != nil {
		return OrderView{}, err
	}

	logging.FromCtx(ctx).Info("order placed",
		"order_id", view.ID, "order_number", view.OrderNumber, "total", view.TotalAmount.String())
	return view, nil
}

// CancelOrder cancels one of the user's own orders.
func (s *OrderService) CancelOrder(ctx context.Context, userID, orderID, reason string) (OrderView, error) {
	return s.mutate(ctx, orderID, func(o *domain.Order) error {
		if o.UserID() != userID {
			return domain.NewNotFoundError("order", orderID)
		}
		return o.Cancel(reason)
	})
}

func (s *OrderService) ProcessOrder(ctx context.Context, orderID string) (OrderView, error) {
	return s.mutate(ctx, orderID, (*domain.Order).Process)
}

func (s *OrderService) ShipOrder(ctx context.Context, orderID string) (OrderView, error) {
	return s.mutate(ctx, orderID, (*domain.Order).Ship)
}

func (s *OrderService) DeliverOrder(ctx context.Context, orderID string) (OrderView, error) {
	return s.mutate(ctx, orderID, (*domain.Order).Deliver)
}

// Compensate cancels the order in its own transaction. Orders that already
// left a cancellable status are left alone.
func (s *OrderService) Compensate(ctx context.Context, orderID, reason string) error {
	_, err := s.mutate(ctx, orderID, func(o *domain.Order) error {
		if !o.Status().Cancellable() {
			return errNothingToCompensate
		}
		return o.Cancel(reason)
	})
	if errors.Is(err, errNothingToCompensate) {
		logging.FromCtx(ctx).Info("compensation skipped", "order_id", orderID, "reason", reason)
		return nil
	}
	return err
}

var errNothingToCompensate = errors.New("order is not cancellable")

// Reorder copies a past order's lines into the user's active cart at current
// catalog prices.
// CancelIfPending cancels the order only while it is still PENDING and
// returns the status it ends up in. Orders already in fulfilment are left
// alone.
func (s *OrderService) CancelIfPending(ctx context.Context, orderID, reason string) (domain.OrderStatus, error) {
	var status domain.OrderStatus
	_, err := s.mutate(ctx, orderID, func(o *domain.Order) error {
		status = o.Status()
		if status != domain.OrderStatusPending {
			return errNothingToCompensate
		}
		if err := o.Cancel(reason); err != nil {
			return err
		}
		status = o.Status()
		return nil
	})
	if errors.Is(err, errNothingToCompensate) {
		return status, nil
	}
	return status, err
}

func (s *OrderService) Reorder(ctx context.Context, userID, orderID string) (CartView, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return CartView{}, err
	}
	if order.UserID() != userID {
		return CartView{}, domain.NewNotFoundError("order", orderID)
	}

	lines := make([]domain.CartItem, 0, len(order.Items()))
	for _, it := range order.Items() {
		product, err := s.catalog.GetProductByID(ctx, it.ProductID())
		if err != nil {
			return CartView{}, fmt.Errorf("reorder %s: %w", it.ProductID(), err)
		}
		line, err := product.CartItem(variantForSKU(product, it.SKU()), it.Quantity())
		if err != nil {
			return CartView{}, err
		}
		lines = append(lines, line)
	}

	var view CartView
	err = runWithConflictRetry(ctx, s.uow, func(ctx context.Context, tx port.Tx) error {
		cart, err := tx.Carts().FindActiveByUser(ctx, userID)
		if err != nil {
			return err
		}
		if cart == nil {
			if cart, err = domain.NewCart(userID); err != nil {
				return err
			}
		}
		for _, line := range lines {
			if _, err := cart.AddItem(line); err != nil {
				return err
			}
		}
		if err := tx.Carts().Save(ctx, cart); err != nil {
			return err
		}
		view = toCartView(cart)
		return nil
	})
	return view, err
}

func (s *OrderService) GetOrderByID(ctx context.Context, userID, orderID string) (OrderView, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderView{}, err
	}
	if order.UserID() != userID {
		return OrderView{}, domain.NewNotFoundError("order", orderID)
	}
	return toOrderView(order), nil
}

func (s *OrderService) GetOrderHistory(ctx context.Context, userID string, limit, offset int) ([]OrderSummary, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	orders, err := s.orders.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]OrderSummary, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderSummary(o))
	}
	return out, nil
}

// checkoutCart returns the user's active cart if an order can be placed
// from it.
func checkoutCart(ctx context.Context, tx port.Tx, userID string) (*domain.Cart, error) {
	cart, err := tx.Carts().FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, domain.NewNotFoundError("active cart", userID)
	}
	if cart.IsEmpty() {
		return nil, domain.NewValidationError("cart", "cart is empty")
	}
	placed, err := tx.Orders().ExistsForCart(ctx, cart.ID())
	if err != nil {
		return nil, err
	}
	if placed {
		return nil, domain.NewConflictError("an order was already placed from cart " + cart.ID())
	}
	return cart, nil
}

func (s *OrderService) mutate(ctx context.Context, orderID string, fn func(*domain.Order) error) (OrderView, error) {
	var view OrderView
	err := s.uow.Run(ctx, func(ctx context.Context, tx port.Tx) error {
		order, err := tx.Orders().FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if err := fn(order); err != nil {
			return err
		}
		if err := tx.Orders().Save(ctx, order); err != nil {
			return err
		}
		view = toOrderView(order)
		return nil
	})
	return view, err
}

func orderItemsFromCart(c *domain.Cart) []domain.OrderItemParams {
	items := c.Items()
	out := make([]domain.OrderItemParams, 0, len(items))
	for _, it := range items {
		out = append(out, domain.OrderItemParams{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			SKU:         it.SKU,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Currency:    it.Currency,
		})
	}
	return out
}

func variantForSKU(p domain.Product, sku string) string {
	for _, v := range p.Variants {
		if v.SKU == sku {
			return v.ID
		}
	}
	return ""
}
