package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/order-core/internal/core/domain"
)

type CartItemView struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id"`
	VariantID   string          `json:"variant_id,omitempty"`
	ProductName string          `json:"product_name"`
	SKU         string          `json:"sku"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Currency    string          `json:"currency"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type CartView struct {
	ID        string            `json:"id,omitempty"`
	UserID    string            `json:"user_id"`
	Status    domain.CartStatus `json:"status"`
	Items     []CartItemView    `json:"items"`
	Subtotal  decimal.Decimal   `json:"subtotal"`
	Currency  string            `json:"currency,omitempty"`
	ItemCount int               `json:"item_count"`
	UpdatedAt *time.Time        `json:"updated_at,omitempty"`
}

type OrderItemView struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	SKU         string          `json:"sku"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Currency    string          `json:"currency"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type OrderView struct {
	ID                 string             `json:"id"`
	OrderNumber        domain.OrderNumber `json:"order_number"`
	UserID             string             `json:"user_id"`
	CartID             string             `json:"cart_id"`
	Status             domain.OrderStatus `json:"status"`
	Items              []OrderItemView    `json:"items"`
	TotalAmount        decimal.Decimal    `json:"total_amount"`
	Currency           string             `json:"currency"`
	ItemCount          int                `json:"item_count"`
	ShippingAddress    domain.Address     `json:"shipping_address"`
	BillingAddress     domain.Address     `json:"billing_address"`
	CancellationReason string             `json:"cancellation_reason,omitempty"`
	DeliveredAt        *time.Time         `json:"delivered_at,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

type OrderSummary struct {
	ID          string             `json:"id"`
	OrderNumber domain.OrderNumber `json:"order_number"`
	Status      domain.OrderStatus `json:"status"`
	TotalAmount decimal.Decimal    `json:"total_amount"`
	Currency    string             `json:"currency"`
	ItemCount   int                `json:"item_count"`
	CreatedAt   time.Time          `json:"created_at"`
}

func emptyCartView(userID string) CartView {
	return CartView{
		UserID:   userID,
		Status:   domain.CartStatusActive,
		Items:    []CartItemView{},
		Subtotal: decimal.Zero,
	}
}

func toCartView(c *domain.Cart) CartView {
	items := c.Items()
	view := CartView{
		ID:       c.ID(),
		UserID:   c.UserID(),
		Status:   c.Status(),
		Items:    make([]CartItemView, 0, len(items)),
		Subtotal: c.Subtotal(),
		Currency: c.Currency(),
	}
	updated := c.UpdatedAt()
	view.UpdatedAt = &updated
	for _, it := range items {
		view.ItemCount += it.Quantity
		view.Items = append(view.Items, CartItemView{
			ID:          it.ID,
			ProductID:   it.ProductID,
			VariantID:   it.VariantID,
			ProductName: it.ProductName,
			SKU:         it.SKU,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Currency:    it.Currency,
			LineTotal:   it.LineTotal(),
		})
	}
	return view
}

func toOrderView(o *domain.Order) OrderView {
	items := o.Items()
	view := OrderView{
		ID:                 o.ID(),
		OrderNumber:        o.Number(),
		UserID:             o.UserID(),
		CartID:             o.CartID(),
		Status:             o.Status(),
		Items:              make([]OrderItemView, 0, len(items)),
		TotalAmount:        o.TotalAmount(),
		Currency:           o.Currency(),
		ItemCount:          o.ItemCount(),
		ShippingAddress:    o.ShippingAddress(),
		BillingAddress:     o.BillingAddress(),
		CancellationReason: o.CancellationReason(),
		DeliveredAt:        o.DeliveredAt(),
		CreatedAt:          o.CreatedAt(),
		UpdatedAt:          o.UpdatedAt(),
	}
	for _, it := range items {
		view.Items = append(view.Items, OrderItemView{
			ID:          it.ID(),
			ProductID:   it.ProductID(),
			ProductName: it.ProductName(),
			SKU:         it.SKU(),
			Quantity:    it.Quantity(),
			UnitPrice:   it.UnitPrice(),
			Currency:    it.Currency(),
			LineTotal:   it.LineTotal(),
		})
	}
	return view
}

func toOrderSummary(o *domain.Order) OrderSummary {
	return OrderSummary{
		ID:          o.ID(),
		OrderNumber: o.Number(),
		Status:      o.Status(),
		TotalAmount: o.TotalAmount(),
		Currency:    o.Currency(),
		ItemCount:   o.ItemCount(),
		CreatedAt:   o.CreatedAt(),
	}
}
