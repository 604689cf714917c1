package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (a Address) validate(field string) error {
	switch {
	case strings.TrimSpace(a.Line1) == "":
		return NewValidationError(field+".line1", "required")
	case strings.TrimSpace(a.City) == "":
		return NewValidationError(field+".city", "required")
	case strings.TrimSpace(a.PostalCode) == "":
		return NewValidationError(field+".postal_code", "required")
	case strings.TrimSpace(a.Country) == "":
		return NewValidationError(field+".country", "required")
	}
	return nil
}

// OrderItem is immutable once constructed.
type OrderItem struct {
	id          string
	productID   string
	productName string
	sku         string
	quantity    int
	unitPrice   decimal.Decimal
	currency    string
}

type OrderItemParams struct {
	ProductID   string
	ProductName string
	SKU         string
	Quantity    int
	UnitPrice   decimal.Decimal
	Currency    string
}

func NewOrderItem(p OrderItemParams) (OrderItem, error) {
	switch {
	case strings.TrimSpace(p.ProductID) == "":
		return OrderItem{}, NewValidationError("items.product_id", "required")
	case p.Quantity < 1:
		return OrderItem{}, NewValidationError("items.quantity", "must be at least 1")
	case p.UnitPrice.IsNegative():
		return OrderItem{}, NewValidationError("items.unit_price", "must not be negative")
	case strings.TrimSpace(p.Currency) == "":
		return OrderItem{}, NewValidationError("items.currency", "required")
	}
	return OrderItem{
		id:          uuid.NewString(),
		productID:   p.ProductID,
		productName: p.ProductName,
		sku:         p.SKU,
		quantity:    p.Quantity,
		unitPrice:   p.UnitPrice,
		currency:    p.Currency,
	}, nil
}

func RestoreOrderItem(id string, p OrderItemParams) OrderItem {
	return OrderItem{
		id:          id,
		productID:   p.ProductID,
		productName: p.ProductName,
		sku:         p.SKU,
		quantity:    p.Quantity,
		unitPrice:   p.UnitPrice,
		currency:    p.Currency,
	}
}

func (i OrderItem) ID() string                 { return i.id }
func (i OrderItem) ProductID() string          { return i.productID }
func (i OrderItem) ProductName() string        { return i.productName }
func (i OrderItem) SKU() string                { return i.sku }
func (i OrderItem) Quantity() int              { return i.quantity }
func (i OrderItem) UnitPrice() decimal.Decimal { return i.unitPrice }
func (i OrderItem) Currency() string           { return i.currency }

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.unitPrice.Mul(decimal.NewFromInt(int64(i.quantity)))
}

type OrderParams struct {
	UserID          string
	CartID          string
	Number          OrderNumber
	Items           []OrderItemParams
	ShippingAddress Address
	BillingAddress  Address
}

type Order struct {
	recorder

	id                 string
	number             OrderNumber
	userID             string
	cartID             string
	status             OrderStatus
	items              []OrderItem
	shippingAddress    Address
	billingAddress     Address
	cancellationReason string
	deliveredAt        *time.Time
	createdAt          time.Time
	updatedAt          time.Time
	version            int
}

// NewOrder validates p and returns a PENDING order carrying two events:
// OrderPlaced followed by InventoryReservationRequested.
func NewOrder(p OrderParams) (*Order, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return nil, NewValidationError("user_id", "required")
	}
	if strings.TrimSpace(p.CartID) == "" {
		return nil, NewValidationError("cart_id", "required")
	}
	if _, err := ParseOrderNumber(string(p.Number)); err != nil {
		return nil, err
	}
	if len(p.Items) == 0 {
		return nil, NewValidationError("items", "order must contain at least one item")
	}
	if err := p.ShippingAddress.validate("shipping_address"); err != nil {
		return nil, err
	}
	if err := p.BillingAddress.validate("billing_address"); err != nil {
		return nil, err
	}

	items := make([]OrderItem, 0, len(p.Items))
	for _, ip := range p.Items {
		item, err := NewOrderItem(ip)
		if err != nil {
			return nil, err
		}
		if len(items) > 0 && items[0].currency != item.currency {
			return nil, NewValidationError("items.currency", "all items must share one currency")
		}
		items = append(items, item)
	}

	now := Now()
	o := &Order{
		id:              uuid.NewString(),
		number:          p.Number,
		userID:          p.UserID,
		cartID:          p.CartID,
		status:          OrderStatusPending,
		items:           items,
		shippingAddress: p.ShippingAddress,
		billingAddress:  p.BillingAddress,
		createdAt:       now,
		updatedAt:       now,
	}

	o.record(AggregateOrder, o.id, EventOrderPlaced, OrderPlaced{
		OrderID:     o.id,
		OrderNumber: o.number,
		UserID:      o.userID,
		CartID:      o.cartID,
		TotalAmount: o.TotalAmount(),
		Currency:    o.Currency(),
		ItemCount:   o.ItemCount(),
	})
	lines := make([]ReservationItem, 0, len(items))
	for _, it := range items {
		lines = append(lines, ReservationItem{ProductID: it.productID, SKU: it.sku, Quantity: it.quantity})
	}
	o.record(AggregateOrder, o.id, EventInventoryReservationRequested, InventoryReservationRequested{
		OrderID:     o.id,
		OrderNumber: o.number,
		Items:       lines,
	})
	return o, nil
}

type OrderSnapshot struct {
	ID                 string
	Number             OrderNumber
	UserID             string
	CartID             string
	Status             OrderStatus
	Items              []OrderItem
	ShippingAddress    Address
	BillingAddress     Address
	CancellationReason string
	DeliveredAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Version            int
}

// RestoreOrder rebuilds an order from persisted state without raising events.
func RestoreOrder(s OrderSnapshot) *Order {
	return &Order{
		id:                 s.ID,
		number:             s.Number,
		userID:             s.UserID,
		cartID:             s.CartID,
		status:             s.Status,
		items:              s.Items,
		shippingAddress:    s.ShippingAddress,
		billingAddress:     s.BillingAddress,
		cancellationReason: s.CancellationReason,
		deliveredAt:        s.DeliveredAt,
		createdAt:          s.CreatedAt,
		updatedAt:          s.UpdatedAt,
		version:            s.Version,
	}
}

func (o *Order) ID() string                 { return o.id }
func (o *Order) AggregateID() string        { return o.id }
func (o *Order) Number() OrderNumber        { return o.number }
func (o *Order) UserID() string             { return o.userID }
func (o *Order) CartID() string             { return o.cartID }
func (o *Order) Status() OrderStatus        { return o.status }
func (o *Order) ShippingAddress() Address   { return o.shippingAddress }
func (o *Order) BillingAddress() Address    { return o.billingAddress }
func (o *Order) CancellationReason() string { return o.cancellationReason }
func (o *Order) DeliveredAt() *time.Time    { return o.deliveredAt }
func (o *Order) CreatedAt() time.Time       { return o.createdAt }
func (o *Order) UpdatedAt() time.Time       { return o.updatedAt }
func (o *Order) Version() int               { return o.version }

// SetVersion is called by repositories after a successful write.
func (o *Order) SetVersion(v int) { o.version = v }

func (o *Order) Items() []OrderItem {
	out := make([]OrderItem, len(o.items))
	copy(out, o.items)
	return out
}

func (o *Order) Currency() string {
	if len(o.items) == 0 {
		return ""
	}
	return o.items[0].currency
}

func (o *Order) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.items {
		total = total.Add(it.LineTotal())
	}
	return total
}

func (o *Order) ItemCount() int {
	n := 0
	for _, it := range o.items {
		n += it.quantity
	}
	return n
}

func (o *Order) Process() error {
	from := o.status
	if err := o.transitionTo(OrderStatusProcessing); err != nil {
		return err
	}
	o.recordStatusChange(EventOrderProcessing, from)
	return nil
}

func (o *Order) Ship() error {
	from := o.status
	if err := o.transitionTo(OrderStatusShipped); err != nil {
		return err
	}
	o.recordStatusChange(EventOrderShipped, from)
	return nil
}

func (o *Order) Deliver() error {
	from := o.status
	if err := o.transitionTo(OrderStatusDelivered); err != nil {
		return err
	}
	at := o.updatedAt
	o.deliveredAt = &at
	o.recordStatusChange(EventOrderDelivered, from)
	return nil
}

// Cancel rejects a blank reason before the status is looked at.
func (o *Order) Cancel(reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return NewValidationError("reason", "cancellation reason is required")
	}
	from := o.status
	if err := o.transitionTo(OrderStatusCancelled); err != nil {
		return err
	}
	o.cancellationReason = reason
	o.record(AggregateOrder, o.id, EventOrderCancelled, OrderCancelled{
		OrderID:     o.id,
		OrderNumber: o.number,
		UserID:      o.userID,
		From:        from,
		Reason:      reason,
	})
	return nil
}

func (o *Order) transitionTo(next OrderStatus) error {
	if !o.status.CanTransitionTo(next) {
		return &InvalidTransitionError{Entity: AggregateOrder, From: string(o.status), To: string(next)}
	}
	o.status = next
	o.updatedAt = Now()
	return nil
}

func (o *Order) recordStatusChange(t EventType, from OrderStatus) {
	o.record(AggregateOrder, o.id, t, OrderStatusChanged{
		OrderID:     o.id,
		OrderNumber: o.number,
		UserID:      o.userID,
		From:        from,
		To:          o.status,
		DeliveredAt: o.deliveredAt,
	})
}
