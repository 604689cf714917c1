package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CartItem struct {
	ID          string
	ProductID   string
	VariantID   string
	ProductName string
	SKU         string
	Quantity    int
	UnitPrice   decimal.Decimal
	Currency    string
}

func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (i CartItem) validate() error {
	switch {
	case strings.TrimSpace(i.ProductID) == "":
		return NewValidationError("product_id", "required")
	case i.Quantity < 1:
		return NewValidationError("quantity", "must be at least 1")
	case i.UnitPrice.IsNegative():
		return NewValidationError("unit_price", "must not be negative")
	case strings.TrimSpace(i.Currency) == "":
		return NewValidationError("currency", "required")
	}
	return nil
}

func (i CartItem) sameLine(other CartItem) bool {
	return i.ProductID == other.ProductID && i.VariantID == other.VariantID
}

// Cart holds a user's line items until checkout. Only an ACTIVE cart accepts
// mutations.
type Cart struct {
	recorder

	id        string
	userID    string
	status    CartStatus
	items     []CartItem
	createdAt time.Time
	updatedAt time.Time
	version   int
}

func NewCart(userID string) (*Cart, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, NewValidationError("user_id", "required")
	}
	now := Now()
	return &Cart{
		id:        uuid.NewString(),
		userID:    userID,
		status:    CartStatusActive,
		createdAt: now,
		updatedAt: now,
	}, nil
}

// RestoreCart rebuilds a cart from persisted state without raising events.
func RestoreCart(id, userID string, status CartStatus, items []CartItem, createdAt, updatedAt time.Time, version int) *Cart {
	return &Cart{
		id:        id,
		userID:    userID,
		status:    status,
		items:     items,
		createdAt: createdAt,
		updatedAt: updatedAt,
		version:   version,
	}
}

func (c *Cart) ID() string           { return c.id }
func (c *Cart) AggregateID() string  { return c.id }
func (c *Cart) UserID() string       { return c.userID }
func (c *Cart) Status() CartStatus   { return c.status }
func (c *Cart) CreatedAt() time.Time { return c.createdAt }
func (c *Cart) UpdatedAt() time.Time { return c.updatedAt }
func (c *Cart) Version() int         { return c.version }

// SetVersion is called by repositories after a successful write.
func (c *Cart) SetVersion(v int) { c.version = v }

func (c *Cart) Items() []CartItem {
	out := make([]CartItem, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Cart) IsEmpty() bool { return len(c.items) == 0 }

func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.items {
		total = total.Add(it.LineTotal())
	}
	return total
}

func (c *Cart) Currency() string {
	if len(c.items) == 0 {
		return ""
	}
	return c.items[0].Currency
}

// AddItem merges into an existing line with the same product and variant,
// refreshing its unit price, or appends a new line.
func (c *Cart) AddItem(item CartItem) (CartItem, error) {
	if err := c.ensureActive(); err != nil {
		return CartItem{}, err
	}
	if err := item.validate(); err != nil {
		return CartItem{}, err
	}
	if cur := c.Currency(); cur != "" && cur != item.Currency {
		return CartItem{}, NewValidationError("currency", "cart is priced in "+cur)
	}

	idx := -1
	for i := range c.items {
		if c.items[i].sameLine(item) {
			idx = i
			break
		}
	}
	if idx >= 0 {
		c.items[idx].Quantity += item.Quantity
		c.items[idx].UnitPrice = item.UnitPrice
		c.items[idx].ProductName = item.ProductName
		c.items[idx].SKU = item.SKU
	} else {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		c.items = append(c.items, item)
		idx = len(c.items) - 1
	}
	line := c.items[idx]
	c.touch()
	c.record(AggregateCart, c.id, EventCartItemAdded, CartItemAdded{
		CartID:    c.id,
		UserID:    c.userID,
		ItemID:    line.ID,
		ProductID: line.ProductID,
		VariantID: line.VariantID,
		SKU:       line.SKU,
		Quantity:  item.Quantity,
		UnitPrice: line.UnitPrice,
		Currency:  line.Currency,
	})
	return line, nil
}

func (c *Cart) UpdateItemQuantity(itemID string, quantity int) error {
	if err := c.ensureActive(); err != nil {
		return err
	}
	if quantity < 1 {
		return NewValidationError("quantity", "must be at least 1")
	}
	i := c.indexOf(itemID)
	if i < 0 {
		return NewNotFoundError("cart item", itemID)
	}
	c.items[i].Quantity = quantity
	c.touch()
	c.record(AggregateCart, c.id, EventCartItemUpdated, CartItemUpdated{
		CartID:   c.id,
		ItemID:   itemID,
		Quantity: quantity,
	})
	return nil
}

func (c *Cart) RemoveItem(itemID string) error {
	if err := c.ensureActive(); err != nil {
		return err
	}
	i := c.indexOf(itemID)
	if i < 0 {
		return NewNotFoundError("cart item", itemID)
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	c.touch()
	c.record(AggregateCart, c.id, EventCartItemRemoved, CartItemRemoved{CartID: c.id, ItemID: itemID})
	return nil
}

func (c *Cart) Clear() error {
	if err := c.ensureActive(); err != nil {
		return err
	}
	c.items = nil
	c.touch()
	c.record(AggregateCart, c.id, EventCartCleared, CartCleared{CartID: c.id, UserID: c.userID})
	return nil
}

// Convert marks the cart as turned into orderID. It is irreversible.
func (c *Cart) Convert(orderID string) error {
	if err := c.transitionTo(CartStatusConverted); err != nil {
		return err
	}
	c.record(AggregateCart, c.id, EventCartConverted, CartConverted{
		CartID:  c.id,
		UserID:  c.userID,
		OrderID: orderID,
	})
	return nil
}

func (c *Cart) Abandon() error {
	if err := c.transitionTo(CartStatusAbandoned); err != nil {
		return err
	}
	c.record(AggregateCart, c.id, EventCartAbandoned, CartAbandoned{CartID: c.id, UserID: c.userID})
	return nil
}

func (c *Cart) transitionTo(next CartStatus) error {
	if !c.status.CanTransitionTo(next) {
		return &InvalidTransitionError{Entity: AggregateCart, From: string(c.status), To: string(next)}
	}
	c.status = next
	c.touch()
	return nil
}

func (c *Cart) ensureActive() error {
	if c.status != CartStatusActive {
		return &InvalidTransitionError{Entity: AggregateCart, From: string(c.status), Action: "be modified"}
	}
	return nil
}

func (c *Cart) indexOf(itemID string) int {
	for i := range c.items {
		if c.items[i].ID == itemID {
			return i
		}
	}
	return -1
}

func (c *Cart) touch() { c.updatedAt = Now() }
