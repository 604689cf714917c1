package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func laptop(qty int) CartItem {
	return CartItem{
		ProductID:   "prod-laptop",
		ProductName: "Laptop",
		SKU:         "LAP-001",
		Quantity:    qty,
		UnitPrice:   decimal.RequireFromString("850.00"),
		Currency:    "USD",
	}
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestNewCart(t *testing.T) {
	c, err := NewCart("user-1")
	require.NoError(t, err)
	assert.Equal(t, CartStatusActive, c.Status())
	assert.True(t, c.IsEmpty())
	assert.NotEmpty(t, c.ID())

	_, err = NewCart("  ")
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestCart_AddItemMergesSameProductAndVariant(t *testing.T) {
	c, _ := NewCart("user-1")

	first, err := c.AddItem(laptop(2))
	require.NoError(t, err)

	repriced := laptop(3)
	repriced.UnitPrice = decimal.RequireFromString("800.00")
	merged, err := c.AddItem(repriced)
	require.NoError(t, err)

	assert.Equal(t, first.ID, merged.ID)
	require.Len(t, c.Items(), 1)
	assert.Equal(t, 5, c.Items()[0].Quantity)
	assert.True(t, c.Items()[0].UnitPrice.Equal(decimal.RequireFromString("800.00")))

	variant := laptop(1)
	variant.VariantID = "var-16gb"
	_, err = c.AddItem(variant)
	require.NoError(t, err)
	assert.Len(t, c.Items(), 2)

	assert.Equal(t,
		[]EventType{EventCartItemAdded, EventCartItemAdded, EventCartItemAdded},
		eventTypes(c.PullEvents()))
}

func TestCart_AddItemValidation(t *testing.T) {
	c, _ := NewCart("user-1")

	_, err := c.AddItem(laptop(0))
	assert.True(t, errors.Is(err, ErrValidation))

	neg := laptop(1)
	neg.UnitPrice = decimal.NewFromInt(-1)
	_, err = c.AddItem(neg)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = c.AddItem(laptop(1))
	require.NoError(t, err)
	eur := laptop(1)
	eur.ProductID = "prod-mouse"
	eur.Currency = "EUR"
	_, err = c.AddItem(eur)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestCart_UpdateAndRemove(t *testing.T) {
	c, _ := NewCart("user-1")
	item, _ := c.AddItem(laptop(1))

	require.NoError(t, c.UpdateItemQuantity(item.ID, 4))
	assert.Equal(t, 4, c.Items()[0].Quantity)

	err := c.UpdateItemQuantity(item.ID, 0)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, 4, c.Items()[0].Quantity)

	err = c.UpdateItemQuantity("missing", 1)
	assert.True(t, errors.Is(err, ErrNotFound))

	err = c.RemoveItem("missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, c.RemoveItem(item.ID))
	assert.True(t, c.IsEmpty())

	assert.Equal(t,
		[]EventType{EventCartItemAdded, EventCartItemUpdated, EventCartItemRemoved},
		eventTypes(c.PullEvents()))
}

func TestCart_ClearAndSubtotal(t *testing.T) {
	c, _ := NewCart("user-1")
	_, _ = c.AddItem(laptop(2))
	assert.True(t, c.Subtotal().Equal(decimal.RequireFromString("1700")))

	require.NoError(t, c.Clear())
	assert.True(t, c.IsEmpty())
	assert.True(t, c.Subtotal().IsZero())
}

func TestCart_ConvertIsIrreversible(t *testing.T) {
	c, _ := NewCart("user-1")
	item, _ := c.AddItem(laptop(1))
	c.PullEvents()

	require.NoError(t, c.Convert("order-1"))
	assert.Equal(t, CartStatusConverted, c.Status())

	events := c.PullEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventCartConverted, events[0].Type)
	assert.Equal(t, "order-1", events[0].Payload.(CartConverted).OrderID)

	assert.True(t, errors.Is(c.Convert("order-2"), ErrInvalidTransition))
	assert.True(t, errors.Is(c.Abandon(), ErrInvalidTransition))

	_, err := c.AddItem(laptop(1))
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.True(t, errors.Is(c.UpdateItemQuantity(item.ID, 2), ErrInvalidTransition))
	assert.True(t, errors.Is(c.RemoveItem(item.ID), ErrInvalidTransition))
	assert.True(t, errors.Is(c.Clear(), ErrInvalidTransition))
	assert.Empty(t, c.PullEvents())
}

func TestCart_Abandon(t *testing.T) {
	c, _ := NewCart("user-1")
	require.NoError(t, c.Abandon())
	assert.Equal(t, CartStatusAbandoned, c.Status())
	assert.True(t, errors.Is(c.Convert("order-1"), ErrInvalidTransition))
}

func TestProduct_CartItem(t *testing.T) {
	p := Product{
		ID: "prod-1", Name: "Monitor", SKU: "MON", BasePrice: decimal.NewFromInt(200), Currency: "USD",
		Variants: []ProductVariant{{ID: "v-27", Name: "27in", SKU: "MON-27", Price: decimal.NewFromInt(260)}},
	}

	base, err := p.CartItem("", 1)
	require.NoError(t, err)
	assert.Equal(t, "MON", base.SKU)

	v, err := p.CartItem("v-27", 2)
	require.NoError(t, err)
	assert.Equal(t, "MON-27", v.SKU)
	assert.True(t, v.UnitPrice.Equal(decimal.NewFromInt(260)))

	_, err = p.CartItem("v-missing", 1)
	assert.True(t, errors.Is(err, ErrNotFound))
}
