package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventCartItemAdded   EventType = "cart.item_added"
	EventCartItemUpdated EventType = "cart.item_updated"
	EventCartItemRemoved EventType = "cart.item_removed"
	EventCartCleared     EventType = "cart.cleared"
	EventCartConverted   EventType = "cart.converted"
	EventCartAbandoned   EventType = "cart.abandoned"

	EventOrderPlaced                   EventType = "order.placed"
	EventInventoryReservationRequested EventType = "inventory.reservation_requested"
	EventOrderProcessing               EventType = "order.processing"
	EventOrderShipped                  EventType = "order.shipped"
	EventOrderDelivered                EventType = "order.delivered"
	EventOrderCancelled                EventType = "order.cancelled"
)

const (
	AggregateCart  = "cart"
	AggregateOrder = "order"
)

// Event is an immutable fact raised by an aggregate. The ID is what
// consumers de-duplicate on.
type Event struct {
	ID            string
	Type          EventType
	AggregateID   string
	AggregateType string
	OccurredAt    time.Time
	Payload       any
}

// Envelope is the serialized form of an Event stored in the outbox and sent
// over the broker.
type Envelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

func (e Event) Marshal() ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Type, err)
	}
	return json.Marshal(Envelope{
		ID:            e.ID,
		Type:          e.Type,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		OccurredAt:    e.OccurredAt,
		Payload:       payload,
	})
}

// DecodeEnvelope reports malformed bodies as ErrValidation.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: decode envelope: %w", ErrValidation, err)
	}
	if env.ID == "" || env.Type == "" {
		return Envelope{}, NewValidationError("envelope", "missing id or type")
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into v.
func (e Envelope) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: decode %s payload: %w", ErrValidation, e.Type, err)
	}
	return nil
}

// Aggregate is anything the unit of work can collect events from.
type Aggregate interface {
	AggregateID() string
	PullEvents() []Event
}

// recorder queues events on an aggregate until the unit of work pulls them.
type recorder struct {
	pending []Event
}

func (r *recorder) record(aggregateType, aggregateID string, t EventType, payload any) {
	r.pending = append(r.pending, Event{
		ID:            uuid.NewString(),
		Type:          t,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		OccurredAt:    Now(),
		Payload:       payload,
	})
}

// PullEvents returns queued events in raise order and clears the queue.
func (r *recorder) PullEvents() []Event {
	out := r.pending
	r.pending = nil
	return out
}

// PendingEvents returns a copy of the queue without clearing it.
func (r *recorder) PendingEvents() []Event {
	out := make([]Event, len(r.pending))
	copy(out, r.pending)
	return out
}

// Now is the clock used by aggregates.
var Now = func() time.Time { return time.Now().UTC() }

type CartItemAdded struct {
	CartID    string          `json:"cart_id"`
	UserID    string          `json:"user_id"`
	ItemID    string          `json:"item_id"`
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id,omitempty"`
	SKU       string          `json:"sku"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Currency  string          `json:"currency"`
}

type CartItemUpdated struct {
	CartID   string `json:"cart_id"`
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type CartItemRemoved struct {
	CartID string `json:"cart_id"`
	ItemID string `json:"item_id"`
}

type CartCleared struct {
	CartID string `json:"cart_id"`
	UserID string `json:"user_id"`
}

type CartConverted struct {
	CartID  string `json:"cart_id"`
	UserID  string `json:"user_id"`
	OrderID string `json:"order_id"`
}

type CartAbandoned struct {
	CartID string `json:"cart_id"`
	UserID string `json:"user_id"`
}

type OrderPlaced struct {
	OrderID     string          `json:"order_id"`
	OrderNumber OrderNumber     `json:"order_number"`
	UserID      string          `json:"user_id"`
	CartID      string          `json:"cart_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	ItemCount   int             `json:"item_count"`
}

type ReservationItem struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
}

type InventoryReservationRequested struct {
	OrderID     string            `json:"order_id"`
	OrderNumber OrderNumber       `json:"order_number"`
	Items       []ReservationItem `json:"items"`
}

// OrderStatusChanged is the payload of processing, shipped and delivered events.
type OrderStatusChanged struct {
	OrderID     string      `json:"order_id"`
	OrderNumber OrderNumber `json:"order_number"`
	UserID      string      `json:"user_id"`
	From        OrderStatus `json:"from"`
	To          OrderStatus `json:"to"`
	DeliveredAt *time.Time  `json:"delivered_at,omitempty"`
}

type OrderCancelled struct {
	OrderID     string      `json:"order_id"`
	OrderNumber OrderNumber `json:"order_number"`
	UserID      string      `json:"user_id"`
	From        OrderStatus `json:"from"`
	Reason      string      `json:"reason"`
}
