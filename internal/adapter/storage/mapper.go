package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/order-core/internal/core/domain"
)

type cartRow struct {
	ID        string
	UserID    string
	Status    string
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r cartRow) toDomain(items []domain.CartItem) *domain.Cart {
	return domain.RestoreCart(r.ID, r.UserID, domain.CartStatus(r.Status), items,
		r.CreatedAt.UTC(), r.UpdatedAt.UTC(), r.Version)
}

type cartItemRow struct {
	ID          string
	ProductID   string
	VariantID   string
	ProductName string
	SKU         string
	Quantity    int
	UnitPrice   decimal.Decimal
	Currency    string
}

func (r cartItemRow) toDomain() domain.CartItem {
	return domain.CartItem{
		ID:          r.ID,
		ProductID:   r.ProductID,
		VariantID:   r.VariantID,
		ProductName: r.ProductName,
		SKU:         r.SKU,
		Quantity:    r.Quantity,
		UnitPrice:   r.UnitPrice,
		Currency:    r.Currency,
	}
}

type orderRow struct {
	ID                 string
	Number             string
	UserID             string
	CartID             string
	Status             string
	ShippingAddress    string
	BillingAddress     string
	CancellationReason string
	DeliveredAt        sql.NullTime
	Version            int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (r orderRow) toDomain(items []domain.OrderItem) (*domain.Order, error) {
	var shipping, billing domain.Address
	if err := json.Unmarshal([]byte(r.ShippingAddress), &shipping); err != nil {
		return nil, fmt.Errorf("decode shipping address of order %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.BillingAddress), &billing); err != nil {
		return nil, fmt.Errorf("decode billing address of order %s: %w", r.ID, err)
	}

	return domain.RestoreOrder(domain.OrderSnapshot{
		ID:                 r.ID,
		Number:             domain.OrderNumber(r.Number),
		UserID:             r.UserID,
		CartID:             r.CartID,
		Status:             domain.OrderStatus(r.Status),
		Items:              items,
		ShippingAddress:    shipping,
		BillingAddress:     billing,
		CancellationReason: r.CancellationReason,
		DeliveredAt:        fromNullTime(r.DeliveredAt),
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
		Version:            r.Version,
	}), nil
}

type orderItemRow struct {
	ID          string
	ProductID   string
	ProductName string
	SKU         string
	Quantity    int
	UnitPrice   decimal.Decimal
	Currency    string
}

func (r orderItemRow) toDomain() domain.OrderItem {
	return domain.RestoreOrderItem(r.ID, domain.OrderItemParams{
		ProductID:   r.ProductID,
		ProductName: r.ProductName,
		SKU:         r.SKU,
		Quantity:    r.Quantity,
		UnitPrice:   r.UnitPrice,
		Currency:    r.Currency,
	})
}

type outboxRow struct {
	Seq           int64
	ID            string
	EventType     string
	AggregateID   string
	AggregateType string
	Payload       []byte
	Status        string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	PublishedAt   sql.NullTime
}

func (r outboxRow) toDomain() domain.OutboxEntry {
	return domain.OutboxEntry{
		Seq:           r.Seq,
		ID:            r.ID,
		EventType:     domain.EventType(r.EventType),
		AggregateID:   r.AggregateID,
		AggregateType: r.AggregateType,
		Payload:       r.Payload,
		Status:        domain.OutboxStatus(r.Status),
		Attempts:      r.Attempts,
		NextAttemptAt: r.NextAttemptAt.UTC(),
		LastError:     r.LastError,
		CreatedAt:     r.CreatedAt.UTC(),
		PublishedAt:   fromNullTime(r.PublishedAt),
	}
}

func encodeAddress(a domain.Address) (string, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encode address: %w", err)
	}
	return string(b), nil
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

const maxLastErrorLen = 1000

func truncateError(s string) string {
	if len(s) <= maxLastErrorLen {
		return s
	}
	return s[:maxLastErrorLen]
}
