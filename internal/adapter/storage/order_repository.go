package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rl1809/order-core/internal/core/domain"
)

const orderColumns = `id, order_number, user_id, cart_id, status, shipping_address, billing_address,
	cancellation_reason, delivered_at, version, created_at, updated_at`

type orderRepository struct {
	q     DBTX
	d     Dialect
	lock  string
	track func(domain.Aggregate)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrderRow(s rowScanner) (orderRow, error) {
	var r orderRow
	err := s.Scan(&r.ID, &r.Number, &r.UserID, &r.CartID, &r.Status, &r.ShippingAddress, &r.BillingAddress,
		&r.CancellationReason, &r.DeliveredAt, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (r *orderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	row, err := scanOrderRow(r.q.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE id = ?"+r.lock, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("order", id)
	}
	if err != nil {
		return nil, persistErr("query order", err)
	}
	return r.hydrate(ctx, row)
}

func (r *orderRepository) hydrate(ctx context.Context, row orderRow) (*domain.Order, error) {
	items, err := r.items(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	order, err := row.toDomain(items)
	if err != nil {
		return nil, persistErr("map order", err)
	}
	return order, nil
}

func (r *orderRepository) items(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, product_id, product_name, sku, quantity, unit_price, currency
		FROM order_item WHERE order_id = ? ORDER BY position`, orderID)
	if err != nil {
		return nil, persistErr("query order items", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it orderItemRow
		if err := rows.Scan(&it.ID, &it.ProductID, &it.ProductName, &it.SKU,
			&it.Quantity, &it.UnitPrice, &it.Currency); err != nil {
			return nil, persistErr("scan order item", err)
		}
		items = append(items, it.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate order items", err)
	}
	return items, nil
}

func (r *orderRepository) Save(ctx context.Context, order *domain.Order) error {
	next := order.Version() + 1

	if order.Version() == 0 {
		if err := r.insert(ctx, order, next); err != nil {
			return err
		}
	} else {
		result, err := r.q.ExecContext(ctx, `
			UPDATE orders
			SET status = ?, cancellation_reason = ?, delivered_at = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ?`,
			string(order.Status()), order.CancellationReason(), toNullTime(order.DeliveredAt()),
			next, order.UpdatedAt().UTC(), order.ID(), order.Version(),
		)
		if err != nil {
			return persistErr("update order", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return ErrOptimisticLock
		}
	}

	order.SetVersion(next)
	if r.track != nil {
		r.track(order)
	}
	return nil
}

func (r *orderRepository) insert(ctx context.Context, order *domain.Order, version int) error {
	shipping, err := encodeAddress(order.ShippingAddress())
	if err != nil {
		return err
	}
	billing, err := encodeAddress(order.BillingAddress())
	if err != nil {
		return err
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO orders (id, order_number, user_id, cart_id, status, shipping_address, billing_address,
			cancellation_reason, delivered_at, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID(), order.Number().String(), order.UserID(), order.CartID(), string(order.Status()),
		shipping, billing, order.CancellationReason(), toNullTime(order.DeliveredAt()),
		version, order.CreatedAt().UTC(), order.UpdatedAt().UTC(),
	)
	if r.d.isUniqueViolation(err) {
		return domain.NewConflictError("order number or cart already used")
	}
	if err != nil {
		return persistErr("insert order", err)
	}

	for i, it := range order.Items() {
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO order_item (id, order_id, position, product_id, product_name, sku, quantity, unit_price, currency)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			it.ID(), order.ID(), i, it.ProductID(), it.ProductName(), it.SKU(),
			it.Quantity(), it.UnitPrice(), it.Currency(),
		)
		if err != nil {
			return persistErr("insert order item", err)
		}
	}
	return nil
}

func (r *orderRepository) ExistsForCart(ctx context.Context, cartID string) (bool, error) {
	var n int
	err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders WHERE cart_id = ?", cartID).Scan(&n)
	if err != nil {
		return false, persistErr("query order by cart", err)
	}
	return n > 0, nil
}

func (r *orderRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE user_id = ?
		ORDER BY created_at DESC, order_number DESC
		LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, persistErr("query orders", err)
	}

	// Items are loaded after the cursor closes; SQLite runs on a single connection.
	var list []orderRow
	for rows.Next() {
		row, err := scanOrderRow(rows)
		if err != nil {
			rows.Close()
			return nil, persistErr("scan order", err)
		}
		list = append(list, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate orders", err)
	}

	orders := make([]*domain.Order, 0, len(list))
	for _, row := range list {
		o, err := r.hydrate(ctx, row)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}
