package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rl1809/order-core/internal/core/domain"
)

const cartColumns = "id, user_id, status, version, created_at, updated_at"

type cartRepository struct {
	q     DBTX
	d     Dialect
	lock  string
	track func(domain.Aggregate)
}

func (r *cartRepository) FindActiveByUser(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := r.findOne(ctx, "user_id = ? AND status = ?", userID, string(domain.CartStatusActive))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cart, err
}

func (r *cartRepository) FindByID(ctx context.Context, id string) (*domain.Cart, error) {
	cart, err := r.findOne(ctx, "id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("cart", id)
	}
	return cart, err
}

func (r *cartRepository) findOne(ctx context.Context, where string, args ...any) (*domain.Cart, error) {
	var row cartRow
	err := r.q.QueryRowContext(ctx,
		"SELECT "+cartColumns+" FROM cart WHERE "+where+r.lock, args...,
	).Scan(&row.ID, &row.UserID, &row.Status, &row.Version, &row.CreatedAt, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, persistErr("query cart", err)
	}

	items, err := r.items(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	return row.toDomain(items), nil
}

func (r *cartRepository) items(ctx context.Context, cartID string) ([]domain.CartItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, product_id, variant_id, product_name, sku, quantity, unit_price, currency
		FROM cart_item WHERE cart_id = ? ORDER BY position`, cartID)
	if err != nil {
		return nil, persistErr("query cart items", err)
	}
	defer rows.Close()

	var items []domain.CartItem
	for rows.Next() {
		var it cartItemRow
		if err := rows.Scan(&it.ID, &it.ProductID, &it.VariantID, &it.ProductName, &it.SKU,
			&it.Quantity, &it.UnitPrice, &it.Currency); err != nil {
			return nil, persistErr("scan cart item", err)
		}
		items = append(items, it.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate cart items", err)
	}
	return items, nil
}

func (r *cartRepository) Save(ctx context.Context, cart *domain.Cart) error {
	next := cart.Version() + 1

	if cart.Version() == 0 {
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO cart (id, user_id, status, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			cart.ID(), cart.UserID(), string(cart.Status()), next,
			cart.CreatedAt().UTC(), cart.UpdatedAt().UTC(),
		)
		if r.d.isUniqueViolation(err) {
			return domain.NewConflictError("user already has an active cart")
		}
		if err != nil {
			return persistErr("insert cart", err)
		}
	} else {
		result, err := r.q.ExecContext(ctx, `
			UPDATE cart SET status = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ?`,
			string(cart.Status()), next, cart.UpdatedAt().UTC(), cart.ID(), cart.Version(),
		)
		if r.d.isUniqueViolation(err) {
			return domain.NewConflictError("user already has an active cart")
		}
		if err != nil {
			return persistErr("update cart", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return ErrOptimisticLock
		}
	}

	if _, err := r.q.ExecContext(ctx, "DELETE FROM cart_item WHERE cart_id = ?", cart.ID()); err != nil {
		return persistErr("clear cart items", err)
	}
	for i, it := range cart.Items() {
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO cart_item (id, cart_id, position, product_id, variant_id, product_name, sku, quantity, unit_price, currency)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			it.ID, cart.ID(), i, it.ProductID, it.VariantID, it.ProductName, it.SKU,
			it.Quantity, it.UnitPrice, it.Currency,
		)
		if err != nil {
			return persistErr("insert cart item", err)
		}
	}

	cart.SetVersion(next)
	if r.track != nil {
		r.track(cart)
	}
	return nil
}

func (r *cartRepository) ListStaleActive(ctx context.Context, before time.Time, limit int) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id FROM cart
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at LIMIT ?`,
		string(domain.CartStatusActive), before.UTC(), limit,
	)
	if err != nil {
		return nil, persistErr("query stale carts", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, persistErr("scan stale cart", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate stale carts", err)
	}
	return ids, nil
}
