package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rl1809/order-core/internal/core/domain"
)

type CatalogRepository struct {
	db *sql.DB
}

func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) GetProductByID(ctx context.Context, id string) (domain.Product, error) {
	var p domain.Product
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, sku, base_price, currency FROM product WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.SKU, &p.BasePrice, &p.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, domain.NewNotFoundError("product", id)
	}
	if err != nil {
		return domain.Product{}, persistErr("query product", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, sku, price FROM product_variant WHERE product_id = ? ORDER BY id`, id)
	if err != nil {
		return domain.Product{}, persistErr("query variants", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v domain.ProductVariant
		if err := rows.Scan(&v.ID, &v.Name, &v.SKU, &v.Price); err != nil {
			return domain.Product{}, persistErr("scan variant", err)
		}
		p.Variants = append(p.Variants, v)
	}
	if err := rows.Err(); err != nil {
		return domain.Product{}, persistErr("iterate variants", err)
	}
	return p, nil
}

// UpsertProduct replaces the product and its variants. Used for seeding.
func (r *CatalogRepository) UpsertProduct(ctx context.Context, p domain.Product) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM product_variant WHERE product_id = ?", p.ID); err != nil {
		return persistErr("delete variants", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM product WHERE id = ?", p.ID); err != nil {
		return persistErr("delete product", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO product (id, name, sku, base_price, currency) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.SKU, p.BasePrice, p.Currency); err != nil {
		return persistErr("insert product", err)
	}
	for _, v := range p.Variants {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO product_variant (id, product_id, name, sku, price) VALUES (?, ?, ?, ?, ?)`,
			v.ID, p.ID, v.Name, v.SKU, v.Price); err != nil {
			return persistErr("insert variant", err)
		}
	}
	return tx.Commit()
}
