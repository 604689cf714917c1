package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Migration is one schema version. Statements run one at a time because the
// MySQL driver rejects multi-statement strings by default.
type Migration struct {
	Version string
	Up      []string
}

const createSchemaVersion = `CREATE TABLE IF NOT EXISTS schema_version (
    version VARCHAR(32) PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

var mysqlMigrations = []Migration{
	{
		Version: "1.0.0",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS product (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    sku VARCHAR(64) NOT NULL,
    base_price DECIMAL(12,2) NOT NULL,
    currency CHAR(3) NOT NULL,
    UNIQUE KEY uq_product_sku (sku)
)`,
			`CREATE TABLE IF NOT EXISTS product_variant (
    id VARCHAR(64) PRIMARY KEY,
    product_id VARCHAR(64) NOT NULL,
    name VARCHAR(255) NOT NULL,
    sku VARCHAR(64) NOT NULL,
    price DECIMAL(12,2) NOT NULL,
    UNIQUE KEY uq_variant_sku (sku),
    CONSTRAINT fk_variant_product FOREIGN KEY (product_id) REFERENCES product(id) ON DELETE CASCADE
)`,
			`CREATE TABLE IF NOT EXISTS cart (
    id VARCHAR(36) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    status VARCHAR(16) NOT NULL,
    version INT NOT NULL,
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL,
    active_user_id VARCHAR(64) AS (CASE WHEN status = 'ACTIVE' THEN user_id END) STORED,
    UNIQUE KEY uq_cart_active_user (active_user_id),
    KEY idx_cart_status_updated (status, updated_at)
)`,
			`CREATE TABLE IF NOT EXISTS cart_item (
    id VARCHAR(36) PRIMARY KEY,
    cart_id VARCHAR(36) NOT NULL,
    position INT NOT NULL,
    product_id VARCHAR(64) NOT NULL,
    variant_id VARCHAR(64) NOT NULL DEFAULT '',
    product_name VARCHAR(255) NOT NULL,
    sku VARCHAR(64) NOT NULL,
    quantity INT NOT NULL,
    unit_price DECIMAL(12,2) NOT NULL,
    currency CHAR(3) NOT NULL,
    CONSTRAINT fk_cart_item_cart FOREIGN KEY (cart_id) REFERENCES cart(id) ON DELETE CASCADE
)`,
			`CREATE TABLE IF NOT EXISTS orders (
    id VARCHAR(36) PRIMARY KEY,
    order_number VARCHAR(32) NOT NULL,
    user_id VARCHAR(64) NOT NULL,
    cart_id VARCHAR(36) NOT NULL,
    status VARCHAR(16) NOT NULL,
    shipping_address JSON NOT NULL,
    billing_address JSON NOT NULL,
    cancellation_reason VARCHAR(500) NOT NULL DEFAULT '',
    delivered_at DATETIME(6) NULL,
    version INT NOT NULL,
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL,
    UNIQUE KEY uq_orders_number (order_number),
    UNIQUE KEY uq_orders_cart (cart_id),
    KEY idx_orders_user_created (user_id, created_at)
)`,
			`CREATE TABLE IF NOT EXISTS order_item (
    id VARCHAR(36) PRIMARY KEY,
    order_id VARCHAR(36) NOT NULL,
    position INT NOT NULL,
    product_id VARCHAR(64) NOT NULL,
    product_name VARCHAR(255) NOT NULL,
    sku VARCHAR(64) NOT NULL,
    quantity INT NOT NULL,
    unit_price DECIMAL(12,2) NOT NULL,
    currency CHAR(3) NOT NULL,
    CONSTRAINT fk_order_item_order FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
)`,
			`CREATE TABLE IF NOT EXISTS outbox (
    seq BIGINT AUTO_INCREMENT PRIMARY KEY,
    id VARCHAR(36) NOT NULL,
    event_type VARCHAR(64) NOT NULL,
    aggregate_id VARCHAR(36) NOT NULL,
    aggregate_type VARCHAR(32) NOT NULL,
    payload JSON NOT NULL,
    status VARCHAR(16) NOT NULL,
    attempts INT NOT NULL DEFAULT 0,
    next_attempt_at DATETIME(6) NOT NULL,
    last_error VARCHAR(1000) NOT NULL DEFAULT '',
    created_at DATETIME(6) NOT NULL,
    published_at DATETIME(6) NULL,
    UNIQUE KEY uq_outbox_id (id),
    KEY idx_outbox_status_seq (status, seq)
)`,
			`CREATE TABLE IF NOT EXISTS order_number_sequence (
    period CHAR(7) PRIMARY KEY,
    value BIGINT NOT NULL
)`,
		},
	},
}

var sqliteMigrations = []Migration{
	{
		Version: "1.0.0",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS product (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    sku TEXT NOT NULL UNIQUE,
    base_price TEXT NOT NULL,
    currency TEXT NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS product_variant (
    id TEXT PRIMARY KEY,
    product_id TEXT NOT NULL REFERENCES product(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    sku TEXT NOT NULL UNIQUE,
    price TEXT NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS cart (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    status TEXT NOT NULL,
    version INTEGER NOT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS uq_cart_active_user ON cart(user_id) WHERE status = 'ACTIVE'`,
			`CREATE INDEX IF NOT EXISTS idx_cart_status_updated ON cart(status, updated_at)`,
			`CREATE TABLE IF NOT EXISTS cart_item (
    id TEXT PRIMARY KEY,
    cart_id TEXT NOT NULL REFERENCES cart(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    product_id TEXT NOT NULL,
    variant_id TEXT NOT NULL DEFAULT '',
    product_name TEXT NOT NULL,
    sku TEXT NOT NULL,
    quantity INTEGER NOT NULL,
    unit_price TEXT NOT NULL,
    currency TEXT NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    order_number TEXT NOT NULL UNIQUE,
    user_id TEXT NOT NULL,
    cart_id TEXT NOT NULL UNIQUE,
    status TEXT NOT NULL,
    shipping_address TEXT NOT NULL,
    billing_address TEXT NOT NULL,
    cancellation_reason TEXT NOT NULL DEFAULT '',
    delivered_at DATETIME,
    version INTEGER NOT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS idx_orders_user_created ON orders(user_id, created_at)`,
			`CREATE TABLE IF NOT EXISTS order_item (
    id TEXT PRIMARY KEY,
    order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    product_id TEXT NOT NULL,
    product_name TEXT NOT NULL,
    sku TEXT NOT NULL,
    quantity INTEGER NOT NULL,
    unit_price TEXT NOT NULL,
    currency TEXT NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS outbox (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    event_type TEXT NOT NULL,
    aggregate_id TEXT NOT NULL,
    aggregate_type TEXT NOT NULL,
    payload TEXT NOT NULL,
    status TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    next_attempt_at DATETIME NOT NULL,
    last_error TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    published_at DATETIME
)`,
			`CREATE INDEX IF NOT EXISTS idx_outbox_status_seq ON outbox(status, seq)`,
			`CREATE TABLE IF NOT EXISTS order_number_sequence (
    period TEXT PRIMARY KEY,
    value INTEGER NOT NULL
)`,
		},
	},
}

// Migrate applies every migration newer than the recorded schema version.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	if _, err := db.ExecContext(ctx, createSchemaVersion); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	current, err := currentSchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range d.schema {
		v, err := semver.NewVersion(m.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", m.Version, err)
		}
		if !current.LessThan(v) {
			continue
		}
		for i, stmt := range m.Up {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s step %d: %w", m.Version, i+1, err)
			}
		}
		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", m.Version); err != nil {
			return fmt.Errorf("record migration %s: %w", m.Version, err)
		}
		current = v
	}
	return nil
}

func currentSchemaVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("read schema_version: %w", err)
	}
	defer rows.Close()

	current := semver.MustParse("0.0.0")
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan schema_version: %w", err)
		}
		v, err := semver.NewVersion(s)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", s, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	return current, rows.Err()
}
