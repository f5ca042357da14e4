//-------------------------------------------------------------------------
//
// pgEdge Star Schema Loader
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package source

import (
	"context"
	"fmt"

	"github.com/pgEdge/pgedge-starload/internal/db"
)

// Tables lists the upstream tables, parents first.
var Tables = []string{"customers", "products", "orders", "order_items"}

// Schema SQL for the upstream transactional database.
const createSchemaSQL = `
-- Customers: people who place orders
CREATE TABLE IF NOT EXISTS customers (
    customer_id       INTEGER PRIMARY KEY,
    first_name        VARCHAR(50),
    last_name         VARCHAR(50),
    email             VARCHAR(100),
    city              VARCHAR(50),
    registration_date DATE,
    created_at        TIMESTAMP DEFAULT NOW()
);

-- Products: catalog with list price
CREATE TABLE IF NOT EXISTS products (
    product_id   INTEGER PRIMARY KEY,
    product_name VARCHAR(100),
    category     VARCHAR(50),
    price        NUMERIC(10,2),
    created_at   TIMESTAMP DEFAULT NOW()
);

-- Orders: one row per order with its declared total
CREATE TABLE IF NOT EXISTS orders (
    order_id     INTEGER PRIMARY KEY,
    customer_id  INTEGER REFERENCES customers(customer_id),
    order_date   DATE,
    total_amount NUMERIC(10,2),
    status       VARCHAR(20),
    created_at   TIMESTAMP DEFAULT NOW()
);

-- Order items: order lines priced at time of sale
CREATE TABLE IF NOT EXISTS order_items (
    item_id    INTEGER PRIMARY KEY,
    order_id   INTEGER REFERENCES orders(order_id),
    product_id INTEGER REFERENCES products(product_id),
    quantity   INTEGER,
    unit_price NUMERIC(10,2),
    created_at TIMESTAMP DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_id);
CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id);
`

const dropSchemaSQL = `
DROP TABLE IF EXISTS order_items CASCADE;
DROP TABLE IF EXISTS orders CASCADE;
DROP TABLE IF EXISTS products CASCADE;
DROP TABLE IF EXISTS customers CASCADE;
`

// CreateSchema creates the upstream tables.
func CreateSchema(ctx context.Context, q db.Querier) error {
	if _, err := q.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("failed to create source schema: %w", err)
	}
	return nil
}

// DropSchema drops the upstream tables.
func DropSchema(ctx context.Context, q db.Querier) error {
	if _, err := q.Exec(ctx, dropSchemaSQL); err != nil {
		return fmt.Errorf("failed to drop source schema: %w", err)
	}
	return nil
}
