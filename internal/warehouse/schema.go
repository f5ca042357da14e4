//-------------------------------------------------------------------------
//
// pgEdge Star Schema Loader
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package warehouse defines the star-schema relations and loads transformed
// rows into them.
package warehouse

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pgEdge/pgedge-starload/internal/db"
	"github.com/pgEdge/pgedge-starload/internal/logging"
)

// DB is the warehouse capability set: the Querier methods plus bulk COPY.
// It is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DB interface {
	db.Querier
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Relation names.
const (
	TableDimCustomer = "dim_customer"
	TableDimProduct  = "dim_product"
	TableDimDate     = "dim_date"
	TableFactSales   = "fact_sales"
)

// Table describes one warehouse relation.
type Table struct {
	Name        string
	Description string
	DDL         string
}

// Tables lists the relations in dependency order: dimensions before the fact.
var Tables = []Table{
	{
		Name:        TableDimCustomer,
		Description: "Customers with at least one order, with lifetime spend and segment",
		DDL: `
CREATE TABLE dim_customer (
    customer_key SERIAL PRIMARY KEY,
    customer_id INTEGER,
    customer_name VARCHAR(100),
    city VARCHAR(50),
    customer_segment VARCHAR(20),
    total_spent NUMERIC(10,2),
    created_at TIMESTAMP DEFAULT NOW()
)`,
	},
	{
		Name:        TableDimProduct,
		Description: "Product catalog with category and list price",
		DDL: `
CREATE TABLE dim_product (
    product_key SERIAL PRIMARY KEY,
    product_id INTEGER,
    product_name VARCHAR(100),
    category VARCHAR(50),
    price NUMERIC(10,2),
    created_at TIMESTAMP DEFAULT NOW()
)`,
	},
	{
		Name:        TableDimDate,
		Description: "Calendar attributes of every order date, keyed YYYYMMDD",
		DDL: `
CREATE TABLE dim_date (
    date_key INTEGER PRIMARY KEY,
    full_date DATE,
    day INTEGER,
    month INTEGER,
    year INTEGER,
    quarter INTEGER,
    week INTEGER,
    day_name VARCHAR(10),
    is_weekend BOOLEAN,
    created_at TIMESTAMP DEFAULT NOW()
)`,
	},
	{
		Name:        TableFactSales,
		Description: "One row per order item with quantity, amount, profit and line total",
		DDL: `
CREATE TABLE fact_sales (
    sales_key SERIAL PRIMARY KEY,
    date_key INTEGER REFERENCES dim_date(date_key),
    customer_key INTEGER REFERENCES dim_customer(customer_key),
    product_key INTEGER REFERENCES dim_product(product_key),
    order_id INTEGER,
    quantity INTEGER,
    amount NUMERIC(10,2),
    profit NUMERIC(10,2),
    line_total NUMERIC(10,2),
    created_at TIMESTAMP DEFAULT NOW()
)`,
	},
}

// TableNames returns the relation names in dependency order.
func TableNames() []string {
	names := make([]string, len(Tables))
	for i, t := range Tables {
		names[i] = t.Name
	}
	return names
}

// SchemaManager drops and recreates the star schema.
type SchemaManager struct {
	// ToggleConstraints relaxes foreign-key enforcement while the old
	// relations are dropped. The setting is transaction-local, so Rebuild
	// must then run inside a transaction.
	ToggleConstraints bool
}

// NewSchemaManager creates a SchemaManager.
func NewSchemaManager(toggleConstraints bool) *SchemaManager {
	return &SchemaManager{ToggleConstraints: toggleConstraints}
}

// Rebuild drops any existing star-schema relations and creates them empty.
// Running it twice leaves the same empty relations.
func (m *SchemaManager) Rebuild(ctx context.Context, q db.Querier) error {
	logging.Info().Bool("toggle_constraints", m.ToggleConstraints).Msg("Rebuilding warehouse schema")

	if m.ToggleConstraints {
		if _, err := q.Exec(ctx, "SET LOCAL session_replication_role = replica"); err != nil {
			return fmt.Errorf("failed to relax constraints: %w", err)
		}
	}

	if err := m.Drop(ctx, q); err != nil {
		return err
	}

	if m.ToggleConstraints {
		if _, err := q.Exec(ctx, "SET LOCAL session_replication_role = origin"); err != nil {
			return fmt.Errorf("failed to restore constraints: %w", err)
		}
	}

	for _, t := range Tables {
		logging.Debug().Str("table", t.Name).Msg("Creating table")
		if _, err := q.Exec(ctx, t.DDL); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t.Name, err)
		}
	}

	logging.Info().Int("tables", len(Tables)).Msg("Warehouse schema created")
	return nil
}

// Drop removes the star-schema relations, fact first.
func (m *SchemaManager) Drop(ctx context.Context, q db.Querier) error {
	for i := len(Tables) - 1; i >= 0; i-- {
		name := Tables[i].Name
		logging.Debug().Str("table", name).Msg("Dropping table")
		if _, err := q.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", name)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", name, err)
		}
	}
	return nil
}

// TableCount is the row count of one relation.
type TableCount struct {
	Table string
	Rows  int64
}

// CountRows returns the row count of every relation in dependency order.
func CountRows(ctx context.Context, q db.Querier) ([]TableCount, error) {
	counts := make([]TableCount, 0, len(Tables))
	for _, t := range Tables {
		var n int64
		sql := "SELECT count(*) FROM " + pgx.Identifier{t.Name}.Sanitize()
		if err := q.QueryRow(ctx, sql).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", t.Name, err)
		}
		counts = append(counts, TableCount{Table: t.Name, Rows: n})
	}
	return counts, nil
}
