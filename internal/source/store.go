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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pgEdge/pgedge-starload/internal/db"
	"github.com/pgEdge/pgedge-starload/internal/logging"
)

// Extractor delivers the upstream records for one pipeline run.
type Extractor interface {
	Extract(ctx context.Context) (*RecordSet, error)
}

// Queries read the four upstream collections. They take no parameters.
const (
	selectCustomersSQL  = `SELECT customer_id, first_name, last_name, email, city, registration_date FROM customers`
	selectProductsSQL   = `SELECT product_id, product_name, category, price FROM products`
	selectOrdersSQL     = `SELECT order_id, customer_id, order_date, total_amount, status FROM orders`
	selectOrderItemsSQL = `SELECT item_id, order_id, product_id, quantity, unit_price FROM order_items`
)

// Store reads the upstream collections from PostgreSQL.
type Store struct {
	q db.Querier
}

// NewStore creates a Store over a pool, connection or transaction.
func NewStore(q db.Querier) *Store {
	return &Store{q: q}
}

// Extract runs the four source queries and returns their rows in memory.
func (s *Store) Extract(ctx context.Context) (*RecordSet, error) {
	customers, err := collect(ctx, s.q, "customers", selectCustomersSQL, scanCustomer)
	if err != nil {
		return nil, err
	}
	products, err := collect(ctx, s.q, "products", selectProductsSQL, scanProduct)
	if err != nil {
		return nil, err
	}
	orders, err := collect(ctx, s.q, "orders", selectOrdersSQL, scanOrder)
	if err != nil {
		return nil, err
	}
	items, err := collect(ctx, s.q, "order_items", selectOrderItemsSQL, scanOrderItem)
	if err != nil {
		return nil, err
	}

	rs := &RecordSet{
		Customers:  customers,
		Products:   products,
		Orders:     orders,
		OrderItems: items,
	}

	logging.Debug().
		Int("customers", len(customers)).
		Int("products", len(products)).
		Int("orders", len(orders)).
		Int("order_items", len(items)).
		Msg("Extracted source records")

	return rs, nil
}

func collect[T any](ctx context.Context, q db.Querier, table, sql string, fn pgx.RowToFunc[T]) ([]T, error) {
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	out, err := pgx.CollectRows(rows, fn)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	return out, nil
}

func scanCustomer(row pgx.CollectableRow) (Customer, error) {
	var (
		c          Customer
		registered pgtype.Date
	)
	if err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.City, &registered); err != nil {
		return c, err
	}
	if registered.Valid {
		c.RegistrationDate = registered.Time
	}
	return c, nil
}

func scanProduct(row pgx.CollectableRow) (Product, error) {
	var (
		p     Product
		price pgtype.Numeric
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Category, &price); err != nil {
		return p, err
	}

	d, err := db.Decimal(price)
	if err != nil {
		return p, fmt.Errorf("product %d price: %w", p.ID, err)
	}
	p.Price = d
	return p, nil
}

func scanOrder(row pgx.CollectableRow) (Order, error) {
	var (
		o      Order
		date   pgtype.Date
		total  pgtype.Numeric
		status pgtype.Text
	)
	if err := row.Scan(&o.ID, &o.CustomerID, &date, &total, &status); err != nil {
		return o, err
	}
	if !date.Valid {
		return o, fmt.Errorf("order %d: order_date is NULL", o.ID)
	}
	o.OrderDate = date.Time
	o.Status = status.String

	amount, err := db.RequiredDecimal(total, "total_amount")
	if err != nil {
		return o, fmt.Errorf("order %d: %w", o.ID, err)
	}
	o.TotalAmount = amount
	return o, nil
}

func scanOrderItem(row pgx.CollectableRow) (OrderItem, error) {
	var (
		it    OrderItem
		price pgtype.Numeric
	)
	if err := row.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &price); err != nil {
		return it, err
	}
	amount, err := db.RequiredDecimal(price, "unit_price")
	if err != nil {
		return it, fmt.Errorf("order item %d: %w", it.ID, err)
	}
	it.UnitPrice = amount
	return it, nil
}

// StaticExtractor serves a fixed RecordSet. It backs tests and dry runs.
type StaticExtractor struct {
	Records *RecordSet
	Err     error
}

// Extract returns the configured RecordSet or error.
func (s StaticExtractor) Extract(ctx context.Context) (*RecordSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Records == nil {
		return &RecordSet{}, nil
	}
	return s.Records, nil
}
