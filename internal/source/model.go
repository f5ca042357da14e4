//-------------------------------------------------------------------------
//
// pgEdge Star Schema Loader
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package source holds the normalized transactional records the warehouse is
// built from, and the code that reads, creates and populates the upstream
// database.
package source

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Order statuses used by the upstream store.
const (
	StatusPending   = "pending"
	StatusShipped   = "shipped"
	StatusCompleted = "completed"
)

// Statuses lists the known order statuses.
var Statuses = []string{StatusCompleted, StatusPending, StatusShipped}

// Customer is an upstream customer record. Text attributes keep their NULL
// state so the warehouse can carry it through.
type Customer struct {
	ID               int64
	FirstName        pgtype.Text
	LastName         pgtype.Text
	Email            pgtype.Text
	City             pgtype.Text
	RegistrationDate time.Time
}

// Product is an upstream catalog entry. Price is the list price, not the
// price an item sold for, and may be NULL.
type Product struct {
	ID       int64
	Name     pgtype.Text
	Category pgtype.Text
	Price    decimal.NullDecimal
}

// Text wraps a non-NULL string.
func Text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: true}
}

// Price wraps a non-NULL list price.
func Price(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// Order is an upstream order header. TotalAmount is the declared total and
// is never re-derived from the items.
type Order struct {
	ID          int64
	CustomerID  int64
	OrderDate   time.Time
	TotalAmount decimal.Decimal
	Status      string
}

// OrderItem is one line of an order, priced at the time of sale.
type OrderItem struct {
	ID        int64
	OrderID   int64
	ProductID int64
	Quantity  int32
	UnitPrice decimal.Decimal
}

// RecordSet is the four collections extracted for one pipeline run. It is
// not modified after extraction.
type RecordSet struct {
	Customers  []Customer
	Products   []Product
	Orders     []Order
	OrderItems []OrderItem
}

// Counts holds the size of each collection in a RecordSet.
type Counts struct {
	Customers  int
	Products   int
	Orders     int
	OrderItems int
}

// Counts returns the number of records in each collection.
func (rs *RecordSet) Counts() Counts {
	return Counts{
		Customers:  len(rs.Customers),
		Products:   len(rs.Products),
		Orders:     len(rs.Orders),
		OrderItems: len(rs.OrderItems),
	}
}

// Total returns the number of records across all collections.
func (c Counts) Total() int {
	return c.Customers + c.Products + c.Orders + c.OrderItems
}
