//-------------------------------------------------------------------------
//
// pgEdge Star Schema Loader
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package transform turns the extracted upstream records into the rows of
// the star schema: the sales detail relation, the derived line and customer
// attributes, and the date dimension.
package transform

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pgEdge/pgedge-starload/internal/source"
)

var (
	// ErrDuplicateKey reports two records sharing a natural key in one collection.
	ErrDuplicateKey = errors.New("duplicate natural key")

	// ErrInvalidQuantity reports an order item with a non-positive quantity.
	ErrInvalidQuantity = errors.New("order item quantity must be positive")
)

// SalesDetail is one order item joined with its order, product and customer.
type SalesDetail struct {
	OrderID     int64
	CustomerID  int64
	OrderDate   time.Time
	TotalAmount decimal.Decimal
	Status      string

	ItemID    int64
	ProductID int64
	Quantity  int32
	UnitPrice decimal.Decimal

	// Product is nil when ProductID does not resolve.
	Product *source.Product

	// Customer is nil when CustomerID does not resolve.
	Customer *source.Customer

	// Set by Calculator.Apply.
	LineTotal decimal.Decimal
	Profit    decimal.Decimal
}

// DetailResult is the output of BuildSalesDetail.
type DetailResult struct {
	Rows []SalesDetail

	// DroppedItems holds the ids of order items whose order does not exist.
	DroppedItems []int64

	// UnresolvedProducts and UnresolvedCustomers count rows left without
	// enrichment by the left joins.
	UnresolvedProducts  int
	UnresolvedCustomers int
}

// BuildSalesDetail joins orders with their items (inner), then products and
// customers (left). Rows follow the order collection, and each order's items
// keep their input order.
func BuildSalesDetail(rs *source.RecordSet) (*DetailResult, error) {
	customers, err := indexBy(rs.Customers, "customer", func(c source.Customer) int64 { return c.ID })
	if err != nil {
		return nil, err
	}
	products, err := indexBy(rs.Products, "product", func(p source.Product) int64 { return p.ID })
	if err != nil {
		return nil, err
	}
	orders, err := indexBy(rs.Orders, "order", func(o source.Order) int64 { return o.ID })
	if err != nil {
		return nil, err
	}
	if _, err := indexBy(rs.OrderItems, "order item", func(it source.OrderItem) int64 { return it.ID }); err != nil {
		return nil, err
	}

	res := &DetailResult{}
	itemsByOrder := make(map[int64][]int, len(rs.Orders))
	for i, it := range rs.OrderItems {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("order item %d: %w (got %d)", it.ID, ErrInvalidQuantity, it.Quantity)
		}
		if _, ok := orders[it.OrderID]; !ok {
			res.DroppedItems = append(res.DroppedItems, it.ID)
			continue
		}
		itemsByOrder[it.OrderID] = append(itemsByOrder[it.OrderID], i)
	}

	res.Rows = make([]SalesDetail, 0, len(rs.OrderItems)-len(res.DroppedItems))
	for _, o := range rs.Orders {
		for _, idx := range itemsByOrder[o.ID] {
			it := rs.OrderItems[idx]
			row := SalesDetail{
				OrderID:     o.ID,
				CustomerID:  o.CustomerID,
				OrderDate:   o.OrderDate,
				TotalAmount: o.TotalAmount,
				Status:      o.Status,
				ItemID:      it.ID,
				ProductID:   it.ProductID,
				Quantity:    it.Quantity,
				UnitPrice:   it.UnitPrice,
			}
			if pi, ok := products[it.ProductID]; ok {
				row.Product = &rs.Products[pi]
			} else {
				res.UnresolvedProducts++
			}
			if ci, ok := customers[o.CustomerID]; ok {
				row.Customer = &rs.Customers[ci]
			} else {
				res.UnresolvedCustomers++
			}
			res.Rows = append(res.Rows, row)
		}
	}

	return res, nil
}

// indexBy maps each record's key to its position, rejecting duplicates.
func indexBy[T any](items []T, kind string, key func(T) int64) (map[int64]int, error) {
	idx := make(map[int64]int, len(items))
	for i, item := range items {
		k := key(item)
		if _, dup := idx[k]; dup {
			return nil, fmt.Errorf("%s %d: %w", kind, k, ErrDuplicateKey)
		}
		idx[k] = i
	}
	return idx, nil
}
