package transform

import (
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/pgEdge/pgedge-starload/internal/source"
)

// Segment is a customer value tier.
type Segment string

// Customer segments, lowest first.
const (
	SegmentStandard Segment = "Standard"
	SegmentGold     Segment = "Gold"
	SegmentPremium  Segment = "Premium"
)

// Rank orders segments: Standard < Gold < Premium.
func (s Segment) Rank() int {
	switch s {
	case SegmentPremium:
		return 2
	case SegmentGold:
		return 1
	default:
		return 0
	}
}

// Rules are the business constants applied by the Calculator.
type Rules struct {
	// MarginRate is the fraction of a line total booked as profit.
	MarginRate decimal.Decimal

	// A customer is Premium when lifetime spend is strictly greater than
	// PremiumThreshold, else Gold when strictly greater than GoldThreshold.
	PremiumThreshold decimal.Decimal
	GoldThreshold    decimal.Decimal
}

// DefaultRules returns a 30% margin with Premium above 1000 and Gold above 500.
func DefaultRules() Rules {
	return Rules{
		MarginRate:       decimal.RequireFromString("0.30"),
		PremiumThreshold: decimal.NewFromInt(1000),
		GoldThreshold:    decimal.NewFromInt(500),
	}
}

// Validate checks that the rules describe a monotonic segmentation.
func (r Rules) Validate() error {
	if r.MarginRate.IsNegative() || r.MarginRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("margin rate %s must be between 0 and 1", r.MarginRate)
	}
	if r.GoldThreshold.IsNegative() || r.PremiumThreshold.IsNegative() {
		return fmt.Errorf("segment thresholds must be non-negative")
	}
	if r.GoldThreshold.GreaterThan(r.PremiumThreshold) {
		return fmt.Errorf("gold threshold %s exceeds premium threshold %s",
			r.GoldThreshold, r.PremiumThreshold)
	}
	return nil
}

// Classify maps a lifetime spend to its segment. Boundaries are compared
// exactly; a spend equal to a threshold falls into the lower segment.
func (r Rules) Classify(total decimal.Decimal) Segment {
	switch {
	case total.GreaterThan(r.PremiumThreshold):
		return SegmentPremium
	case total.GreaterThan(r.GoldThreshold):
		return SegmentGold
	default:
		return SegmentStandard
	}
}

// Calculator derives line and customer attributes.
type Calculator struct {
	rules Rules
}

// NewCalculator creates a Calculator for the given rules.
func NewCalculator(rules Rules) *Calculator {
	return &Calculator{rules: rules}
}

// Apply sets LineTotal and Profit on every row. Values are exact; rounding
// to the warehouse column scale happens at load time.
func (c *Calculator) Apply(rows []SalesDetail) {
	for i := range rows {
		r := &rows[i]
		r.LineTotal = r.UnitPrice.Mul(decimal.NewFromInt32(r.Quantity))
		r.Profit = r.LineTotal.Mul(c.rules.MarginRate)
	}
}

// CustomerTotal is a customer's lifetime spend and segment.
type CustomerTotal struct {
	CustomerID int64
	Total      decimal.Decimal
	Segment    Segment
}

// CustomerTotals sums the declared total_amount of every order per customer,
// ordered by customer id. Customers without orders do not appear.
func (c *Calculator) CustomerTotals(orders []source.Order) []CustomerTotal {
	sums := make(map[int64]decimal.Decimal)
	for _, o := range orders {
		sums[o.CustomerID] = sums[o.CustomerID].Add(o.TotalAmount)
	}

	totals := make([]CustomerTotal, 0, len(sums))
	for id, total := range sums {
		totals = append(totals, CustomerTotal{
			CustomerID: id,
			Total:      total,
			Segment:    c.rules.Classify(total),
		})
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].CustomerID < totals[j].CustomerID })
	return totals
}

// CustomerDim is one dim_customer row before key assignment. Name and City
// are NULL when the customer id has no customer record.
type CustomerDim struct {
	CustomerID int64
	Name       pgtype.Text
	City       pgtype.Text

	Segment    Segment
	TotalSpent decimal.Decimal
}

// BuildCustomerDim attaches name and city to each customer total.
func BuildCustomerDim(totals []CustomerTotal, customers []source.Customer) []CustomerDim {
	byID := make(map[int64]*source.Customer, len(customers))
	for i := range customers {
		byID[customers[i].ID] = &customers[i]
	}

	rows := make([]CustomerDim, 0, len(totals))
	for _, t := range totals {
		row := CustomerDim{
			CustomerID: t.CustomerID,
			Segment:    t.Segment,
			TotalSpent: t.Total,
		}
		if c, ok := byID[t.CustomerID]; ok {
			row.Name = fullName(c.FirstName, c.LastName)
			row.City = c.City
		}
		rows = append(rows, row)
	}
	return rows
}

// fullName joins first and last name. A NULL part makes the name NULL.
func fullName(first, last pgtype.Text) pgtype.Text {
	if !first.Valid || !last.Valid {
		return pgtype.Text{}
	}
	return pgtype.Text{String: first.String + " " + last.String, Valid: true}
}

// ProductDim is one dim_product row before key assignment.
type ProductDim struct {
	ProductID int64
	Name      pgtype.Text
	Category  pgtype.Text
	Price     decimal.NullDecimal
}

// BuildProductDim maps every product, sold or not, to a dimension row.
func BuildProductDim(products []source.Product) []ProductDim {
	rows := make([]ProductDim, 0, len(products))
	for _, p := range products {
		rows = append(rows, ProductDim{
			ProductID: p.ID,
			Name:      p.Name,
			Category:  p.Category,
			Price:     p.Price,
		})
	}
	return rows
}
