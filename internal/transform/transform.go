package transform

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/pgEdge/pgedge-starload/internal/source"
)

// Result holds everything the warehouse loader needs for one run.
type Result struct {
	Sales     []SalesDetail
	Customers []CustomerDim
	Products  []ProductDim
	Dates     []DateRow
	Quality   Quality
}

// Quality collects data-quality signals found while transforming. None of
// them alter the loaded values.
type Quality struct {
	// DroppedItems are order items excluded because their order is missing.
	DroppedItems []int64

	UnresolvedProducts  int
	UnresolvedCustomers int

	// TotalMismatches counts orders whose declared total differs from the
	// sum of their item line totals. Segments still use the declared totals.
	TotalMismatches int
}

// Transform builds the sales detail, derives line and customer attributes,
// and synthesizes the date dimension.
func Transform(rs *source.RecordSet, rules Rules) (*Result, error) {
	if rs == nil {
		return nil, fmt.Errorf("no source records")
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}

	detail, err := BuildSalesDetail(rs)
	if err != nil {
		return nil, err
	}

	calc := NewCalculator(rules)
	calc.Apply(detail.Rows)
	totals := calc.CustomerTotals(rs.Orders)

	return &Result{
		Sales:     detail.Rows,
		Customers: BuildCustomerDim(totals, rs.Customers),
		Products:  BuildProductDim(rs.Products),
		Dates:     SynthesizeDateDim(detail.Rows),
		Quality: Quality{
			DroppedItems:        detail.DroppedItems,
			UnresolvedProducts:  detail.UnresolvedProducts,
			UnresolvedCustomers: detail.UnresolvedCustomers,
			TotalMismatches:     countTotalMismatches(rs.Orders, detail.Rows),
		},
	}, nil
}

func countTotalMismatches(orders []source.Order, rows []SalesDetail) int {
	derived := make(map[int64]decimal.Decimal, len(orders))
	for _, r := range rows {
		derived[r.OrderID] = derived[r.OrderID].Add(r.LineTotal)
	}

	n := 0
	for _, o := range orders {
		if !o.TotalAmount.Round(2).Equal(derived[o.ID].Round(2)) {
			n++
		}
	}
	return n
}
