package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/pgEdge/pgedge-starload/internal/db"
	"github.com/pgEdge/pgedge-starload/internal/logging"
	"github.com/pgEdge/pgedge-starload/internal/transform"
)

// ErrNumericOverflow reports a value too large for a NUMERIC(10,2) column.
var ErrNumericOverflow = errors.New("value exceeds NUMERIC(10,2)")

// moneyScale is the scale of every NUMERIC warehouse column.
const moneyScale = 2

// maxMoney is the smallest magnitude NUMERIC(10,2) cannot hold.
var maxMoney = decimal.New(1, 8)

// Column mappings, in COPY order.
var (
	customerColumns = []string{"customer_id", "customer_name", "city", "customer_segment", "total_spent"}
	productColumns  = []string{"product_id", "product_name", "category", "price"}
	dateColumns     = []string{"date_key", "full_date", "day", "month", "year", "quarter", "week", "day_name", "is_weekend"}
	salesColumns    = []string{"date_key", "customer_key", "product_key", "order_id", "quantity", "amount", "profit", "line_total"}
)

// LoadReport summarizes one load.
type LoadReport struct {
	Customers int64
	Products  int64
	Dates     int64
	Sales     int64

	// Fact rows whose dimension key could not be resolved; the key is NULL.
	UnresolvedCustomerKeys int
	UnresolvedProductKeys  int

	Duration time.Duration
}

// Loader appends transformed rows to freshly rebuilt warehouse relations.
type Loader struct{}

// NewLoader creates a Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load copies the dimensions, resolves their generated keys by natural id,
// then copies the fact rows. The first failing table stops the load.
func (l *Loader) Load(ctx context.Context, w DB, res *transform.Result) (*LoadReport, error) {
	if res == nil {
		return nil, fmt.Errorf("nothing to load")
	}

	start := time.Now()
	report := &LoadReport{}
	var err error

	if report.Customers, err = copyRows(ctx, w, TableDimCustomer, customerColumns, len(res.Customers),
		func(i int) ([]any, error) { return customerRow(res.Customers[i]) }); err != nil {
		return nil, err
	}
	if report.Products, err = copyRows(ctx, w, TableDimProduct, productColumns, len(res.Products),
		func(i int) ([]any, error) { return productRow(res.Products[i]) }); err != nil {
		return nil, err
	}
	if report.Dates, err = copyRows(ctx, w, TableDimDate, dateColumns, len(res.Dates),
		func(i int) ([]any, error) { return dateRow(res.Dates[i]), nil }); err != nil {
		return nil, err
	}

	customerKeys, err := readKeys(ctx, w, TableDimCustomer, "customer_id", "customer_key")
	if err != nil {
		return nil, err
	}
	productKeys, err := readKeys(ctx, w, TableDimProduct, "product_id", "product_key")
	if err != nil {
		return nil, err
	}

	if report.Sales, err = copyRows(ctx, w, TableFactSales, salesColumns, len(res.Sales),
		func(i int) ([]any, error) {
			r := res.Sales[i]
			ck, ok := customerKeys[r.CustomerID]
			if !ok {
				report.UnresolvedCustomerKeys++
			}
			pk, ok := productKeys[r.ProductID]
			if !ok {
				report.UnresolvedProductKeys++
			}
			return salesRow(r, ck, pk)
		}); err != nil {
		return nil, err
	}

	report.Duration = time.Since(start)

	if report.UnresolvedCustomerKeys > 0 || report.UnresolvedProductKeys > 0 {
		logging.Warn().
			Int("customer_keys", report.UnresolvedCustomerKeys).
			Int("product_keys", report.UnresolvedProductKeys).
			Msg("Fact rows loaded with unresolved dimension keys")
	}

	return report, nil
}

func copyRows(ctx context.Context, w DB, table string, columns []string, n int, row func(int) ([]any, error)) (int64, error) {
	start := time.Now()
	copied, err := w.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromSlice(n, row))
	if err != nil {
		return 0, fmt.Errorf("failed to load %s: %w", table, err)
	}
	logging.Info().
		Str("table", table).
		Int64("rows", copied).
		Dur("duration", time.Since(start)).
		Msg("Loaded table")
	return copied, nil
}

// readKeys maps each natural id in a dimension to its generated key.
func readKeys(ctx context.Context, q db.Querier, table, idColumn, keyColumn string) (map[int64]int32, error) {
	sql := fmt.Sprintf("SELECT %s, %s FROM %s", idColumn, keyColumn, table)
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s keys: %w", table, err)
	}
	defer rows.Close()

	keys := make(map[int64]int32)
	for rows.Next() {
		var id pgtype.Int8
		var key int32
		if err := rows.Scan(&id, &key); err != nil {
			return nil, fmt.Errorf("failed to scan %s key: %w", table, err)
		}
		if id.Valid {
			keys[id.Int64] = key
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s keys: %w", table, err)
	}
	return keys, nil
}

func customerRow(c transform.CustomerDim) ([]any, error) {
	total, err := money(c.TotalSpent, "total_spent")
	if err != nil {
		return nil, fmt.Errorf("customer %d: %w", c.CustomerID, err)
	}
	return []any{
		c.CustomerID,
		c.Name,
		c.City,
		string(c.Segment),
		total,
	}, nil
}

func productRow(p transform.ProductDim) ([]any, error) {
	price, err := nullMoney(p.Price, "price")
	if err != nil {
		return nil, fmt.Errorf("product %d: %w", p.ProductID, err)
	}
	return []any{p.ProductID, p.Name, p.Category, price}, nil
}

func dateRow(d transform.DateRow) []any {
	return []any{
		d.Key,
		pgtype.Date{Time: d.Date, Valid: true},
		d.Day,
		d.Month,
		d.Year,
		d.Quarter,
		d.Week,
		d.DayName,
		d.IsWeekend,
	}
}

// salesRow maps a sales detail row to fact_sales. A zero key means the
// dimension row was not found and is written as NULL.
func salesRow(r transform.SalesDetail, customerKey, productKey int32) ([]any, error) {
	amount, err := money(r.UnitPrice, "amount")
	if err != nil {
		return nil, fmt.Errorf("order item %d: %w", r.ItemID, err)
	}
	profit, err := money(r.Profit, "profit")
	if err != nil {
		return nil, fmt.Errorf("order item %d: %w", r.ItemID, err)
	}
	lineTotal, err := money(r.LineTotal, "line_total")
	if err != nil {
		return nil, fmt.Errorf("order item %d: %w", r.ItemID, err)
	}
	return []any{
		transform.DateKey(r.OrderDate),
		pgtype.Int4{Int32: customerKey, Valid: customerKey != 0},
		pgtype.Int4{Int32: productKey, Valid: productKey != 0},
		r.OrderID,
		r.Quantity,
		amount,
		profit,
		lineTotal,
	}, nil
}

// money rounds a value to the column scale and checks it fits.
func money(d decimal.Decimal, column string) (pgtype.Numeric, error) {
	rounded, err := roundMoney(d, column)
	if err != nil {
		return pgtype.Numeric{}, err
	}
	return db.Numeric(rounded), nil
}

// nullMoney is money for nullable columns; NULL stays NULL.
func nullMoney(d decimal.NullDecimal, column string) (pgtype.Numeric, error) {
	if d.Valid {
		rounded, err := roundMoney(d.Decimal, column)
		if err != nil {
			return pgtype.Numeric{}, err
		}
		d.Decimal = rounded
	}
	return db.NullNumeric(d), nil
}

func roundMoney(d decimal.Decimal, column string) (decimal.Decimal, error) {
	rounded := d.Round(moneyScale)
	if rounded.Abs().GreaterThanOrEqual(maxMoney) {
		return rounded, fmt.Errorf("%s %s: %w", column, rounded, ErrNumericOverflow)
	}
	return rounded, nil
}
