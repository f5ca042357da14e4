package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/pgEdge/pgedge-starload/internal/datagen"
	"github.com/pgEdge/pgedge-starload/internal/db"
	"github.com/pgEdge/pgedge-starload/internal/logging"
)

// Reference data
var productCategories = []string{
	"Electronics", "Clothing", "Books", "Home & Kitchen", "Sports", "Beauty",
}

// GenerateOptions controls the size of a synthetic RecordSet.
type GenerateOptions struct {
	Customers int
	Products  int
	Orders    int
	MaxItems  int

	// Now anchors the registration and order date windows.
	Now time.Time
}

// Generate builds a synthetic RecordSet. Every order references an existing
// customer, every item an existing order and product, and each order's
// declared total equals the sum of its item line totals.
func Generate(f *datagen.Faker, opts GenerateOptions) *RecordSet {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	maxItems := max(1, opts.MaxItems)

	rs := &RecordSet{
		Customers: make([]Customer, 0, opts.Customers),
		Products:  make([]Product, 0, opts.Products),
		Orders:    make([]Order, 0, opts.Orders),
	}

	for i := 1; i <= opts.Customers; i++ {
		rs.Customers = append(rs.Customers, Customer{
			ID:               int64(i),
			FirstName:        Text(datagen.Truncate(f.FirstName(), 50)),
			LastName:         Text(datagen.Truncate(f.LastName(), 50)),
			Email:            Text(datagen.Truncate(f.Email(), 100)),
			City:             Text(datagen.Truncate(f.City(), 50)),
			RegistrationDate: f.DaysAgo(2*365, now),
		})
	}

	for i := 1; i <= opts.Products; i++ {
		category := datagen.Choose(f, productCategories)
		rs.Products = append(rs.Products, Product{
			ID:       int64(i),
			Name:     Text(fmt.Sprintf("%s Product %d", category, i)),
			Category: Text(category),
			Price:    Price(f.Money(10, 500)),
		})
	}

	itemID := int64(1)
	for i := 1; i <= opts.Orders; i++ {
		order := Order{
			ID:         int64(i),
			CustomerID: int64(f.Int(1, opts.Customers)),
			OrderDate:  f.DaysAgo(365, now),
			Status:     datagen.Choose(f, Statuses),
		}

		total := decimal.Zero
		numItems := f.Int(1, maxItems)
		for j := 0; j < numItems; j++ {
			item := OrderItem{
				ID:        itemID,
				OrderID:   order.ID,
				ProductID: int64(f.Int(1, opts.Products)),
				Quantity:  int32(f.Int(1, 3)),
				UnitPrice: f.Money(10, 200),
			}
			total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt32(item.Quantity)))
			rs.OrderItems = append(rs.OrderItems, item)
			itemID++
		}

		order.TotalAmount = total.Round(2)
		rs.Orders = append(rs.Orders, order)
	}

	return rs
}

// Writer inserts a RecordSet into the upstream tables in batches.
type Writer struct {
	cfg datagen.BatchInsertConfig
}

// NewWriter creates a Writer with the default batch configuration.
func NewWriter() *Writer {
	return &Writer{cfg: datagen.DefaultBatchConfig()}
}

// Write inserts parents before children so the foreign keys hold.
func (w *Writer) Write(ctx context.Context, q db.Querier, rs *RecordSet) error {
	customers := make([]string, 0, len(rs.Customers))
	for _, c := range rs.Customers {
		customers = append(customers, fmt.Sprintf("(%d, %s, %s, %s, %s, '%s')",
			c.ID,
			textLiteral(c.FirstName),
			textLiteral(c.LastName),
			textLiteral(c.Email),
			textLiteral(c.City),
			c.RegistrationDate.Format("2006-01-02"),
		))
	}
	if err := w.insert(ctx, q, "customers",
		"(customer_id, first_name, last_name, email, city, registration_date)", customers); err != nil {
		return err
	}

	products := make([]string, 0, len(rs.Products))
	for _, p := range rs.Products {
		products = append(products, fmt.Sprintf("(%d, %s, %s, %s)",
			p.ID,
			textLiteral(p.Name),
			textLiteral(p.Category),
			priceLiteral(p.Price),
		))
	}
	if err := w.insert(ctx, q, "products",
		"(product_id, product_name, category, price)", products); err != nil {
		return err
	}

	orders := make([]string, 0, len(rs.Orders))
	for _, o := range rs.Orders {
		orders = append(orders, fmt.Sprintf("(%d, %d, '%s', %s, '%s')",
			o.ID,
			o.CustomerID,
			o.OrderDate.Format("2006-01-02"),
			o.TotalAmount.StringFixed(2),
			escapeSingleQuote(o.Status),
		))
	}
	if err := w.insert(ctx, q, "orders",
		"(order_id, customer_id, order_date, total_amount, status)", orders); err != nil {
		return err
	}

	items := make([]string, 0, len(rs.OrderItems))
	for _, it := range rs.OrderItems {
		items = append(items, fmt.Sprintf("(%d, %d, %d, %d, %s)",
			it.ID,
			it.OrderID,
			it.ProductID,
			it.Quantity,
			it.UnitPrice.StringFixed(2),
		))
	}
	return w.insert(ctx, q, "order_items",
		"(item_id, order_id, product_id, quantity, unit_price)", items)
}

func (w *Writer) insert(ctx context.Context, q db.Querier, table, columns string, values []string) error {
	logging.Info().Int("count", len(values)).Str("table", table).Msg("Inserting source rows")
	progress := datagen.NewProgressReporter(table, int64(len(values)), w.cfg.ProgressInterval)

	for start := 0; start < len(values); start += w.cfg.BatchSize {
		end := min(start+w.cfg.BatchSize, len(values))
		if err := executeBatchInsert(ctx, q, table, columns, values[start:end]); err != nil {
			return fmt.Errorf("failed to insert %s: %w", table, err)
		}
		progress.Update(int64(end - start))
	}
	progress.Done()
	return nil
}

func executeBatchInsert(ctx context.Context, q db.Querier, table, columns string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	sql := fmt.Sprintf("INSERT INTO %s %s VALUES %s", table, columns, strings.Join(values, ", "))
	_, err := q.Exec(ctx, sql)
	return err
}

func escapeSingleQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// textLiteral renders a quoted SQL string, or NULL.
func textLiteral(t pgtype.Text) string {
	if !t.Valid {
		return "NULL"
	}
	return "'" + escapeSingleQuote(t.String) + "'"
}

func priceLiteral(d decimal.NullDecimal) string {
	if !d.Valid {
		return "NULL"
	}
	return d.Decimal.StringFixed(2)
}
