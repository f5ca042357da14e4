package source

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgEdge/pgedge-starload/internal/testutil"
)

// upstream answers the four extract queries from in-memory rows.
type upstream struct {
	customers, products, orders, items [][]any
}

func (u *upstream) answer(sql string, args []any) ([]string, [][]any, error) {
	switch {
	case strings.Contains(sql, "FROM customers"):
		return []string{"customer_id", "first_name", "last_name", "email", "city", "registration_date"}, u.customers, nil
	case strings.Contains(sql, "FROM products"):
		return []string{"product_id", "product_name", "category", "price"}, u.products, nil
	case strings.Contains(sql, "FROM orders"):
		return []string{"order_id", "customer_id", "order_date", "total_amount", "status"}, u.orders, nil
	case strings.Contains(sql, "FROM order_items"):
		return []string{"item_id", "order_id", "product_id", "quantity", "unit_price"}, u.items, nil
	}
	return nil, nil, nil
}

func validUpstream() *upstream {
	return &upstream{
		customers: [][]any{
			{int64(1), "Ada", "Lovelace", "ada@example.com", "London", time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC)},
		},
		products: [][]any{
			{int64(10), "Books Product 10", "Books", "25.00"},
		},
		orders: [][]any{
			{int64(100), int64(1), time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), "60.00", "shipped"},
		},
		items: [][]any{
			{int64(1), int64(100), int64(10), int32(3), "20.00"},
		},
	}
}

func extract(t *testing.T, u *upstream) (*RecordSet, error) {
	t.Helper()
	fake := testutil.NewFakeDB()
	fake.Answer = u.answer
	return NewStore(fake).Extract(context.Background())
}

func TestStoreExtract(t *testing.T) {
	rs, err := extract(t, validUpstream())
	require.NoError(t, err)
	require.Equal(t, Counts{Customers: 1, Products: 1, Orders: 1, OrderItems: 1}, rs.Counts())

	c := rs.Customers[0]
	assert.Equal(t, int64(1), c.ID)
	assert.Equal(t, Text("Ada"), c.FirstName)
	assert.Equal(t, Text("Lovelace"), c.LastName)
	assert.Equal(t, Text("ada@example.com"), c.Email)
	assert.Equal(t, Text("London"), c.City)
	assert.Equal(t, "2023-01-05", c.RegistrationDate.Format("2006-01-02"))

	p := rs.Products[0]
	assert.Equal(t, Text("Books"), p.Category)
	require.True(t, p.Price.Valid)
	assert.Equal(t, "25.00", p.Price.Decimal.StringFixed(2))

	o := rs.Orders[0]
	assert.Equal(t, int64(1), o.CustomerID)
	assert.Equal(t, "2024-03-09", o.OrderDate.Format("2006-01-02"))
	assert.Equal(t, "60", o.TotalAmount.String())
	assert.Equal(t, StatusShipped, o.Status)

	it := rs.OrderItems[0]
	assert.Equal(t, int64(100), it.OrderID)
	assert.Equal(t, int32(3), it.Quantity)
	assert.Equal(t, "20", it.UnitPrice.String())
}

func TestStoreExtractKeepsNulls(t *testing.T) {
	u := validUpstream()
	u.customers = [][]any{{int64(2), "Grace", nil, nil, nil, nil}}
	u.products = [][]any{{int64(11), nil, nil, nil}}

	rs, err := extract(t, u)
	require.NoError(t, err)

	c := rs.Customers[0]
	assert.Equal(t, Text("Grace"), c.FirstName)
	assert.False(t, c.LastName.Valid)
	assert.False(t, c.Email.Valid)
	assert.False(t, c.City.Valid)
	assert.True(t, c.RegistrationDate.IsZero())

	p := rs.Products[0]
	assert.False(t, p.Name.Valid)
	assert.False(t, p.Category.Valid)
	assert.False(t, p.Price.Valid)
}

func TestStoreExtractRejectsBadRows(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(u *upstream)
		want   string
	}{
		{
			name:   "null order date",
			mutate: func(u *upstream) { u.orders[0][2] = nil },
			want:   "order_date is NULL",
		},
		{
			name:   "null total amount",
			mutate: func(u *upstream) { u.orders[0][3] = nil },
			want:   "total_amount: unexpected NULL",
		},
		{
			name:   "null unit price",
			mutate: func(u *upstream) { u.items[0][4] = nil },
			want:   "unit_price: unexpected NULL",
		},
		{
			name:   "nan price",
			mutate: func(u *upstream) { u.products[0][3] = "NaN" },
			want:   "product 10 price",
		},
		{
			name:   "nan total amount",
			mutate: func(u *upstream) { u.orders[0][3] = "NaN" },
			want:   "not finite",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := validUpstream()
			tt.mutate(u)

			_, err := extract(t, u)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStoreExtractQueryFailureNamesTable(t *testing.T) {
	for _, table := range Tables {
		t.Run(table, func(t *testing.T) {
			fake := testutil.NewFakeDB()
			fake.Answer = validUpstream().answer
			fake.FailOn = "FROM " + table

			_, err := NewStore(fake).Extract(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, testutil.ErrInjected)
			assert.Contains(t, err.Error(), "failed to query "+table)
		})
	}
}
