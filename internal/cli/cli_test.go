package cli

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgEdge/pgedge-starload/internal/config"
	"github.com/pgEdge/pgedge-starload/internal/pipeline"
	"github.com/pgEdge/pgedge-starload/internal/source"
	"github.com/pgEdge/pgedge-starload/internal/transform"
	"github.com/pgEdge/pgedge-starload/internal/warehouse"
)

func TestRulesFromConfigDefaults(t *testing.T) {
	rules := rulesFromConfig(config.DefaultConfig().Transform)
	def := transform.DefaultRules()

	assert.True(t, rules.MarginRate.Equal(def.MarginRate), rules.MarginRate.String())
	assert.True(t, rules.PremiumThreshold.Equal(def.PremiumThreshold))
	assert.True(t, rules.GoldThreshold.Equal(def.GoldThreshold))
	assert.NoError(t, rules.Validate())
}

func TestRulesFromConfigExact(t *testing.T) {
	rules := rulesFromConfig(config.TransformConfig{MarginRate: 0.1, PremiumThreshold: 999.99, GoldThreshold: 0})
	assert.Equal(t, "0.1", rules.MarginRate.String())
	assert.True(t, rules.PremiumThreshold.Equal(decimal.RequireFromString("999.99")))
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, &pipeline.Report{
		RunID:     "run-7",
		Extracted: source.Counts{Customers: 50, Products: 20, Orders: 100, OrderItems: 301},
		Quality:   transform.Quality{DroppedItems: []int64{9}},
		Load:      &warehouse.LoadReport{UnresolvedProductKeys: 2},
		Counts: []warehouse.TableCount{
			{Table: "dim_customer", Rows: 43},
			{Table: "fact_sales", Rows: 300},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "Run run-7 completed")
	assert.Contains(t, out, "50 customers, 20 products, 100 orders, 301 order items")
	assert.Contains(t, out, "dim_customer: 43 rows")
	assert.Contains(t, out, "fact_sales:   300 rows")
	assert.Contains(t, out, "Dropped 1 order items")
	assert.Contains(t, out, "Unresolved keys: 0 customer, 2 product")
	assert.NotContains(t, out, "declare a total")
}

func TestTablesCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"tables", "--config", ""})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, Execute())

	out := buf.String()
	for _, name := range warehouse.TableNames() {
		assert.Contains(t, out, name)
	}
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, Execute())
	assert.Contains(t, buf.String(), "pgedge-starload")
}

func TestRunRequiresConnections(t *testing.T) {
	rootCmd.SetArgs([]string{"run"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection string is required")
}
