package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgEdge/pgedge-starload/internal/datagen"
	"github.com/pgEdge/pgedge-starload/internal/db"
	"github.com/pgEdge/pgedge-starload/internal/logging"
	"github.com/pgEdge/pgedge-starload/internal/source"
)

var (
	genCustomers int
	genProducts  int
	genOrders    int
	genMaxItems  int
	genSeed      uint64
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Create the source schema and fill it with synthetic data",
	Long: `Drop and recreate the customers, products, orders and order_items
tables in the source database and populate them with synthetic records.
Every order references an existing customer and its declared total equals
the sum of its items.

Example:
  pgedge-starload generate --source "postgres://.../shop"
  pgedge-starload generate --customers 500 --orders 2000 --seed 42`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().IntVar(&genCustomers, "customers", 0,
		"number of customers (default: 50)")
	generateCmd.Flags().IntVar(&genProducts, "products", 0,
		"number of products (default: 20)")
	generateCmd.Flags().IntVar(&genOrders, "orders", 0,
		"number of orders (default: 100)")
	generateCmd.Flags().IntVar(&genMaxItems, "max-items", 0,
		"maximum line items per order (default: 5)")
	generateCmd.Flags().Uint64Var(&genSeed, "seed", 0,
		"random seed for reproducible data (0 = time seeded)")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	// Override config with CLI flags
	if genCustomers > 0 {
		cfg.Generate.Customers = genCustomers
	}
	if genProducts > 0 {
		cfg.Generate.Products = genProducts
	}
	if genOrders > 0 {
		cfg.Generate.Orders = genOrders
	}
	if genMaxItems > 0 {
		cfg.Generate.MaxItems = genMaxItems
	}
	if genSeed > 0 {
		cfg.Generate.Seed = genSeed
	}

	// Validate configuration
	if err := cfg.ValidateGenerate(); err != nil {
		return err
	}

	g := cfg.Generate
	logging.Info().
		Int("customers", g.Customers).
		Int("products", g.Products).
		Int("orders", g.Orders).
		Int("max_items", g.MaxItems).
		Msg("Generating source data")

	ctx, cancel := signalContext()
	defer cancel()

	pool, err := db.Connect(ctx, cfg.Source.Connection, "source")
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := rebuildSource(ctx, pool); err != nil {
		return err
	}

	faker := datagen.NewFaker()
	if g.Seed != 0 {
		faker = datagen.NewFakerWithSeed(g.Seed)
	}
	rs := source.Generate(faker, source.GenerateOptions{
		Customers: g.Customers,
		Products:  g.Products,
		Orders:    g.Orders,
		MaxItems:  g.MaxItems,
	})

	if err := source.NewWriter().Write(ctx, pool, rs); err != nil {
		return fmt.Errorf("failed to generate data: %w", err)
	}

	c := rs.Counts()
	logging.Info().
		Int("customers", c.Customers).
		Int("products", c.Products).
		Int("orders", c.Orders).
		Int("order_items", c.OrderItems).
		Msg("Source data generation complete")

	return nil
}

func rebuildSource(ctx context.Context, q db.Querier) error {
	logging.Info().Msg("Dropping existing source schema")
	if err := source.DropSchema(ctx, q); err != nil {
		return fmt.Errorf("failed to drop schema: %w", err)
	}
	logging.Info().Msg("Creating source schema")
	if err := source.CreateSchema(ctx, q); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
