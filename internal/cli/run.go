package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pgEdge/pgedge-starload/internal/db"
	"github.com/pgEdge/pgedge-starload/internal/logging"
	"github.com/pgEdge/pgedge-starload/internal/pipeline"
	"github.com/pgEdge/pgedge-starload/internal/source"
)

var (
	runMarginRate          float64
	runPremiumThreshold    float64
	runGoldThreshold       float64
	runSingleTransaction   bool
	runNoToggleConstraints bool
	runExport              bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Extract, transform and load the star schema",
	Long: `Read the four source collections, build the sales detail, derive line
totals, profit, customer segments and calendar attributes, then drop and
rebuild the warehouse relations and load them.

The stages run strictly in order; the first failure stops the run and names
the stage that failed.

Example:
  pgedge-starload run --source "postgres://.../shop" --warehouse "postgres://.../dw"
  pgedge-starload run --single-transaction --export
  pgedge-starload run --premium-threshold 2000 --gold-threshold 750`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().Float64Var(&runMarginRate, "margin-rate", 0,
		"fraction of line total booked as profit (default: 0.30)")
	runCmd.Flags().Float64Var(&runPremiumThreshold, "premium-threshold", 0,
		"lifetime spend a customer must exceed to be Premium (default: 1000)")
	runCmd.Flags().Float64Var(&runGoldThreshold, "gold-threshold", 0,
		"lifetime spend a customer must exceed to be Gold (default: 500)")
	runCmd.Flags().BoolVar(&runSingleTransaction, "single-transaction", false,
		"rebuild and load the warehouse in one transaction")
	runCmd.Flags().BoolVar(&runNoToggleConstraints, "no-toggle-constraints", false,
		"do not set session_replication_role while dropping the warehouse")
	runCmd.Flags().BoolVar(&runExport, "export", false,
		"export the warehouse after a successful run")
}

func runRun(cmd *cobra.Command, args []string) error {
	// Override config with CLI flags
	flags := cmd.Flags()
	if flags.Changed("margin-rate") {
		cfg.Transform.MarginRate = runMarginRate
	}
	if flags.Changed("premium-threshold") {
		cfg.Transform.PremiumThreshold = runPremiumThreshold
	}
	if flags.Changed("gold-threshold") {
		cfg.Transform.GoldThreshold = runGoldThreshold
	}
	if runSingleTransaction {
		cfg.Warehouse.SingleTransaction = true
	}
	if runNoToggleConstraints {
		cfg.Warehouse.ToggleConstraints = false
	}

	// Validate configuration
	if err := cfg.ValidateRun(); err != nil {
		return err
	}
	if runExport {
		if err := cfg.ValidateExport(); err != nil {
			return err
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	src, err := db.Connect(ctx, cfg.Source.Connection, "source")
	if err != nil {
		return err
	}
	defer src.Close()

	dw, err := db.Connect(ctx, cfg.Warehouse.Connection, "warehouse")
	if err != nil {
		return err
	}
	defer dw.Close()

	p, err := pipeline.New(pipeline.Config{
		Source:            source.NewStore(src),
		Warehouse:         dw,
		Rules:             rulesFromConfig(cfg.Transform),
		ToggleConstraints: cfg.Warehouse.ToggleConstraints,
		SingleTransaction: cfg.Warehouse.SingleTransaction,
		RecordMetadata:    true,
	})
	if err != nil {
		return err
	}

	report, err := p.Run(ctx)
	if err != nil {
		var se *pipeline.StageError
		if errors.As(err, &se) && errors.Is(se.Err, context.Canceled) {
			logging.Info().Str("stage", se.Stage).Msg("Run cancelled")
		}
		return err
	}

	printSummary(cmd.OutOrStdout(), report)

	if runExport {
		return exportWarehouse(ctx, cmd.OutOrStdout(), dw)
	}
	return nil
}

// printSummary writes the final warehouse summary.
func printSummary(w io.Writer, r *pipeline.Report) {
	fmt.Fprintf(w, "Run %s completed\n", r.RunID)
	fmt.Fprintf(w, "  Source: %d customers, %d products, %d orders, %d order items\n",
		r.Extracted.Customers, r.Extracted.Products, r.Extracted.Orders, r.Extracted.OrderItems)
	for _, c := range r.Counts {
		fmt.Fprintf(w, "  %-13s %d rows\n", c.Table+":", c.Rows)
	}
	if n := len(r.Quality.DroppedItems); n > 0 {
		fmt.Fprintf(w, "  Dropped %d order items without a matching order\n", n)
	}
	if r.Load != nil && (r.Load.UnresolvedCustomerKeys > 0 || r.Load.UnresolvedProductKeys > 0) {
		fmt.Fprintf(w, "  Unresolved keys: %d customer, %d product\n",
			r.Load.UnresolvedCustomerKeys, r.Load.UnresolvedProductKeys)
	}
	if r.Quality.TotalMismatches > 0 {
		fmt.Fprintf(w, "  %d orders declare a total that differs from their items\n",
			r.Quality.TotalMismatches)
	}
}
