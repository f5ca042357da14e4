package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgEdge/pgedge-starload/internal/db"
	"github.com/pgEdge/pgedge-starload/internal/source"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify connectivity to the source and warehouse databases",
	Long: `Connect to the source and warehouse databases, print their server
versions, and report whether the four source tables exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Source.Connection == "" {
			return fmt.Errorf("source connection string is required")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		out := cmd.OutOrStdout()

		src, err := db.Connect(ctx, cfg.Source.Connection, "source")
		if err != nil {
			return err
		}
		defer src.Close()

		v, err := db.ServerVersion(ctx, src)
		if err != nil {
			return fmt.Errorf("failed to query source version: %w", err)
		}
		fmt.Fprintf(out, "Source:    %s\n", v)

		missing := 0
		for _, t := range source.Tables {
			exists, err := db.TableExists(ctx, src, t)
			if err != nil {
				return fmt.Errorf("failed to check table %s: %w", t, err)
			}
			state := "ok"
			if !exists {
				state = "missing"
				missing++
			}
			fmt.Fprintf(out, "  %-12s %s\n", t, state)
		}

		dw, err := db.Connect(ctx, cfg.Warehouse.Connection, "warehouse")
		if err != nil {
			return err
		}
		defer dw.Close()

		v, err = db.ServerVersion(ctx, dw)
		if err != nil {
			return fmt.Errorf("failed to query warehouse version: %w", err)
		}
		fmt.Fprintf(out, "Warehouse: %s\n", v)

		if missing > 0 {
			return fmt.Errorf("%d source tables missing; run 'pgedge-starload generate' to create them", missing)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last successful run recorded in the warehouse",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		dw, err := db.Connect(ctx, cfg.Warehouse.Connection, "warehouse")
		if err != nil {
			return err
		}
		defer dw.Close()

		exists, err := db.MetadataExists(ctx, dw)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("warehouse has not been loaded; run 'pgedge-starload run' first")
		}

		metadata, err := db.GetAllMetadata(ctx, dw)
		if err != nil {
			return fmt.Errorf("failed to read metadata: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Last run:")
		for _, k := range db.SortedKeys(metadata) {
			fmt.Fprintf(out, "  %-26s %s\n", k, metadata[k])
		}
		return nil
	},
}
