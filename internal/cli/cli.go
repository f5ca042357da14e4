//-------------------------------------------------------------------------
//
// pgEdge Star Schema Loader
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package cli implements the command-line interface for pgedge-starload.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/pgEdge/pgedge-starload/internal/config"
	"github.com/pgEdge/pgedge-starload/internal/logging"
	"github.com/pgEdge/pgedge-starload/internal/transform"
	"github.com/pgEdge/pgedge-starload/internal/warehouse"
	"github.com/pgEdge/pgedge-starload/pkg/version"
)

var (
	// Global flags
	cfgFile   string
	sourceURL string
	targetURL string
	logLevel  string

	// Global config
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "pgedge-starload",
		Short: "Build a star-schema sales warehouse from an e-commerce database",
		Long: `pgedge-starload reads customers, products, orders and order items from
a transactional PostgreSQL database, derives line totals, profit, customer
segments and calendar attributes, and loads them into a star schema
(dim_customer, dim_product, dim_date, fact_sales) in a warehouse database.

Every run rebuilds the warehouse from scratch, so running it again with the
same source data yields the same warehouse contents.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ./pgedge-starload.yaml)")
	rootCmd.PersistentFlags().StringVar(&sourceURL, "source", "",
		"source PostgreSQL connection string")
	rootCmd.PersistentFlags().StringVar(&targetURL, "warehouse", "",
		"warehouse PostgreSQL connection string")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level (debug, info, warn, error)")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tablesCmd)
}

func initConfig() error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}

	// Override with CLI flags
	if sourceURL != "" {
		cfg.Source.Connection = sourceURL
	}
	if targetURL != "" {
		cfg.Warehouse.Connection = targetURL
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	// Reinitialize logger with config
	logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})

	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logging.Info().
				Str("signal", sig.String()).
				Msg("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

// rulesFromConfig converts the configured business rules to exact decimals.
func rulesFromConfig(t config.TransformConfig) transform.Rules {
	return transform.Rules{
		MarginRate:       decimal.NewFromFloat(t.MarginRate),
		PremiumThreshold: decimal.NewFromFloat(t.PremiumThreshold),
		GoldThreshold:    decimal.NewFromFloat(t.GoldThreshold),
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version.Info())
	},
}

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List the warehouse relations",
	Long: `List the star-schema relations built by the run command, in the
order they are created and loaded.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("Warehouse relations:")
		cmd.Println()
		for _, t := range warehouse.Tables {
			cmd.Printf("  %-13s - %s\n", t.Name, t.Description)
		}
		cmd.Println()
		cmd.Println("Use 'pgedge-starload export' to write them to files.")
	},
}
