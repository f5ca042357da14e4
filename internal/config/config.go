//-------------------------------------------------------------------------
//
// pgEdge Star Schema Loader
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package config handles configuration management for pgedge-starload.
// Configuration is loaded from config files and CLI flags (no environment variables).
// CLI flags take precedence over config file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Supported snapshot export formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Config holds all configuration for pgedge-starload.
type Config struct {
	// LogLevel controls logging verbosity (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level"`

	// Source describes the upstream transactional database.
	Source SourceConfig `mapstructure:"source"`

	// Warehouse describes the star-schema target database.
	Warehouse WarehouseConfig `mapstructure:"warehouse"`

	// Transform holds the business rules applied during transformation.
	Transform TransformConfig `mapstructure:"transform"`

	// Export holds configuration for the export subcommand.
	Export ExportConfig `mapstructure:"export"`

	// Generate holds configuration for the generate subcommand.
	Generate GenerateConfig `mapstructure:"generate"`
}

// SourceConfig holds upstream connection settings.
type SourceConfig struct {
	// Connection is the PostgreSQL connection string of the source database.
	Connection string `mapstructure:"connection"`
}

// WarehouseConfig holds warehouse connection and rebuild settings.
type WarehouseConfig struct {
	// Connection is the PostgreSQL connection string of the warehouse database.
	Connection string `mapstructure:"connection"`

	// ToggleConstraints suspends referential integrity enforcement while the
	// warehouse relations are dropped. Requires permission to set
	// session_replication_role.
	ToggleConstraints bool `mapstructure:"toggle_constraints"`

	// SingleTransaction runs the schema rebuild and the load in one transaction,
	// so a failed load leaves the previous warehouse in place.
	SingleTransaction bool `mapstructure:"single_transaction"`
}

// TransformConfig holds the derived attribute rules.
type TransformConfig struct {
	// MarginRate is the fraction of line revenue treated as profit.
	MarginRate float64 `mapstructure:"margin_rate"`

	// PremiumThreshold is the lifetime spend a customer must exceed to be Premium.
	PremiumThreshold float64 `mapstructure:"premium_threshold"`

	// GoldThreshold is the lifetime spend a customer must exceed to be Gold.
	GoldThreshold float64 `mapstructure:"gold_threshold"`
}

// ExportConfig holds snapshot export settings.
type ExportConfig struct {
	// Dir is the directory the snapshot files are written to.
	Dir string `mapstructure:"dir"`

	// Format is the snapshot format: csv or xlsx.
	Format string `mapstructure:"format"`

	// S3Bucket enables upload of the written files when set.
	S3Bucket string `mapstructure:"s3_bucket"`

	// S3Region is the AWS region of the bucket.
	S3Region string `mapstructure:"s3_region"`

	// S3Prefix is prepended to every uploaded object key.
	S3Prefix string `mapstructure:"s3_prefix"`
}

// GenerateConfig holds synthetic source data settings.
type GenerateConfig struct {
	Customers int `mapstructure:"customers"`
	Products  int `mapstructure:"products"`
	Orders    int `mapstructure:"orders"`

	// MaxItems is the maximum number of line items per order.
	MaxItems int `mapstructure:"max_items"`

	// Seed makes generation reproducible; 0 seeds from the clock.
	Seed uint64 `mapstructure:"seed"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Warehouse: WarehouseConfig{
			ToggleConstraints: true,
			SingleTransaction: false,
		},
		Transform: TransformConfig{
			MarginRate:       0.30,
			PremiumThreshold: 1000,
			GoldThreshold:    500,
		},
		Export: ExportConfig{
			Dir:      ".",
			Format:   FormatCSV,
			S3Region: "eu-central-1",
			S3Prefix: "snapshots/",
		},
		Generate: GenerateConfig{
			Customers: 50,
			Products:  20,
			Orders:    100,
			MaxItems:  5,
		},
	}
}

// Load reads configuration from config files.
// Config file locations (in order of precedence):
// 1. Path specified by configFile parameter
// 2. ./pgedge-starload.yaml
// 3. ~/.config/pgedge-starload/config.yaml
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("pgedge-starload")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "pgedge-starload"))
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Start with defaults
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

// Validate checks that the warehouse connection is present.
func (c *Config) Validate() error {
	if c.Warehouse.Connection == "" {
		return fmt.Errorf("warehouse connection string is required")
	}
	return nil
}

// ValidateRun checks configuration required for the run command.
func (c *Config) ValidateRun() error {
	if c.Source.Connection == "" {
		return fmt.Errorf("source connection string is required")
	}
	if err := c.Validate(); err != nil {
		return err
	}
	t := c.Transform
	if t.MarginRate < 0 || t.MarginRate > 1 {
		return fmt.Errorf("margin_rate must be between 0 and 1")
	}
	if t.GoldThreshold < 0 || t.PremiumThreshold < 0 {
		return fmt.Errorf("segment thresholds must be non-negative")
	}
	if t.GoldThreshold > t.PremiumThreshold {
		return fmt.Errorf("gold_threshold must be <= premium_threshold")
	}
	return nil
}

// ValidateExport checks configuration required for the export command.
func (c *Config) ValidateExport() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Export.Dir == "" {
		return fmt.Errorf("export dir is required")
	}
	if c.Export.Format != FormatCSV && c.Export.Format != FormatXLSX {
		return fmt.Errorf("export format must be '%s' or '%s'", FormatCSV, FormatXLSX)
	}
	if c.Export.S3Bucket != "" && c.Export.S3Region == "" {
		return fmt.Errorf("s3_region is required when s3_bucket is set")
	}
	return nil
}

// ValidateGenerate checks configuration required for the generate command.
func (c *Config) ValidateGenerate() error {
	if c.Source.Connection == "" {
		return fmt.Errorf("source connection string is required")
	}
	g := c.Generate
	if g.Customers < 1 || g.Products < 1 || g.Orders < 1 {
		return fmt.Errorf("customers, products and orders must each be at least 1")
	}
	if g.MaxItems < 1 {
		return fmt.Errorf("max_items must be at least 1")
	}
	return nil
}
