//-------------------------------------------------------------------------
//
// pgEdge Star Schema Loader
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package pipeline sequences one extract, transform and load run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/pgEdge/pgedge-starload/internal/db"
	"github.com/pgEdge/pgedge-starload/internal/logging"
	"github.com/pgEdge/pgedge-starload/internal/source"
	"github.com/pgEdge/pgedge-starload/internal/transform"
	"github.com/pgEdge/pgedge-starload/internal/warehouse"
)

// Stage names, in execution order.
const (
	StageExtract   = "extract"
	StageTransform = "transform"
	StageSchema    = "schema"
	StageLoad      = "load"
	StageRecord    = "record"
)

// Warehouse is the warehouse database: COPY-capable and able to start
// transactions. *pgxpool.Pool satisfies it.
type Warehouse interface {
	warehouse.DB
	Begin(ctx context.Context) (pgx.Tx, error)
}

// StageError reports the stage a run failed in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Config holds the collaborators and options of a Pipeline.
type Config struct {
	Source    source.Extractor
	Warehouse Warehouse
	Rules     transform.Rules

	ToggleConstraints bool

	// SingleTransaction runs the schema rebuild and the load in one
	// transaction, so a failed load leaves the previous warehouse intact.
	SingleTransaction bool

	// RecordMetadata stores the run report in the warehouse metadata table
	// after a successful load.
	RecordMetadata bool
}

// Pipeline runs extract, transform, schema rebuild and load in strict order.
type Pipeline struct {
	source    source.Extractor
	warehouse Warehouse
	rules     transform.Rules
	schema    *warehouse.SchemaManager
	loader    *warehouse.Loader

	singleTransaction bool
	recordMetadata    bool
}

// New creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Source == nil {
		return nil, errors.New("pipeline requires a source")
	}
	if cfg.Warehouse == nil {
		return nil, errors.New("pipeline requires a warehouse")
	}
	if err := cfg.Rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transform rules: %w", err)
	}

	return &Pipeline{
		source:            cfg.Source,
		warehouse:         cfg.Warehouse,
		rules:             cfg.Rules,
		schema:            warehouse.NewSchemaManager(cfg.ToggleConstraints),
		loader:            warehouse.NewLoader(),
		singleTransaction: cfg.SingleTransaction,
		recordMetadata:    cfg.RecordMetadata,
	}, nil
}

// Run executes one pipeline run. On failure it returns the partial report
// and a *StageError; no later stage runs.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	log := logging.WithRun(report.RunID)

	log.Info().
		Bool("single_transaction", p.singleTransaction).
		Msg("Starting pipeline run")

	var rs *source.RecordSet
	err := p.stage(ctx, log, report, StageExtract, func(ctx context.Context) (Records, error) {
		var err error
		rs, err = p.source.Extract(ctx)
		if err != nil {
			return nil, err
		}
		report.Extracted = rs.Counts()
		return Records{
			"customers":   int64(report.Extracted.Customers),
			"products":    int64(report.Extracted.Products),
			"orders":      int64(report.Extracted.Orders),
			"order_items": int64(report.Extracted.OrderItems),
		}, nil
	})
	if err != nil {
		return report, err
	}

	var res *transform.Result
	err = p.stage(ctx, log, report, StageTransform, func(ctx context.Context) (Records, error) {
		var err error
		res, err = transform.Transform(rs, p.rules)
		if err != nil {
			return nil, err
		}
		report.Quality = res.Quality
		return Records{
			"sales_rows":    int64(len(res.Sales)),
			"customers":     int64(len(res.Customers)),
			"products":      int64(len(res.Products)),
			"dates":         int64(len(res.Dates)),
			"dropped_items": int64(len(res.Quality.DroppedItems)),
		}, nil
	})
	if err != nil {
		return report, err
	}
	p.logQuality(log, res.Quality)

	if p.singleTransaction {
		err = p.loadInTransaction(ctx, log, report, res)
	} else {
		err = p.loadSeparately(ctx, log, report, res)
	}
	if err != nil {
		return report, err
	}

	counts, err := warehouse.CountRows(ctx, p.warehouse)
	if err != nil {
		log.Warn().Err(err).Msg("Could not count warehouse rows")
	}
	report.Counts = counts

	if p.recordMetadata {
		err = p.stage(ctx, log, report, StageRecord, func(ctx context.Context) (Records, error) {
			metadata := report.Metadata()
			if err := db.SaveMetadata(ctx, p.warehouse, metadata); err != nil {
				return nil, err
			}
			return Records{"keys": int64(len(metadata))}, nil
		})
		if err != nil {
			return report, err
		}
	}

	report.FinishedAt = time.Now().UTC()
	log.Info().
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Int64("fact_sales", report.Load.Sales).
		Msg("Pipeline run completed")

	return report, nil
}

// loadSeparately rebuilds the schema in its own transaction, then loads
// directly into the warehouse.
func (p *Pipeline) loadSeparately(ctx context.Context, log zerolog.Logger, report *Report, res *transform.Result) error {
	err := p.stage(ctx, log, report, StageSchema, func(ctx context.Context) (Records, error) {
		err := p.inTransaction(ctx, func(tx pgx.Tx) error {
			return p.schema.Rebuild(ctx, tx)
		})
		if err != nil {
			return nil, err
		}
		return schemaRecords(), nil
	})
	if err != nil {
		return err
	}

	return p.stage(ctx, log, report, StageLoad, func(ctx context.Context) (Records, error) {
		var err error
		report.Load, err = p.loader.Load(ctx, p.warehouse, res)
		if err != nil {
			return nil, err
		}
		return loadRecords(report.Load), nil
	})
}

// loadInTransaction rebuilds and loads inside one transaction. Any failure,
// including failing to begin, is reported by the schema or load stage and
// rolls back the rebuild as well.
func (p *Pipeline) loadInTransaction(ctx context.Context, log zerolog.Logger, report *Report, res *transform.Result) error {
	var tx pgx.Tx
	err := p.stage(ctx, log, report, StageSchema, func(ctx context.Context) (Records, error) {
		var err error
		tx, err = p.warehouse.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		if err := p.schema.Rebuild(ctx, tx); err != nil {
			return nil, err
		}
		return schemaRecords(), nil
	})
	if tx != nil {
		defer tx.Rollback(ctx) //nolint:errcheck
	}
	if err != nil {
		return err
	}

	return p.stage(ctx, log, report, StageLoad, func(ctx context.Context) (Records, error) {
		var err error
		report.Load, err = p.loader.Load(ctx, tx, res)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit: %w", err)
		}
		return loadRecords(report.Load), nil
	})
}

func (p *Pipeline) inTransaction(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := p.warehouse.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func schemaRecords() Records {
	return Records{"tables": int64(len(warehouse.Tables))}
}

func loadRecords(l *warehouse.LoadReport) Records {
	return Records{
		warehouse.TableDimCustomer: l.Customers,
		warehouse.TableDimProduct:  l.Products,
		warehouse.TableDimDate:     l.Dates,
		warehouse.TableFactSales:   l.Sales,
	}
}

// stage runs fn, timing it and wrapping any failure in a StageError. The
// records fn returns are kept in the report and logged on completion.
func (p *Pipeline) stage(ctx context.Context, log zerolog.Logger, report *Report, name string, fn func(context.Context) (Records, error)) error {
	if err := ctx.Err(); err != nil {
		report.Stages = append(report.Stages, StageResult{Stage: name, Err: err})
		return &StageError{Stage: name, Err: err}
	}

	log.Debug().Str("stage", name).Msg("Stage started")
	start := time.Now()
	records, err := fn(ctx)
	result := StageResult{Stage: name, Duration: time.Since(start), Records: records, Err: err}
	report.Stages = append(report.Stages, result)

	if err != nil {
		log.Error().Err(err).Str("stage", name).Dur("duration", result.Duration).Msg("Stage failed")
		return &StageError{Stage: name, Err: err}
	}

	event := log.Info().Str("stage", name).Dur("duration", result.Duration)
	for _, k := range records.Keys() {
		event = event.Int64(k, records[k])
	}
	event.Msg("Stage completed")
	return nil
}

func (p *Pipeline) logQuality(log zerolog.Logger, q transform.Quality) {
	if len(q.DroppedItems) > 0 {
		log.Warn().
			Int("count", len(q.DroppedItems)).
			Ints64("item_ids", q.DroppedItems).
			Msg("Order items without a matching order were dropped")
	}
	if q.UnresolvedProducts > 0 || q.UnresolvedCustomers > 0 {
		log.Warn().
			Int("products", q.UnresolvedProducts).
			Int("customers", q.UnresolvedCustomers).
			Msg("Sales detail rows without product or customer attributes")
	}
	if q.TotalMismatches > 0 {
		log.Warn().
			Int("orders", q.TotalMismatches).
			Msg("Declared order totals differ from the sum of their line totals")
	}
}
