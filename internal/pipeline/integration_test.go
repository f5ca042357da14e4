//-------------------------------------------------------------------------
//
// pgEdge Star Schema Loader
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

//go:build integration
// +build integration

// End-to-end pipeline tests against a real server.
// Run with: go test -tags=integration ./internal/pipeline/...
// Requires PostgreSQL to be available.
// Set PGEDGE_TEST_CONN environment variable to override connection string.

package pipeline_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pgEdge/pgedge-starload/internal/datagen"
	"github.com/pgEdge/pgedge-starload/internal/db"
	"github.com/pgEdge/pgedge-starload/internal/export"
	"github.com/pgEdge/pgedge-starload/internal/pipeline"
	"github.com/pgEdge/pgedge-starload/internal/source"
	"github.com/pgEdge/pgedge-starload/internal/testutil"
	"github.com/pgEdge/pgedge-starload/internal/transform"
)

func testDB(t *testing.T, baseConnStr, role string) *pgxpool.Pool {
	t.Helper()

	connStr := testutil.CreateTestDB(t, baseConnStr, role)
	cleanup := testutil.NewTestCleanup(t, baseConnStr, testutil.GetDBNameFromConnStr(connStr))
	t.Cleanup(cleanup.Cleanup)

	pool := testutil.ConnectTestDB(t, connStr)
	cleanup.SetPool(pool)
	return pool
}

func TestPipelineIntegration(t *testing.T) {
	baseConnStr := testutil.SkipIfNoPostgres(t)
	ctx := context.Background()

	src := testDB(t, baseConnStr, "source")
	dw := testDB(t, baseConnStr, "warehouse")

	rs := source.Generate(datagen.NewFakerWithSeed(2024), source.GenerateOptions{
		Customers: 50,
		Products:  20,
		Orders:    100,
		MaxItems:  5,
		Now:       time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
	})

	t.Run("GenerateSource", func(t *testing.T) {
		if err := source.CreateSchema(ctx, src); err != nil {
			t.Fatalf("CreateSchema failed: %v", err)
		}
		if err := source.NewWriter().Write(ctx, src, rs); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	})

	t.Run("Extract", func(t *testing.T) {
		got, err := source.NewStore(src).Extract(ctx)
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if got.Counts() != rs.Counts() {
			t.Fatalf("extracted %+v, generated %+v", got.Counts(), rs.Counts())
		}
		if g, w := sumTotals(got), sumTotals(rs); !g.Equal(w) {
			t.Errorf("declared totals sum to %s, want %s", g, w)
		}
	})

	var first *pipeline.Report
	t.Run("FirstRun", func(t *testing.T) {
		first = runPipeline(t, ctx, src, dw, false)
		if first.Load.Sales != int64(len(rs.OrderItems)) {
			t.Errorf("loaded %d fact rows, want %d", first.Load.Sales, len(rs.OrderItems))
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		if first == nil {
			t.Skip("first run failed")
		}
		before := snapshotTotals(t, ctx, dw)
		second := runPipeline(t, ctx, src, dw, true)
		after := snapshotTotals(t, ctx, dw)

		for i := range first.Counts {
			if first.Counts[i] != second.Counts[i] {
				t.Errorf("counts differ between runs: %+v vs %+v", first.Counts[i], second.Counts[i])
			}
		}
		if before != after {
			t.Errorf("warehouse totals differ between runs: %+v vs %+v", before, after)
		}
	})

	t.Run("ReferentialIntegrity", func(t *testing.T) {
		var orphans int
		err := dw.QueryRow(ctx, `
            SELECT count(*) FROM fact_sales f
            LEFT JOIN dim_date d ON d.date_key = f.date_key
            WHERE d.date_key IS NULL
        `).Scan(&orphans)
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if orphans != 0 {
			t.Errorf("%d fact rows reference a missing date", orphans)
		}

		var nullKeys int
		err = dw.QueryRow(ctx, `
            SELECT count(*) FROM fact_sales
            WHERE customer_key IS NULL OR product_key IS NULL
        `).Scan(&nullKeys)
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if nullKeys != 0 {
			t.Errorf("%d fact rows have unresolved keys", nullKeys)
		}
	})

	t.Run("Segments", func(t *testing.T) {
		var wrong int
		err := dw.QueryRow(ctx, `
            SELECT count(*) FROM dim_customer
            WHERE customer_segment <> CASE
                WHEN total_spent > 1000 THEN 'Premium'
                WHEN total_spent > 500 THEN 'Gold'
                ELSE 'Standard' END
        `).Scan(&wrong)
		if err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if wrong != 0 {
			t.Errorf("%d customers have the wrong segment", wrong)
		}
	})

	t.Run("Metadata", func(t *testing.T) {
		if first == nil {
			t.Skip("first run failed")
		}
		runID, err := db.GetMetadataValue(ctx, dw, db.KeyRunID)
		if err != nil {
			t.Fatalf("GetMetadataValue failed: %v", err)
		}
		if runID == "" || runID == first.RunID {
			t.Errorf("metadata run id %q should be the second run's", runID)
		}
	})

	t.Run("Export", func(t *testing.T) {
		dir := t.TempDir()
		res, err := export.Run(ctx, dw, export.Options{Dir: dir, Format: "csv"}, nil)
		if err != nil {
			t.Fatalf("export failed: %v", err)
		}
		if len(res.Files) != 4 {
			t.Fatalf("exported %d files, want 4", len(res.Files))
		}
		if res.Files[3] != filepath.Join(dir, "fact_sales.csv") {
			t.Errorf("unexpected file %s", res.Files[3])
		}
	})
}

func runPipeline(t *testing.T, ctx context.Context, src, dw *pgxpool.Pool, singleTx bool) *pipeline.Report {
	t.Helper()

	p, err := pipeline.New(pipeline.Config{
		Source:            source.NewStore(src),
		Warehouse:         dw,
		Rules:             transform.DefaultRules(),
		ToggleConstraints: true,
		SingleTransaction: singleTx,
		RecordMetadata:    true,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	report, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return report
}

func sumTotals(rs *source.RecordSet) decimal.Decimal {
	sum := decimal.Zero
	for _, o := range rs.Orders {
		sum = sum.Add(o.TotalAmount)
	}
	return sum
}

type totals struct {
	Spent     string
	LineTotal string
	Profit    string
	Dates     int
}

func snapshotTotals(t *testing.T, ctx context.Context, dw *pgxpool.Pool) totals {
	t.Helper()

	var tot totals
	err := dw.QueryRow(ctx, `
        SELECT
            (SELECT sum(total_spent)::text FROM dim_customer),
            (SELECT sum(line_total)::text FROM fact_sales),
            (SELECT sum(profit)::text FROM fact_sales),
            (SELECT count(*) FROM dim_date)
    `).Scan(&tot.Spent, &tot.LineTotal, &tot.Profit, &tot.Dates)
	if err != nil {
		t.Fatalf("totals query failed: %v", err)
	}
	return tot
}
