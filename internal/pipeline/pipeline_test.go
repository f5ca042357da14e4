package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgEdge/pgedge-starload/internal/datagen"
	"github.com/pgEdge/pgedge-starload/internal/source"
	"github.com/pgEdge/pgedge-starload/internal/testutil"
	"github.com/pgEdge/pgedge-starload/internal/transform"
	"github.com/pgEdge/pgedge-starload/internal/warehouse"
)

// fakeWarehouse answers key read-back and row count queries from what was
// copied into the fake.
func fakeWarehouse() *testutil.FakeDB {
	fake := testutil.NewFakeDB()
	fake.Answer = func(sql string, args []any) ([]string, [][]any, error) {
		for _, table := range warehouse.TableNames() {
			switch {
			case strings.Contains(sql, "count(*)") && strings.Contains(sql, `"`+table+`"`):
				return []string{"count"}, [][]any{{int64(len(fake.Copied(table)))}}, nil
			case strings.Contains(sql, "FROM "+table):
				var rows [][]any
				for i, r := range fake.Copied(table) {
					rows = append(rows, []any{r[0], int32(i + 1)})
				}
				return []string{"id", "key"}, rows, nil
			}
		}
		return nil, nil, nil
	}
	return fake
}

func records() *source.RecordSet {
	return source.Generate(datagen.NewFakerWithSeed(11), source.GenerateOptions{
		Customers: 10,
		Products:  5,
		Orders:    20,
		MaxItems:  3,
		Now:       time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	})
}

func newPipeline(t *testing.T, ext source.Extractor, wh Warehouse, singleTx bool) *Pipeline {
	t.Helper()
	p, err := New(Config{
		Source:            ext,
		Warehouse:         wh,
		Rules:             transform.DefaultRules(),
		ToggleConstraints: true,
		SingleTransaction: singleTx,
	})
	require.NoError(t, err)
	return p
}

func stageNames(r *Report) []string {
	names := make([]string, 0, len(r.Stages))
	for _, s := range r.Stages {
		names = append(names, s.Stage)
	}
	return names
}

func TestRunHappyPath(t *testing.T) {
	rs := records()
	fake := fakeWarehouse()
	p := newPipeline(t, &source.StaticExtractor{Records: rs}, fake, false)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, []string{StageExtract, StageTransform, StageSchema, StageLoad}, stageNames(report))
	assert.Empty(t, report.FailedStage())
	assert.Equal(t, rs.Counts(), report.Extracted)
	assert.Equal(t, int64(len(rs.OrderItems)), report.Load.Sales)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))

	require.Len(t, report.Counts, 4)
	assert.Equal(t, warehouse.TableFactSales, report.Counts[3].Table)
	assert.Equal(t, int64(len(rs.OrderItems)), report.Counts[3].Rows)

	begun, committed, rolledBack := fake.TxCounts()
	assert.Equal(t, 1, begun)
	assert.Equal(t, 1, committed)
	assert.Equal(t, 0, rolledBack)
}

func TestRunSchemaCommitsBeforeLoad(t *testing.T) {
	fake := fakeWarehouse()
	p := newPipeline(t, &source.StaticExtractor{Records: records()}, fake, false)
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	events := fake.Events()
	commit := indexOf(events, "commit")
	firstCopy := indexOf(events, "copy: dim_customer")
	require.GreaterOrEqual(t, commit, 0)
	assert.Less(t, commit, firstCopy)
	assert.Equal(t, "begin", events[0])
	assert.Equal(t, "exec: SET LOCAL session_replication_role = replica", events[1])
}

func TestRunSingleTransaction(t *testing.T) {
	fake := fakeWarehouse()
	p := newPipeline(t, &source.StaticExtractor{Records: records()}, fake, true)
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	events := fake.Events()
	commit := indexOf(events, "commit")
	lastCopy := indexOf(events, "copy: fact_sales")
	assert.Greater(t, commit, lastCopy)

	begun, committed, _ := fake.TxCounts()
	assert.Equal(t, 1, begun)
	assert.Equal(t, 1, committed)
}

func TestRunSingleTransactionRollsBackOnLoadFailure(t *testing.T) {
	fake := fakeWarehouse()
	fake.FailCopy = warehouse.TableDimDate
	p := newPipeline(t, &source.StaticExtractor{Records: records()}, fake, true)

	_, err := p.Run(context.Background())
	require.Error(t, err)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageLoad, se.Stage)

	_, committed, rolledBack := fake.TxCounts()
	assert.Equal(t, 0, committed)
	assert.Equal(t, 1, rolledBack)
}

func TestRunLoadFailureStopsPipeline(t *testing.T) {
	fake := fakeWarehouse()
	fake.FailCopy = warehouse.TableDimProduct
	p := newPipeline(t, &source.StaticExtractor{Records: records()}, fake, false)

	report, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dim_product")
	assert.Equal(t, StageLoad, report.FailedStage())
	assert.Empty(t, fake.Copied(warehouse.TableFactSales))
	assert.Nil(t, report.Counts)
}

func TestRunExtractFailure(t *testing.T) {
	boom := errors.New("connection refused")
	fake := fakeWarehouse()
	p := newPipeline(t, &source.StaticExtractor{Err: boom}, fake, false)

	report, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageExtract, se.Stage)
	assert.Equal(t, []string{StageExtract}, stageNames(report))
	assert.Empty(t, fake.Events())
}

func TestRunTransformFailureLeavesWarehouseUntouched(t *testing.T) {
	rs := records()
	rs.Products = append(rs.Products, rs.Products[0])
	fake := fakeWarehouse()
	p := newPipeline(t, &source.StaticExtractor{Records: rs}, fake, false)

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, transform.ErrDuplicateKey)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageTransform, se.Stage)
	assert.Empty(t, fake.Events())
}

func TestRunSchemaFailureRollsBack(t *testing.T) {
	fake := fakeWarehouse()
	fake.FailOn = "CREATE TABLE fact_sales"
	p := newPipeline(t, &source.StaticExtractor{Records: records()}, fake, false)

	report, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StageSchema, report.FailedStage())

	_, committed, rolledBack := fake.TxCounts()
	assert.Equal(t, 0, committed)
	assert.Equal(t, 1, rolledBack)
	assert.Empty(t, fake.Copied(warehouse.TableDimCustomer))
}

func TestRunBeginFailureIsSchemaStage(t *testing.T) {
	for _, singleTx := range []bool{false, true} {
		fake := fakeWarehouse()
		fake.FailOn = "BEGIN"
		p := newPipeline(t, &source.StaticExtractor{Records: records()}, fake, singleTx)

		report, err := p.Run(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, testutil.ErrInjected)

		var se *StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, StageSchema, se.Stage)
		assert.Equal(t, StageSchema, report.FailedStage(), "single transaction %v", singleTx)
		assert.Equal(t, []string{StageExtract, StageTransform, StageSchema}, stageNames(report))
		assert.Nil(t, report.Stages[2].Records)
		assert.Empty(t, fake.Copied(warehouse.TableDimCustomer))
	}
}

func TestRunStageRecords(t *testing.T) {
	rs := records()
	p := newPipeline(t, &source.StaticExtractor{Records: rs}, fakeWarehouse(), false)

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Stages, 4)

	extract := report.Stages[0].Records
	assert.Equal(t, int64(len(rs.Customers)), extract["customers"])
	assert.Equal(t, int64(len(rs.Products)), extract["products"])
	assert.Equal(t, int64(len(rs.Orders)), extract["orders"])
	assert.Equal(t, int64(len(rs.OrderItems)), extract["order_items"])

	tr := report.Stages[1].Records
	assert.Equal(t, int64(len(rs.OrderItems)), tr["sales_rows"])
	assert.Equal(t, report.Load.Customers, tr["customers"])
	assert.Equal(t, int64(len(rs.Products)), tr["products"])
	assert.Equal(t, report.Load.Dates, tr["dates"])
	assert.Equal(t, int64(0), tr["dropped_items"])

	assert.Equal(t, Records{"tables": int64(len(warehouse.Tables))}, report.Stages[2].Records)
	assert.Equal(t, report.Load.Sales, report.Stages[3].Records[warehouse.TableFactSales])
	assert.Equal(t, []string{"customers", "dates", "dropped_items", "products", "sales_rows"}, tr.Keys())
}

func TestRunStageRecordsCountDroppedItems(t *testing.T) {
	rs := records()
	rs.OrderItems = append(rs.OrderItems, source.OrderItem{
		ID:        9999,
		OrderID:   424242,
		ProductID: rs.Products[0].ID,
		Quantity:  1,
		UnitPrice: decimal.NewFromInt(5),
	})
	p := newPipeline(t, &source.StaticExtractor{Records: rs}, fakeWarehouse(), false)

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Stages[1].Records["dropped_items"])
	assert.Equal(t, int64(len(rs.OrderItems)-1), report.Stages[1].Records["sales_rows"])
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newPipeline(t, &source.StaticExtractor{Records: records()}, fakeWarehouse(), false)
	_, err := p.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunRecordsMetadata(t *testing.T) {
	fake := fakeWarehouse()
	p, err := New(Config{
		Source:         &source.StaticExtractor{Records: records()},
		Warehouse:      fake,
		Rules:          transform.DefaultRules(),
		RecordMetadata: true,
	})
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageRecord, report.Stages[len(report.Stages)-1].Stage)

	var inserts int
	for _, s := range fake.Statements() {
		if strings.Contains(s, "INSERT INTO starload_metadata") {
			inserts++
		}
	}
	// Report keys plus version and completed_at.
	assert.Equal(t, len(report.Metadata())+2, inserts)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{Warehouse: fakeWarehouse(), Rules: transform.DefaultRules()})
	assert.Error(t, err)

	_, err = New(Config{Source: &source.StaticExtractor{}, Rules: transform.DefaultRules()})
	assert.Error(t, err)

	bad := transform.DefaultRules()
	bad.MarginRate = decimal.NewFromInt(2)
	_, err = New(Config{Source: &source.StaticExtractor{}, Warehouse: fakeWarehouse(), Rules: bad})
	assert.Error(t, err)
}

func TestReportMetadata(t *testing.T) {
	r := &Report{
		RunID:     "abc",
		StartedAt: time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC),
		Extracted: source.Counts{Customers: 3, Products: 2, Orders: 4, OrderItems: 9},
		Quality:   transform.Quality{DroppedItems: []int64{5, 6}, TotalMismatches: 1},
		Load:      &warehouse.LoadReport{UnresolvedProductKeys: 2},
		Counts:    []warehouse.TableCount{{Table: "fact_sales", Rows: 7}},
	}
	m := r.Metadata()

	assert.Equal(t, "abc", m["run_id"])
	assert.Equal(t, "2024-03-09T12:00:00Z", m["started_at"])
	assert.Equal(t, "9", m["source_order_items"])
	assert.Equal(t, "2", m["dropped_items"])
	assert.Equal(t, "1", m["order_total_mismatches"])
	assert.Equal(t, "2", m["unresolved_product_keys"])
	assert.Equal(t, "7", m["rows_fact_sales"])
}

func TestStageErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &StageError{Stage: StageLoad, Err: inner}
	assert.Equal(t, "load stage failed: boom", err.Error())
	assert.ErrorIs(t, err, inner)
}

func indexOf(events []string, want string) int {
	for i, e := range events {
		if e == want {
			return i
		}
	}
	return -1
}
