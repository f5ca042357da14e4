package pipeline

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/pgEdge/pgedge-starload/internal/db"
	"github.com/pgEdge/pgedge-starload/internal/source"
	"github.com/pgEdge/pgedge-starload/internal/transform"
	"github.com/pgEdge/pgedge-starload/internal/warehouse"
)

// Records are the named row counts a stage handled.
type Records map[string]int64

// Keys returns the record names in sorted order.
func (r Records) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StageResult records how one stage went. Records is nil for a failed stage.
type StageResult struct {
	Stage    string
	Duration time.Duration
	Records  Records
	Err      error
}

// Report describes one pipeline run.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Stages    []StageResult
	Extracted source.Counts
	Quality   transform.Quality
	Load      *warehouse.LoadReport

	// Counts are the warehouse row counts after the load.
	Counts []warehouse.TableCount
}

// FailedStage returns the name of the stage that failed, or "".
func (r *Report) FailedStage() string {
	for _, s := range r.Stages {
		if s.Err != nil {
			return s.Stage
		}
	}
	return ""
}

// Metadata renders the report as the key/value pairs stored in the
// warehouse metadata table.
func (r *Report) Metadata() map[string]string {
	m := map[string]string{
		db.KeyRunID:              r.RunID,
		"started_at":             r.StartedAt.Format(time.RFC3339),
		"source_customers":       strconv.Itoa(r.Extracted.Customers),
		"source_products":        strconv.Itoa(r.Extracted.Products),
		"source_orders":          strconv.Itoa(r.Extracted.Orders),
		"source_order_items":     strconv.Itoa(r.Extracted.OrderItems),
		"dropped_items":          strconv.Itoa(len(r.Quality.DroppedItems)),
		"unresolved_products":    strconv.Itoa(r.Quality.UnresolvedProducts),
		"unresolved_customers":   strconv.Itoa(r.Quality.UnresolvedCustomers),
		"order_total_mismatches": strconv.Itoa(r.Quality.TotalMismatches),
	}
	if r.Load != nil {
		m["unresolved_customer_keys"] = strconv.Itoa(r.Load.UnresolvedCustomerKeys)
		m["unresolved_product_keys"] = strconv.Itoa(r.Load.UnresolvedProductKeys)
		m["load_duration"] = r.Load.Duration.Round(time.Millisecond).String()
	}
	for _, c := range r.Counts {
		m[fmt.Sprintf("rows_%s", c.Table)] = strconv.FormatInt(c.Rows, 10)
	}
	return m
}
