package export

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"

	"github.com/pgEdge/pgedge-starload/internal/db"
	"github.com/pgEdge/pgedge-starload/internal/logging"
	"github.com/pgEdge/pgedge-starload/internal/warehouse"
)

// Options selects what to export and where.
type Options struct {
	Dir    string
	Format string

	// Tables defaults to every warehouse relation.
	Tables []string
}

// Result lists what an export produced.
type Result struct {
	RunID    string
	Files    []string
	Uploaded []string
}

// Run reads the warehouse relations, writes them in the chosen format and
// uploads the files when the uploader is enabled.
func Run(ctx context.Context, q db.Querier, opts Options, uploader *S3Uploader) (*Result, error) {
	w, err := Get(opts.Format)
	if err != nil {
		return nil, err
	}
	tables := opts.Tables
	if len(tables) == 0 {
		tables = warehouse.TableNames()
	}

	res := &Result{RunID: lastRunID(ctx, q)}
	if uploader.Enabled() && res.RunID == "" {
		return nil, fmt.Errorf("warehouse has no recorded run; run the pipeline before uploading exports")
	}

	snapshot, err := ReadSnapshot(ctx, q, tables)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	res.Files, err = w.Write(opts.Dir, snapshot)
	if err != nil {
		return nil, err
	}
	for _, t := range snapshot {
		logging.Info().Str("table", t.Name).Int("rows", len(t.Rows)).Msg("Exported table")
	}

	if uploader.Enabled() {
		res.Uploaded, err = uploader.Upload(ctx, res.RunID, res.Files)
		if err != nil {
			return res, err
		}
	}

	return res, nil
}

// lastRunID returns the id of the last recorded run, or "" when the
// warehouse has none.
func lastRunID(ctx context.Context, q db.Querier) string {
	exists, err := db.MetadataExists(ctx, q)
	if err != nil || !exists {
		return ""
	}
	id, err := db.GetMetadataValue(ctx, q, db.KeyRunID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			logging.Warn().Err(err).Msg("Could not read run id")
		}
		return ""
	}
	return id
}
