//-------------------------------------------------------------------------
//
// pgEdge Star Schema Loader
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package export writes snapshots of the warehouse relations to files for
// BI tools, and optionally uploads them to S3.
package export

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pgEdge/pgedge-starload/internal/db"
)

// Table is the rendered contents of one relation.
type Table struct {
	Name    string
	Columns []string

	// Numeric marks the columns holding numbers.
	Numeric []bool

	// Rows hold text renderings of the values; NULL is "".
	Rows [][]string
}

// ReadSnapshot reads every row of the given relations, ordered by their
// first column.
func ReadSnapshot(ctx context.Context, q db.Querier, tables []string) ([]Table, error) {
	snapshot := make([]Table, 0, len(tables))
	for _, name := range tables {
		t, err := readTable(ctx, q, name)
		if err != nil {
			return nil, err
		}
		snapshot = append(snapshot, *t)
	}
	return snapshot, nil
}

func readTable(ctx context.Context, q db.Querier, name string) (*Table, error) {
	sql := fmt.Sprintf("SELECT * FROM %s ORDER BY 1", pgx.Identifier{name}.Sanitize())
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	t := &Table{
		Name:    name,
		Columns: make([]string, len(fields)),
		Numeric: make([]bool, len(fields)),
	}
	for i, f := range fields {
		t.Columns[i] = f.Name
		t.Numeric[i] = isNumericOID(f.DataTypeOID)
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		record := make([]string, len(values))
		for i, v := range values {
			s, err := FormatValue(v, fields[i].DataTypeOID)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", name, t.Columns[i], err)
			}
			record[i] = s
		}
		t.Rows = append(t.Rows, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	return t, nil
}

// FormatValue renders a scanned value as text. NUMERIC keeps its scale,
// DATE is YYYY-MM-DD, timestamps are RFC 3339 and NULL is empty.
func FormatValue(v any, oid uint32) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case int16:
		return strconv.FormatInt(int64(x), 10), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case pgtype.Numeric:
		d, err := db.Decimal(x)
		if err != nil {
			return "", err
		}
		if !d.Valid {
			return "", nil
		}
		if exp := d.Decimal.Exponent(); exp < 0 {
			return d.Decimal.StringFixed(-exp), nil
		}
		return d.Decimal.String(), nil
	case time.Time:
		if oid == pgtype.DateOID {
			return x.Format("2006-01-02"), nil
		}
		return x.Format(time.RFC3339), nil
	case []byte:
		return string(x), nil
	default:
		return fmt.Sprint(x), nil
	}
}

func isNumericOID(oid uint32) bool {
	switch oid {
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID,
		pgtype.NumericOID, pgtype.Float4OID, pgtype.Float8OID:
		return true
	}
	return false
}
