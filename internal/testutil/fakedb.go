package testutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrInjected is returned by FakeDB for the failures it is told to inject.
var ErrInjected = errors.New("injected failure")

// QueryFunc answers a query issued against a FakeDB. It returns the column
// names and the rows of the result.
type QueryFunc func(sql string, args []any) ([]string, [][]any, error)

// FakeDB is an in-memory stand-in for a pgx pool. It records every statement
// and COPY, and answers queries through Query.
type FakeDB struct {
	mu sync.Mutex

	// FailOn makes any statement or query containing it fail with
	// ErrInjected. "BEGIN" and "COMMIT" fail the transaction calls.
	FailOn string

	// FailCopy makes a COPY into the named table fail with ErrInjected.
	FailCopy string

	// Answer handles Query and QueryRow. Nil yields empty results.
	Answer QueryFunc

	// ColumnTypes sets the type OID reported for result columns by name.
	ColumnTypes map[string]uint32

	statements []string
	copies     map[string][][]any
	columns    map[string][]string
	events     []string

	begun      int
	committed  int
	rolledBack int
}

// NewFakeDB creates an empty FakeDB.
func NewFakeDB() *FakeDB {
	return &FakeDB{
		copies:  make(map[string][][]any),
		columns: make(map[string][]string),
	}
}

// Exec records the statement.
func (f *FakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailOn != "" && strings.Contains(sql, f.FailOn) {
		return pgconn.CommandTag{}, ErrInjected
	}
	f.statements = append(f.statements, sql)
	f.events = append(f.events, "exec: "+firstLine(sql))
	return pgconn.NewCommandTag("OK"), nil
}

// Query answers through Answer.
func (f *FakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.mu.Lock()
	if f.FailOn != "" && strings.Contains(sql, f.FailOn) {
		f.mu.Unlock()
		return nil, ErrInjected
	}
	f.events = append(f.events, "query: "+firstLine(sql))
	answer := f.Answer
	types := f.ColumnTypes
	f.mu.Unlock()

	if answer == nil {
		return &FakeRows{}, nil
	}
	cols, rows, err := answer(sql, args)
	if err != nil {
		return nil, err
	}
	r := NewFakeRows(cols, rows)
	r.types = types
	return r, nil
}

// QueryRow returns the first row of Query.
func (f *FakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	rows, err := f.Query(ctx, sql, args...)
	return &fakeRow{rows: rows, err: err}
}

// CopyFrom drains rowSrc into the named table.
func (f *FakeDB) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	table := strings.Join(tableName, ".")

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailCopy != "" && table == f.FailCopy {
		return 0, ErrInjected
	}

	var n int64
	for rowSrc.Next() {
		values, err := rowSrc.Values()
		if err != nil {
			return 0, err
		}
		f.copies[table] = append(f.copies[table], values)
		n++
	}
	if err := rowSrc.Err(); err != nil {
		return 0, err
	}
	f.columns[table] = columnNames
	f.events = append(f.events, "copy: "+table)
	return n, nil
}

// Begin starts a fake transaction sharing this FakeDB's state.
func (f *FakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailOn == "BEGIN" {
		return nil, ErrInjected
	}
	f.begun++
	f.events = append(f.events, "begin")
	return &FakeTx{db: f}, nil
}

// Statements returns the executed statements in order.
func (f *FakeDB) Statements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.statements...)
}

// Copied returns the rows copied into a table.
func (f *FakeDB) Copied(table string) [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.copies[table]
}

// CopyColumns returns the column list of the last COPY into a table.
func (f *FakeDB) CopyColumns(table string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.columns[table]
}

// Events returns a log of statements, queries, copies and transaction
// boundaries in the order they happened.
func (f *FakeDB) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

// TxCounts returns how many transactions were begun, committed and rolled back.
func (f *FakeDB) TxCounts() (begun, committed, rolledBack int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.begun, f.committed, f.rolledBack
}

// FakeTx is a pgx.Tx over a FakeDB. Methods not overridden here panic.
type FakeTx struct {
	pgx.Tx
	db   *FakeDB
	done bool
}

func (t *FakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.Exec(ctx, sql, args...)
}

func (t *FakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.db.Query(ctx, sql, args...)
}

func (t *FakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.db.QueryRow(ctx, sql, args...)
}

func (t *FakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return t.db.CopyFrom(ctx, tableName, columnNames, rowSrc)
}

func (t *FakeTx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true

	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.db.FailOn == "COMMIT" {
		t.db.rolledBack++
		t.db.events = append(t.db.events, "rollback")
		return ErrInjected
	}
	t.db.committed++
	t.db.events = append(t.db.events, "commit")
	return nil
}

func (t *FakeTx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true

	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.rolledBack++
	t.db.events = append(t.db.events, "rollback")
	return nil
}

// FakeRows is a pgx.Rows over in-memory values. Scan hands values to
// sql.Scanner destinations and assigns or converts them otherwise.
type FakeRows struct {
	cols  []string
	types map[string]uint32
	rows  [][]any
	pos   int
	err   error
}

// NewFakeRows creates a FakeRows result.
func NewFakeRows(cols []string, rows [][]any) *FakeRows {
	return &FakeRows{cols: cols, rows: rows}
}

func (r *FakeRows) Close()                        {}
func (r *FakeRows) Err() error                    { return r.err }
func (r *FakeRows) CommandTag() pgconn.CommandTag { return pgconn.NewCommandTag("SELECT") }
func (r *FakeRows) RawValues() [][]byte           { return nil }
func (r *FakeRows) Conn() *pgx.Conn               { return nil }

func (r *FakeRows) FieldDescriptions() []pgconn.FieldDescription {
	fields := make([]pgconn.FieldDescription, len(r.cols))
	for i, c := range r.cols {
		fields[i] = pgconn.FieldDescription{Name: c, DataTypeOID: r.types[c]}
	}
	return fields
}

func (r *FakeRows) Next() bool {
	if r.err != nil || r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *FakeRows) Values() ([]any, error) {
	if r.pos == 0 || r.pos > len(r.rows) {
		return nil, errors.New("no current row")
	}
	return r.rows[r.pos-1], nil
}

func (r *FakeRows) Scan(dest ...any) error {
	values, err := r.Values()
	if err != nil {
		return err
	}
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(values))
	}
	for i, d := range dest {
		if sc, ok := d.(sql.Scanner); ok {
			if err := sc.Scan(values[i]); err != nil {
				return fmt.Errorf("scan: destination %d: %w", i, err)
			}
			continue
		}
		dv := reflect.ValueOf(d)
		if dv.Kind() != reflect.Pointer || dv.IsNil() {
			return fmt.Errorf("scan: destination %d is not a pointer", i)
		}
		if values[i] == nil {
			dv.Elem().Set(reflect.Zero(dv.Elem().Type()))
			continue
		}
		v := reflect.ValueOf(values[i])
		if !v.Type().AssignableTo(dv.Elem().Type()) {
			if !v.Type().ConvertibleTo(dv.Elem().Type()) {
				return fmt.Errorf("scan: cannot assign %T to %s", values[i], dv.Elem().Type())
			}
			v = v.Convert(dv.Elem().Type())
		}
		dv.Elem().Set(v)
	}
	return nil
}

type fakeRow struct {
	rows pgx.Rows
	err  error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	defer r.rows.Close()
	if !r.rows.Next() {
		return pgx.ErrNoRows
	}
	return r.rows.Scan(dest...)
}

func firstLine(sql string) string {
	sql = strings.TrimSpace(sql)
	if i := strings.IndexByte(sql, '\n'); i >= 0 {
		sql = sql[:i]
	}
	return strings.TrimSpace(sql)
}
