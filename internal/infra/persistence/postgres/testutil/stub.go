// Package testutil provides an in-memory database/sql driver that understands
// just enough SQL for the postgres store tests.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

var driverSeq atomic.Uint64

// Row is one stored record keyed by lower-case column name.
type Row map[string]any

// Conn records every statement and keeps inserted rows per table.
//
// INSERT ... ON CONFLICT(col) DO UPDATE replaces the row matching col;
// DO NOTHING leaves it in place. SELECT returns every row of its table in
// insertion order and ignores WHERE clauses.
type Conn struct {
	mu         sync.Mutex
	Statements []string
	Tables     map[string][]Row

	PingErr   error
	BeginErr  error
	ExecErr   error
	CommitErr error
	RowsErr   error

	// Broken tables fail every statement that touches them.
	Broken map[string]bool
}

// Open registers a fresh driver instance and returns a handle bound to it.
func Open() (*sql.DB, *Conn) {
	conn := &Conn{Tables: map[string][]Row{}, Broken: map[string]bool{}}
	name := fmt.Sprintf("kittycore-stub-%d", driverSeq.Add(1))
	sql.Register(name, stubDriver{conn: conn})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Rows returns a copy of the rows stored in table.
func (c *Conn) Rows(table string) []Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Row(nil), c.Tables[table]...)
}

// Find returns the first row of table whose column equals value.
func (c *Conn) Find(table, column string, value any) (Row, bool) {
	for _, row := range c.Rows(table) {
		if row[column] == value {
			return row, true
		}
	}
	return nil, false
}

// Executed reports whether any recorded statement contains fragment,
// compared case-insensitively.
func (c *Conn) Executed(fragment string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	want := strings.ToUpper(fragment)
	for _, stmt := range c.Statements {
		if strings.Contains(strings.ToUpper(stmt), want) {
			return true
		}
	}
	return false
}

type stubDriver struct{ conn *Conn }

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn.
func (c *Conn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("stub: prepared statements unsupported")
}

// Close implements driver.Conn.
func (c *Conn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *Conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *Conn) Ping(context.Context) error { return c.PingErr }

// BeginTx implements driver.ConnBeginTx.
func (c *Conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.BeginErr != nil {
		return nil, c.BeginErr
	}
	return stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *Conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statements = append(c.Statements, query)
	if c.ExecErr != nil {
		return nil, c.ExecErr
	}
	upper := strings.ToUpper(strings.TrimSpace(query))
	if !strings.HasPrefix(upper, "INSERT INTO") {
		return driver.RowsAffected(0), nil
	}
	table, cols, err := insertTarget(query)
	if err != nil {
		return nil, err
	}
	if c.Broken[table] {
		return nil, fmt.Errorf("stub: table %s is broken", table)
	}
	if len(cols) != len(args) {
		return nil, fmt.Errorf("stub: %d columns but %d args for %s", len(cols), len(args), table)
	}
	row := make(Row, len(cols))
	for i, col := range cols {
		row[col] = args[i].Value
	}

	key := cols[0]
	for i, existing := range c.Tables[table] {
		if existing[key] != row[key] || !strings.Contains(upper, "ON CONFLICT") {
			continue
		}
		if strings.Contains(upper, "DO NOTHING") {
			return driver.RowsAffected(0), nil
		}
		c.Tables[table][i] = row
		return driver.RowsAffected(1), nil
	}
	c.Tables[table] = append(c.Tables[table], row)
	return driver.RowsAffected(1), nil
}

// QueryContext implements driver.QueryerContext.
func (c *Conn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Statements = append(c.Statements, query)
	table, cols, err := selectTarget(query)
	if err != nil {
		return nil, err
	}
	if c.Broken[table] {
		return nil, fmt.Errorf("stub: table %s is broken", table)
	}
	out := &stubRows{cols: cols, err: c.RowsErr}
	for _, row := range c.Tables[table] {
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		out.rows = append(out.rows, vals)
	}
	return out, nil
}

type stubTx struct{ conn *Conn }

func (t stubTx) Commit() error   { return t.conn.CommitErr }
func (t stubTx) Rollback() error { return nil }

type stubRows struct {
	cols []string
	rows [][]driver.Value
	next int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.next == len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.next])
	r.next++
	return nil
}

// insertTarget parses "INSERT INTO table(col, ...) ...".
func insertTarget(query string) (string, []string, error) {
	_, rest, ok := strings.Cut(strings.ToLower(query), "into ")
	if !ok {
		return "", nil, fmt.Errorf("stub: cannot parse %q", query)
	}
	table, rest, ok := strings.Cut(rest, "(")
	if !ok {
		return "", nil, fmt.Errorf("stub: cannot parse %q", query)
	}
	cols, _, ok := strings.Cut(rest, ")")
	if !ok {
		return "", nil, fmt.Errorf("stub: cannot parse %q", query)
	}
	return strings.TrimSpace(table), columns(cols), nil
}

// selectTarget parses "SELECT col, ... FROM table ...".
func selectTarget(query string) (string, []string, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	cols, ok := strings.CutPrefix(lower, "select ")
	if !ok {
		return "", nil, fmt.Errorf("stub: cannot parse %q", query)
	}
	cols, rest, ok := strings.Cut(cols, " from ")
	if !ok {
		return "", nil, fmt.Errorf("stub: cannot parse %q", query)
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("stub: cannot parse %q", query)
	}
	return fields[0], columns(cols), nil
}

func columns(raw string) []string {
	parts := strings.Split(raw, ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}
