// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqldriver adapts database/sql drivers to the engine's native
// connection interface.
//
// Each native connection is a dedicated *sqlx.Conn. The adapter opens
// transactions itself by sending BEGIN before the first statement of a unit
// of work, so a connection is always implicitly inside a transaction the
// way the engine expects. Statements that manage transactions on their own
// (COMMIT PREPARED, XA, PRAGMA, ...) are sent without an implicit BEGIN.
//
// Rows are read lazily. A database/sql connection cannot interleave result
// sets, so before another statement, commit or rollback runs on the same
// connection, the remaining rows of every open cursor are buffered.
package sqldriver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/multigres/dbcore/go/engine/driver"
)

// Driver opens native connections from a database/sql handle.
type Driver struct {
	db          *sqlx.DB
	logger      *slog.Logger
	returnsRows func(query string) bool
}

var _ driver.Driver = (*Driver)(nil)

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger. It defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithReturnsRows overrides the classifier deciding whether a statement is
// run as a query, producing rows, or as an exec, producing a row count.
func WithReturnsRows(fn func(query string) bool) Option {
	return func(d *Driver) {
		d.returnsRows = fn
	}
}

// Open opens a database/sql handle for driverName ("postgres", "mysql" or
// "sqlite3") and wraps it.
func Open(driverName, dsn string, opts ...Option) (*Driver, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driverName, err)
	}
	return New(db, opts...), nil
}

// New wraps an existing handle. Idle connections are not retained by
// database/sql: pooling is the engine's job, and closing a native
// connection must close the physical one.
func New(db *sqlx.DB, opts ...Option) *Driver {
	db.SetMaxIdleConns(0)
	d := &Driver{db: db, logger: slog.Default(), returnsRows: ReturnsRows}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DB returns the underlying handle.
func (d *Driver) DB() *sqlx.DB {
	return d.db
}

// Close closes the underlying handle.
func (d *Driver) Close() error {
	return d.db.Close()
}

// Connect checks out a dedicated physical connection.
func (d *Driver) Connect(ctx context.Context) (driver.Conn, error) {
	c, err := d.db.Connx(ctx)
	if err != nil {
		return nil, translate(err)
	}
	d.logger.DebugContext(ctx, "opened native connection", "driver", d.db.DriverName())
	return &Conn{d: d, conn: c, cursors: make(map[*Cursor]struct{})}, nil
}

// --- Statement classification ---

var (
	rowsPattern = regexp.MustCompile(
		`(?is)^\s*(?:SELECT|WITH|VALUES|SHOW|EXPLAIN|PRAGMA|TABLE|DESCRIBE|DESC|XA\s+RECOVER)\b|\bRETURNING\b`)
	outsidePattern = regexp.MustCompile(
		`(?i)^\s*(?:(?:COMMIT|ROLLBACK)\s+PREPARED|XA\s+RECOVER|SET\s+SESSION|PRAGMA)\b`)
	opensPattern   = regexp.MustCompile(`(?i)^\s*(?:BEGIN|START\s+TRANSACTION|XA\s+(?:BEGIN|START))\b`)
	endsPattern    = regexp.MustCompile(`(?i)^\s*(?:COMMIT|ROLLBACK|END|XA\s+(?:PREPARE|COMMIT|ROLLBACK))\b`)
	preparePattern = regexp.MustCompile(`(?i)^\s*PREPARE\s+TRANSACTION\b`)
)

// ReturnsRows is the default row classifier.
func ReturnsRows(query string) bool {
	return rowsPattern.MatchString(query)
}

type txEffect int

const (
	// effectInTx runs inside the current transaction, opening one if needed.
	effectInTx txEffect = iota
	// effectOutside runs without opening a transaction.
	effectOutside
	// effectOpens opens a transaction by itself.
	effectOpens
	// effectEnds ends the current transaction.
	effectEnds
	// effectPrepare ends the current transaction by preparing it; it must
	// run inside one.
	effectPrepare
)

func classify(query string) txEffect {
	switch {
	case outsidePattern.MatchString(query):
		return effectOutside
	case preparePattern.MatchString(query):
		return effectPrepare
	case opensPattern.MatchString(query):
		return effectOpens
	case endsPattern.MatchString(query):
		return effectEnds
	}
	return effectInTx
}

// --- Connections ---

// Conn is a native connection over a *sqlx.Conn.
type Conn struct {
	d       *Driver
	conn    *sqlx.Conn
	inTx    bool
	closed  bool
	cursors map[*Cursor]struct{}
}

var (
	_ driver.Conn   = (*Conn)(nil)
	_ driver.Pinger = (*Conn)(nil)
)

// Cursor opens a cursor.
func (c *Conn) Cursor() (driver.Cursor, error) {
	if c.closed {
		return nil, driver.ErrBadConn
	}
	cur := &Cursor{conn: c, affected: -1}
	c.cursors[cur] = struct{}{}
	return cur, nil
}

// drain buffers the remaining rows of every open cursor except keep.
func (c *Conn) drain(ctx context.Context, keep *Cursor) error {
	for cur := range c.cursors {
		if cur == keep || cur.rows == nil {
			continue
		}
		if err := cur.bufferAll(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conn) exec(ctx context.Context, query string) error {
	if _, err := c.conn.ExecContext(ctx, query); err != nil {
		return translate(err)
	}
	return nil
}

func (c *Conn) begin(ctx context.Context) error {
	if c.inTx {
		return nil
	}
	if err := c.exec(ctx, "BEGIN"); err != nil {
		return err
	}
	c.inTx = true
	return nil
}

// Commit commits the current transaction, if one was opened.
func (c *Conn) Commit(ctx context.Context) error {
	return c.end(ctx, "COMMIT")
}

// Rollback rolls back the current transaction, if one was opened.
func (c *Conn) Rollback(ctx context.Context) error {
	return c.end(ctx, "ROLLBACK")
}

func (c *Conn) end(ctx context.Context, verb string) error {
	if c.closed {
		return driver.ErrBadConn
	}
	if err := c.drain(ctx, nil); err != nil {
		return err
	}
	if !c.inTx {
		return nil
	}
	c.inTx = false
	return c.exec(ctx, verb)
}

// Ping checks that the connection is alive.
func (c *Conn) Ping(ctx context.Context) error {
	if c.closed {
		return driver.ErrBadConn
	}
	return translate(c.conn.PingContext(ctx))
}

// Close closes every cursor and the physical connection.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	var errs []error
	for cur := range c.cursors {
		errs = append(errs, cur.Close())
	}
	errs = append(errs, c.conn.Close())
	return errors.Join(errs...)
}

// --- Cursors ---

// Cursor runs statements on a Conn.
type Cursor struct {
	conn     *Conn
	rows     *sqlx.Rows
	columns  []string
	buffer   [][]any
	affected int64
	closed   bool
}

var _ driver.Cursor = (*Cursor)(nil)

// Execute runs query, opening a transaction first unless the statement
// manages transactions itself.
func (cur *Cursor) Execute(ctx context.Context, query string, args []any) error {
	if cur.closed {
		return errors.New("cursor is closed")
	}
	c := cur.conn
	if c.closed {
		return driver.ErrBadConn
	}
	cur.reset()
	if err := c.drain(ctx, cur); err != nil {
		return err
	}

	effect := classify(query)
	if effect == effectInTx || effect == effectPrepare {
		if err := c.begin(ctx); err != nil {
			return err
		}
	}

	if c.d.returnsRows(query) {
		rows, err := c.conn.QueryxContext(ctx, query, args...)
		if err != nil {
			return translate(err)
		}
		cols, err := rows.Columns()
		if err != nil {
			_ = rows.Close()
			return translate(err)
		}
		if len(cols) == 0 {
			_ = rows.Close()
		} else {
			cur.rows = rows
			cur.columns = cols
		}
	} else {
		res, err := c.conn.ExecContext(ctx, query, args...)
		if err != nil {
			return translate(err)
		}
		if n, err := res.RowsAffected(); err == nil {
			cur.affected = n
		}
	}

	switch effect {
	case effectOpens:
		c.inTx = true
	case effectEnds, effectPrepare:
		c.inTx = false
	}
	return nil
}

func (cur *Cursor) reset() {
	if cur.rows != nil {
		_ = cur.rows.Close()
	}
	cur.rows, cur.columns, cur.buffer, cur.affected = nil, nil, nil, -1
}

// Columns returns the columns of the last statement.
func (cur *Cursor) Columns() []string {
	return cur.columns
}

// RowsAffected returns the row count of the last statement, or -1.
func (cur *Cursor) RowsAffected() int64 {
	return cur.affected
}

// Fetch returns up to n rows; n <= 0 returns every remaining row.
func (cur *Cursor) Fetch(ctx context.Context, n int) ([][]any, error) {
	if cur.closed {
		return nil, errors.New("cursor is closed")
	}
	var out [][]any
	take := len(cur.buffer)
	if n > 0 && n < take {
		take = n
	}
	out = append(out, cur.buffer[:take]...)
	cur.buffer = cur.buffer[take:]

	for cur.rows != nil && (n <= 0 || len(out) < n) {
		row, ok, err := cur.next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		out = append(out, row)
	}
	return out, nil
}

// next reads one row from the open result set, closing it at the end.
func (cur *Cursor) next(ctx context.Context) ([]any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if !cur.rows.Next() {
		err := cur.rows.Err()
		_ = cur.rows.Close()
		cur.rows = nil
		return nil, false, translate(err)
	}
	row, err := cur.rows.SliceScan()
	if err != nil {
		return nil, false, translate(err)
	}
	return row, true, nil
}

func (cur *Cursor) bufferAll(ctx context.Context) error {
	for cur.rows != nil {
		row, ok, err := cur.next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		cur.buffer = append(cur.buffer, row)
	}
	return nil
}

// Close discards the cursor's rows.
func (cur *Cursor) Close() error {
	if cur.closed {
		return nil
	}
	cur.closed = true
	delete(cur.conn.cursors, cur)
	cur.buffer = nil
	if cur.rows != nil {
		err := cur.rows.Close()
		cur.rows = nil
		return translate(err)
	}
	return nil
}

// --- Errors ---

// translate maps the disconnect errors of database/sql and its drivers to
// driver.ErrBadConn, keeping the original error in the chain.
func translate(err error) error {
	if err == nil || errors.Is(err, driver.ErrBadConn) {
		return err
	}
	if isDisconnect(err) {
		return fmt.Errorf("%w: %w", driver.ErrBadConn, err)
	}
	return err
}

func isDisconnect(err error) bool {
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// connection_exception, admin_shutdown, crash_shutdown
		return pqErr.Code.Class() == "08" || pqErr.Code == "57P01" || pqErr.Code == "57P02"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		// ER_SERVER_SHUTDOWN, CR_SERVER_GONE_ERROR, CR_SERVER_LOST
		return myErr.Number == 1053 || myErr.Number == 2006 || myErr.Number == 2013
	}
	return false
}
