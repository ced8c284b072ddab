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

// Package fakedriver provides an in-memory native driver for tests.
//
// Every native operation is recorded so tests can assert on exactly which
// commits, rollbacks and statements reached the "database". Statements
// return no rows unless a Response has been registered for their exact SQL
// text.
package fakedriver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/multigres/dbcore/go/engine/driver"
)

// Response is the canned outcome of a statement.
type Response struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
	Err          error
	// CloseErr is returned when the cursor is closed.
	CloseErr error
}

// Driver is a fake driver.Driver. It is safe for concurrent use.
type Driver struct {
	mu         sync.Mutex
	responses  map[string]Response
	connectErr error
	conns      []*Conn
	events     []string
	nextID     int
}

var _ driver.Driver = (*Driver)(nil)

// New creates an empty fake driver.
func New() *Driver {
	return &Driver{responses: make(map[string]Response)}
}

// Respond registers the response for statements whose SQL equals query.
func (d *Driver) Respond(query string, resp Response) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responses[query] = resp
}

// FailConnect makes every following Connect fail with err. Pass nil to
// restore normal behavior.
func (d *Driver) FailConnect(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectErr = err
}

// Connect opens a new fake connection.
func (d *Driver) Connect(ctx context.Context) (driver.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connectErr != nil {
		return nil, d.connectErr
	}
	d.nextID++
	c := &Conn{d: d, ID: d.nextID}
	d.conns = append(d.conns, c)
	d.record(c, "connect")
	return c, nil
}

func (d *Driver) record(c *Conn, event string) {
	d.events = append(d.events, fmt.Sprintf("conn%d: %s", c.ID, event))
}

// Conns returns every connection ever opened, in creation order.
func (d *Driver) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Events returns the ordered log of native operations.
func (d *Driver) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

// Commits returns the total number of native commits.
func (d *Driver) Commits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.conns {
		n += c.commits
	}
	return n
}

// Rollbacks returns the total number of native rollbacks.
func (d *Driver) Rollbacks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.conns {
		n += c.rollbacks
	}
	return n
}

// OpenConns returns the number of connections not yet closed.
func (d *Driver) OpenConns() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.conns {
		if !c.closed {
			n++
		}
	}
	return n
}

// OpenCursors returns the number of cursors not yet closed.
func (d *Driver) OpenCursors() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.conns {
		for _, cur := range c.cursors {
			if !cur.closed {
				n++
			}
		}
	}
	return n
}

// Executed returns every statement executed on any connection.
func (d *Driver) Executed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, c := range d.conns {
		out = append(out, c.executed...)
	}
	return out
}

// Conn is a fake native connection.
type Conn struct {
	d  *Driver
	ID int

	closed      bool
	commits     int
	rollbacks   int
	executed    []string
	cursors     []*Cursor
	commitErr   error
	rollbackErr error
	pingErr     error
}

var (
	_ driver.Conn   = (*Conn)(nil)
	_ driver.Pinger = (*Conn)(nil)
)

// Cursor opens a cursor.
func (c *Conn) Cursor() (driver.Cursor, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if c.closed {
		return nil, driver.ErrBadConn
	}
	cur := &Cursor{conn: c, affected: -1}
	c.cursors = append(c.cursors, cur)
	return cur, nil
}

// Commit records a commit.
func (c *Conn) Commit(ctx context.Context) error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if c.closed {
		return driver.ErrBadConn
	}
	if c.commitErr != nil {
		return c.commitErr
	}
	c.commits++
	c.d.record(c, "commit")
	return nil
}

// Rollback records a rollback.
func (c *Conn) Rollback(ctx context.Context) error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if c.closed {
		return driver.ErrBadConn
	}
	if c.rollbackErr != nil {
		return c.rollbackErr
	}
	c.rollbacks++
	c.d.record(c, "rollback")
	return nil
}

// Close closes the connection. Closing twice is an error, which lets tests
// catch double closes of native connections.
func (c *Conn) Close() error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if c.closed {
		return errors.New("fakedriver: connection already closed")
	}
	c.closed = true
	c.d.record(c, "close")
	return nil
}

// Ping fails with the error set by FailPing.
func (c *Conn) Ping(ctx context.Context) error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if c.closed {
		return driver.ErrBadConn
	}
	return c.pingErr
}

// FailCommit makes following commits fail with err.
func (c *Conn) FailCommit(err error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.commitErr = err
}

// FailRollback makes following rollbacks fail with err.
func (c *Conn) FailRollback(err error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.rollbackErr = err
}

// FailPing makes following pings fail with err.
func (c *Conn) FailPing(err error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.pingErr = err
}

// IsClosed reports whether Close was called.
func (c *Conn) IsClosed() bool {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	return c.closed
}

// Commits returns the number of commits on this connection.
func (c *Conn) Commits() int {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	return c.commits
}

// Rollbacks returns the number of rollbacks on this connection.
func (c *Conn) Rollbacks() int {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	return c.rollbacks
}

// Executed returns the statements executed on this connection.
func (c *Conn) Executed() []string {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	return append([]string(nil), c.executed...)
}

// Cursors returns the cursors opened on this connection.
func (c *Conn) Cursors() []*Cursor {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	return append([]*Cursor(nil), c.cursors...)
}

// Cursor is a fake native cursor.
type Cursor struct {
	conn     *Conn
	columns  []string
	rows     [][]any
	pos      int
	affected int64
	closed   bool
	closeErr error
	args     []any
}

var _ driver.Cursor = (*Cursor)(nil)

// Execute looks up the registered response for query.
func (cur *Cursor) Execute(ctx context.Context, query string, args []any) error {
	d := cur.conn.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur.closed {
		return errors.New("fakedriver: cursor is closed")
	}
	if cur.conn.closed {
		return driver.ErrBadConn
	}
	cur.conn.executed = append(cur.conn.executed, query)
	d.record(cur.conn, "execute "+query)
	cur.args = args
	resp, ok := d.responses[query]
	if !ok {
		cur.columns, cur.rows, cur.pos, cur.affected = nil, nil, 0, -1
		return nil
	}
	if resp.Err != nil {
		return resp.Err
	}
	cur.columns = resp.Columns
	cur.rows = resp.Rows
	cur.pos = 0
	cur.affected = resp.RowsAffected
	cur.closeErr = resp.CloseErr
	return nil
}

// Columns returns the response columns.
func (cur *Cursor) Columns() []string {
	return cur.columns
}

// Fetch returns up to n rows.
func (cur *Cursor) Fetch(ctx context.Context, n int) ([][]any, error) {
	d := cur.conn.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur.closed {
		return nil, errors.New("fakedriver: cursor is closed")
	}
	remaining := len(cur.rows) - cur.pos
	if n <= 0 || n > remaining {
		n = remaining
	}
	out := cur.rows[cur.pos : cur.pos+n]
	cur.pos += n
	return out, nil
}

// RowsAffected returns the response row count.
func (cur *Cursor) RowsAffected() int64 {
	return cur.affected
}

// Close closes the cursor, returning the response's CloseErr.
func (cur *Cursor) Close() error {
	d := cur.conn.d
	d.mu.Lock()
	defer d.mu.Unlock()
	cur.closed = true
	return cur.closeErr
}

// IsClosed reports whether the cursor was closed.
func (cur *Cursor) IsClosed() bool {
	d := cur.conn.d
	d.mu.Lock()
	defer d.mu.Unlock()
	return cur.closed
}

// Args returns the arguments of the last Execute.
func (cur *Cursor) Args() []any {
	d := cur.conn.d
	d.mu.Lock()
	defer d.mu.Unlock()
	return cur.args
}
