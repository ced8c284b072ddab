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

package engine

import (
	"context"
	"errors"
	"iter"

	"github.com/multigres/dbcore/go/common/dberrors"
	"github.com/multigres/dbcore/go/engine/driver"
)

// streamChunks are the successive fetch sizes of a streaming result.
var streamChunks = []int{1, 5, 10, 20, 50, 100, 250, 500, 1000}

// Result is the lazily fetched outcome of a statement. Its native cursor
// is closed as soon as the rows run out, on Close, or immediately when the
// statement returns no rows at all.
type Result struct {
	conn          *Connection
	cursor        driver.Cursor
	columns       []string
	rowsAffected  int64
	closeWithConn bool
	stream        bool

	buffer [][]any
	chunk  int
	// exhaustErr is held until the buffered rows fetched before it are
	// handed out.
	exhaustErr error
	// exhausted is set once the native cursor ran out of rows and was closed.
	exhausted bool
	closed    bool

	current Row
	err     error
}

func newResult(ctx context.Context, conn *Connection, cur driver.Cursor, stream, closeWithConn bool) (*Result, error) {
	r := &Result{
		conn:          conn,
		cursor:        cur,
		columns:       cur.Columns(),
		rowsAffected:  cur.RowsAffected(),
		closeWithConn: closeWithConn,
		stream:        stream,
	}
	if len(r.columns) == 0 {
		if err := r.close(true); err != nil {
			return nil, err
		}
		return r, nil
	}
	conn.core.results[r] = struct{}{}
	return r, nil
}

// Columns returns the result column names.
func (r *Result) Columns() []string {
	return r.columns
}

// ReturnsRows reports whether the statement produced a row set.
func (r *Result) ReturnsRows() bool {
	return len(r.columns) > 0
}

// RowsAffected returns the number of rows changed by the statement, or -1
// when the driver does not know.
func (r *Result) RowsAffected() int64 {
	return r.rowsAffected
}

// Closed reports whether the result was closed, explicitly or not.
func (r *Result) Closed() bool {
	return r.closed || r.exhausted
}

func (r *Result) checkFetchable() error {
	if !r.ReturnsRows() {
		return dberrors.IllegalState("this result does not return rows; it was closed automatically")
	}
	if r.closed {
		return dberrors.IllegalState("this result is closed")
	}
	return nil
}

// fetch returns up to n rows; n <= 0 returns every remaining row.
func (r *Result) fetch(ctx context.Context, n int) ([][]any, error) {
	if err := r.checkFetchable(); err != nil {
		return nil, err
	}
	if !r.stream && !r.exhausted {
		rows, err := r.cursor.Fetch(ctx, n)
		if err != nil {
			return nil, r.conn.core.handleError(ctx, "fetch", "", err)
		}
		if n <= 0 || len(rows) < n {
			if err := r.exhaust(); err != nil {
				return rows, err
			}
		}
		return rows, nil
	}

	for !r.exhausted && (n <= 0 || len(r.buffer) < n) {
		size := streamChunks[min(r.chunk, len(streamChunks)-1)]
		r.chunk++
		rows, err := r.cursor.Fetch(ctx, size)
		if err != nil {
			return nil, r.conn.core.handleError(ctx, "fetch", "", err)
		}
		r.buffer = append(r.buffer, rows...)
		if len(rows) < size {
			r.exhaustErr = r.exhaust()
		}
	}
	rows := r.take(n)
	if len(r.buffer) == 0 && r.exhaustErr != nil {
		err := r.exhaustErr
		r.exhaustErr = nil
		return rows, err
	}
	return rows, nil
}

// take removes up to n buffered rows, or all of them when n <= 0.
func (r *Result) take(n int) [][]any {
	take := len(r.buffer)
	if n > 0 && n < take {
		take = n
	}
	rows := r.buffer[:take:take]
	r.buffer = r.buffer[take:]
	return rows
}

// exhaust closes the native cursor once no rows are left and, for
// connectionless execution, the connection with it.
func (r *Result) exhaust() error {
	r.exhausted = true
	var errs []error
	if err := r.cursor.Close(); err != nil {
		errs = append(errs, dberrors.NewDriverError("close cursor", "", err))
	}
	delete(r.conn.core.results, r)
	if r.closeWithConn {
		errs = append(errs, r.conn.Close())
	}
	return errors.Join(errs...)
}

// FetchOne returns the next row, or ok == false when there are no more.
func (r *Result) FetchOne(ctx context.Context) (row Row, ok bool, err error) {
	rows, err := r.fetch(ctx, 1)
	if len(rows) == 0 {
		return Row{}, false, err
	}
	return r.row(rows[0]), true, err
}

// FetchMany returns up to n rows.
func (r *Result) FetchMany(ctx context.Context, n int) ([]Row, error) {
	if n <= 0 {
		return nil, dberrors.Argument("fetch size must be positive, got %d", n)
	}
	rows, err := r.fetch(ctx, n)
	return r.rows(rows), err
}

// FetchAll returns every remaining row.
func (r *Result) FetchAll(ctx context.Context) ([]Row, error) {
	rows, err := r.fetch(ctx, 0)
	return r.rows(rows), err
}

// First returns the first row and closes the result.
func (r *Result) First(ctx context.Context) (row Row, ok bool, err error) {
	row, ok, err = r.FetchOne(ctx)
	return row, ok, errors.Join(err, r.Close())
}

// Scalar returns the first column of the first row, or nil when there is
// no row, and closes the result.
func (r *Result) Scalar(ctx context.Context) (any, error) {
	row, ok, err := r.First(ctx)
	if err != nil || !ok || len(row.values) == 0 {
		return nil, err
	}
	return row.values[0], nil
}

// Next advances to the next row, to be read with Row. It returns false
// when the rows are exhausted or an error occurred; check Err.
func (r *Result) Next(ctx context.Context) bool {
	if r.err != nil {
		return false
	}
	row, ok, err := r.FetchOne(ctx)
	r.err = err
	if !ok {
		return false
	}
	r.current = row
	return true
}

// Row returns the row Next advanced to.
func (r *Result) Row() Row {
	return r.current
}

// Scan copies the current row into dest.
func (r *Result) Scan(dest ...any) error {
	return r.current.Scan(dest...)
}

// Err returns the error that stopped Next.
func (r *Result) Err() error {
	return r.err
}

// All iterates over the remaining rows. Breaking out of the loop closes
// the result.
func (r *Result) All(ctx context.Context) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		for {
			row, ok, err := r.FetchOne(ctx)
			if ok && !yield(row, nil) {
				_ = r.Close()
				return
			}
			if err != nil {
				yield(Row{}, err)
				return
			}
			if !ok {
				return
			}
		}
	}
}

// Close discards any remaining rows and closes the native cursor. For
// connectionless execution it also closes the connection. It is
// idempotent.
func (r *Result) Close() error {
	return r.close(true)
}

func (r *Result) close(cascade bool) error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.buffer = nil
	if r.exhausted {
		return nil
	}
	r.exhausted = true
	var errs []error
	if err := r.cursor.Close(); err != nil {
		errs = append(errs, dberrors.NewDriverError("close cursor", "", err))
	}
	delete(r.conn.core.results, r)
	if cascade && r.closeWithConn {
		errs = append(errs, r.conn.Close())
	}
	return errors.Join(errs...)
}

func (r *Result) row(values []any) Row {
	return Row{columns: r.columns, values: values}
}

func (r *Result) rows(values [][]any) []Row {
	if len(values) == 0 {
		return nil
	}
	out := make([]Row, len(values))
	for i, v := range values {
		out[i] = r.row(v)
	}
	return out
}
