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

// Package driver defines the native connection capability the engine is
// built on. A native connection is always implicitly inside a transaction:
// there is no begin primitive, only Commit and Rollback, which end the
// current unit of work and start the next one.
package driver

import (
	"context"
	sqldriver "database/sql/driver"
	"errors"
)

// Driver opens native connections.
type Driver interface {
	Connect(ctx context.Context) (Conn, error)
}

// DriverFunc adapts a plain function to the Driver interface.
type DriverFunc func(ctx context.Context) (Conn, error)

// Connect calls f.
func (f DriverFunc) Connect(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// Conn is a single physical database connection.
// Implementations need not be safe for concurrent use.
type Conn interface {
	// Cursor opens a new cursor on this connection.
	Cursor() (Cursor, error)

	// Commit commits the current unit of work.
	Commit(ctx context.Context) error

	// Rollback rolls back the current unit of work and releases its locks.
	Rollback(ctx context.Context) error

	// Close closes the physical connection.
	Close() error
}

// Pinger is implemented by connections that can cheaply check liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Cursor executes one statement and produces its rows.
type Cursor interface {
	// Execute runs query with positional args.
	Execute(ctx context.Context, query string, args []any) error

	// Columns returns the result column names of the last statement, or nil
	// when the statement produces no rows.
	Columns() []string

	// Fetch returns up to n rows; n <= 0 fetches all remaining rows. A
	// result shorter than n means the cursor is exhausted.
	Fetch(ctx context.Context, n int) ([][]any, error)

	// RowsAffected returns the number of rows changed by the last statement,
	// or -1 if unknown.
	RowsAffected() int64

	// Close releases the cursor's resources. It is idempotent.
	Close() error
}

// ErrBadConn is the error drivers return when the physical connection is
// gone. It aliases database/sql/driver.ErrBadConn so database/sql based
// adapters report disconnects without translation.
var ErrBadConn = sqldriver.ErrBadConn

// IsDisconnect reports whether err means the native connection is unusable.
func IsDisconnect(err error) bool {
	return errors.Is(err, ErrBadConn)
}

// Exec runs query on a fresh cursor and discards any rows.
func Exec(ctx context.Context, conn Conn, query string, args ...any) error {
	cur, err := conn.Cursor()
	if err != nil {
		return err
	}
	defer cur.Close()
	return cur.Execute(ctx, query, args)
}

// QueryColumn runs query on a fresh cursor and returns the first column of
// every row.
func QueryColumn(ctx context.Context, conn Conn, query string, args ...any) ([]any, error) {
	cur, err := conn.Cursor()
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	if err := cur.Execute(ctx, query, args); err != nil {
		return nil, err
	}
	if len(cur.Columns()) == 0 {
		return nil, nil
	}
	rows, err := cur.Fetch(ctx, 0)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		if len(row) > 0 {
			out = append(out, row[0])
		}
	}
	return out, nil
}
