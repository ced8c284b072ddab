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
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/multigres/dbcore/go/common/dberrors"
	"github.com/multigres/dbcore/go/engine/dialect"
	"github.com/multigres/dbcore/go/engine/driver"
	"github.com/multigres/dbcore/go/engine/execopts"
	"github.com/multigres/dbcore/go/engine/pool"
	"github.com/multigres/dbcore/go/engine/sqlstmt"
)

// connCore is the state shared by a Connection and every Connection
// derived from it through ExecutionOptions.
type connCore struct {
	engine *Engine
	// pooled is nil after the connection was invalidated and until it
	// reconnects.
	pooled *pool.Pooled
	// depth is the transaction nesting counter; 0 means no transaction.
	depth int
	// chain is the terminal-state record of the current transaction chain.
	chain            *txChain
	results          map[*Result]struct{}
	isolationChanged bool
	closed           bool
}

// Connection is a logical connection holding one pooled native connection.
type Connection struct {
	core *connCore
	opts execopts.Options
	// branch marks connections derived through ExecutionOptions. Closing a
	// branch leaves the shared native connection alone.
	branch bool
}

// Engine returns the engine that created the connection.
func (c *Connection) Engine() *Engine {
	return c.core.engine
}

// Options returns the connection's execution options.
func (c *Connection) Options() execopts.Options {
	return c.opts
}

// Closed reports whether the connection was closed.
func (c *Connection) Closed() bool {
	return c.core.closed
}

// Invalidated reports whether the native connection was discarded and not
// yet replaced.
func (c *Connection) Invalidated() bool {
	return !c.core.closed && c.core.pooled == nil
}

// InTransaction reports whether a transaction is in progress.
func (c *Connection) InTransaction() bool {
	return c.core.depth > 0
}

// Native returns the underlying native connection, reconnecting if the
// connection was invalidated outside a transaction.
func (c *Connection) Native(ctx context.Context) (driver.Conn, error) {
	return c.core.native(ctx)
}

// ExecutionOptions returns a Connection sharing this one's native
// connection and transaction state, carrying the merged options. An
// isolation level is applied to the native connection immediately and
// reverted when the connection is closed.
func (c *Connection) ExecutionOptions(ctx context.Context, opts ...execopts.Option) (*Connection, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	o := execopts.New(opts...)
	if lvl := o.IsolationLevel(); lvl != "" {
		norm, err := dialect.ValidateIsolationLevel(c.core.engine.dialect, lvl)
		if err != nil {
			return nil, err
		}
		if c.core.depth > 0 {
			return nil, dberrors.IllegalState("cannot change the isolation level while a transaction is in progress")
		}
		if err := c.core.setIsolation(ctx, norm); err != nil {
			return nil, err
		}
	}
	return &Connection{core: c.core, opts: c.opts.Merge(o), branch: true}, nil
}

func (c *Connection) checkOpen() error {
	if c.core.closed {
		return dberrors.IllegalState("this connection is closed")
	}
	return nil
}

// Execute compiles stmt with the connection's schema translate map and
// runs it. Outside a transaction a mutating statement is committed right
// after it succeeds. params, when given, replace the statement's own.
func (c *Connection) Execute(ctx context.Context, stmt sqlstmt.Statement, params ...any) (*Result, error) {
	return c.execute(ctx, stmt, params, false)
}

// Scalar runs stmt and returns the first column of its first row.
func (c *Connection) Scalar(ctx context.Context, stmt sqlstmt.Statement, params ...any) (any, error) {
	res, err := c.Execute(ctx, stmt, params...)
	if err != nil {
		return nil, err
	}
	return res.Scalar(ctx)
}

func (c *Connection) execute(ctx context.Context, stmt sqlstmt.Statement, params []any, closeWithConn bool) (*Result, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	stmtOpts := stmt.Options()
	if err := stmtOpts.ValidateForStatement(); err != nil {
		return nil, err
	}
	opts := c.opts.Merge(stmtOpts)
	e := c.core.engine

	compiled, err := stmt.Compile(&sqlstmt.CompileContext{
		Quoter:          e.dialect,
		SchemaTranslate: opts.SchemaTranslateMap(),
	})
	if err != nil {
		return nil, dberrors.Argument("failed to compile statement: %v", err)
	}
	args := compiled.Params
	if len(params) > 0 {
		args = params
	}

	conn, err := c.core.native(ctx)
	if err != nil {
		return nil, err
	}
	if e.echo {
		e.logger.InfoContext(ctx, "executing statement", "sql", compiled.SQL, "params", args)
	}
	cur, err := conn.Cursor()
	if err != nil {
		return nil, c.core.handleError(ctx, "cursor", compiled.SQL, err)
	}
	if err := cur.Execute(ctx, compiled.SQL, args); err != nil {
		_ = cur.Close()
		return nil, c.core.handleError(ctx, "execute", compiled.SQL, err)
	}

	if c.core.depth == 0 && c.shouldAutocommit(opts, compiled) {
		e.logger.DebugContext(ctx, "autocommit", "sql", compiled.SQL)
		if err := conn.Commit(ctx); err != nil {
			_ = cur.Close()
			return nil, c.core.handleError(ctx, "commit", compiled.SQL, err)
		}
	}
	return newResult(ctx, c, cur, opts.StreamResults(), closeWithConn)
}

// shouldAutocommit decides whether a statement run outside a transaction
// is committed. An explicit autocommit option always wins over the
// dialect's pattern.
func (c *Connection) shouldAutocommit(opts execopts.Options, compiled *sqlstmt.Compiled) bool {
	if v, ok := opts.Autocommit(); ok {
		return v
	}
	return c.core.engine.dialect.IsMutating(compiled.SQL)
}

// --- Transactions ---

// Begin starts a transaction, or a nested one when a transaction is
// already in progress.
func (c *Connection) Begin(ctx context.Context) (*Transaction, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	core := c.core
	if core.depth == 0 {
		if _, err := core.native(ctx); err != nil {
			return nil, err
		}
		core.chain = &txChain{}
	} else if core.chain.state == StatePrepared {
		return nil, dberrors.IllegalState("cannot begin a nested transaction inside a prepared transaction")
	}
	core.depth++
	return &Transaction{conn: c, chain: core.chain, nested: core.depth > 1}, nil
}

// BeginTwoPhase starts a two-phase transaction identified by xid. An empty
// xid is replaced with a random UUID.
func (c *Connection) BeginTwoPhase(ctx context.Context, xid string) (*TwoPhaseTransaction, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	tp, err := c.twoPhase()
	if err != nil {
		return nil, err
	}
	if c.core.depth > 0 {
		return nil, dberrors.IllegalState("cannot start a two-phase transaction when a transaction is already in progress")
	}
	if xid == "" {
		xid = uuid.NewString()
	}
	conn, err := c.core.native(ctx)
	if err != nil {
		return nil, err
	}
	if err := tp.BeginTwoPhase(ctx, conn, xid); err != nil {
		return nil, c.core.handleError(ctx, "begin two-phase", "", err)
	}
	tx, err := c.Begin(ctx)
	if err != nil {
		return nil, err
	}
	tx.twoPhase = tp
	tx.xid = xid
	return &TwoPhaseTransaction{Transaction: tx}, nil
}

func (c *Connection) twoPhase() (dialect.TwoPhase, error) {
	tp, ok := c.core.engine.dialect.(dialect.TwoPhase)
	if !ok {
		return nil, dberrors.Argument("dialect %s does not support two-phase transactions", c.core.engine.dialect.Name())
	}
	return tp, nil
}

// RecoverTwoPhase lists the xids of prepared transactions awaiting a
// decision.
func (c *Connection) RecoverTwoPhase(ctx context.Context) ([]string, error) {
	conn, tp, err := c.recoveryConn(ctx)
	if err != nil {
		return nil, err
	}
	xids, err := tp.RecoverTwoPhase(ctx, conn)
	if err != nil {
		return nil, c.core.handleError(ctx, "recover two-phase", "", err)
	}
	return xids, nil
}

// CommitPrepared commits a recovered prepared transaction.
func (c *Connection) CommitPrepared(ctx context.Context, xid string) error {
	conn, tp, err := c.recoveryConn(ctx)
	if err != nil {
		return err
	}
	if err := tp.CommitTwoPhase(ctx, conn, xid, true, true); err != nil {
		return c.core.handleError(ctx, "commit prepared", "", err)
	}
	return nil
}

// RollbackPrepared rolls back a recovered prepared transaction.
func (c *Connection) RollbackPrepared(ctx context.Context, xid string) error {
	conn, tp, err := c.recoveryConn(ctx)
	if err != nil {
		return err
	}
	if err := tp.RollbackTwoPhase(ctx, conn, xid, true, true); err != nil {
		return c.core.handleError(ctx, "rollback prepared", "", err)
	}
	return nil
}

func (c *Connection) recoveryConn(ctx context.Context) (driver.Conn, dialect.TwoPhase, error) {
	if err := c.checkOpen(); err != nil {
		return nil, nil, err
	}
	tp, err := c.twoPhase()
	if err != nil {
		return nil, nil, err
	}
	if c.core.depth > 0 {
		return nil, nil, dberrors.IllegalState("cannot resolve prepared transactions while a transaction is in progress")
	}
	conn, err := c.core.native(ctx)
	if err != nil {
		return nil, nil, err
	}
	return conn, tp, nil
}

// Transaction runs fn inside Begin and Commit, rolling back when fn fails
// or panics.
func (c *Connection) Transaction(ctx context.Context, fn func(*Connection) error) (err error) {
	tx, err := c.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()
	if err := fn(c); err != nil {
		if tx.State() == StateRolledBack {
			return err
		}
		return errors.Join(err, tx.Rollback(ctx))
	}
	return tx.Commit(ctx)
}

// --- Lifecycle ---

// Invalidate discards the native connection. Outside a transaction the
// next use reconnects; inside one, every use fails until the transaction
// is rolled back.
func (c *Connection) Invalidate(cause error) {
	if c.core.closed {
		return
	}
	c.core.invalidate(context.Background(), cause)
}

// Close returns the native connection to the pool, closing open results
// and rolling back any transaction in progress. Closing a connection
// derived through ExecutionOptions does nothing.
func (c *Connection) Close() error {
	if c.branch {
		return nil
	}
	core := c.core
	if core.closed {
		return nil
	}
	core.closed = true
	ctx := context.Background()

	errs := core.closeResults()
	if core.chain != nil {
		core.chain.state = StateRolledBack
		core.chain = nil
		core.depth = 0
	}
	if core.pooled != nil {
		if core.isolationChanged {
			if err := core.resetIsolation(ctx); err != nil {
				core.pooled.Invalidate(err)
			}
		}
		errs = append(errs, core.pooled.Close())
		core.pooled = nil
	}
	return errors.Join(errs...)
}

// native returns the native connection, reconnecting after an
// invalidation when no transaction is in progress.
func (core *connCore) native(ctx context.Context) (driver.Conn, error) {
	if core.closed {
		return nil, dberrors.IllegalState("this connection is closed")
	}
	if core.pooled == nil {
		if core.depth > 0 {
			return nil, dberrors.IllegalState("cannot reconnect until the invalidated transaction is rolled back")
		}
		pooled, err := core.engine.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		core.pooled = pooled
		core.isolationChanged = false
	}
	return core.pooled.Conn()
}

// handleError wraps a native failure and invalidates the connection when
// it reports a disconnect. A disconnect usually means the server went away,
// so every pooled connection is invalidated as well.
func (core *connCore) handleError(ctx context.Context, op, sql string, err error) error {
	if driver.IsDisconnect(err) && core.pooled != nil {
		core.engine.logger.WarnContext(ctx, "disconnect detected, invalidating pool", "op", op, "error", err)
		core.invalidate(ctx, err)
		core.engine.pool.InvalidateAll()
	}
	return dberrors.NewDriverError(op, sql, err)
}

func (core *connCore) invalidate(ctx context.Context, cause error) {
	if core.pooled == nil {
		return
	}
	core.closeResults()
	core.pooled.Invalidate(cause)
	if err := core.pooled.Close(); err != nil {
		core.engine.logger.WarnContext(ctx, "failed to release invalidated connection", "error", err)
	}
	core.pooled = nil
}

func (core *connCore) closeResults() []error {
	var errs []error
	for _, r := range slices.Collect(maps.Keys(core.results)) {
		errs = append(errs, r.close(false))
	}
	return errs
}

func (core *connCore) setIsolation(ctx context.Context, level string) error {
	conn, err := core.native(ctx)
	if err != nil {
		return err
	}
	if err := core.engine.dialect.SetIsolationLevel(ctx, conn, level); err != nil {
		return core.handleError(ctx, "set isolation level", "", err)
	}
	core.isolationChanged = true
	return nil
}

func (core *connCore) resetIsolation(ctx context.Context) error {
	level := core.engine.isolation
	if level == "" {
		level = core.engine.dialect.DefaultIsolationLevel()
	}
	conn, err := core.pooled.Conn()
	if err != nil {
		return err
	}
	return core.engine.dialect.SetIsolationLevel(ctx, conn, level)
}
