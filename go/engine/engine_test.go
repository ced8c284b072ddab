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
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multigres/dbcore/go/common/dberrors"
	"github.com/multigres/dbcore/go/engine/dialect"
	"github.com/multigres/dbcore/go/engine/driver"
	"github.com/multigres/dbcore/go/engine/execopts"
	"github.com/multigres/dbcore/go/engine/pool"
	"github.com/multigres/dbcore/go/engine/schema"
	"github.com/multigres/dbcore/go/engine/sqlstmt"
	"github.com/multigres/dbcore/go/tools/fakedriver"
)

func newTestEngine(t *testing.T, fd *fakedriver.Driver, cfg *Config) *Engine {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	e, err := New(fd, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func connect(t *testing.T, e *Engine) *Connection {
	t.Helper()
	conn, err := e.Connect(t.Context())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func exec(t *testing.T, conn *Connection, sql string) *Result {
	t.Helper()
	res, err := conn.Execute(t.Context(), sqlstmt.Text(sql))
	require.NoError(t, err)
	return res
}

func TestNestedCommitIssuesSingleNativeCommit(t *testing.T) {
	for depth := 1; depth <= 5; depth++ {
		t.Run(fmt.Sprintf("depth %d", depth), func(t *testing.T) {
			fd := fakedriver.New()
			conn := connect(t, newTestEngine(t, fd, nil))
			ctx := t.Context()

			var txs []*Transaction
			for range depth {
				tx, err := conn.Begin(ctx)
				require.NoError(t, err)
				txs = append(txs, tx)
			}
			assert.False(t, txs[0].Nested())
			assert.True(t, conn.InTransaction())

			for i := depth - 1; i >= 0; i-- {
				assert.Equal(t, 0, fd.Commits(), "no native commit before the outermost commit")
				require.NoError(t, txs[i].Commit(ctx))
			}
			assert.Equal(t, 1, fd.Commits())
			assert.False(t, conn.InTransaction())
			for _, tx := range txs {
				assert.Equal(t, StateCommitted, tx.State())
			}
		})
	}
}

func TestRollbackAtAnyDepthRollsBackChain(t *testing.T) {
	const depth = 4
	for at := range depth {
		t.Run(fmt.Sprintf("rollback at depth %d", at+1), func(t *testing.T) {
			fd := fakedriver.New()
			conn := connect(t, newTestEngine(t, fd, nil))
			ctx := t.Context()

			var txs []*Transaction
			for range depth {
				tx, err := conn.Begin(ctx)
				require.NoError(t, err)
				txs = append(txs, tx)
			}

			require.NoError(t, txs[at].Rollback(ctx))
			assert.Equal(t, 1, fd.Rollbacks())
			assert.False(t, conn.InTransaction())

			var stateErr *dberrors.IllegalStateError
			for _, tx := range txs {
				assert.Equal(t, StateRolledBack, tx.State())
				assert.ErrorAs(t, tx.Commit(ctx), &stateErr)
				assert.NoError(t, tx.Rollback(ctx), "rollback is idempotent")
			}
			assert.Equal(t, 1, fd.Rollbacks())
			assert.Equal(t, 0, fd.Commits())
		})
	}
}

func TestNestedCommitThenOuterRollback(t *testing.T) {
	fd := fakedriver.New()
	conn := connect(t, newTestEngine(t, fd, nil))
	ctx := t.Context()

	outer, err := conn.Begin(ctx)
	require.NoError(t, err)
	inner, err := conn.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, inner.Commit(ctx))
	assert.Equal(t, StateCommitted, inner.State())
	assert.True(t, outer.IsActive())

	require.NoError(t, outer.Rollback(ctx))
	assert.Equal(t, StateRolledBack, inner.State())
	assert.Equal(t, 0, fd.Commits())

	// a new chain starts after the old one ended
	tx, err := conn.Begin(ctx)
	require.NoError(t, err)
	assert.False(t, tx.Nested())
	require.NoError(t, tx.Commit(ctx))
	assert.Error(t, outer.Commit(ctx))
	assert.Equal(t, 1, fd.Commits())
}

func TestCommitAfterCommitFails(t *testing.T) {
	fd := fakedriver.New()
	conn := connect(t, newTestEngine(t, fd, nil))

	tx, err := conn.Begin(t.Context())
	require.NoError(t, err)
	require.NoError(t, tx.Commit(t.Context()))

	var stateErr *dberrors.IllegalStateError
	assert.ErrorAs(t, tx.Commit(t.Context()), &stateErr)
	assert.ErrorAs(t, tx.Rollback(t.Context()), &stateErr)
	assert.Equal(t, 1, fd.Commits())
}

func TestNativeCommitFailureMarksRolledBack(t *testing.T) {
	fd := fakedriver.New()
	conn := connect(t, newTestEngine(t, fd, nil))
	fd.Conns()[0].FailCommit(errors.New("serialization failure"))

	tx, err := conn.Begin(t.Context())
	require.NoError(t, err)
	err = tx.Commit(t.Context())
	var driverErr *dberrors.DriverError
	require.ErrorAs(t, err, &driverErr)
	assert.Equal(t, "commit", driverErr.Op)
	assert.Equal(t, StateRolledBack, tx.State())
	assert.False(t, conn.InTransaction())
}

func TestAutocommitDetection(t *testing.T) {
	fd := fakedriver.New()
	conn := connect(t, newTestEngine(t, fd, nil))

	exec(t, conn, "INSERT INTO t VALUES (1)")
	assert.Equal(t, 1, fd.Commits(), "mutating text autocommits")
	assert.Equal(t, []string{"conn1: connect", "conn1: execute INSERT INTO t VALUES (1)", "conn1: commit"}, fd.Events())

	exec(t, conn, "SELECT 1")
	assert.Equal(t, 1, fd.Commits(), "a select does not commit")

	tx, err := conn.Begin(t.Context())
	require.NoError(t, err)
	exec(t, conn, "UPDATE t SET x = 2")
	assert.Equal(t, 1, fd.Commits(), "no autocommit inside a transaction")
	require.NoError(t, tx.Commit(t.Context()))
	assert.Equal(t, 2, fd.Commits())
}

func TestExplicitAutocommitTakesPrecedence(t *testing.T) {
	fd := fakedriver.New()
	conn := connect(t, newTestEngine(t, fd, nil))
	ctx := t.Context()

	_, err := conn.Execute(ctx, sqlstmt.Text("SELECT do_work()").WithOptions(execopts.Autocommit(true)))
	require.NoError(t, err)
	assert.Equal(t, 1, fd.Commits())

	_, err = conn.Execute(ctx, sqlstmt.Text("INSERT INTO t VALUES (1)").WithOptions(execopts.Autocommit(false)))
	require.NoError(t, err)
	assert.Equal(t, 1, fd.Commits())

	noAuto, err := conn.ExecutionOptions(ctx, execopts.Autocommit(false))
	require.NoError(t, err)
	exec(t, noAuto, "DELETE FROM t")
	assert.Equal(t, 1, fd.Commits(), "connection-level option suppresses the pattern")

	_, err = noAuto.Execute(ctx, sqlstmt.Text("DELETE FROM t").WithOptions(execopts.Autocommit(true)))
	require.NoError(t, err)
	assert.Equal(t, 2, fd.Commits(), "statement-level option overrides the connection")
}

func TestEngineLevelAutocommitOption(t *testing.T) {
	fd := fakedriver.New()
	e := newTestEngine(t, fd, &Config{ExecutionOptions: []execopts.Option{execopts.Autocommit(true)}})
	conn := connect(t, e)

	exec(t, conn, "SELECT 1")
	assert.Equal(t, 1, fd.Commits())
}

func TestFailedExecuteDoesNotCommit(t *testing.T) {
	fd := fakedriver.New()
	cause := errors.New("duplicate key value")
	fd.Respond("INSERT INTO t VALUES (1)", fakedriver.Response{Err: cause})
	conn := connect(t, newTestEngine(t, fd, nil))

	_, err := conn.Execute(t.Context(), sqlstmt.Text("INSERT INTO t VALUES (1)"))
	var driverErr *dberrors.DriverError
	require.ErrorAs(t, err, &driverErr)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "INSERT INTO t VALUES (1)", driverErr.SQL)
	assert.Equal(t, 0, fd.Commits())
	assert.Equal(t, 0, fd.Rollbacks(), "no implicit rollback")
	assert.Equal(t, 0, fd.OpenCursors())
	assert.False(t, conn.Invalidated())
}

func TestExecuteParams(t *testing.T) {
	fd := fakedriver.New()
	conn := connect(t, newTestEngine(t, fd, nil))

	_, err := conn.Execute(t.Context(), sqlstmt.Text("SELECT ?").Bind(1))
	require.NoError(t, err)
	_, err = conn.Execute(t.Context(), sqlstmt.Text("SELECT ?").Bind(1), 2)
	require.NoError(t, err)

	cursors := fd.Conns()[0].Cursors()
	require.Len(t, cursors, 2)
	assert.Equal(t, []any{1}, cursors[0].Args())
	assert.Equal(t, []any{2}, cursors[1].Args())
}

func TestSchemaTranslateMap(t *testing.T) {
	fd := fakedriver.New()
	conn := connect(t, newTestEngine(t, fd, nil))
	ctx := t.Context()

	translated, err := conn.ExecutionOptions(ctx, execopts.SchemaTranslateMap(schema.TranslateMap{
		schema.Default:      schema.Named("s1"),
		schema.Named("pub"): schema.Default,
	}))
	require.NoError(t, err)

	for _, table := range []sqlstmt.Table{
		{Name: "t"},
		{Schema: schema.Named("pub"), Name: "t"},
		{Schema: schema.Named("other"), Name: "t"},
	} {
		_, err := translated.Execute(ctx, sqlstmt.Compose("SELECT * FROM %s", table))
		require.NoError(t, err)
	}
	_, err = translated.Execute(ctx, sqlstmt.Text("SELECT * FROM t"))
	require.NoError(t, err)
	_, err = conn.Execute(ctx, sqlstmt.Compose("SELECT * FROM %s", sqlstmt.Table{Name: "t"}))
	require.NoError(t, err)

	assert.Equal(t, []string{
		`SELECT * FROM "s1"."t"`,
		`SELECT * FROM "t"`,
		`SELECT * FROM "other"."t"`,
		"SELECT * FROM t",
		`SELECT * FROM "t"`,
	}, fd.Executed())
}

func TestStatementRejectsIsolationLevel(t *testing.T) {
	fd := fakedriver.New()
	conn := connect(t, newTestEngine(t, fd, &Config{Dialect: dialect.NewPostgres()}))

	_, err := conn.Execute(t.Context(), sqlstmt.Text("SELECT 1").WithOptions(execopts.IsolationLevel("SERIALIZABLE")))
	var argErr *dberrors.ArgumentError
	assert.ErrorAs(t, err, &argErr)
	assert.Empty(t, fd.Executed())
}

func TestConnectionIsolationLevel(t *testing.T) {
	fd := fakedriver.New()
	e := newTestEngine(t, fd, &Config{Dialect: dialect.NewPostgres()})
	conn, err := e.Connect(t.Context())
	require.NoError(t, err)

	serial, err := conn.ExecutionOptions(t.Context(), execopts.IsolationLevel("serializable"))
	require.NoError(t, err)
	assert.Equal(t, "serializable", serial.Options().IsolationLevel())

	// closing the derived connection leaves the shared one open
	require.NoError(t, serial.Close())
	assert.False(t, conn.Closed())

	_, err = conn.ExecutionOptions(t.Context(), execopts.IsolationLevel("chaos"))
	var argErr *dberrors.ArgumentError
	assert.ErrorAs(t, err, &argErr)

	require.NoError(t, conn.Close())
	assert.Equal(t, []string{
		"SET SESSION CHARACTERISTICS AS TRANSACTION ISOLATION LEVEL SERIALIZABLE",
		"SET SESSION CHARACTERISTICS AS TRANSACTION ISOLATION LEVEL READ COMMITTED",
	}, fd.Executed(), "the isolation level is reset on release")
}

func TestIsolationLevelInsideTransaction(t *testing.T) {
	fd := fakedriver.New()
	conn := connect(t, newTestEngine(t, fd, &Config{Dialect: dialect.NewPostgres()}))
	_, err := conn.Begin(t.Context())
	require.NoError(t, err)

	_, err = conn.ExecutionOptions(t.Context(), execopts.IsolationLevel("SERIALIZABLE"))
	var stateErr *dberrors.IllegalStateError
	assert.ErrorAs(t, err, &stateErr)
}

func TestEngineIsolationLevel(t *testing.T) {
	fd := fakedriver.New()
	e := newTestEngine(t, fd, &Config{Dialect: dialect.NewMySQL(), IsolationLevel: "read_committed"})
	conn := connect(t, e)
	_, err := conn.Native(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED"}, fd.Executed())

	_, err = New(fd, &Config{Dialect: dialect.NewSQLite(), IsolationLevel: "READ COMMITTED"})
	var argErr *dberrors.ArgumentError
	assert.ErrorAs(t, err, &argErr)
}

func TestDerivedEngineIsolationLevel(t *testing.T) {
	fd := fakedriver.New()
	e := newTestEngine(t, fd, &Config{Dialect: dialect.NewPostgres()})
	serial, err := e.ExecutionOptions(execopts.IsolationLevel("SERIALIZABLE"))
	require.NoError(t, err)
	assert.Same(t, e.Pool(), serial.Pool())

	conn, err := serial.Connect(t.Context())
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	assert.Equal(t, []string{
		"SET SESSION CHARACTERISTICS AS TRANSACTION ISOLATION LEVEL SERIALIZABLE",
		"SET SESSION CHARACTERISTICS AS TRANSACTION ISOLATION LEVEL READ COMMITTED",
	}, fd.Executed())

	_, err = e.ExecutionOptions(execopts.IsolationLevel("nope"))
	assert.Error(t, err)
}

func TestConnectionCloseRollsBackTransaction(t *testing.T) {
	fd := fakedriver.New()
	e := newTestEngine(t, fd, nil)
	conn, err := e.Connect(t.Context())
	require.NoError(t, err)

	tx, err := conn.Begin(t.Context())
	require.NoError(t, err)
	exec(t, conn, "SELECT 1")

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.Equal(t, StateRolledBack, tx.State())
	assert.Equal(t, 1, fd.Rollbacks(), "the pool resets the connection on release")
	assert.Equal(t, 1, e.Pool().Stats().Idle)

	_, err = conn.Execute(t.Context(), sqlstmt.Text("SELECT 1"))
	var stateErr *dberrors.IllegalStateError
	assert.ErrorAs(t, err, &stateErr)
	_, err = conn.Begin(t.Context())
	assert.ErrorAs(t, err, &stateErr)
}

func TestCloseClosesOpenResults(t *testing.T) {
	fd := fakedriver.New()
	fd.Respond("SELECT x FROM t", fakedriver.Response{Columns: []string{"x"}, Rows: [][]any{{1}, {2}}})
	conn, err := newTestEngine(t, fd, nil).Connect(t.Context())
	require.NoError(t, err)

	res := exec(t, conn, "SELECT x FROM t")
	assert.Equal(t, 1, fd.OpenCursors())
	require.NoError(t, conn.Close())
	assert.Equal(t, 0, fd.OpenCursors())
	assert.True(t, res.Closed())
}

func TestConnectionTransactionHelper(t *testing.T) {
	fd := fakedriver.New()
	conn := connect(t, newTestEngine(t, fd, nil))
	ctx := t.Context()

	require.NoError(t, conn.Transaction(ctx, func(c *Connection) error {
		_, err := c.Execute(ctx, sqlstmt.Text("INSERT INTO t VALUES (1)"))
		return err
	}))
	assert.Equal(t, 1, fd.Commits())

	boom := errors.New("boom")
	err := conn.Transaction(ctx, func(c *Connection) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, fd.Rollbacks())

	assert.Panics(t, func() {
		_ = conn.Transaction(ctx, func(c *Connection) error { panic("bad") })
	})
	assert.Equal(t, 2, fd.Rollbacks())
	assert.False(t, conn.InTransaction())
}

func TestEngineTransaction(t *testing.T) {
	fd := fakedriver.New()
	e := newTestEngine(t, fd, nil)

	require.NoError(t, e.Transaction(t.Context(), func(c *Connection) error {
		tx, err := c.Begin(t.Context())
		if err != nil {
			return err
		}
		return tx.Commit(t.Context())
	}))
	assert.Equal(t, 1, fd.Commits())
	assert.Equal(t, 0, e.Pool().Stats().CheckedOut)
}

func TestTwoPhaseTransaction(t *testing.T) {
	fd := fakedriver.New()
	conn := connect(t, newTestEngine(t, fd, &Config{Dialect: dialect.NewPostgres()}))
	ctx := t.Context()

	tx, err := conn.BeginTwoPhase(ctx, "x1")
	require.NoError(t, err)
	assert.Equal(t, "x1", tx.Xid())
	require.NoError(t, tx.Prepare(ctx))
	assert.Equal(t, StatePrepared, tx.State())
	assert.True(t, tx.IsActive())
	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, StateCommitted, tx.State())
	assert.Equal(t, []string{"PREPARE TRANSACTION 'x1'", "COMMIT PREPARED 'x1'"}, fd.Executed())

	var stateErr *dberrors.IllegalStateError
	assert.ErrorAs(t, tx.Prepare(ctx), &stateErr)

	tx, err = conn.BeginTwoPhase(ctx, "")
	require.NoError(t, err)
	assert.Len(t, tx.Xid(), 36)
	_, err = conn.BeginTwoPhase(ctx, "again")
	assert.ErrorAs(t, err, &stateErr)
	require.NoError(t, tx.Prepare(ctx))
	require.NoError(t, tx.Rollback(ctx))
	assert.Equal(t, StateRolledBack, tx.State())
	assert.Contains(t, fd.Executed(), "ROLLBACK PREPARED '"+tx.Xid()+"'")
}

func TestTwoPhaseCommitPreparesFirst(t *testing.T) {
	for _, tc := range []struct {
		name    string
		dialect dialect.Dialect
		want    []string
	}{
		{
			name:    "postgres",
			dialect: dialect.NewPostgres(),
			want:    []string{"UPDATE t SET a = 1", "PREPARE TRANSACTION 'x1'", "COMMIT PREPARED 'x1'"},
		},
		{
			name:    "mysql",
			dialect: dialect.NewMySQL(),
			want:    []string{"XA BEGIN 'x1'", "UPDATE t SET a = 1", "XA END 'x1'", "XA PREPARE 'x1'", "XA COMMIT 'x1'"},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fd := fakedriver.New()
			conn := connect(t, newTestEngine(t, fd, &Config{Dialect: tc.dialect}))
			ctx := t.Context()

			tx, err := conn.BeginTwoPhase(ctx, "x1")
			require.NoError(t, err)
			exec(t, conn, "UPDATE t SET a = 1")
			require.NoError(t, tx.Commit(ctx))

			assert.Equal(t, StateCommitted, tx.State())
			assert.Equal(t, tc.want, fd.Executed())
			assert.Equal(t, 0, fd.Commits(), "no single-phase native commit")
		})
	}
}

func TestTwoPhaseRequiresDialectSupport(t *testing.T) {
	fd := fakedriver.New()
	conn := connect(t, newTestEngine(t, fd, nil))
	_, err := conn.BeginTwoPhase(t.Context(), "x")
	var argErr *dberrors.ArgumentError
	assert.ErrorAs(t, err, &argErr)
	_, err = conn.RecoverTwoPhase(t.Context())
	assert.ErrorAs(t, err, &argErr)
}

func TestRecoverTwoPhase(t *testing.T) {
	fd := fakedriver.New()
	fd.Respond("XA RECOVER", fakedriver.Response{
		Columns: []string{"formatID", "gtrid_length", "bqual_length", "data"},
		Rows:    [][]any{{int64(1), int64(2), int64(0), "x7"}},
	})
	conn := connect(t, newTestEngine(t, fd, &Config{Dialect: dialect.NewMySQL()}))
	ctx := t.Context()

	xids, err := conn.RecoverTwoPhase(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"x7"}, xids)
	require.NoError(t, conn.CommitPrepared(ctx, "x7"))
	require.NoError(t, conn.RollbackPrepared(ctx, "x8"))
	assert.Equal(t, []string{"XA RECOVER", "XA COMMIT 'x7'", "XA ROLLBACK 'x8'"}, fd.Executed())
}

func TestDisconnectInvalidatesConnection(t *testing.T) {
	fd := fakedriver.New()
	fd.Respond("SELECT broken", fakedriver.Response{Err: driver.ErrBadConn})
	e := newTestEngine(t, fd, nil)
	conn := connect(t, e)
	ctx := t.Context()

	_, err := conn.Execute(ctx, sqlstmt.Text("SELECT broken"))
	assert.ErrorIs(t, err, driver.ErrBadConn)
	assert.True(t, conn.Invalidated())
	assert.True(t, fd.Conns()[0].IsClosed())

	// outside a transaction the next statement reconnects
	exec(t, conn, "SELECT 1")
	assert.False(t, conn.Invalidated())
	assert.Len(t, fd.Conns(), 2)
	assert.Equal(t, 1, e.Pool().Stats().Total)
}

func TestDisconnectInsideTransaction(t *testing.T) {
	fd := fakedriver.New()
	fd.Respond("SELECT broken", fakedriver.Response{Err: driver.ErrBadConn})
	conn := connect(t, newTestEngine(t, fd, nil))
	ctx := t.Context()

	tx, err := conn.Begin(ctx)
	require.NoError(t, err)
	_, err = conn.Execute(ctx, sqlstmt.Text("SELECT broken"))
	require.Error(t, err)

	_, err = conn.Execute(ctx, sqlstmt.Text("SELECT 1"))
	var stateErr *dberrors.IllegalStateError
	require.ErrorAs(t, err, &stateErr)
	assert.ErrorAs(t, tx.Commit(ctx), &stateErr)

	require.NoError(t, tx.Rollback(ctx))
	exec(t, conn, "SELECT 1")
	assert.Equal(t, 0, fd.Rollbacks())
}

func TestExplicitInvalidate(t *testing.T) {
	fd := fakedriver.New()
	e := newTestEngine(t, fd, nil)
	conn := connect(t, e)
	_, err := conn.Native(t.Context())
	require.NoError(t, err)

	conn.Invalidate(errors.New("operator request"))
	assert.True(t, conn.Invalidated())
	assert.Equal(t, 0, e.Pool().Stats().Total)

	native, err := conn.Native(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, native.(*fakedriver.Conn).ID)
}

func TestEngineDispose(t *testing.T) {
	fd := fakedriver.New()
	e := newTestEngine(t, fd, nil)

	before, err := e.Connect(t.Context())
	require.NoError(t, err)
	e.Dispose(t.Context())
	assert.Equal(t, 0, e.Pool().Stats().Idle)

	after := connect(t, e)
	exec(t, after, "SELECT 1")

	require.NoError(t, before.Close())
	assert.True(t, fd.Conns()[0].IsClosed(), "connections from before dispose are closed on release")
	assert.False(t, fd.Conns()[1].IsClosed())
}

func TestPoolExhaustedThroughEngine(t *testing.T) {
	fd := fakedriver.New()
	e := newTestEngine(t, fd, &Config{Pool: &pool.Config{Size: 1, MaxOverflow: 0, Timeout: 10 * time.Millisecond}})
	connect(t, e)

	_, err := e.Connect(t.Context())
	var exhausted *dberrors.PoolExhaustedError
	assert.ErrorAs(t, err, &exhausted)
}

func TestExecuteOnEngine(t *testing.T) {
	fd := fakedriver.New()
	fd.Respond("SELECT x FROM t", fakedriver.Response{Columns: []string{"x"}, Rows: [][]any{{1}, {2}}})
	e := newTestEngine(t, fd, nil)
	ctx := t.Context()

	res, err := e.Execute(ctx, sqlstmt.Text("SELECT x FROM t"))
	require.NoError(t, err)
	assert.Equal(t, 1, e.Pool().Stats().CheckedOut, "the connection lives as long as the result")
	rows, err := res.FetchAll(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, 0, e.Pool().Stats().CheckedOut, "exhaustion closes the connection")

	_, err = e.Execute(ctx, sqlstmt.Text("UPDATE t SET x = 1"))
	require.NoError(t, err)
	assert.Equal(t, 0, e.Pool().Stats().CheckedOut, "a statement without rows releases at once")
	assert.Equal(t, 1, fd.Commits())

	v, err := e.Scalar(ctx, sqlstmt.Text("SELECT x FROM t"))
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, 0, e.Pool().Stats().CheckedOut)
}

func TestExecuteOnEngineFailureReleasesConnection(t *testing.T) {
	fd := fakedriver.New()
	fd.Respond("SELECT bad", fakedriver.Response{Err: errors.New("syntax error")})
	e := newTestEngine(t, fd, nil)

	_, err := e.Execute(t.Context(), sqlstmt.Text("SELECT bad"))
	assert.Error(t, err)
	assert.Equal(t, 0, e.Pool().Stats().CheckedOut)
}

func TestClosedEngine(t *testing.T) {
	fd := fakedriver.New()
	e, err := New(fd, nil)
	require.NoError(t, err)
	require.NoError(t, e.Close())
	_, err = e.Connect(t.Context())
	assert.ErrorIs(t, err, pool.ErrPoolClosed)
}
