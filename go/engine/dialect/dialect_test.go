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

package dialect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multigres/dbcore/go/common/dberrors"
	"github.com/multigres/dbcore/go/tools/fakedriver"
)

func TestGenericIsMutating(t *testing.T) {
	d := &Generic{}
	tests := []struct {
		sql  string
		want bool
	}{
		{"INSERT INTO t VALUES (1)", true},
		{"  update t set x = 1", true},
		{"\n\tDELETE FROM t", true},
		{"CREATE TABLE t (x int)", true},
		{"drop table t", true},
		{"ALTER TABLE t ADD y int", true},
		{"SELECT 1", false},
		{"GRANT ALL ON t TO bob", false},
		{"-- INSERT\nSELECT 1", false},
		{"SELECT * FROM inserts", false},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			assert.Equal(t, tt.want, d.IsMutating(tt.sql))
		})
	}
}

func TestPostgresIsMutating(t *testing.T) {
	d := NewPostgres()
	assert.True(t, d.IsMutating("GRANT SELECT ON t TO reader"))
	assert.True(t, d.IsMutating("truncate t"))
	assert.True(t, d.IsMutating("REFRESH MATERIALIZED VIEW mv"))
	assert.True(t, d.IsMutating("IMPORT FOREIGN SCHEMA s FROM SERVER srv INTO local"))
	assert.False(t, d.IsMutating("SELECT 1"))
	assert.False(t, d.IsMutating("WITH x AS (SELECT 1) INSERT INTO t SELECT * FROM x"))
}

func TestPostgresParseStatements(t *testing.T) {
	d := NewPostgres()
	d.ParseStatements = true

	assert.True(t, d.IsMutating("WITH x AS (SELECT 1) INSERT INTO t SELECT * FROM x"))
	assert.True(t, d.IsMutating("SELECT 1 AS a INTO new_table"))
	assert.True(t, d.IsMutating("SELECT 1; DELETE FROM t"))
	assert.True(t, d.IsMutating("CREATE INDEX idx ON t (x)"))
	assert.False(t, d.IsMutating("SELECT 1"))
	assert.False(t, d.IsMutating("SET search_path TO s1"))

	// Unparseable text falls back to the keyword pattern.
	assert.True(t, d.IsMutating("INSERT INTO"))
	assert.False(t, d.IsMutating("SELEC 1"))
}

func TestMySQLIsMutating(t *testing.T) {
	d := NewMySQL()
	assert.True(t, d.IsMutating("REPLACE INTO t VALUES (1)"))
	assert.True(t, d.IsMutating("LOAD DATA INFILE 'x' INTO TABLE t"))
	assert.False(t, d.IsMutating("SHOW TABLES"))
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"my""table"`, (&Generic{}).QuoteIdentifier(`my"table`))
	assert.Equal(t, `"users"`, NewPostgres().QuoteIdentifier("users"))
	assert.Equal(t, "`a``b`", NewMySQL().QuoteIdentifier("a`b"))
	assert.Equal(t, `"t"`, NewSQLite().QuoteIdentifier("t"))
}

func TestValidateIsolationLevel(t *testing.T) {
	norm, err := ValidateIsolationLevel(NewPostgres(), "repeatable_read")
	require.NoError(t, err)
	assert.Equal(t, "REPEATABLE READ", norm)

	_, err = ValidateIsolationLevel(NewSQLite(), "READ COMMITTED")
	var argErr *dberrors.ArgumentError
	require.ErrorAs(t, err, &argErr)
	assert.Contains(t, argErr.Msg, "SERIALIZABLE, READ UNCOMMITTED")
}

func TestGenericSetIsolationLevelUnsupported(t *testing.T) {
	fd := fakedriver.New()
	conn, err := fd.Connect(context.Background())
	require.NoError(t, err)
	err = (&Generic{}).SetIsolationLevel(context.Background(), conn, "SERIALIZABLE")
	var argErr *dberrors.ArgumentError
	assert.ErrorAs(t, err, &argErr)
}

func TestSetIsolationLevel(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		dialect Dialect
		level   string
		want    []string
		commits int
	}{
		{"postgres", NewPostgres(), "serializable", []string{"SET SESSION CHARACTERISTICS AS TRANSACTION ISOLATION LEVEL SERIALIZABLE"}, 1},
		{"mysql", NewMySQL(), "READ COMMITTED", []string{"SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED"}, 1},
		{"sqlite", NewSQLite(), "READ UNCOMMITTED", []string{"PRAGMA read_uncommitted = 1"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fd := fakedriver.New()
			conn, err := fd.Connect(ctx)
			require.NoError(t, err)
			require.NoError(t, tt.dialect.SetIsolationLevel(ctx, conn, tt.level))
			assert.Equal(t, tt.want, fd.Executed())
			assert.Equal(t, tt.commits, fd.Commits())
		})
	}
}

func TestPostgresTwoPhase(t *testing.T) {
	ctx := context.Background()
	d := NewPostgres()

	t.Run("prepared commit", func(t *testing.T) {
		fd := fakedriver.New()
		conn, err := fd.Connect(ctx)
		require.NoError(t, err)
		require.NoError(t, d.BeginTwoPhase(ctx, conn, "x1"))
		require.NoError(t, d.PrepareTwoPhase(ctx, conn, "x1"))
		require.NoError(t, d.CommitTwoPhase(ctx, conn, "x1", true, false))
		assert.Equal(t, []string{"PREPARE TRANSACTION 'x1'", "COMMIT PREPARED 'x1'"}, fd.Executed())
		assert.Equal(t, 0, fd.Commits())
		assert.Equal(t, 1, fd.Rollbacks())
	})

	t.Run("unprepared commit is a plain commit", func(t *testing.T) {
		fd := fakedriver.New()
		conn, err := fd.Connect(ctx)
		require.NoError(t, err)
		require.NoError(t, d.CommitTwoPhase(ctx, conn, "x1", false, false))
		assert.Empty(t, fd.Executed())
		assert.Equal(t, 1, fd.Commits())
	})

	t.Run("recovered rollback", func(t *testing.T) {
		fd := fakedriver.New()
		conn, err := fd.Connect(ctx)
		require.NoError(t, err)
		require.NoError(t, d.RollbackTwoPhase(ctx, conn, "it's", true, true))
		assert.Equal(t, []string{"ROLLBACK", "ROLLBACK PREPARED 'it''s'"}, fd.Executed())
	})

	t.Run("recover", func(t *testing.T) {
		fd := fakedriver.New()
		fd.Respond("SELECT gid FROM pg_prepared_xacts", fakedriver.Response{
			Columns: []string{"gid"},
			Rows:    [][]any{{"x1"}, {[]byte("x2")}},
		})
		conn, err := fd.Connect(ctx)
		require.NoError(t, err)
		xids, err := d.RecoverTwoPhase(ctx, conn)
		require.NoError(t, err)
		assert.Equal(t, []string{"x1", "x2"}, xids)
	})
}

func TestMySQLTwoPhase(t *testing.T) {
	ctx := context.Background()
	d := NewMySQL()

	fd := fakedriver.New()
	fd.Respond("XA RECOVER", fakedriver.Response{
		Columns: []string{"formatID", "gtrid_length", "bqual_length", "data"},
		Rows:    [][]any{{int64(1), int64(2), int64(0), "x9"}},
	})
	conn, err := fd.Connect(ctx)
	require.NoError(t, err)

	require.NoError(t, d.BeginTwoPhase(ctx, conn, "x1"))
	require.NoError(t, d.CommitTwoPhase(ctx, conn, "x1", false, false))
	require.NoError(t, d.BeginTwoPhase(ctx, conn, "x2"))
	require.NoError(t, d.RollbackTwoPhase(ctx, conn, "x2", false, false))
	xids, err := d.RecoverTwoPhase(ctx, conn)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"XA BEGIN 'x1'", "XA END 'x1'", "XA PREPARE 'x1'", "XA COMMIT 'x1'",
		"XA BEGIN 'x2'", "XA END 'x2'", "XA ROLLBACK 'x2'",
		"XA RECOVER",
	}, fd.Executed())
	assert.Equal(t, []string{"x9"}, xids)
}

func TestByName(t *testing.T) {
	for name, want := range map[string]string{
		"postgres":   "postgresql",
		"postgresql": "postgresql",
		"MySQL":      "mysql",
		"sqlite3":    "sqlite",
		"":           "default",
	} {
		d, err := ByName(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, d.Name(), name)
	}
	_, err := ByName("oracle")
	assert.Error(t, err)
}
