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
	"regexp"

	"github.com/lib/pq"
	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/multigres/dbcore/go/common/dberrors"
	"github.com/multigres/dbcore/go/engine/driver"
)

var postgresAutocommit = regexp.MustCompile(
	`(?i)^\s*(?:UPDATE|INSERT|CREATE|DELETE|DROP|ALTER|GRANT|REVOKE|IMPORT\s+FOREIGN\s+SCHEMA|REFRESH\s+MATERIALIZED\s+VIEW|TRUNCATE)`)

var ansiIsolationLevels = []string{
	"SERIALIZABLE",
	"READ UNCOMMITTED",
	"READ COMMITTED",
	"REPEATABLE READ",
}

// Postgres is the PostgreSQL dialect.
type Postgres struct {
	Generic

	// ParseStatements classifies raw SQL with the PostgreSQL parser instead
	// of the leading-keyword pattern. This catches statements such as
	// SELECT ... INTO and data-modifying WITH queries. Text the parser
	// rejects falls back to the pattern.
	ParseStatements bool
}

var (
	_ Dialect  = (*Postgres)(nil)
	_ TwoPhase = (*Postgres)(nil)
)

// NewPostgres returns the PostgreSQL dialect.
func NewPostgres() *Postgres {
	return &Postgres{Generic: Generic{Autocommit: postgresAutocommit}}
}

// Name returns "postgresql".
func (p *Postgres) Name() string {
	return "postgresql"
}

// IsMutating classifies sql.
func (p *Postgres) IsMutating(sql string) bool {
	if p.ParseStatements {
		if mutating, ok := parseMutating(sql); ok {
			return mutating
		}
	}
	return p.Generic.IsMutating(sql)
}

// parseMutating reports whether any statement in sql modifies data or
// schema. ok is false when sql does not parse.
func parseMutating(sql string) (mutating bool, ok bool) {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return false, false
	}
	for _, raw := range result.GetStmts() {
		if isMutatingNode(raw.GetStmt()) {
			return true, true
		}
	}
	return false, true
}

func isMutatingNode(n *pg_query.Node) bool {
	if n == nil {
		return false
	}
	if sel := n.GetSelectStmt(); sel != nil {
		return sel.GetIntoClause() != nil
	}
	switch {
	case n.GetInsertStmt() != nil,
		n.GetUpdateStmt() != nil,
		n.GetDeleteStmt() != nil,
		n.GetMergeStmt() != nil,
		n.GetCreateStmt() != nil,
		n.GetCreateTableAsStmt() != nil,
		n.GetCreateSeqStmt() != nil,
		n.GetCreateSchemaStmt() != nil,
		n.GetCreateFunctionStmt() != nil,
		n.GetIndexStmt() != nil,
		n.GetViewStmt() != nil,
		n.GetDropStmt() != nil,
		n.GetAlterTableStmt() != nil,
		n.GetAlterSeqStmt() != nil,
		n.GetRenameStmt() != nil,
		n.GetGrantStmt() != nil,
		n.GetGrantRoleStmt() != nil,
		n.GetImportForeignSchemaStmt() != nil,
		n.GetRefreshMatViewStmt() != nil,
		n.GetTruncateStmt() != nil:
		return true
	}
	return false
}

// QuoteIdentifier quotes name the way lib/pq does.
func (p *Postgres) QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

// IsolationLevels lists PostgreSQL isolation levels.
func (p *Postgres) IsolationLevels() []string {
	return ansiIsolationLevels
}

// DefaultIsolationLevel returns READ COMMITTED.
func (p *Postgres) DefaultIsolationLevel() string {
	return "READ COMMITTED"
}

// SetIsolationLevel sets the session's default transaction isolation and
// commits so the change takes effect for the next transaction.
func (p *Postgres) SetIsolationLevel(ctx context.Context, conn driver.Conn, level string) error {
	norm, err := ValidateIsolationLevel(p, level)
	if err != nil {
		return err
	}
	if err := execAll(ctx, conn, "SET SESSION CHARACTERISTICS AS TRANSACTION ISOLATION LEVEL "+norm); err != nil {
		return err
	}
	if err := conn.Commit(ctx); err != nil {
		return dberrors.NewDriverError("commit", "", err)
	}
	return nil
}

// BeginTwoPhase is a no-op: PostgreSQL names the transaction at prepare time.
func (p *Postgres) BeginTwoPhase(ctx context.Context, conn driver.Conn, xid string) error {
	return nil
}

// PrepareTwoPhase runs PREPARE TRANSACTION.
func (p *Postgres) PrepareTwoPhase(ctx context.Context, conn driver.Conn, xid string) error {
	return execAll(ctx, conn, "PREPARE TRANSACTION "+quoteLiteral(xid))
}

// CommitTwoPhase commits a prepared transaction, or commits normally when
// the transaction was never prepared.
func (p *Postgres) CommitTwoPhase(ctx context.Context, conn driver.Conn, xid string, prepared, recovered bool) error {
	return p.finishTwoPhase(ctx, conn, "COMMIT PREPARED ", xid, prepared, recovered, conn.Commit)
}

// RollbackTwoPhase rolls back a prepared transaction, or rolls back
// normally when it was never prepared.
func (p *Postgres) RollbackTwoPhase(ctx context.Context, conn driver.Conn, xid string, prepared, recovered bool) error {
	return p.finishTwoPhase(ctx, conn, "ROLLBACK PREPARED ", xid, prepared, recovered, conn.Rollback)
}

func (p *Postgres) finishTwoPhase(ctx context.Context, conn driver.Conn, verb, xid string, prepared, recovered bool, plain func(context.Context) error) error {
	if !prepared {
		if err := plain(ctx); err != nil {
			return dberrors.NewDriverError("finish", "", err)
		}
		return nil
	}
	if recovered {
		// COMMIT/ROLLBACK PREPARED cannot run inside a transaction block.
		if err := execAll(ctx, conn, "ROLLBACK"); err != nil {
			return err
		}
	}
	if err := execAll(ctx, conn, verb+quoteLiteral(xid)); err != nil {
		return err
	}
	if err := conn.Rollback(ctx); err != nil {
		return dberrors.NewDriverError("rollback", "", err)
	}
	return nil
}

// RecoverTwoPhase lists prepared transaction ids.
func (p *Postgres) RecoverTwoPhase(ctx context.Context, conn driver.Conn) ([]string, error) {
	const q = "SELECT gid FROM pg_prepared_xacts"
	vals, err := driver.QueryColumn(ctx, conn, q)
	if err != nil {
		return nil, dberrors.NewDriverError("execute", q, err)
	}
	return stringsOf(vals), nil
}
