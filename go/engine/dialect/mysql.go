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
	"strings"

	"github.com/multigres/dbcore/go/common/dberrors"
	"github.com/multigres/dbcore/go/engine/driver"
)

var mysqlAutocommit = regexp.MustCompile(`(?i)^\s*(?:UPDATE|INSERT|CREATE|DELETE|DROP|ALTER|LOAD +DATA|REPLACE)`)

// MySQL is the MySQL/MariaDB dialect. Two-phase commit uses XA.
type MySQL struct {
	Generic
}

var (
	_ Dialect  = (*MySQL)(nil)
	_ TwoPhase = (*MySQL)(nil)
)

// NewMySQL returns the MySQL dialect.
func NewMySQL() *MySQL {
	return &MySQL{Generic: Generic{Autocommit: mysqlAutocommit}}
}

// Name returns "mysql".
func (m *MySQL) Name() string {
	return "mysql"
}

// QuoteIdentifier backquotes name.
func (m *MySQL) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// IsolationLevels lists MySQL isolation levels.
func (m *MySQL) IsolationLevels() []string {
	return ansiIsolationLevels
}

// DefaultIsolationLevel returns REPEATABLE READ.
func (m *MySQL) DefaultIsolationLevel() string {
	return "REPEATABLE READ"
}

// SetIsolationLevel sets the session isolation level.
func (m *MySQL) SetIsolationLevel(ctx context.Context, conn driver.Conn, level string) error {
	norm, err := ValidateIsolationLevel(m, level)
	if err != nil {
		return err
	}
	if err := execAll(ctx, conn, "SET SESSION TRANSACTION ISOLATION LEVEL "+norm); err != nil {
		return err
	}
	if err := conn.Commit(ctx); err != nil {
		return dberrors.NewDriverError("commit", "", err)
	}
	return nil
}

// BeginTwoPhase runs XA BEGIN.
func (m *MySQL) BeginTwoPhase(ctx context.Context, conn driver.Conn, xid string) error {
	return execAll(ctx, conn, "XA BEGIN "+quoteLiteral(xid))
}

// PrepareTwoPhase ends and prepares the XA transaction.
func (m *MySQL) PrepareTwoPhase(ctx context.Context, conn driver.Conn, xid string) error {
	return execAll(ctx, conn, "XA END "+quoteLiteral(xid), "XA PREPARE "+quoteLiteral(xid))
}

// CommitTwoPhase prepares the transaction if needed and commits it.
func (m *MySQL) CommitTwoPhase(ctx context.Context, conn driver.Conn, xid string, prepared, recovered bool) error {
	if !prepared {
		if err := m.PrepareTwoPhase(ctx, conn, xid); err != nil {
			return err
		}
	}
	return execAll(ctx, conn, "XA COMMIT "+quoteLiteral(xid))
}

// RollbackTwoPhase ends the transaction if needed and rolls it back.
func (m *MySQL) RollbackTwoPhase(ctx context.Context, conn driver.Conn, xid string, prepared, recovered bool) error {
	if !prepared {
		if err := execAll(ctx, conn, "XA END "+quoteLiteral(xid)); err != nil {
			return err
		}
	}
	return execAll(ctx, conn, "XA ROLLBACK "+quoteLiteral(xid))
}

// RecoverTwoPhase returns the data column of XA RECOVER.
func (m *MySQL) RecoverTwoPhase(ctx context.Context, conn driver.Conn) ([]string, error) {
	const q = "XA RECOVER"
	cur, err := conn.Cursor()
	if err != nil {
		return nil, dberrors.NewDriverError("cursor", q, err)
	}
	defer cur.Close()
	if err := cur.Execute(ctx, q, nil); err != nil {
		return nil, dberrors.NewDriverError("execute", q, err)
	}
	col := -1
	for i, name := range cur.Columns() {
		if strings.EqualFold(name, "data") {
			col = i
		}
	}
	if col < 0 {
		return nil, nil
	}
	rows, err := cur.Fetch(ctx, 0)
	if err != nil {
		return nil, dberrors.NewDriverError("fetch", q, err)
	}
	vals := make([]any, 0, len(rows))
	for _, row := range rows {
		vals = append(vals, row[col])
	}
	return stringsOf(vals), nil
}
