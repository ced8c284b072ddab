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

// Package dialect holds the backend-specific behavior the engine consults:
// which raw statements autocommit, how identifiers are quoted, which
// isolation levels exist and how two-phase transactions are spelled.
package dialect

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/multigres/dbcore/go/common/dberrors"
	"github.com/multigres/dbcore/go/engine/driver"
)

// Dialect is the backend-specific behavior of an engine.
type Dialect interface {
	// Name returns the dialect name, e.g. "postgresql".
	Name() string

	// IsMutating reports whether raw SQL text changes data or schema and
	// therefore autocommits when executed outside a transaction.
	IsMutating(sql string) bool

	// QuoteIdentifier quotes a table, sequence or schema name.
	QuoteIdentifier(name string) string

	// IsolationLevels lists the accepted isolation level names.
	IsolationLevels() []string

	// DefaultIsolationLevel is the level a fresh connection runs at.
	DefaultIsolationLevel() string

	// SetIsolationLevel changes the isolation level of conn.
	SetIsolationLevel(ctx context.Context, conn driver.Conn, level string) error
}

// TwoPhase is implemented by dialects supporting two-phase commit.
// prepared reports whether PrepareTwoPhase already ran; recovered marks
// transactions resumed from RecoverTwoPhase on another connection.
type TwoPhase interface {
	BeginTwoPhase(ctx context.Context, conn driver.Conn, xid string) error
	PrepareTwoPhase(ctx context.Context, conn driver.Conn, xid string) error
	CommitTwoPhase(ctx context.Context, conn driver.Conn, xid string, prepared, recovered bool) error
	RollbackTwoPhase(ctx context.Context, conn driver.Conn, xid string, prepared, recovered bool) error
	RecoverTwoPhase(ctx context.Context, conn driver.Conn) ([]string, error)
}

// defaultAutocommit matches the leading keywords that autocommit on every
// backend.
var defaultAutocommit = regexp.MustCompile(`(?i)^\s*(?:UPDATE|INSERT|CREATE|DELETE|DROP|ALTER)`)

// Generic is a dialect with ANSI quoting and no isolation control. The
// specific dialects embed it.
type Generic struct {
	// Autocommit overrides the leading-keyword pattern when non-nil.
	Autocommit *regexp.Regexp
}

var _ Dialect = (*Generic)(nil)

// Name returns "default".
func (g *Generic) Name() string {
	return "default"
}

// IsMutating matches sql against the autocommit pattern.
func (g *Generic) IsMutating(sql string) bool {
	re := g.Autocommit
	if re == nil {
		re = defaultAutocommit
	}
	return re.MatchString(sql)
}

// QuoteIdentifier double-quotes name, doubling embedded quotes.
func (g *Generic) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// IsolationLevels returns nil: the generic dialect cannot change levels.
func (g *Generic) IsolationLevels() []string {
	return nil
}

// DefaultIsolationLevel returns "".
func (g *Generic) DefaultIsolationLevel() string {
	return ""
}

// SetIsolationLevel always fails.
func (g *Generic) SetIsolationLevel(ctx context.Context, conn driver.Conn, level string) error {
	return dberrors.Argument("dialect %s does not support isolation levels", g.Name())
}

// ValidateIsolationLevel checks level against d's accepted levels.
func ValidateIsolationLevel(d Dialect, level string) (string, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(level), "_", " "))
	levels := d.IsolationLevels()
	if !slices.Contains(levels, norm) {
		return "", dberrors.Argument("invalid value %q for isolation_level; valid values for dialect %s are %s",
			level, d.Name(), strings.Join(levels, ", "))
	}
	return norm, nil
}

// quoteLiteral renders s as a single-quoted SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func execAll(ctx context.Context, conn driver.Conn, stmts ...string) error {
	for _, stmt := range stmts {
		if err := driver.Exec(ctx, conn, stmt); err != nil {
			return dberrors.NewDriverError("execute", stmt, err)
		}
	}
	return nil
}

func stringsOf(vals []any) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		switch x := v.(type) {
		case string:
			out = append(out, x)
		case []byte:
			out = append(out, string(x))
		default:
			out = append(out, fmt.Sprint(x))
		}
	}
	return out
}
