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

	"github.com/multigres/dbcore/go/engine/driver"
)

// SQLite is the SQLite dialect. It has no two-phase support.
type SQLite struct {
	Generic
}

var _ Dialect = (*SQLite)(nil)

// NewSQLite returns the SQLite dialect.
func NewSQLite() *SQLite {
	return &SQLite{}
}

// Name returns "sqlite".
func (s *SQLite) Name() string {
	return "sqlite"
}

// IsolationLevels returns the two levels SQLite can switch between.
func (s *SQLite) IsolationLevels() []string {
	return []string{"SERIALIZABLE", "READ UNCOMMITTED"}
}

// DefaultIsolationLevel returns SERIALIZABLE.
func (s *SQLite) DefaultIsolationLevel() string {
	return "SERIALIZABLE"
}

// SetIsolationLevel toggles the read_uncommitted pragma.
func (s *SQLite) SetIsolationLevel(ctx context.Context, conn driver.Conn, level string) error {
	norm, err := ValidateIsolationLevel(s, level)
	if err != nil {
		return err
	}
	flag := "0"
	if norm == "READ UNCOMMITTED" {
		flag = "1"
	}
	return execAll(ctx, conn, "PRAGMA read_uncommitted = "+flag)
}
