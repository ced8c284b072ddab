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
	"fmt"
	"sync"

	"github.com/multigres/dbcore/go/common/dberrors"
	"github.com/multigres/dbcore/go/engine/sqlstmt"
)

// Binder resolves the engine a statement runs on when it is executed
// without an explicit connection.
type Binder interface {
	Bind(stmt sqlstmt.Statement) (*Engine, bool)
}

// BinderFunc adapts a function to the Binder interface.
type BinderFunc func(stmt sqlstmt.Statement) (*Engine, bool)

// Bind calls f.
func (f BinderFunc) Bind(stmt sqlstmt.Statement) (*Engine, bool) {
	return f(stmt)
}

// MetadataBinder binds statements through the tables and sequences they
// refer to, falling back to a default engine. It is safe for concurrent use.
type MetadataBinder struct {
	// Default is used for statements referring to no registered object.
	Default *Engine

	mu      sync.RWMutex
	engines map[sqlstmt.Identifier]*Engine
}

// Register binds every statement referring to id to e.
func (b *MetadataBinder) Register(id sqlstmt.Identifier, e *Engine) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.engines == nil {
		b.engines = make(map[sqlstmt.Identifier]*Engine)
	}
	b.engines[id] = e
}

// Bind implements Binder. Identifiers are consulted in statement order.
func (b *MetadataBinder) Bind(stmt sqlstmt.Statement) (*Engine, bool) {
	if withIDs, ok := stmt.(interface{ Identifiers() []sqlstmt.Identifier }); ok {
		b.mu.RLock()
		for _, id := range withIDs.Identifiers() {
			if e, ok := b.engines[id]; ok {
				b.mu.RUnlock()
				return e, true
			}
		}
		b.mu.RUnlock()
	}
	return b.Default, b.Default != nil
}

// ExecuteBound executes stmt on the engine b resolves for it, closing the
// connection with the result. It fails with an UnboundExecutionError when
// no engine can be resolved.
func ExecuteBound(ctx context.Context, b Binder, stmt sqlstmt.Statement, params ...any) (*Result, error) {
	var e *Engine
	if b != nil {
		e, _ = b.Bind(stmt)
	}
	if e == nil {
		return nil, &dberrors.UnboundExecutionError{Statement: fmt.Sprint(stmt)}
	}
	return e.Execute(ctx, stmt, params...)
}
