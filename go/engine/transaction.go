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

	"github.com/multigres/dbcore/go/common/dberrors"
	"github.com/multigres/dbcore/go/engine/dialect"
)

// TxState is the state of a Transaction.
type TxState int

const (
	StateActive TxState = iota
	StatePrepared
	StateCommitted
	StateRolledBack
)

func (s TxState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StatePrepared:
		return "prepared"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled back"
	}
	return "unknown"
}

// txChain is shared by every Transaction begun while the nesting counter
// was above zero. Its terminal state applies to all of them.
type txChain struct {
	state TxState
}

// Transaction controls one level of a possibly nested transaction.
type Transaction struct {
	conn   *Connection
	chain  *txChain
	nested bool
	// committed is set when a nested transaction commits; the chain stays
	// active until the outermost one finishes.
	committed bool

	twoPhase dialect.TwoPhase
	xid      string
}

// State returns the transaction state. A terminal chain state overrides a
// nested transaction's own commit.
func (t *Transaction) State() TxState {
	if t.chain.state != StateActive {
		return t.chain.state
	}
	if t.committed {
		return StateCommitted
	}
	return StateActive
}

// IsActive reports whether the transaction can still be committed.
func (t *Transaction) IsActive() bool {
	s := t.State()
	return s == StateActive || s == StatePrepared
}

// Nested reports whether the transaction was begun inside another one.
func (t *Transaction) Nested() bool {
	return t.nested
}

// Connection returns the connection the transaction was begun on.
func (t *Transaction) Connection() *Connection {
	return t.conn
}

// Commit commits the transaction. A nested commit only decrements the
// nesting counter; the outermost commit issues the native commit.
func (t *Transaction) Commit(ctx context.Context) error {
	switch t.State() {
	case StateRolledBack:
		return dberrors.IllegalState("this transaction is inactive; it has been rolled back")
	case StateCommitted:
		return dberrors.IllegalState("this transaction has already been committed")
	}
	core := t.conn.core
	if t.nested {
		t.committed = true
		if core.depth > 0 {
			core.depth--
		}
		return nil
	}

	conn, err := core.native(ctx)
	if err != nil {
		return err
	}
	if t.twoPhase != nil {
		if t.chain.state != StatePrepared {
			if err := t.twoPhase.PrepareTwoPhase(ctx, conn, t.xid); err != nil {
				t.finish(StateRolledBack)
				return core.handleError(ctx, "prepare", "", err)
			}
			t.chain.state = StatePrepared
		}
		err = t.twoPhase.CommitTwoPhase(ctx, conn, t.xid, true, false)
	} else {
		err = conn.Commit(ctx)
	}
	if err != nil {
		t.finish(StateRolledBack)
		return core.handleError(ctx, "commit", "", err)
	}
	t.finish(StateCommitted)
	return nil
}

// Rollback rolls back the whole transaction chain, whatever the nesting
// depth. Rolling back an already rolled back transaction does nothing.
func (t *Transaction) Rollback(ctx context.Context) error {
	switch t.State() {
	case StateRolledBack:
		return nil
	case StateCommitted:
		return dberrors.IllegalState("this transaction has already been committed")
	}
	core := t.conn.core
	prepared := t.chain.state == StatePrepared
	t.finish(StateRolledBack)
	if core.pooled == nil {
		// the native connection is gone and took the transaction with it
		return nil
	}
	conn, err := core.pooled.Conn()
	if err != nil {
		return err
	}
	if t.twoPhase != nil {
		err = t.twoPhase.RollbackTwoPhase(ctx, conn, t.xid, prepared, false)
	} else {
		err = conn.Rollback(ctx)
	}
	if err != nil {
		return core.handleError(ctx, "rollback", "", err)
	}
	return nil
}

func (t *Transaction) finish(state TxState) {
	t.chain.state = state
	core := t.conn.core
	if core.chain == t.chain {
		core.chain = nil
		core.depth = 0
	}
}

// TwoPhaseTransaction is a transaction committed in two phases.
type TwoPhaseTransaction struct {
	*Transaction
}

// Xid returns the transaction identifier.
func (t *TwoPhaseTransaction) Xid() string {
	return t.xid
}

// Prepare runs the first phase. The transaction can still be committed or
// rolled back afterwards.
func (t *TwoPhaseTransaction) Prepare(ctx context.Context) error {
	if t.State() != StateActive {
		return dberrors.IllegalState("cannot prepare a transaction that is %s", t.State())
	}
	conn, err := t.conn.core.native(ctx)
	if err != nil {
		return err
	}
	if err := t.twoPhase.PrepareTwoPhase(ctx, conn, t.xid); err != nil {
		t.finish(StateRolledBack)
		return t.conn.core.handleError(ctx, "prepare", "", err)
	}
	t.chain.state = StatePrepared
	return nil
}
