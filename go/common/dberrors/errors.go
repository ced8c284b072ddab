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

// Package dberrors defines the error taxonomy shared by the pool, the engine
// and the driver adapters.
//
// Every error type here supports errors.As, and wrapping types expose their
// cause through Unwrap so errors.Is keeps working across layers.
package dberrors

import (
	"fmt"
	"time"
)

// PoolExhaustedError is returned when a connection could not be acquired
// before the pool timeout elapsed.
type PoolExhaustedError struct {
	Pool     string
	Size     int
	Overflow int
	Timeout  time.Duration
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("pool %q limit of size %d overflow %d reached, connection timed out, timeout %s",
		e.Pool, e.Size, e.Overflow, e.Timeout)
}

// DriverError wraps a failure raised by the native driver. Op names the
// operation that failed (connect, execute, commit, rollback, close, ...).
type DriverError struct {
	Op  string
	SQL string
	Err error
}

func (e *DriverError) Error() string {
	if e.SQL != "" {
		return fmt.Sprintf("driver %s failed: %v [SQL: %s]", e.Op, e.Err, e.SQL)
	}
	return fmt.Sprintf("driver %s failed: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// NewDriverError wraps err unless it already is a DriverError.
func NewDriverError(op, sql string, err error) error {
	if err == nil {
		return nil
	}
	if de, ok := err.(*DriverError); ok {
		return de
	}
	return &DriverError{Op: op, SQL: sql, Err: err}
}

// IllegalStateError reports an operation attempted on an object whose state
// does not permit it, such as committing a rolled back transaction or
// executing on a closed connection.
type IllegalStateError struct {
	Msg string
}

func (e *IllegalStateError) Error() string {
	return e.Msg
}

// IllegalState builds an IllegalStateError with a formatted message.
func IllegalState(format string, args ...any) error {
	return &IllegalStateError{Msg: fmt.Sprintf(format, args...)}
}

// ArgumentError reports an invalid argument or option.
type ArgumentError struct {
	Msg string
}

func (e *ArgumentError) Error() string {
	return e.Msg
}

// Argument builds an ArgumentError with a formatted message.
func Argument(format string, args ...any) error {
	return &ArgumentError{Msg: fmt.Sprintf(format, args...)}
}

// UnboundExecutionError is returned when a statement is executed without an
// explicit connection and no engine could be resolved for it.
type UnboundExecutionError struct {
	Statement string
}

func (e *UnboundExecutionError) Error() string {
	return fmt.Sprintf("statement %q is not bound to an engine; execute it through a Connection or Engine", e.Statement)
}

// ResourceLeakWarning describes a connection or result that was abandoned
// without being closed. It is never fatal: it is logged and returned from
// leak checks so callers can surface it.
type ResourceLeakWarning struct {
	// Resource is a short description such as "connection" or "result".
	Resource string
	// Origin is the call site that acquired the resource, when known.
	Origin string
}

func (w *ResourceLeakWarning) Error() string {
	if w.Origin == "" {
		return fmt.Sprintf("%s was not closed explicitly", w.Resource)
	}
	return fmt.Sprintf("%s acquired at %s was not closed explicitly", w.Resource, w.Origin)
}
