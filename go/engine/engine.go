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

// Package engine ties a connection pool and a dialect together and hands
// out logical connections.
//
// A Connection owns one pooled native connection until it is closed. It
// tracks transaction nesting with a flat counter: only the outermost
// Transaction's Commit reaches the database, and a Rollback at any depth
// rolls back the whole chain. Outside a transaction, statements that modify
// data are committed as soon as they execute.
//
// Connections, Transactions and Results are not safe for concurrent use;
// each must have a single owner. The Engine and its pool are.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/multigres/dbcore/go/common/dberrors"
	"github.com/multigres/dbcore/go/engine/dialect"
	"github.com/multigres/dbcore/go/engine/driver"
	"github.com/multigres/dbcore/go/engine/execopts"
	"github.com/multigres/dbcore/go/engine/pool"
	"github.com/multigres/dbcore/go/engine/sqlstmt"
)

// Config holds the engine configuration.
type Config struct {
	// Dialect defaults to the generic dialect.
	Dialect dialect.Dialect

	// Pool configures the connection pool. Its OnConnect hook runs after
	// the engine has applied IsolationLevel.
	Pool *pool.Config

	// IsolationLevel is applied to every new native connection.
	IsolationLevel string

	// ExecutionOptions are the defaults inherited by every connection.
	ExecutionOptions []execopts.Option

	// Echo logs every statement at info level.
	Echo bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Engine is the entry point: it owns the pool and creates Connections.
type Engine struct {
	dialect   dialect.Dialect
	pool      *pool.Pool
	logger    *slog.Logger
	opts      execopts.Options
	isolation string
	echo      bool
}

// New creates an engine on top of drv.
func New(drv driver.Driver, cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	e := &Engine{
		dialect: cfg.Dialect,
		logger:  cfg.Logger,
		opts:    execopts.New(cfg.ExecutionOptions...),
		echo:    cfg.Echo,
	}
	if e.dialect == nil {
		e.dialect = &dialect.Generic{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}

	isolation := cfg.IsolationLevel
	if lvl := e.opts.IsolationLevel(); lvl != "" {
		isolation = lvl
	}
	if isolation != "" {
		norm, err := dialect.ValidateIsolationLevel(e.dialect, isolation)
		if err != nil {
			return nil, err
		}
		e.isolation = norm
	}

	poolCfg := pool.DefaultConfig()
	if cfg.Pool != nil {
		c := *cfg.Pool
		poolCfg = &c
	}
	if poolCfg.Logger == nil {
		poolCfg.Logger = e.logger
	}
	userHook := poolCfg.OnConnect
	poolCfg.OnConnect = func(ctx context.Context, conn driver.Conn) error {
		if e.isolation != "" {
			if err := e.dialect.SetIsolationLevel(ctx, conn, e.isolation); err != nil {
				return fmt.Errorf("failed to set isolation level: %w", err)
			}
		}
		if userHook != nil {
			return userHook(ctx, conn)
		}
		return nil
	}
	e.pool = pool.New(drv, poolCfg)
	return e, nil
}

// Dialect returns the engine's dialect.
func (e *Engine) Dialect() dialect.Dialect {
	return e.dialect
}

// Pool returns the engine's connection pool.
func (e *Engine) Pool() *pool.Pool {
	return e.pool
}

// Options returns the engine's default execution options.
func (e *Engine) Options() execopts.Options {
	return e.opts
}

// ExecutionOptions returns an engine sharing this engine's pool whose
// connections carry the merged options.
func (e *Engine) ExecutionOptions(opts ...execopts.Option) (*Engine, error) {
	o := execopts.New(opts...)
	if lvl := o.IsolationLevel(); lvl != "" {
		if _, err := dialect.ValidateIsolationLevel(e.dialect, lvl); err != nil {
			return nil, err
		}
	}
	derived := *e
	derived.opts = e.opts.Merge(o)
	return &derived, nil
}

// Connect checks out a connection from the pool. The caller must Close it.
func (e *Engine) Connect(ctx context.Context) (*Connection, error) {
	pooled, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	c := &Connection{
		core: &connCore{
			engine:  e,
			pooled:  pooled,
			results: make(map[*Result]struct{}),
		},
		opts: e.opts,
	}
	if lvl := e.opts.IsolationLevel(); lvl != "" {
		norm, err := dialect.ValidateIsolationLevel(e.dialect, lvl)
		if err == nil && norm != e.isolation {
			err = c.core.setIsolation(ctx, norm)
		}
		if err != nil {
			return nil, errors.Join(err, c.Close())
		}
	}
	return c, nil
}

// Execute runs stmt on a fresh connection. The connection is closed when
// the returned Result is exhausted or closed.
func (e *Engine) Execute(ctx context.Context, stmt sqlstmt.Statement, params ...any) (*Result, error) {
	conn, err := e.Connect(ctx)
	if err != nil {
		return nil, err
	}
	res, err := conn.execute(ctx, stmt, params, true)
	if err != nil {
		return nil, errors.Join(err, conn.Close())
	}
	return res, nil
}

// Scalar runs stmt and returns the first column of its first row.
func (e *Engine) Scalar(ctx context.Context, stmt sqlstmt.Statement, params ...any) (any, error) {
	res, err := e.Execute(ctx, stmt, params...)
	if err != nil {
		return nil, err
	}
	return res.Scalar(ctx)
}

// Transaction runs fn on a new connection inside a transaction, committing
// when fn succeeds and rolling back otherwise.
func (e *Engine) Transaction(ctx context.Context, fn func(*Connection) error) (err error) {
	conn, err := e.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, conn.Close())
	}()
	return conn.Transaction(ctx, fn)
}

// Dispose replaces the pool's connections. Connections checked out now
// keep working and are closed when returned. Call it in a child process
// before reusing an engine inherited from its parent.
func (e *Engine) Dispose(ctx context.Context) {
	e.pool.Dispose(ctx)
}

// Close disposes the pool and rejects further connections.
func (e *Engine) Close() error {
	return e.pool.Close()
}

// CheckLeaks reports connections checked out and never closed. It requires
// pool.Config.TrackCheckouts.
func (e *Engine) CheckLeaks(ctx context.Context) []*dberrors.ResourceLeakWarning {
	var warnings []*dberrors.ResourceLeakWarning
	for _, co := range e.pool.Outstanding() {
		w := &dberrors.ResourceLeakWarning{Resource: "connection", Origin: co.Origin}
		e.logger.WarnContext(ctx, w.Error(), "pool", e.pool.Name(), "generation", co.Generation, "age", co.Age)
		warnings = append(warnings, w)
	}
	return warnings
}
