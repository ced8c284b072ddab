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

package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/afero"

	"github.com/multigres/dbcore/go/engine"
	"github.com/multigres/dbcore/go/engine/dialect"
	"github.com/multigres/dbcore/go/engine/driver/sqldriver"
	"github.com/multigres/dbcore/go/engine/execopts"
	"github.com/multigres/dbcore/go/engine/pool"
	"github.com/multigres/dbcore/go/engine/schema"
)

func parseResetMode(s string) (pool.ResetMode, error) {
	switch strings.ToLower(s) {
	case "", "rollback":
		return pool.ResetRollback, nil
	case "commit":
		return pool.ResetCommit, nil
	case "none":
		return pool.ResetNone, nil
	}
	return 0, fmt.Errorf("invalid pool.reset_on_return %q (options: rollback, commit, none)", s)
}

// LoadSchemaTranslate reads a YAML schema translate map from fs.
func LoadSchemaTranslate(fs afero.Fs, path string) (schema.TranslateMap, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema translate file: %w", err)
	}
	return schema.ParseTranslateMap(data)
}

// ResolveDialect returns the dialect named by Dialect, or the one matching
// the URL scheme.
func (c *Config) ResolveDialect() (dialect.Dialect, error) {
	if c.Dialect != "" {
		return dialect.ByName(c.Dialect)
	}
	if c.URL == "" {
		return &dialect.Generic{}, nil
	}
	t, err := sqldriver.ParseURL(c.URL)
	if err != nil {
		return nil, err
	}
	return t.Dialect, nil
}

// PoolConfig converts the pool section.
func (c *Config) PoolConfig(logger *slog.Logger) (*pool.Config, error) {
	reset, err := parseResetMode(c.Pool.ResetOnReturn)
	if err != nil {
		return nil, err
	}
	return &pool.Config{
		Name:           c.Pool.Name,
		Size:           c.Pool.Size,
		MaxOverflow:    c.Pool.MaxOverflow,
		Timeout:        c.Pool.Timeout,
		Recycle:        c.Pool.Recycle,
		PrePing:        c.Pool.PrePing,
		ResetOnReturn:  reset,
		LIFO:           c.Pool.LIFO,
		TrackCheckouts: c.Pool.TrackCheckouts,
		Logger:         logger,
	}, nil
}

// EngineConfig builds the engine configuration. The schema translate file,
// if any, is read from fs.
func (c *Config) EngineConfig(fs afero.Fs, logger *slog.Logger) (*engine.Config, error) {
	d, err := c.ResolveDialect()
	if err != nil {
		return nil, err
	}
	poolCfg, err := c.PoolConfig(logger)
	if err != nil {
		return nil, err
	}

	var opts []execopts.Option
	if c.Autocommit != nil {
		opts = append(opts, execopts.Autocommit(*c.Autocommit))
	}
	if c.StreamResults {
		opts = append(opts, execopts.StreamResults(true))
	}
	if c.SchemaTranslateFile != "" {
		m, err := LoadSchemaTranslate(fs, c.SchemaTranslateFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, execopts.SchemaTranslateMap(m))
	}

	return &engine.Config{
		Dialect:          d,
		Pool:             poolCfg,
		IsolationLevel:   c.IsolationLevel,
		ExecutionOptions: opts,
		Echo:             c.Echo,
		Logger:           logger,
	}, nil
}

// Open opens the database named by URL and creates an engine for it. The
// returned driver must be closed after the engine.
func (c *Config) Open(fs afero.Fs, logger *slog.Logger) (*engine.Engine, *sqldriver.Driver, error) {
	if c.URL == "" {
		return nil, nil, fmt.Errorf("no database url configured (use --url or DBCORE_URL)")
	}
	engCfg, err := c.EngineConfig(fs, logger)
	if err != nil {
		return nil, nil, err
	}
	t, err := sqldriver.ParseURL(c.URL)
	if err != nil {
		return nil, nil, err
	}
	d, err := sqldriver.Open(t.DriverName, t.DSN, sqldriver.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	e, err := engine.New(d, engCfg)
	if err != nil {
		_ = d.Close()
		return nil, nil, err
	}
	return e, d, nil
}
