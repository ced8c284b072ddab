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

// Package execopts holds the execution options recognized by engines,
// connections and statements.
package execopts

import (
	"github.com/multigres/dbcore/go/common/dberrors"
	"github.com/multigres/dbcore/go/engine/schema"
)

// Options is an immutable set of execution options. The zero value has no
// option set. Unset options inherit from the enclosing scope when merged.
type Options struct {
	autocommit    *bool
	streamResults *bool
	isolation     string
	translate     schema.TranslateMap
	translateSet  bool
}

// Option sets one execution option.
type Option func(*Options)

// Autocommit forces (true) or suppresses (false) the commit issued after a
// statement executed outside a transaction. It takes precedence over
// pattern-based detection.
func Autocommit(v bool) Option {
	return func(o *Options) {
		o.autocommit = &v
	}
}

// StreamResults makes results fetch rows in growing chunks instead of one
// request per fetch call.
func StreamResults(v bool) Option {
	return func(o *Options) {
		o.streamResults = &v
	}
}

// IsolationLevel sets the transaction isolation level of the connection.
// It is only valid on connections and engines.
func IsolationLevel(level string) Option {
	return func(o *Options) {
		o.isolation = level
	}
}

// SchemaTranslateMap sets the schema translate map applied at compile time.
// A nil map explicitly clears any inherited map.
func SchemaTranslateMap(m schema.TranslateMap) Option {
	return func(o *Options) {
		o.translate = m.Clone()
		o.translateSet = true
	}
}

// New builds Options from opts.
func New(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// With returns a copy of o with opts applied.
func (o Options) With(opts ...Option) Options {
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Merge returns o overlaid with every option set in other.
func (o Options) Merge(other Options) Options {
	if other.autocommit != nil {
		o.autocommit = other.autocommit
	}
	if other.streamResults != nil {
		o.streamResults = other.streamResults
	}
	if other.isolation != "" {
		o.isolation = other.isolation
	}
	if other.translateSet {
		o.translate = other.translate
		o.translateSet = true
	}
	return o
}

// Autocommit returns the autocommit option and whether it is set.
func (o Options) Autocommit() (value bool, ok bool) {
	if o.autocommit == nil {
		return false, false
	}
	return *o.autocommit, true
}

// StreamResults reports whether result streaming was requested.
func (o Options) StreamResults() bool {
	return o.streamResults != nil && *o.streamResults
}

// IsolationLevel returns the isolation level, or "" when unset.
func (o Options) IsolationLevel() string {
	return o.isolation
}

// SchemaTranslateMap returns the schema translate map, or nil when unset.
func (o Options) SchemaTranslateMap() schema.TranslateMap {
	return o.translate
}

// ValidateForStatement rejects options that only make sense on a
// connection or engine.
func (o Options) ValidateForStatement() error {
	if o.isolation != "" {
		return dberrors.Argument("'isolation_level' execution option may only be specified on a Connection or per-engine, not on a statement")
	}
	return nil
}
