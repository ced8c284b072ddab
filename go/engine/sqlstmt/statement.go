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

// Package sqlstmt is the compiled-statement producer the engine executes.
//
// It deliberately knows very little SQL: Text carries literal SQL untouched,
// and Compose renders a format string around table and sequence metadata so
// that schema translation can be applied to those identifiers while the
// statement is compiled.
package sqlstmt

import (
	"fmt"
	"strings"

	"github.com/multigres/dbcore/go/engine/execopts"
	"github.com/multigres/dbcore/go/engine/schema"
)

// Quoter quotes identifiers. Every dialect implements it.
type Quoter interface {
	QuoteIdentifier(name string) string
}

// CompileContext carries what a statement needs to compile for one
// execution.
type CompileContext struct {
	Quoter          Quoter
	SchemaTranslate schema.TranslateMap
}

// FormatIdentifier renders id schema-qualified and quoted, with its schema
// resolved through the schema translate map.
func (cc *CompileContext) FormatIdentifier(id Identifier) string {
	sch, name := id.QualifiedName()
	sch = schema.Translate(sch, cc.SchemaTranslate)
	q := cc.quote(name)
	if sch.IsDefault() {
		return q
	}
	return cc.quote(sch.Value) + "." + q
}

func (cc *CompileContext) quote(s string) string {
	if cc.Quoter == nil {
		return s
	}
	return cc.Quoter.QuoteIdentifier(s)
}

// Compiled is backend-native SQL ready for a cursor.
type Compiled struct {
	SQL    string
	Params []any
	// IsText is true for literal SQL, to which schema translation never
	// applies.
	IsText bool
}

// Statement is anything the engine can execute.
type Statement interface {
	Compile(cc *CompileContext) (*Compiled, error)
	// Options returns the statement-level execution options.
	Options() execopts.Options
}

// Identifier is a schema-qualified name from table or sequence metadata.
type Identifier interface {
	QualifiedName() (schema.Name, string)
}

// Table is table metadata.
type Table struct {
	Schema schema.Name
	Name   string
}

// QualifiedName implements Identifier.
func (t Table) QualifiedName() (schema.Name, string) {
	return t.Schema, t.Name
}

// Sequence is sequence metadata.
type Sequence struct {
	Schema schema.Name
	Name   string
}

// QualifiedName implements Identifier.
func (s Sequence) QualifiedName() (schema.Name, string) {
	return s.Schema, s.Name
}

// TextClause is literal SQL.
type TextClause struct {
	sql    string
	params []any
	opts   execopts.Options
}

// Text returns a statement for literal SQL.
func Text(sql string) *TextClause {
	return &TextClause{sql: sql}
}

// Bind returns a copy of t carrying default positional parameters.
func (t *TextClause) Bind(params ...any) *TextClause {
	c := *t
	c.params = params
	return &c
}

// WithOptions returns a copy of t with execution options added.
func (t *TextClause) WithOptions(opts ...execopts.Option) *TextClause {
	c := *t
	c.opts = t.opts.With(opts...)
	return &c
}

// Options implements Statement.
func (t *TextClause) Options() execopts.Options {
	return t.opts
}

// Compile implements Statement. The schema translate map is ignored.
func (t *TextClause) Compile(cc *CompileContext) (*Compiled, error) {
	return &Compiled{SQL: t.sql, Params: t.params, IsText: true}, nil
}

func (t *TextClause) String() string {
	return t.sql
}

// Composed is SQL whose %s placeholders are filled with metadata
// identifiers at compile time. %% renders a literal %; any other % is
// kept as written.
type Composed struct {
	format string
	idents []Identifier
	params []any
	opts   execopts.Options
}

// Compose returns a statement that renders format with each %s
// placeholder replaced by the corresponding identifier.
func Compose(format string, idents ...Identifier) *Composed {
	return &Composed{format: format, idents: idents}
}

// Bind returns a copy of c carrying default positional parameters.
func (c *Composed) Bind(params ...any) *Composed {
	cp := *c
	cp.params = params
	return &cp
}

// WithOptions returns a copy of c with execution options added.
func (c *Composed) WithOptions(opts ...execopts.Option) *Composed {
	cp := *c
	cp.opts = c.opts.With(opts...)
	return &cp
}

// Options implements Statement.
func (c *Composed) Options() execopts.Options {
	return c.opts
}

// Identifiers returns the metadata objects the statement refers to.
func (c *Composed) Identifiers() []Identifier {
	return c.idents
}

// Compile implements Statement.
func (c *Composed) Compile(cc *CompileContext) (*Compiled, error) {
	var b strings.Builder
	n := 0
	rest := c.format
	for {
		i := strings.IndexByte(rest, '%')
		if i < 0 || i == len(rest)-1 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:i])
		switch rest[i+1] {
		case 's':
			if n < len(c.idents) {
				b.WriteString(cc.FormatIdentifier(c.idents[n]))
			}
			n++
			rest = rest[i+2:]
		case '%':
			b.WriteByte('%')
			rest = rest[i+2:]
		default:
			b.WriteByte('%')
			rest = rest[i+1:]
		}
	}
	if n != len(c.idents) {
		return nil, fmt.Errorf("statement has %d identifier placeholders but %d identifiers", n, len(c.idents))
	}
	return &Compiled{SQL: b.String(), Params: c.params}, nil
}

func (c *Composed) String() string {
	return c.format
}
