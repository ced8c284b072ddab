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

package sqlstmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multigres/dbcore/go/engine/dialect"
	"github.com/multigres/dbcore/go/engine/execopts"
	"github.com/multigres/dbcore/go/engine/schema"
)

func TestComposeSchemaTranslation(t *testing.T) {
	cc := &CompileContext{
		Quoter: &dialect.Generic{},
		SchemaTranslate: schema.TranslateMap{
			schema.Default:       schema.Named("s1"),
			schema.Named("pub"): schema.Default,
		},
	}
	tests := []struct {
		name  string
		table Table
		want  string
	}{
		{"default schema is redirected", Table{Name: "t"}, `SELECT * FROM "s1"."t"`},
		{"mapped to default compiles unqualified", Table{Schema: schema.Named("pub"), Name: "t"}, `SELECT * FROM "t"`},
		{"absent key unchanged", Table{Schema: schema.Named("other"), Name: "t"}, `SELECT * FROM "other"."t"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := Compose("SELECT * FROM %s", tt.table).Compile(cc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, compiled.SQL)
			assert.False(t, compiled.IsText)
		})
	}
}

func TestComposeSequence(t *testing.T) {
	cc := &CompileContext{
		Quoter:          dialect.NewPostgres(),
		SchemaTranslate: schema.TranslateMap{schema.Default: schema.Named("tenant")},
	}
	compiled, err := Compose("SELECT nextval('%s')", Sequence{Name: "ids"}).Compile(cc)
	require.NoError(t, err)
	assert.Equal(t, `SELECT nextval('"tenant"."ids"')`, compiled.SQL)
}

func TestComposeWithoutMap(t *testing.T) {
	cc := &CompileContext{Quoter: dialect.NewMySQL()}
	compiled, err := Compose("INSERT INTO %s VALUES (?)", Table{Schema: schema.Named("app"), Name: "t"}).Bind(1).Compile(cc)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO `app`.`t` VALUES (?)", compiled.SQL)
	assert.Equal(t, []any{1}, compiled.Params)
}

func TestComposePlaceholderMismatch(t *testing.T) {
	_, err := Compose("SELECT * FROM %s JOIN %s", Table{Name: "a"}).Compile(&CompileContext{})
	assert.ErrorContains(t, err, "2 identifier placeholders but 1 identifiers")
}

func TestComposeKeepsLiteralPercent(t *testing.T) {
	cc := &CompileContext{Quoter: &dialect.Generic{}}
	tests := []struct {
		name   string
		format string
		idents []Identifier
		want   string
	}{
		{"like pattern", "SELECT * FROM %s WHERE name LIKE 'a%'", []Identifier{Table{Name: "t"}}, `SELECT * FROM "t" WHERE name LIKE 'a%'`},
		{"modulo", "SELECT a % 2 FROM %s", []Identifier{Table{Name: "t"}}, `SELECT a % 2 FROM "t"`},
		{"trailing percent", "SELECT '%' FROM %s WHERE x LIKE '%", []Identifier{Table{Name: "t"}}, `SELECT '%' FROM "t" WHERE x LIKE '%`},
		{"escaped placeholder", "SELECT format('%%s', x) FROM %s", []Identifier{Table{Name: "t"}}, `SELECT format('%s', x) FROM "t"`},
		{"escaped percent only", "SELECT '100%%'", nil, `SELECT '100%'`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := Compose(tt.format, tt.idents...).Compile(cc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, compiled.SQL)
		})
	}

	_, err := Compose("SELECT '%%s' FROM t", Table{Name: "t"}).Compile(cc)
	assert.ErrorContains(t, err, "0 identifier placeholders but 1 identifiers")
}

func TestTextIgnoresSchemaTranslation(t *testing.T) {
	cc := &CompileContext{
		Quoter:          &dialect.Generic{},
		SchemaTranslate: schema.TranslateMap{schema.Default: schema.Named("s1")},
	}
	compiled, err := Text("SELECT * FROM t").Bind("a").Compile(cc)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t", compiled.SQL)
	assert.True(t, compiled.IsText)
	assert.Equal(t, []any{"a"}, compiled.Params)
}

func TestStatementOptionsAreGenerative(t *testing.T) {
	base := Text("UPDATE t SET x = 1")
	withOpts := base.WithOptions(execopts.Autocommit(false))

	_, ok := base.Options().Autocommit()
	assert.False(t, ok)
	v, ok := withOpts.Options().Autocommit()
	assert.True(t, ok)
	assert.False(t, v)

	c := Compose("SELECT * FROM %s", Table{Name: "t"}).WithOptions(execopts.StreamResults(true))
	assert.True(t, c.Options().StreamResults())
	assert.Len(t, c.Identifiers(), 1)
}
