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

// Package schema implements schema-name translation for multi-tenant
// routing. Translation rewrites the schema of identifiers that come from
// table and sequence metadata while statements are compiled; it is never
// applied to literal SQL text.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Name is an optional schema name. The zero Name is the default (null)
// schema, which compiles as an unqualified identifier.
type Name struct {
	Value string
	Valid bool
}

// Default is the null schema.
var Default = Name{}

// Named returns a named schema.
func Named(s string) Name {
	return Name{Value: s, Valid: true}
}

// IsDefault reports whether n is the null schema.
func (n Name) IsDefault() bool {
	return !n.Valid
}

func (n Name) String() string {
	if !n.Valid {
		return "<default>"
	}
	return n.Value
}

// TranslateMap maps a schema to its replacement. A Default key redirects
// every unqualified metadata object; a Default value removes the
// qualification.
type TranslateMap map[Name]Name

// Translate resolves name through m. Names that are not keys of m pass
// through unchanged.
func Translate(name Name, m TranslateMap) Name {
	if r, ok := m[name]; ok {
		return r
	}
	return name
}

// Clone returns a copy of m.
func (m TranslateMap) Clone() TranslateMap {
	if m == nil {
		return nil
	}
	out := make(TranslateMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m TranslateMap) String() string {
	parts := make([]string, 0, len(m))
	for k, v := range m {
		parts = append(parts, k.String()+"->"+v.String())
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ", ") + "}"
}

// ParseTranslateMap parses a YAML mapping into a TranslateMap. A null key or
// value (~ or null) stands for the default schema:
//
//	~: tenant_1
//	public: ~
func ParseTranslateMap(data []byte) (TranslateMap, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema translate map: %w", err)
	}
	m := make(TranslateMap)
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return m, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("schema translate map must be a mapping, got line %d", root.Line)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, err := nameFromNode(root.Content[i])
		if err != nil {
			return nil, err
		}
		val, err := nameFromNode(root.Content[i+1])
		if err != nil {
			return nil, err
		}
		if _, dup := m[key]; dup {
			return nil, fmt.Errorf("duplicate schema %s in translate map at line %d", key, root.Content[i].Line)
		}
		m[key] = val
	}
	return m, nil
}

func nameFromNode(n *yaml.Node) (Name, error) {
	if n.Kind != yaml.ScalarNode {
		return Name{}, fmt.Errorf("schema names must be scalars, got line %d", n.Line)
	}
	if n.ShortTag() == "!!null" {
		return Default, nil
	}
	return Named(n.Value), nil
}
