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
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Row is one row of a Result.
type Row struct {
	columns []string
	values  []any
}

// Columns returns the column names.
func (r Row) Columns() []string {
	return r.columns
}

// Values returns the column values in order.
func (r Row) Values() []any {
	return r.values
}

// Get returns the value of the named column.
func (r Row) Get(column string) (any, bool) {
	for i, c := range r.columns {
		if c == column && i < len(r.values) {
			return r.values[i], true
		}
	}
	return nil, false
}

// Map returns the row keyed by column name.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.columns))
	for i, c := range r.columns {
		if i < len(r.values) {
			m[c] = r.values[i]
		}
	}
	return m
}

// Scan copies the row's values into the pointers in dest, converting
// between compatible types ([]byte to string, numeric strings to numbers,
// and so on). A NULL sets the destination to its zero value.
func (r Row) Scan(dest ...any) error {
	if len(dest) != len(r.values) {
		return fmt.Errorf("expected %d destination arguments in Scan, not %d", len(r.values), len(dest))
	}
	for i, d := range dest {
		if err := scanValue(r.values[i], d); err != nil {
			return fmt.Errorf("failed to scan column %d (%s): %w", i, r.columnName(i), err)
		}
	}
	return nil
}

func (r Row) columnName(i int) string {
	if i < len(r.columns) {
		return r.columns[i]
	}
	return "?"
}

func scanValue(src, dest any) error {
	if p, ok := dest.(*any); ok {
		*p = src
		return nil
	}
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return fmt.Errorf("destination must be a non-nil pointer, got %T", dest)
	}
	dv = dv.Elem()
	if src == nil {
		dv.Set(reflect.Zero(dv.Type()))
		return nil
	}
	sv := reflect.ValueOf(src)
	if sv.Type().AssignableTo(dv.Type()) {
		dv.Set(sv)
		return nil
	}
	return mapstructure.WeakDecode(src, dest)
}

// Decode decodes the row into a struct or map. Struct fields are matched
// against column names, case-insensitively, or by their `db` tag.
func (r Row) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "db",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create row decoder: %w", err)
	}
	if err := dec.Decode(r.Map()); err != nil {
		return fmt.Errorf("failed to decode row: %w", err)
	}
	return nil
}
