package query

import (
	"maps"
	"reflect"
	"slices"

	"github.com/cqldef/cqldef/cqlerr"
	"github.com/cqldef/cqldef/schema"
)

// Record is one row of a table. Every mutation through Set records the field
// in the changed set; rows read from the store start with an empty one.
type Record struct {
	schema  *schema.Schema
	values  map[string]any
	changed map[string]bool
}

// NewRecord builds a record from caller-supplied values. Each supplied field
// counts as changed. Values for virtual fields go through their setters.
func NewRecord(s *schema.Schema, values map[string]any) (*Record, error) {
	r := &Record{schema: s, values: map[string]any{}, changed: map[string]bool{}}
	for _, name := range slices.Sorted(maps.Keys(values)) {
		if err := r.Set(name, values[name]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Hydrate wraps a row read from the store. Columns that are not declared
// fields, such as "[applied]", are dropped.
func Hydrate(s *schema.Schema, row map[string]any) *Record {
	r := &Record{schema: s, values: map[string]any{}, changed: map[string]bool{}}
	for _, f := range s.PersistedFields() {
		if v, ok := row[f.Name]; ok {
			r.values[f.Name] = v
		}
	}
	return r
}

func (r *Record) Schema() *schema.Schema {
	return r.schema
}

// Get returns the value of a field, computing virtual fields.
func (r *Record) Get(name string) any {
	f := r.schema.Field(name)
	if f != nil && f.Virtual != nil {
		if f.Virtual.Get == nil {
			return nil
		}
		return f.Virtual.Get(r.values)
	}
	return r.values[name]
}

// Lookup returns a persisted value and whether it was ever assigned. An
// assigned nil is an explicit null.
func (r *Record) Lookup(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Set assigns a field. Assigning the current value again does not mark the
// field as changed.
func (r *Record) Set(name string, value any) error {
	f := r.schema.Field(name)
	if f == nil {
		return cqlerr.Field(cqlerr.ValidationFailed, name, "unknown field")
	}
	if f.Virtual != nil {
		if f.Virtual.Set != nil {
			before := maps.Clone(r.values)
			f.Virtual.Set(r.values, value)
			r.markDifferences(before)
		}
		return nil
	}
	if old, ok := r.values[name]; !ok || !reflect.DeepEqual(old, value) {
		r.changed[name] = true
	}
	r.values[name] = value
	return nil
}

func (r *Record) markDifferences(before map[string]any) {
	for name, v := range r.values {
		if old, ok := before[name]; !ok || !reflect.DeepEqual(old, v) {
			r.changed[name] = true
		}
	}
	for name := range before {
		if _, ok := r.values[name]; !ok {
			r.changed[name] = true
		}
	}
}

// Unset removes a field's value so that saving falls back to its default.
func (r *Record) Unset(name string) {
	if _, ok := r.values[name]; ok {
		delete(r.values, name)
		r.changed[name] = true
	}
}

// IsModified reports whether any of the named fields changed, or whether
// anything changed when no name is given.
func (r *Record) IsModified(names ...string) bool {
	if len(names) == 0 {
		return len(r.changed) > 0
	}
	for _, name := range names {
		if r.changed[name] {
			return true
		}
	}
	return false
}

// Changed lists the changed fields in sorted order.
func (r *Record) Changed() []string {
	return slices.Sorted(maps.Keys(r.changed))
}

func (r *Record) ClearChanges() {
	clear(r.changed)
}

// Values returns a copy of the persisted values.
func (r *Record) Values() map[string]any {
	return maps.Clone(r.values)
}

// ToMap returns every declared field, virtual ones included.
func (r *Record) ToMap() map[string]any {
	m := make(map[string]any, len(r.schema.Fields))
	for _, f := range r.schema.Fields {
		m[f.Name] = r.Get(f.Name)
	}
	return m
}

// KeyObject returns a query object matching this record by primary key.
func (r *Record) KeyObject() Object {
	key := Object{}
	for _, name := range r.schema.Key.Fields() {
		key = append(key, Pair{Key: name, Value: r.values[name]})
	}
	return key
}
