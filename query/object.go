package query

import (
	"fmt"
	"maps"
	"slices"

	"github.com/cqldef/cqldef/cqlerr"
	"github.com/goccy/go-yaml"
)

// Pair is one entry of an Object.
type Pair struct {
	Key   string
	Value any
}

// Object is an ordered query, update or condition object. Entry order decides
// the order of clauses and of bound parameters in compiled statements.
type Object []Pair

// Obj builds an Object from alternating keys and values:
//
//	query.Obj("name", "bob", "age", query.Obj("$gte", 5))
func Obj(kv ...any) Object {
	if len(kv)%2 != 0 {
		panic(fmt.Sprintf("query.Obj: odd number of arguments (%d)", len(kv)))
	}
	o := make(Object, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("query.Obj: key %v is %T, not a string", kv[i], kv[i]))
		}
		o = append(o, Pair{Key: key, Value: kv[i+1]})
	}
	return o
}

// FromMap converts a plain map into an Object with keys in sorted order.
func FromMap(m map[string]any) Object {
	o := make(Object, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		o = append(o, Pair{Key: k, Value: m[k]})
	}
	return o
}

func (o Object) Get(key string) (any, bool) {
	for _, p := range o {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

func (o Object) Keys() []string {
	keys := make([]string, len(o))
	for i, p := range o {
		keys[i] = p.Key
	}
	return keys
}

// Map converts o, and every Object nested in it, into plain maps.
func (o Object) Map() map[string]any {
	m := make(map[string]any, len(o))
	for _, p := range o {
		m[p.Key] = plain(p.Value)
	}
	return m
}

// asObject views v as an Object when it is one or a plain map.
func asObject(v any) (Object, bool) {
	switch obj := v.(type) {
	case Object:
		return obj, true
	case map[string]any:
		return FromMap(obj), true
	}
	return nil, false
}

// plain turns nested Objects into maps so values can be validated and bound.
func plain(v any) any {
	switch value := v.(type) {
	case Object:
		return value.Map()
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = plain(item)
		}
		return out
	}
	return v
}

// ParseObject reads a query object written as YAML or JSON, keeping the key
// order of every nested mapping.
func ParseObject(buf []byte) (Object, error) {
	var doc yaml.MapSlice
	if err := yaml.UnmarshalWithOptions(buf, &doc, yaml.UseOrderedMap()); err != nil {
		return nil, cqlerr.Wrap(cqlerr.InvalidFindOperator, "failed to parse query object", err)
	}
	return fromMapSlice(doc), nil
}

func fromMapSlice(m yaml.MapSlice) Object {
	o := make(Object, 0, len(m))
	for _, item := range m {
		o = append(o, Pair{Key: fmt.Sprint(item.Key), Value: fromYAML(item.Value)})
	}
	return o
}

func fromYAML(v any) any {
	switch value := v.(type) {
	case yaml.MapSlice:
		return fromMapSlice(value)
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = fromYAML(item)
		}
		return out
	case uint64:
		if value <= 1<<63-1 {
			return int64(value)
		}
		return value
	case int:
		return int64(value)
	}
	return v
}
