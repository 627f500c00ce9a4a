package schema

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

type Order string

const (
	Asc  Order = "ASC"
	Desc Order = "DESC"
)

// Schema is a table description as declared by the application. It is the
// input to Normalize and is never mutated by this module.
type Schema struct {
	TableName         string
	Fields            []*Field
	Key               Key
	ClusteringOrder   map[string]Order
	Indexes           []string
	CustomIndexes     []CustomIndex
	MaterializedViews map[string]*MaterializedView
}

type Field struct {
	Name    string
	Type    string
	TypeDef string
	Static  bool
	Virtual *Virtual
	Default *Default
	Rule    *Rule
}

// Virtual marks a computed field. It is never persisted; Get and Set see the
// record's persisted values.
type Virtual struct {
	Get func(values map[string]any) any
	Set func(values map[string]any, value any)
}

// Default supplies a value for a field the caller left unset. Exactly one of
// Value, Func, DBFunction or Generator is meaningful.
type Default struct {
	Value      any
	Func       func() any
	DBFunction DBFunction
	Generator  string
}

var defaultGenerators = map[string]func() any{
	"uuid": func() any { return uuid.New().String() },
	"timeuuid": func() any {
		u, err := uuid.NewUUID()
		if err != nil {
			panic(err)
		}
		return u.String()
	},
	"now": func() any { return time.Now().UTC() },
}

// Resolve returns the default value and whether one is defined.
func (d *Default) Resolve() (any, bool) {
	if d == nil {
		return nil, false
	}
	switch {
	case d.Func != nil:
		return d.Func(), true
	case d.DBFunction != "":
		return d.DBFunction, true
	case d.Generator != "":
		gen, ok := defaultGenerators[d.Generator]
		if !ok {
			return nil, false
		}
		return gen(), true
	case d.Value != nil:
		return d.Value, true
	}
	return nil, false
}

// Key is a primary key: one or more partition fields followed by clustering
// fields.
type Key struct {
	Partition  []string
	Clustering []string
}

func (k Key) Fields() []string {
	return append(slices.Clone(k.Partition), k.Clustering...)
}

func (k Key) Contains(name string) bool {
	return k.IsPartition(name) || k.IsClustering(name)
}

func (k Key) IsPartition(name string) bool {
	return slices.Contains(k.Partition, name)
}

func (k Key) IsClustering(name string) bool {
	return slices.Contains(k.Clustering, name)
}

func (k Key) Equal(o Key) bool {
	return slices.Equal(k.Partition, o.Partition) && slices.Equal(k.Clustering, o.Clustering)
}

func (k Key) clone() Key {
	return Key{Partition: slices.Clone(k.Partition), Clustering: slices.Clone(k.Clustering)}
}

type CustomIndex struct {
	On      string
	Using   string
	Options map[string]string
}

type MaterializedView struct {
	Select          []string
	Key             Key
	ClusteringOrder map[string]Order
}

func (s *Schema) Field(name string) *Field {
	for _, f := range s.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// FieldType returns the normalized base type of a declared field.
func (s *Schema) FieldType(name string) (string, error) {
	f := s.Field(name)
	if f == nil {
		return "", fmt.Errorf("field %q not found in schema of table %q", name, s.TableName)
	}
	return ExtractType(f.Type), nil
}

// Validators returns the type validator followed by the field's rule
// validators.
func (s *Schema) Validators(name string) ([]Validator, error) {
	f := s.Field(name)
	if f == nil {
		return nil, fmt.Errorf("field %q not found in schema of table %q", name, s.TableName)
	}
	var validators []Validator
	if v := GenericTypeValidator(ExtractType(f.Type)); v != nil {
		validators = append(validators, *v)
	}
	if f.Rule != nil {
		for _, v := range f.Rule.Validators {
			resolved, err := v.resolve()
			if err != nil {
				return nil, err
			}
			validators = append(validators, resolved)
		}
	}
	return validators, nil
}

// PersistedFields returns the non-virtual fields in declaration order.
func (s *Schema) PersistedFields() []*Field {
	fields := make([]*Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.Virtual == nil {
			fields = append(fields, f)
		}
	}
	return fields
}
