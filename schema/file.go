package schema

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/cqldef/cqldef/cqlerr"
	"github.com/cqldef/cqldef/util"
	"github.com/goccy/go-yaml"
)

// Keyspace is the content of a schema file: a keyspace name and its tables in
// declaration order.
type Keyspace struct {
	Name   string
	Tables []*Schema
}

func (k *Keyspace) Table(name string) *Schema {
	for _, t := range k.Tables {
		if t.TableName == name {
			return t
		}
	}
	return nil
}

func ParseFile(path string) (*Keyspace, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(buf)
}

// Parse reads a schema file:
//
//	keyspace: app
//	tables:
//	  users:
//	    fields:
//	      id: uuid
//	      tags: {type: set, typeDef: <text>}
//	    key: [[id]]
func Parse(buf []byte) (*Keyspace, error) {
	var doc yaml.MapSlice
	if err := yaml.UnmarshalWithOptions(buf, &doc, yaml.UseOrderedMap()); err != nil {
		return nil, cqlerr.Wrap(cqlerr.InvalidSchema, "failed to parse schema file", err)
	}

	ks := &Keyspace{}
	for _, item := range doc {
		switch fmt.Sprint(item.Key) {
		case "keyspace":
			ks.Name = fmt.Sprint(item.Value)
		case "tables":
			tables, ok := item.Value.(yaml.MapSlice)
			if !ok {
				return nil, cqlerr.New(cqlerr.InvalidSchema, "tables must be a map of table name to definition")
			}
			for _, t := range tables {
				table, err := parseTable(fmt.Sprint(t.Key), t.Value)
				if err != nil {
					return nil, err
				}
				ks.Tables = append(ks.Tables, table)
			}
		default:
			return nil, cqlerr.Newf(cqlerr.InvalidSchema, "unknown top-level key %q", item.Key)
		}
	}
	return ks, nil
}

// ParseTable reads a single table definition document.
func ParseTable(name string, buf []byte) (*Schema, error) {
	var doc yaml.MapSlice
	if err := yaml.UnmarshalWithOptions(buf, &doc, yaml.UseOrderedMap()); err != nil {
		return nil, cqlerr.Wrap(cqlerr.InvalidSchema, "failed to parse table definition", err)
	}
	return parseTable(name, doc)
}

func parseTable(name string, v any) (*Schema, error) {
	def, ok := v.(yaml.MapSlice)
	if !ok {
		return nil, cqlerr.Newf(cqlerr.InvalidSchema, "table %q must be a map", name)
	}
	s := &Schema{TableName: name}
	for _, item := range def {
		key := fmt.Sprint(item.Key)
		var err error
		switch key {
		case "table_name":
			s.TableName = fmt.Sprint(item.Value)
		case "fields":
			s.Fields, err = parseFields(item.Value)
		case "key":
			s.Key, err = parseKey(item.Value)
		case "clustering_order":
			s.ClusteringOrder, err = parseClusteringOrder(item.Value)
		case "indexes":
			s.Indexes, err = stringList(item.Value)
		case "custom_indexes":
			list, ok := item.Value.([]any)
			if !ok {
				err = fmt.Errorf("custom_indexes must be a list")
				break
			}
			for _, entry := range list {
				idx, perr := parseCustomIndex(entry)
				if perr != nil {
					err = perr
					break
				}
				s.CustomIndexes = append(s.CustomIndexes, idx)
			}
		case "custom_index":
			var idx CustomIndex
			idx, err = parseCustomIndex(item.Value)
			s.CustomIndexes = append(s.CustomIndexes, idx)
		case "materialized_views":
			s.MaterializedViews, err = parseViews(item.Value)
		default:
			err = fmt.Errorf("unknown key %q", key)
		}
		if err != nil {
			return nil, cqlerr.Wrap(cqlerr.InvalidSchema, fmt.Sprintf("table %q: %s", name, key), err)
		}
	}
	return s, nil
}

func parseFields(v any) ([]*Field, error) {
	def, ok := v.(yaml.MapSlice)
	if !ok {
		return nil, fmt.Errorf("fields must be a map")
	}
	var fields []*Field
	for _, item := range def {
		field := &Field{Name: fmt.Sprint(item.Key)}
		switch value := item.Value.(type) {
		case string:
			field.Type = value
		case yaml.MapSlice:
			for _, attr := range value {
				switch fmt.Sprint(attr.Key) {
				case "type":
					field.Type = fmt.Sprint(attr.Value)
				case "typeDef":
					field.TypeDef = fmt.Sprint(attr.Value)
				case "static":
					field.Static = attr.Value == true
				case "virtual":
					if attr.Value == true {
						field.Virtual = &Virtual{}
					}
				case "default":
					field.Default = parseDefault(attr.Value)
				case "rule":
					rule, err := parseRule(attr.Value)
					if err != nil {
						return nil, fmt.Errorf("field %q: %w", field.Name, err)
					}
					field.Rule = rule
				default:
					return nil, fmt.Errorf("field %q: unknown attribute %q", field.Name, attr.Key)
				}
			}
		default:
			return nil, fmt.Errorf("field %q must be a type name or a map", field.Name)
		}
		fields = append(fields, field)
	}
	return fields, nil
}

func parseDefault(v any) *Default {
	if m, ok := v.(yaml.MapSlice); ok && len(m) == 1 {
		switch fmt.Sprint(m[0].Key) {
		case "$db_function":
			return &Default{DBFunction: DBFunction(fmt.Sprint(m[0].Value))}
		case "$generator":
			return &Default{Generator: fmt.Sprint(m[0].Value)}
		}
	}
	return &Default{Value: PlainValue(v)}
}

func parseRule(v any) (*Rule, error) {
	switch rule := v.(type) {
	case string:
		return &Rule{Validators: []Validator{{Builtin: rule}}}, nil
	case yaml.MapSlice:
		r := &Rule{}
		var single Validator
		for _, item := range rule {
			switch fmt.Sprint(item.Key) {
			case "required":
				r.Required = item.Value == true
			case "ignore_default":
				r.IgnoreDefault = item.Value == true
			case "validator":
				single.Builtin = fmt.Sprint(item.Value)
			case "message":
				single.Message = fixedMessage(fmt.Sprint(item.Value))
			case "validators":
				list, ok := item.Value.([]any)
				if !ok {
					return nil, fmt.Errorf("validators must be a list")
				}
				for _, entry := range list {
					v, err := parseValidator(entry)
					if err != nil {
						return nil, err
					}
					r.Validators = append(r.Validators, v)
				}
			default:
				return nil, fmt.Errorf("unknown rule attribute %q", item.Key)
			}
		}
		if single.Builtin != "" {
			r.Validators = append([]Validator{single}, r.Validators...)
		}
		return r, nil
	}
	return nil, fmt.Errorf("rule must be a validator name or a map")
}

func parseValidator(v any) (Validator, error) {
	switch entry := v.(type) {
	case string:
		return Validator{Builtin: entry}, nil
	case yaml.MapSlice:
		var validator Validator
		for _, item := range entry {
			switch fmt.Sprint(item.Key) {
			case "validator":
				validator.Builtin = fmt.Sprint(item.Value)
			case "message":
				validator.Message = fixedMessage(fmt.Sprint(item.Value))
			default:
				return Validator{}, fmt.Errorf("unknown validator attribute %q", item.Key)
			}
		}
		return validator, nil
	}
	return Validator{}, fmt.Errorf("validator must be a name or a map")
}

func fixedMessage(msg string) func(any, string, string) string {
	return func(any, string, string) string { return msg }
}

func parseKey(v any) (Key, error) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return Key{}, fmt.Errorf("key must be a non-empty list")
	}
	var key Key
	switch first := list[0].(type) {
	case []any:
		partition, err := stringList(first)
		if err != nil {
			return Key{}, err
		}
		key.Partition = partition
	default:
		key.Partition = []string{fmt.Sprint(first)}
	}
	clustering, err := stringList(list[1:])
	if err != nil {
		return Key{}, err
	}
	key.Clustering = clustering
	return key, nil
}

func parseClusteringOrder(v any) (map[string]Order, error) {
	def, ok := v.(yaml.MapSlice)
	if !ok {
		return nil, fmt.Errorf("clustering_order must be a map")
	}
	order := map[string]Order{}
	for _, item := range def {
		order[fmt.Sprint(item.Key)] = Order(strings.ToUpper(fmt.Sprint(item.Value)))
	}
	return order, nil
}

func parseCustomIndex(v any) (CustomIndex, error) {
	def, ok := v.(yaml.MapSlice)
	if !ok {
		return CustomIndex{}, fmt.Errorf("custom index must be a map")
	}
	idx := CustomIndex{Options: map[string]string{}}
	for _, item := range def {
		switch fmt.Sprint(item.Key) {
		case "on":
			idx.On = fmt.Sprint(item.Value)
		case "using":
			idx.Using = fmt.Sprint(item.Value)
		case "options":
			options, ok := item.Value.(yaml.MapSlice)
			if !ok {
				return CustomIndex{}, fmt.Errorf("custom index options must be a map")
			}
			for _, opt := range options {
				idx.Options[fmt.Sprint(opt.Key)] = fmt.Sprint(opt.Value)
			}
		default:
			return CustomIndex{}, fmt.Errorf("unknown custom index attribute %q", item.Key)
		}
	}
	return idx, nil
}

func parseViews(v any) (map[string]*MaterializedView, error) {
	def, ok := v.(yaml.MapSlice)
	if !ok {
		return nil, fmt.Errorf("materialized_views must be a map")
	}
	views := map[string]*MaterializedView{}
	for _, item := range def {
		name := fmt.Sprint(item.Key)
		attrs, ok := item.Value.(yaml.MapSlice)
		if !ok {
			return nil, fmt.Errorf("materialized view %q must be a map", name)
		}
		view := &MaterializedView{}
		for _, attr := range attrs {
			var err error
			switch fmt.Sprint(attr.Key) {
			case "select":
				view.Select, err = stringList(attr.Value)
			case "key":
				view.Key, err = parseKey(attr.Value)
			case "clustering_order":
				view.ClusteringOrder, err = parseClusteringOrder(attr.Value)
			default:
				err = fmt.Errorf("unknown attribute %q", attr.Key)
			}
			if err != nil {
				return nil, fmt.Errorf("materialized view %q: %w", name, err)
			}
		}
		views[name] = view
	}
	return views, nil
}

func stringList(v any) ([]string, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if _, nested := item.([]any); nested {
			return nil, fmt.Errorf("unexpected nested list %v", item)
		}
		out = append(out, fmt.Sprint(item))
	}
	return out, nil
}

// PlainValue converts decoded YAML into plain Go values: ordered maps become
// map[string]any and unsigned integers become int64 where they fit.
func PlainValue(v any) any {
	switch value := v.(type) {
	case yaml.MapSlice:
		m := make(map[string]any, len(value))
		for _, item := range value {
			m[fmt.Sprint(item.Key)] = PlainValue(item.Value)
		}
		return m
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = PlainValue(item)
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

// Marshal renders a keyspace as a schema file that Parse reads back.
func Marshal(ks *Keyspace) ([]byte, error) {
	tables := yaml.MapSlice{}
	for _, t := range ks.Tables {
		tables = append(tables, yaml.MapItem{Key: t.TableName, Value: tableDocument(t)})
	}
	doc := yaml.MapSlice{}
	if ks.Name != "" {
		doc = append(doc, yaml.MapItem{Key: "keyspace", Value: ks.Name})
	}
	doc = append(doc, yaml.MapItem{Key: "tables", Value: tables})
	return yaml.Marshal(doc)
}

func tableDocument(s *Schema) yaml.MapSlice {
	fields := yaml.MapSlice{}
	for _, f := range s.PersistedFields() {
		typ := f.Type + f.TypeDef
		if f.Static {
			fields = append(fields, yaml.MapItem{Key: f.Name, Value: yaml.MapSlice{
				{Key: "type", Value: typ},
				{Key: "static", Value: true},
			}})
		} else {
			fields = append(fields, yaml.MapItem{Key: f.Name, Value: typ})
		}
	}
	doc := yaml.MapSlice{
		{Key: "fields", Value: fields},
		{Key: "key", Value: keyDocument(s.Key)},
	}
	if order := orderDocument(s.Key, s.ClusteringOrder); len(order) > 0 {
		doc = append(doc, yaml.MapItem{Key: "clustering_order", Value: order})
	}
	if len(s.Indexes) > 0 {
		doc = append(doc, yaml.MapItem{Key: "indexes", Value: s.Indexes})
	}
	if len(s.CustomIndexes) > 0 {
		var list []any
		for _, idx := range s.CustomIndexes {
			options := yaml.MapSlice{}
			for k, v := range util.CanonicalMapIter(idx.Options) {
				options = append(options, yaml.MapItem{Key: k, Value: v})
			}
			list = append(list, yaml.MapSlice{
				{Key: "on", Value: idx.On},
				{Key: "using", Value: idx.Using},
				{Key: "options", Value: options},
			})
		}
		doc = append(doc, yaml.MapItem{Key: "custom_indexes", Value: list})
	}
	if len(s.MaterializedViews) > 0 {
		views := yaml.MapSlice{}
		for _, name := range sortedViewNames(s.MaterializedViews) {
			view := s.MaterializedViews[name]
			attrs := yaml.MapSlice{
				{Key: "select", Value: view.Select},
				{Key: "key", Value: keyDocument(view.Key)},
			}
			if order := orderDocument(view.Key, view.ClusteringOrder); len(order) > 0 {
				attrs = append(attrs, yaml.MapItem{Key: "clustering_order", Value: order})
			}
			views = append(views, yaml.MapItem{Key: name, Value: attrs})
		}
		doc = append(doc, yaml.MapItem{Key: "materialized_views", Value: views})
	}
	return doc
}

func keyDocument(k Key) []any {
	key := []any{k.Partition}
	for _, c := range k.Clustering {
		key = append(key, c)
	}
	return key
}

func orderDocument(k Key, order map[string]Order) yaml.MapSlice {
	doc := yaml.MapSlice{}
	for _, c := range k.Clustering {
		if o, ok := order[c]; ok {
			doc = append(doc, yaml.MapItem{Key: c, Value: strings.ToLower(string(o))})
		}
	}
	return doc
}

// Denormalize turns a normalized schema back into a declarable one, e.g. for
// exporting the live schema of a table.
func Denormalize(n *NormalizedSchema) *Schema {
	s := &Schema{
		TableName:         n.TableName,
		Key:               n.Key.clone(),
		ClusteringOrder:   map[string]Order{},
		Indexes:           append([]string(nil), n.Indexes...),
		MaterializedViews: map[string]*MaterializedView{},
	}
	for _, name := range n.FieldOrder {
		f := n.Fields[name]
		s.Fields = append(s.Fields, &Field{Name: name, Type: f.Type, TypeDef: f.TypeDef, Static: f.Static})
	}
	for k, v := range n.ClusteringOrder {
		s.ClusteringOrder[k] = v
	}
	for _, idx := range n.CustomIndexes {
		s.CustomIndexes = append(s.CustomIndexes, CustomIndex{On: idx.On, Using: idx.Using, Options: idx.Options})
	}
	for name, v := range n.MaterializedViews {
		view := &MaterializedView{Select: append([]string(nil), v.Select...), Key: v.Key.clone(), ClusteringOrder: v.ClusteringOrder}
		if v.Wildcard {
			view.Select = []string{"*"}
		}
		s.MaterializedViews[name] = view
	}
	return s
}

func sortedViewNames(views map[string]*MaterializedView) []string {
	names := make([]string, 0, len(views))
	for name := range views {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
