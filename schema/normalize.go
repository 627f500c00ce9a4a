package schema

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/cqldef/cqldef/cqlerr"
	"github.com/cqldef/cqldef/util"
	"github.com/spaolacci/murmur3"
)

// NormalizedSchema is the canonical form of a table used for structural
// comparison. Two schemas that differ only in declaration order normalize to
// values for which Equal holds.
type NormalizedSchema struct {
	TableName         string
	Fields            map[string]NormalizedField
	FieldOrder        []string
	Key               Key
	ClusteringOrder   map[string]Order
	Indexes           []string
	CustomIndexes     []CustomIndex
	MaterializedViews map[string]*NormalizedView
}

type NormalizedField struct {
	Type    string
	TypeDef string
	Static  bool
}

// CQLType renders the full column type, e.g. "map<text,int>".
func (f NormalizedField) CQLType() string {
	return f.Type + f.TypeDef
}

type NormalizedView struct {
	Select []string
	// Wildcard records a "SELECT *" declaration; the catalog cannot tell the
	// difference, so Equal ignores it.
	Wildcard        bool
	Key             Key
	ClusteringOrder map[string]Order
}

var indexFunctions = map[string]bool{
	"keys":    true,
	"values":  true,
	"entries": true,
	"full":    true,
}

// Normalize validates a declared schema and returns its canonical form.
func Normalize(s *Schema) (*NormalizedSchema, error) {
	if s == nil {
		return nil, cqlerr.New(cqlerr.InvalidSchema, "schema is nil")
	}
	if !ValidTableName(s.TableName) {
		return nil, cqlerr.Newf(cqlerr.InvalidTableName, "invalid table name %q", s.TableName)
	}

	n := &NormalizedSchema{
		TableName:         s.TableName,
		Fields:            map[string]NormalizedField{},
		ClusteringOrder:   map[string]Order{},
		MaterializedViews: map[string]*NormalizedView{},
	}

	virtual := map[string]bool{}
	for _, f := range s.Fields {
		if f == nil || f.Name == "" {
			return nil, cqlerr.New(cqlerr.InvalidSchema, "field without a name")
		}
		if _, ok := n.Fields[f.Name]; ok || virtual[f.Name] {
			return nil, cqlerr.Field(cqlerr.InvalidSchema, f.Name, "duplicate field")
		}
		if err := checkRule(f); err != nil {
			return nil, err
		}
		if f.Virtual != nil {
			virtual[f.Name] = true
			continue
		}
		field, err := normalizeField(f)
		if err != nil {
			return nil, err
		}
		n.Fields[f.Name] = field
		n.FieldOrder = append(n.FieldOrder, f.Name)
	}

	key, order, err := normalizeKey(s.Key, s.ClusteringOrder, n.Fields, "")
	if err != nil {
		return nil, err
	}
	for _, name := range key.Fields() {
		if n.Fields[name].Static {
			return nil, cqlerr.Field(cqlerr.InvalidSchema, name, "primary key field cannot be static")
		}
	}
	if len(key.Clustering) == 0 {
		for _, name := range n.FieldOrder {
			if n.Fields[name].Static {
				return nil, cqlerr.Field(cqlerr.InvalidSchema, name, "static fields require clustering key")
			}
		}
	}
	n.Key = key
	n.ClusteringOrder = order

	for _, target := range s.Indexes {
		canonical, err := canonicalIndexTarget(target, n.Fields)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(n.Indexes, canonical) {
			n.Indexes = append(n.Indexes, canonical)
		}
	}
	slices.Sort(n.Indexes)

	seen := map[string]bool{}
	for _, idx := range s.CustomIndexes {
		normalized, err := normalizeCustomIndex(idx, n.Fields)
		if err != nil {
			return nil, err
		}
		if h := normalized.Hash(); !seen[h] {
			seen[h] = true
			n.CustomIndexes = append(n.CustomIndexes, normalized)
		}
	}
	sortCustomIndexes(n.CustomIndexes)

	for name, view := range s.MaterializedViews {
		if !ValidTableName(name) {
			return nil, cqlerr.Newf(cqlerr.InvalidTableName, "invalid materialized view name %q", name)
		}
		normalized, err := normalizeView(name, view, n)
		if err != nil {
			return nil, err
		}
		n.MaterializedViews[name] = normalized
	}

	return n, nil
}

func normalizeField(f *Field) (NormalizedField, error) {
	typeName := normalizeTypeName(f.Type)
	typeDef := normalizeTypeDef(f.TypeDef)
	if typeName == "" {
		return NormalizedField{}, cqlerr.Field(cqlerr.InvalidSchema, f.Name, "missing type")
	}
	// "list<text>" written directly as the type
	if i := strings.IndexByte(typeName, '<'); i >= 0 && typeDef == "" {
		typeName, typeDef = ExtractType(f.Type), ExtractTypeDef(f.Type)
	}
	switch {
	case isParameterized(typeName) && typeDef == "":
		return NormalizedField{}, cqlerr.Field(cqlerr.InvalidSchema, f.Name, fmt.Sprintf("type %s requires a typeDef", typeName))
	case !isParameterized(typeName) && typeDef != "":
		return NormalizedField{}, cqlerr.Field(cqlerr.InvalidSchema, f.Name, fmt.Sprintf("type %s does not take a typeDef", typeName))
	case typeDef != "" && !validTypeDef(typeDef):
		return NormalizedField{}, cqlerr.Field(cqlerr.InvalidSchema, f.Name, fmt.Sprintf("invalid typeDef %q", f.TypeDef))
	case !isKnownType(typeName) && !ValidTableName(typeName):
		return NormalizedField{}, cqlerr.Field(cqlerr.InvalidSchema, f.Name, fmt.Sprintf("unknown type %q", f.Type))
	}
	return NormalizedField{Type: typeName, TypeDef: typeDef, Static: f.Static}, nil
}

func checkRule(f *Field) error {
	if f.Default != nil && f.Default.Generator != "" {
		if _, ok := defaultGenerators[f.Default.Generator]; !ok {
			return cqlerr.Field(cqlerr.InvalidSchema, f.Name, fmt.Sprintf("unknown default generator %q", f.Default.Generator))
		}
	}
	if f.Rule == nil {
		return nil
	}
	for _, v := range f.Rule.Validators {
		if _, err := v.resolve(); err != nil {
			return &cqlerr.Error{Kind: cqlerr.InvalidSchema, Field: f.Name, Message: err.Error()}
		}
	}
	return nil
}

// normalizeKey checks a key against the available fields. owner names the
// materialized view being checked, or "" for the table itself.
func normalizeKey(key Key, clusteringOrder map[string]Order, fields map[string]NormalizedField, owner string) (Key, map[string]Order, error) {
	where := "table"
	if owner != "" {
		where = fmt.Sprintf("materialized view %q", owner)
	}
	if len(key.Partition) == 0 {
		return Key{}, nil, cqlerr.Newf(cqlerr.InvalidSchema, "%s: partition key must not be empty", where)
	}
	seen := map[string]bool{}
	for _, name := range key.Fields() {
		if _, ok := fields[name]; !ok {
			return Key{}, nil, cqlerr.Field(cqlerr.InvalidSchema, name, where+": key field is not a persisted field")
		}
		if seen[name] {
			return Key{}, nil, cqlerr.Field(cqlerr.InvalidSchema, name, where+": key field appears more than once")
		}
		seen[name] = true
	}

	order := map[string]Order{}
	for name, o := range clusteringOrder {
		if !slices.Contains(key.Clustering, name) {
			return Key{}, nil, cqlerr.Field(cqlerr.InvalidSchema, name, where+": clustering order on a field that is not a clustering key")
		}
		switch Order(strings.ToUpper(string(o))) {
		case Asc:
			order[name] = Asc
		case Desc:
			order[name] = Desc
		default:
			return Key{}, nil, cqlerr.Field(cqlerr.InvalidSchema, name, fmt.Sprintf("%s: invalid clustering order %q", where, o))
		}
	}
	for _, name := range key.Clustering {
		if _, ok := order[name]; !ok {
			order[name] = Asc
		}
	}
	return key.clone(), order, nil
}

// canonicalIndexTarget turns an index declaration into the target text the
// catalog reports for it: collections default to values(...), frozen
// collections to full(...).
func canonicalIndexTarget(target string, fields map[string]NormalizedField) (string, error) {
	fn, name := SplitIndexTarget(target)
	field, ok := fields[name]
	if !ok {
		return "", cqlerr.Field(cqlerr.InvalidSchema, name, fmt.Sprintf("index %q targets an unknown field", target))
	}
	if fn == "" {
		switch {
		case IsCollection(field.Type):
			fn = "values"
		case field.Type == "frozen":
			fn = "full"
		}
	}
	if fn == "" {
		return name, nil
	}
	if !indexFunctions[fn] {
		return "", cqlerr.Field(cqlerr.InvalidSchema, name, fmt.Sprintf("unsupported index function %q", fn))
	}
	if fn == "keys" || fn == "entries" {
		if field.Type != "map" {
			return "", cqlerr.Field(cqlerr.InvalidSchema, name, fmt.Sprintf("%s() index requires a map field", fn))
		}
	}
	return fmt.Sprintf("%s(%s)", fn, name), nil
}

// SplitIndexTarget splits `keys("attrs")` into ("keys", "attrs") and `name`
// into ("", "name").
func SplitIndexTarget(target string) (string, string) {
	stripped := stripIdent(target)
	parts := strings.FieldsFunc(stripped, func(r rune) bool { return r == '(' || r == ')' })
	if len(parts) > 1 {
		return strings.ToLower(parts[0]), parts[1]
	}
	if len(parts) == 1 {
		return "", parts[0]
	}
	return "", ""
}

func normalizeCustomIndex(idx CustomIndex, fields map[string]NormalizedField) (CustomIndex, error) {
	on := stripIdent(idx.On)
	if _, ok := fields[on]; !ok {
		return CustomIndex{}, cqlerr.Field(cqlerr.InvalidSchema, on, "custom index targets an unknown field")
	}
	if idx.Using == "" {
		return CustomIndex{}, cqlerr.Field(cqlerr.InvalidSchema, on, "custom index requires an implementation class")
	}
	options := map[string]string{}
	maps.Copy(options, idx.Options)
	return CustomIndex{On: on, Using: idx.Using, Options: options}, nil
}

// Hash identifies a custom index by content so that reordering the declared
// list does not register as a change.
func (c CustomIndex) Hash() string {
	var b strings.Builder
	b.WriteString(c.On)
	b.WriteByte(0)
	b.WriteString(c.Using)
	for k, v := range util.CanonicalMapIter(c.Options) {
		b.WriteByte(0)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}
	h1, h2 := murmur3.Sum128([]byte(b.String()))
	return fmt.Sprintf("%016x%016x", h1, h2)
}

func (c CustomIndex) equal(o CustomIndex) bool {
	return c.On == o.On && c.Using == o.Using && maps.Equal(c.Options, o.Options)
}

func sortCustomIndexes(indexes []CustomIndex) {
	slices.SortFunc(indexes, func(a, b CustomIndex) int {
		return strings.Compare(a.Hash(), b.Hash())
	})
}

func normalizeView(name string, view *MaterializedView, base *NormalizedSchema) (*NormalizedView, error) {
	if view == nil {
		return nil, cqlerr.Newf(cqlerr.InvalidSchema, "materialized view %q is empty", name)
	}
	if len(view.Select) == 0 {
		return nil, cqlerr.Newf(cqlerr.InvalidSchema, "materialized view %q has no select list", name)
	}
	n := &NormalizedView{}
	if slices.Contains(view.Select, "*") {
		n.Wildcard = true
		n.Select = slices.Clone(base.FieldOrder)
	} else {
		for _, col := range view.Select {
			col = stripIdent(col)
			if _, ok := base.Fields[col]; !ok {
				return nil, cqlerr.Field(cqlerr.InvalidSchema, col, fmt.Sprintf("materialized view %q selects an unknown field", name))
			}
			if !slices.Contains(n.Select, col) {
				n.Select = append(n.Select, col)
			}
		}
	}
	slices.Sort(n.Select)

	projected := map[string]NormalizedField{}
	for _, col := range n.Select {
		projected[col] = base.Fields[col]
	}
	key, order, err := normalizeKey(view.Key, view.ClusteringOrder, projected, name)
	if err != nil {
		return nil, err
	}
	n.Key = key
	n.ClusteringOrder = order
	return n, nil
}

// IndexField returns the field an index target expression refers to.
func IndexField(target string) string {
	_, field := SplitIndexTarget(target)
	return field
}

// References reports whether the view projects or keys on field.
func (v *NormalizedView) References(field string) bool {
	return v.Wildcard || slices.Contains(v.Select, field) || v.Key.Contains(field)
}

// Equal compares the structure of two normalized schemas. Table name, field
// declaration order and view wildcard flags are not part of the structure.
func (s *NormalizedSchema) Equal(o *NormalizedSchema) bool {
	if s == nil || o == nil {
		return s == o
	}
	if !maps.Equal(s.Fields, o.Fields) {
		return false
	}
	if !s.Key.Equal(o.Key) || !maps.Equal(s.ClusteringOrder, o.ClusteringOrder) {
		return false
	}
	if !slices.Equal(s.Indexes, o.Indexes) {
		return false
	}
	if !slices.EqualFunc(s.CustomIndexes, o.CustomIndexes, CustomIndex.equal) {
		return false
	}
	return maps.EqualFunc(s.MaterializedViews, o.MaterializedViews, func(a, b *NormalizedView) bool {
		return a.Equal(b)
	})
}

func (v *NormalizedView) Equal(o *NormalizedView) bool {
	return slices.Equal(v.Select, o.Select) && v.Key.Equal(o.Key) && maps.Equal(v.ClusteringOrder, o.ClusteringOrder)
}

// KeyEqual reports whether both schemas share the primary key and clustering
// order, i.e. whether the table can be altered in place.
func (s *NormalizedSchema) KeyEqual(o *NormalizedSchema) bool {
	return s.Key.Equal(o.Key) && maps.Equal(s.ClusteringOrder, o.ClusteringOrder)
}

func (s *NormalizedSchema) Clone() *NormalizedSchema {
	c := &NormalizedSchema{
		TableName:         s.TableName,
		Fields:            maps.Clone(s.Fields),
		FieldOrder:        slices.Clone(s.FieldOrder),
		Key:               s.Key.clone(),
		ClusteringOrder:   maps.Clone(s.ClusteringOrder),
		Indexes:           slices.Clone(s.Indexes),
		MaterializedViews: make(map[string]*NormalizedView, len(s.MaterializedViews)),
	}
	for _, idx := range s.CustomIndexes {
		idx.Options = maps.Clone(idx.Options)
		c.CustomIndexes = append(c.CustomIndexes, idx)
	}
	for name, v := range s.MaterializedViews {
		c.MaterializedViews[name] = &NormalizedView{
			Select:          slices.Clone(v.Select),
			Wildcard:        v.Wildcard,
			Key:             v.Key.clone(),
			ClusteringOrder: maps.Clone(v.ClusteringOrder),
		}
	}
	if c.Fields == nil {
		c.Fields = map[string]NormalizedField{}
	}
	return c
}

// ViewNames returns materialized view names in sorted order.
func (s *NormalizedSchema) ViewNames() []string {
	return slices.Sorted(maps.Keys(s.MaterializedViews))
}
