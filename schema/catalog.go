package schema

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/cqldef/cqldef/cqlerr"
)

// Column kinds as reported by system_schema.columns.
const (
	KindPartitionKey = "partition_key"
	KindClustering   = "clustering"
	KindStatic       = "static"
	KindRegular      = "regular"
)

// Catalog holds the system catalog rows describing one table: its columns,
// its indexes, the views built on it and the columns of those views.
type Catalog struct {
	Columns     []ColumnRow `yaml:"columns"`
	Indexes     []IndexRow  `yaml:"indexes"`
	Views       []ViewRow   `yaml:"views"`
	ViewColumns []ColumnRow `yaml:"view_columns"`
}

type ColumnRow struct {
	TableName       string `yaml:"table_name"`
	ColumnName      string `yaml:"column_name"`
	Type            string `yaml:"type"`
	Kind            string `yaml:"kind"`
	Position        int    `yaml:"position"`
	ClusteringOrder string `yaml:"clustering_order"`
}

type IndexRow struct {
	IndexName string            `yaml:"index_name"`
	Kind      string            `yaml:"kind"`
	Options   map[string]string `yaml:"options"`
}

type ViewRow struct {
	ViewName      string `yaml:"view_name"`
	BaseTableName string `yaml:"base_table_name"`
}

// Live is the introspected state of a table. IndexNames maps an index target
// (or a custom index Hash) to the name the store gave the index, which is
// what DROP INDEX needs.
type Live struct {
	Schema     *NormalizedSchema
	IndexNames map[string]string
}

func (l *Live) Clone() *Live {
	return &Live{Schema: l.Schema.Clone(), IndexNames: maps.Clone(l.IndexNames)}
}

// IndexName returns the stored name of an index target.
func (l *Live) IndexName(target string) (string, bool) {
	name, ok := l.IndexNames[target]
	return name, ok
}

// CustomIndexName returns the stored name of a custom index.
func (l *Live) CustomIndexName(idx CustomIndex) (string, bool) {
	name, ok := l.IndexNames[idx.Hash()]
	return name, ok
}

// FromCatalog assembles catalog rows into a normalized schema. It returns nil
// when the catalog has no columns, i.e. the table does not exist.
func FromCatalog(table string, cat *Catalog) (*Live, error) {
	if cat == nil || len(cat.Columns) == 0 {
		return nil, nil
	}

	s := &Schema{TableName: table, MaterializedViews: map[string]*MaterializedView{}}
	key, order, err := columnsToSchema(cat.Columns, s)
	if err != nil {
		return nil, err
	}
	s.Key = key
	s.ClusteringOrder = order

	indexNames := map[string]string{}
	for _, row := range cat.Indexes {
		if row.IndexName == "" {
			continue
		}
		options := maps.Clone(row.Options)
		if options == nil {
			options = map[string]string{}
		}
		target := stripIdent(options["target"])
		delete(options, "target")
		if strings.EqualFold(row.Kind, "CUSTOM") {
			using := options["class_name"]
			delete(options, "class_name")
			idx := CustomIndex{On: target, Using: using, Options: options}
			s.CustomIndexes = append(s.CustomIndexes, idx)
			indexNames[idx.Hash()] = row.IndexName
		} else {
			s.Indexes = append(s.Indexes, target)
			indexNames[target] = row.IndexName
		}
	}

	viewColumns := map[string][]ColumnRow{}
	for _, row := range cat.ViewColumns {
		viewColumns[row.TableName] = append(viewColumns[row.TableName], row)
	}
	for _, row := range cat.Views {
		if row.BaseTableName != table {
			continue
		}
		view := &MaterializedView{}
		for _, col := range viewColumns[row.ViewName] {
			view.Select = append(view.Select, col.ColumnName)
		}
		key, order, err := columnsToKey(viewColumns[row.ViewName])
		if err != nil {
			return nil, err
		}
		view.Key = key
		view.ClusteringOrder = order
		s.MaterializedViews[row.ViewName] = view
	}

	normalized, err := Normalize(s)
	if err != nil {
		return nil, cqlerr.Wrap(cqlerr.SchemaQueryFailed, fmt.Sprintf("catalog of table %q does not describe a valid schema", table), err)
	}
	return &Live{Schema: normalized, IndexNames: indexNames}, nil
}

func columnsToSchema(rows []ColumnRow, s *Schema) (Key, map[string]Order, error) {
	for _, row := range sortedColumns(rows) {
		s.Fields = append(s.Fields, &Field{
			Name:    row.ColumnName,
			Type:    ExtractType(row.Type),
			TypeDef: ExtractTypeDef(row.Type),
			Static:  row.Kind == KindStatic,
		})
	}
	return columnsToKey(rows)
}

func columnsToKey(rows []ColumnRow) (Key, map[string]Order, error) {
	var partition, clustering []string
	order := map[string]Order{}
	place := func(dst *[]string, pos int, name string) error {
		if pos < 0 {
			return cqlerr.Newf(cqlerr.SchemaQueryFailed, "negative key position for column %q", name)
		}
		for len(*dst) <= pos {
			*dst = append(*dst, "")
		}
		(*dst)[pos] = name
		return nil
	}
	for _, row := range rows {
		switch row.Kind {
		case KindPartitionKey:
			if err := place(&partition, row.Position, row.ColumnName); err != nil {
				return Key{}, nil, err
			}
		case KindClustering:
			if err := place(&clustering, row.Position, row.ColumnName); err != nil {
				return Key{}, nil, err
			}
			if strings.EqualFold(row.ClusteringOrder, "desc") {
				order[row.ColumnName] = Desc
			} else {
				order[row.ColumnName] = Asc
			}
		}
	}
	if slices.Contains(partition, "") || slices.Contains(clustering, "") {
		return Key{}, nil, cqlerr.New(cqlerr.SchemaQueryFailed, "key positions in the catalog are not contiguous")
	}
	return Key{Partition: partition, Clustering: clustering}, order, nil
}

// sortedColumns orders catalog columns the way the store lays them out:
// partition key, clustering key, then the rest by name.
func sortedColumns(rows []ColumnRow) []ColumnRow {
	rank := map[string]int{KindPartitionKey: 0, KindClustering: 1, KindStatic: 2, KindRegular: 2}
	sorted := slices.Clone(rows)
	slices.SortStableFunc(sorted, func(a, b ColumnRow) int {
		if rank[a.Kind] != rank[b.Kind] {
			return rank[a.Kind] - rank[b.Kind]
		}
		if a.Kind != KindRegular && a.Kind != KindStatic && a.Position != b.Position {
			return a.Position - b.Position
		}
		return strings.Compare(a.ColumnName, b.ColumnName)
	})
	return sorted
}

// CatalogOf renders the catalog rows the store would report for s. Index
// names follow the store's <table>_<column>_idx convention.
func CatalogOf(s *NormalizedSchema) *Catalog {
	cat := &Catalog{}
	cat.Columns = columnRows(s.TableName, s.FieldOrder, s.Fields, s.Key, s.ClusteringOrder)

	for _, target := range s.Indexes {
		cat.Indexes = append(cat.Indexes, IndexRow{
			IndexName: fmt.Sprintf("%s_%s_idx", s.TableName, IndexField(target)),
			Kind:      "COMPOSITES",
			Options:   map[string]string{"target": target},
		})
	}
	for i, idx := range s.CustomIndexes {
		options := maps.Clone(idx.Options)
		if options == nil {
			options = map[string]string{}
		}
		options["target"] = idx.On
		options["class_name"] = idx.Using
		cat.Indexes = append(cat.Indexes, IndexRow{
			IndexName: fmt.Sprintf("%s_%s_custom_%d_idx", s.TableName, idx.On, i),
			Kind:      "CUSTOM",
			Options:   options,
		})
	}
	for _, name := range s.ViewNames() {
		view := s.MaterializedViews[name]
		cat.Views = append(cat.Views, ViewRow{ViewName: name, BaseTableName: s.TableName})
		fields := map[string]NormalizedField{}
		for _, col := range view.Select {
			fields[col] = s.Fields[col]
		}
		cat.ViewColumns = append(cat.ViewColumns, columnRows(name, view.Select, fields, view.Key, view.ClusteringOrder)...)
	}
	return cat
}

func columnRows(table string, order []string, fields map[string]NormalizedField, key Key, clusteringOrder map[string]Order) []ColumnRow {
	var rows []ColumnRow
	for _, name := range order {
		field := fields[name]
		row := ColumnRow{
			TableName:       table,
			ColumnName:      name,
			Type:            catalogType(field),
			Kind:            KindRegular,
			Position:        -1,
			ClusteringOrder: "none",
		}
		if i := slices.Index(key.Partition, name); i >= 0 {
			row.Kind, row.Position = KindPartitionKey, i
		} else if i := slices.Index(key.Clustering, name); i >= 0 {
			row.Kind, row.Position = KindClustering, i
			row.ClusteringOrder = strings.ToLower(string(clusteringOrder[name]))
		} else if field.Static {
			row.Kind = KindStatic
		}
		rows = append(rows, row)
	}
	return rows
}

// catalogType renders a type the way system_schema.columns spells it, with a
// space after each comma.
func catalogType(f NormalizedField) string {
	return f.Type + strings.ReplaceAll(f.TypeDef, ",", ", ")
}
