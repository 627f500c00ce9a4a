package schema

import (
	"fmt"
	"strings"

	"github.com/cqldef/cqldef/util"
)

type DDL interface {
	Statement() string
}

type CreateTable struct {
	Schema *NormalizedSchema
}

type CreateIndex struct {
	Table  string
	Target string
}

type CreateCustomIndex struct {
	Table string
	Index CustomIndex
}

type CreateMaterializedView struct {
	Table string
	Name  string
	View  *NormalizedView
}

type AlterOp string

const (
	AlterAdd  AlterOp = "ADD"
	AlterDrop AlterOp = "DROP"
	AlterType AlterOp = "ALTER"
)

type AlterTable struct {
	Table  string
	Op     AlterOp
	Column string
	Field  NormalizedField
}

type DropTable struct {
	Name string
}

type DropIndex struct {
	Name string
}

type DropMaterializedView struct {
	Name string
}

type TruncateTable struct {
	Name string
}

func (c *CreateTable) Statement() string {
	s := c.Schema
	columns := make([]string, 0, len(s.FieldOrder))
	for _, name := range s.FieldOrder {
		field := s.Fields[name]
		column := fmt.Sprintf("%s %s", QuoteIdent(name), field.CQLType())
		if field.Static {
			column += " STATIC"
		}
		columns = append(columns, column)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s, PRIMARY KEY %s)%s",
		QuoteIdent(s.TableName), strings.Join(columns, ", "), primaryKeyClause(s.Key), clusteringOrderClause(s.Key, s.ClusteringOrder))
}

func (c *CreateIndex) Statement() string {
	fn, field := SplitIndexTarget(c.Target)
	target := QuoteIdent(field)
	if fn != "" {
		target = fmt.Sprintf("%s(%s)", fn, target)
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS ON %s (%s)", QuoteIdent(c.Table), target)
}

func (c *CreateCustomIndex) Statement() string {
	stmt := fmt.Sprintf("CREATE CUSTOM INDEX IF NOT EXISTS ON %s (%s) USING %s",
		QuoteIdent(c.Table), QuoteIdent(c.Index.On), StringConstant(c.Index.Using))
	if len(c.Index.Options) > 0 {
		options := make([]string, 0, len(c.Index.Options))
		for k, v := range util.CanonicalMapIter(c.Index.Options) {
			options = append(options, fmt.Sprintf("%s: %s", StringConstant(k), StringConstant(v)))
		}
		stmt += fmt.Sprintf(" WITH OPTIONS = {%s}", strings.Join(options, ", "))
	}
	return stmt
}

func (c *CreateMaterializedView) Statement() string {
	projection := "*"
	if !c.View.Wildcard {
		projection = strings.Join(QuoteIdents(c.View.Select), ", ")
	}
	notNull := util.TransformSlice(c.View.Key.Fields(), func(name string) string {
		return QuoteIdent(name) + " IS NOT NULL"
	})
	return fmt.Sprintf("CREATE MATERIALIZED VIEW IF NOT EXISTS %s AS SELECT %s FROM %s WHERE %s PRIMARY KEY %s%s",
		QuoteIdent(c.Name), projection, QuoteIdent(c.Table), strings.Join(notNull, " AND "),
		primaryKeyClause(c.View.Key), clusteringOrderClause(c.View.Key, c.View.ClusteringOrder))
}

func (a *AlterTable) Statement() string {
	switch a.Op {
	case AlterAdd:
		stmt := fmt.Sprintf("ALTER TABLE %s ADD %s %s", QuoteIdent(a.Table), QuoteIdent(a.Column), a.Field.CQLType())
		if a.Field.Static {
			stmt += " STATIC"
		}
		return stmt
	case AlterDrop:
		return fmt.Sprintf("ALTER TABLE %s DROP %s", QuoteIdent(a.Table), QuoteIdent(a.Column))
	default:
		return fmt.Sprintf("ALTER TABLE %s ALTER %s TYPE %s", QuoteIdent(a.Table), QuoteIdent(a.Column), a.Field.CQLType())
	}
}

func (d *DropTable) Statement() string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", QuoteIdent(d.Name))
}

func (d *DropIndex) Statement() string {
	return fmt.Sprintf("DROP INDEX IF EXISTS %s", QuoteIdent(d.Name))
}

func (d *DropMaterializedView) Statement() string {
	return fmt.Sprintf("DROP MATERIALIZED VIEW IF EXISTS %s", QuoteIdent(d.Name))
}

func (t *TruncateTable) Statement() string {
	return fmt.Sprintf("TRUNCATE TABLE %s", QuoteIdent(t.Name))
}

// CreateStatements returns the table followed by its indexes, custom indexes
// and materialized views, in that order.
func CreateStatements(s *NormalizedSchema) []DDL {
	ddls := []DDL{&CreateTable{Schema: s}}
	for _, target := range s.Indexes {
		ddls = append(ddls, &CreateIndex{Table: s.TableName, Target: target})
	}
	for _, idx := range s.CustomIndexes {
		ddls = append(ddls, &CreateCustomIndex{Table: s.TableName, Index: idx})
	}
	for _, name := range s.ViewNames() {
		ddls = append(ddls, &CreateMaterializedView{Table: s.TableName, Name: name, View: s.MaterializedViews[name]})
	}
	return ddls
}

func primaryKeyClause(key Key) string {
	clause := "((" + strings.Join(QuoteIdents(key.Partition), ", ") + ")"
	for _, name := range key.Clustering {
		clause += ", " + QuoteIdent(name)
	}
	return clause + ")"
}

func clusteringOrderClause(key Key, order map[string]Order) string {
	if len(key.Clustering) == 0 {
		return ""
	}
	orders := util.TransformSlice(key.Clustering, func(name string) string {
		o := order[name]
		if o == "" {
			o = Asc
		}
		return fmt.Sprintf("%s %s", QuoteIdent(name), o)
	})
	return fmt.Sprintf(" WITH CLUSTERING ORDER BY (%s)", strings.Join(orders, ", "))
}
