package query

import (
	"testing"

	"github.com/cqldef/cqldef/cqlerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFind(t *testing.T) {
	tests := []struct {
		name   string
		table  string
		query  Object
		opts   FindOptions
		stmt   string
		params []any
		raw    bool
	}{
		{
			name:   "filter order and limit",
			table:  "t",
			query:  Obj("status", "open", "$orderby", Obj("$desc", "created"), "$limit", 10),
			stmt:   `SELECT * FROM "t" WHERE "status" = ? ORDER BY "created" DESC LIMIT 10;`,
			params: []any{"open"},
		},
		{
			name:  "no filter",
			table: "users",
			query: Obj(),
			stmt:  `SELECT * FROM "users";`,
		},
		{
			name:  "several order fields",
			table: "users",
			query: Obj("$ORDERBY", Obj("$ASC", []any{"created", "name"})),
			stmt:  `SELECT * FROM "users" ORDER BY "created" ASC, "name" ASC;`,
		},
		{
			name:   "limit from a decoded document",
			table:  "users",
			query:  Obj("id", userID, "$limit", float64(5)),
			stmt:   `SELECT * FROM "users" WHERE "id" = ? LIMIT 5;`,
			params: []any{userID},
		},
		{
			name:  "projection",
			table: "users",
			query: Obj(),
			opts:  FindOptions{Select: []string{"name", "count(id) as total", "age AS a", "writetime(name)", "count(*)"}},
			stmt:  `SELECT "name", count("id") as total, "age" AS a, writetime("name"), count(*) FROM "users";`,
			raw:   true,
		},
		{
			name:   "distinct on a view with filtering",
			table:  "users",
			query:  Obj("age", Obj("$gt", 18)),
			opts:   FindOptions{Select: []string{"id"}, Distinct: true, AllowFiltering: true, MaterializedView: "users_by_age"},
			stmt:   `SELECT DISTINCT "id" FROM "users_by_age" WHERE "age" > ? ALLOW FILTERING;`,
			params: []any{18},
			raw:    true,
		},
		{
			name:  "raw without projection",
			table: "users",
			query: Obj(),
			opts:  FindOptions{Raw: true},
			stmt:  `SELECT * FROM "users";`,
			raw:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := usersSchema()
			s.TableName = tt.table
			stmt, err := NewCompiler(s).Find(tt.query, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.stmt, stmt.Query)
			assert.Equal(t, tt.params, stmt.Params)
			assert.Equal(t, tt.raw, stmt.Raw)
		})
	}
}

func TestFindErrors(t *testing.T) {
	tests := []struct {
		name  string
		query Object
		kind  cqlerr.Kind
	}{
		{name: "order is not an object", query: Obj("$orderby", "created"), kind: cqlerr.InvalidOrder},
		{name: "two directions", query: Obj("$orderby", Obj("$asc", "a", "$desc", "b")), kind: cqlerr.InvalidOrder},
		{name: "unknown direction", query: Obj("$orderby", Obj("$up", "created")), kind: cqlerr.InvalidOrder},
		{name: "order field not a string", query: Obj("$orderby", Obj("$asc", []any{1})), kind: cqlerr.InvalidOrder},
		{name: "limit is a string", query: Obj("$limit", "10"), kind: cqlerr.InvalidLimit},
		{name: "fractional limit", query: Obj("$limit", 2.5), kind: cqlerr.InvalidLimit},
		{name: "zero limit", query: Obj("$limit", 0), kind: cqlerr.InvalidLimit},
		{name: "invalid filter", query: Obj("id", Obj("$in", "x")), kind: cqlerr.InvalidFindOperator},
	}

	c := NewCompiler(usersSchema())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Find(tt.query, FindOptions{})
			require.Error(t, err)
			assert.True(t, cqlerr.IsKind(err, tt.kind), "unexpected error: %v", err)
		})
	}
}

func TestFindRejectsUnsafeSelect(t *testing.T) {
	selects := []string{
		"count(id); DROP TABLE users",
		"name AS total;--",
		"count(id) AS \"total\"",
		"count(id) INTO total",
		"name LIKE n",
		"sum;drop(id)",
		"max(id) AS total extra words",
	}

	c := NewCompiler(usersSchema())
	for _, sel := range selects {
		t.Run(sel, func(t *testing.T) {
			_, err := c.Find(Obj(), FindOptions{Select: []string{"name", sel}})
			require.Error(t, err)
			assert.True(t, cqlerr.IsKind(err, cqlerr.InvalidFindOperator), "unexpected error: %v", err)
		})
	}
}

func TestFindOne(t *testing.T) {
	c := NewCompiler(usersSchema())
	q := Obj("name", "bob", "$limit", 20)
	stmt, err := c.FindOne(q, FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "users" WHERE "name" = ? LIMIT 1;`, stmt.Query)
	assert.Equal(t, Obj("name", "bob", "$limit", 20), q, "FindOne must not modify the caller's query")
}
