package query

import (
	"testing"

	"github.com/cqldef/cqldef/cqlerr"
	"github.com/cqldef/cqldef/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userID = "3f2504e0-4f89-11d3-9a0c-0305e82c3301"

func usersSchema() *schema.Schema {
	return &schema.Schema{
		TableName: "users",
		Fields: []*schema.Field{
			{Name: "id", Type: "uuid"},
			{Name: "created", Type: "timestamp", Default: &schema.Default{DBFunction: "toTimestamp(now())"}},
			{Name: "name", Type: "text", Rule: &schema.Rule{Required: true}},
			{Name: "status", Type: "text", Default: &schema.Default{Value: "new"}},
			{Name: "age", Type: "int", Rule: &schema.Rule{Validators: []schema.Validator{{Builtin: "non_negative"}}}},
			{Name: "tags", Type: "list", TypeDef: "<text>"},
			{Name: "labels", Type: "set", TypeDef: "<text>"},
			{Name: "counters", Type: "map", TypeDef: "<text,int>"},
			{Name: "display", Virtual: &schema.Virtual{Get: func(v map[string]any) any { return v["name"] }}},
		},
		Key: schema.Key{Partition: []string{"id"}, Clustering: []string{"created"}},
	}
}

func TestCompileWhere(t *testing.T) {
	tests := []struct {
		name   string
		where  Object
		clause string
		params []any
	}{
		{
			name:   "equality and comparison",
			where:  Obj("name", "bob", "age", Obj("$gte", 5)),
			clause: `WHERE "name" = ? AND "age" >= ?`,
			params: []any{"bob", 5},
		},
		{
			name:   "empty",
			where:  Obj(),
			clause: "",
		},
		{
			name:   "operators are case-insensitive",
			where:  Obj("age", Obj("$GT", 1, "$lt", 9)),
			clause: `WHERE "age" > ? AND "age" < ?`,
			params: []any{1, 9},
		},
		{
			name:   "list of relations",
			where:  Obj("age", []any{Obj("$gt", 1), Obj("$lte", 9)}),
			clause: `WHERE "age" > ? AND "age" <= ?`,
			params: []any{1, 9},
		},
		{
			name:   "in",
			where:  Obj("name", Obj("$in", []string{"a", "b"})),
			clause: `WHERE "name" IN ?`,
			params: []any{[]string{"a", "b"}},
		},
		{
			name:   "like",
			where:  Obj("name", Obj("$like", "bo%")),
			clause: `WHERE "name" LIKE ?`,
			params: []any{"bo%"},
		},
		{
			name:   "token",
			where:  Obj("id", Obj("$token", Obj("$gt", userID))),
			clause: `WHERE token("id") > token(?)`,
			params: []any{userID},
		},
		{
			name:   "token over several fields",
			where:  Obj("id,created", Obj("$token", Obj("$gte", []any{userID, "2024-01-01"}, "$lt", []any{userID, "2025-01-01"}))),
			clause: `WHERE token("id", "created") >= token(?, ?) AND token("id", "created") < token(?, ?)`,
			params: []any{userID, "2024-01-01", userID, "2025-01-01"},
		},
		{
			name:   "contains on list",
			where:  Obj("tags", Obj("$contains", "go")),
			clause: `WHERE "tags" CONTAINS ?`,
			params: []any{"go"},
		},
		{
			name:   "contains entry on map",
			where:  Obj("counters", Obj("$contains", Obj("visits", 3))),
			clause: `WHERE "counters"[?] = ?`,
			params: []any{"visits", 3},
		},
		{
			name:   "contains value on map",
			where:  Obj("counters", Obj("$contains", 3)),
			clause: `WHERE "counters" CONTAINS ?`,
			params: []any{3},
		},
		{
			name:   "contains key",
			where:  Obj("counters", Obj("$contains_key", "visits")),
			clause: `WHERE "counters" CONTAINS KEY ?`,
			params: []any{"visits"},
		},
		{
			name:   "map literal is equality",
			where:  Obj("counters", map[string]any{"a": 1}),
			clause: `WHERE "counters" = ?`,
			params: []any{map[string]any{"a": 1}},
		},
		{
			name:   "object of non-operators is a literal",
			where:  Obj("counters", Obj("$weird", 1)),
			clause: `WHERE "counters" = ?`,
			params: []any{map[string]any{"$weird": 1}},
		},
		{
			name:   "db function is inlined",
			where:  Obj("created", Obj("$lt", schema.DBFunction("toTimestamp(now())"))),
			clause: `WHERE "created" < toTimestamp(now())`,
		},
		{
			name:   "solr query",
			where:  Obj("$solr_query", "name:b'ob"),
			clause: `WHERE solr_query='name:b''ob'`,
		},
		{
			name:   "expr",
			where:  Obj("$expr", Obj("index", "users_idx", "query", "{q: 'x'}"), "age", 3),
			clause: `WHERE expr(users_idx,'{q: ''x''}') AND "age" = ?`,
			params: []any{3},
		},
		{
			name:   "find keys are skipped",
			where:  Obj("name", "bob", "$limit", 1, "$orderby", Obj("$asc", "created")),
			clause: `WHERE "name" = ?`,
			params: []any{"bob"},
		},
		{
			name:   "null",
			where:  Obj("name", nil),
			clause: `WHERE "name" = ?`,
			params: []any{nil},
		},
	}

	c := NewCompiler(usersSchema())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clause, params, err := c.CompileWhere(tt.where)
			require.NoError(t, err)
			assert.Equal(t, tt.clause, clause)
			assert.Equal(t, tt.params, params)
		})
	}
}

func TestCompileWhereIsDeterministic(t *testing.T) {
	c := NewCompiler(usersSchema())
	where := Obj("name", "bob", "age", Obj("$gte", 5), "tags", Obj("$contains", "x"))
	first, firstParams, err := c.CompileWhere(where)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		clause, params, err := c.CompileWhere(where)
		require.NoError(t, err)
		assert.Equal(t, first, clause)
		assert.Equal(t, firstParams, params)
	}
}

func TestCompileWhereErrors(t *testing.T) {
	tests := []struct {
		name  string
		where Object
		kind  cqlerr.Kind
	}{
		{name: "in with a scalar", where: Obj("id", Obj("$in", 5)), kind: cqlerr.InvalidFindOperator},
		{name: "token with a scalar", where: Obj("id", Obj("$token", 5)), kind: cqlerr.InvalidFindOperator},
		{name: "in inside token", where: Obj("id", Obj("$token", Obj("$in", []any{userID}))), kind: cqlerr.InvalidFindOperator},
		{name: "token value count", where: Obj("id,created", Obj("$token", Obj("$gt", []any{userID}))), kind: cqlerr.InvalidFindOperator},
		{name: "unknown operator is a literal", where: Obj("age", Obj("$between", []any{1, 2})), kind: cqlerr.ValidationFailed},
		{name: "operator mixed with plain key", where: Obj("age", Obj("$gt", 1, "x", 2)), kind: cqlerr.InvalidFindOperator},
		{name: "operator mixed with unknown key", where: Obj("counters", Obj("$eq", 1, "$weird", 2)), kind: cqlerr.InvalidFindOperator},
		{name: "unknown field", where: Obj("nickname", "bob"), kind: cqlerr.InvalidFindOperator},
		{name: "virtual field", where: Obj("display", "bob"), kind: cqlerr.InvalidFindOperator},
		{name: "unknown query key", where: Obj("$where", "x"), kind: cqlerr.InvalidFindOperator},
		{name: "expr without query", where: Obj("$expr", Obj("index", "i")), kind: cqlerr.InvalidFindOperator},
		{name: "solr query not a string", where: Obj("$solr_query", 5), kind: cqlerr.InvalidFindOperator},
		{name: "contains on text", where: Obj("name", Obj("$contains", "b")), kind: cqlerr.InvalidContainsOperator},
		{name: "contains key on set", where: Obj("labels", Obj("$contains_key", "b")), kind: cqlerr.InvalidContainsOperator},
		{name: "type mismatch", where: Obj("age", "old"), kind: cqlerr.ValidationFailed},
		{name: "rule violation", where: Obj("age", Obj("$gt", -1)), kind: cqlerr.ValidationFailed},
		{name: "type mismatch inside in", where: Obj("age", Obj("$in", []any{1, "two"})), kind: cqlerr.ValidationFailed},
	}

	c := NewCompiler(usersSchema())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := c.CompileWhere(tt.where)
			require.Error(t, err)
			assert.True(t, cqlerr.IsKind(err, tt.kind), "unexpected error: %v", err)
		})
	}
}

func TestValidationMessage(t *testing.T) {
	c := NewCompiler(usersSchema())
	_, _, err := c.CompileWhere(Obj("age", "old"))
	var cerr *cqlerr.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "age", cerr.Field)
	assert.Equal(t, `Invalid Value: "old" for Field: age (Type: int)`, cerr.Message)
}
