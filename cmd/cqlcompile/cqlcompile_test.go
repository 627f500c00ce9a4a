package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cqldef/cqldef/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const schemaFile = `
tables:
  users:
    fields:
      id: uuid
      name: text
      tags: {type: set, typeDef: <text>}
    key: [id]
    indexes: [name]
`

func TestCompile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yml")
	require.NoError(t, os.WriteFile(path, []byte(schemaFile), 0o644))
	queryFile := filepath.Join(t.TempDir(), "query.json")
	require.NoError(t, os.WriteFile(queryFile, []byte(`{"name": "alice"}`), 0o644))

	tests := []struct {
		name    string
		options Options
		query   string
		params  []any
	}{
		{
			name:    "find",
			options: Options{operation: "find", query: `{name: alice, $limit: 5}`},
			query:   `SELECT * FROM "users" WHERE "name" = ? LIMIT 5;`,
			params:  []any{"alice"},
		},
		{
			name:    "find from file",
			options: Options{operation: "findone", query: "@" + queryFile, find: query.FindOptions{Select: []string{"id"}}},
			query:   `SELECT "id" FROM "users" WHERE "name" = ? LIMIT 1;`,
			params:  []any{"alice"},
		},
		{
			name:    "update",
			options: Options{operation: "update", query: `{name: alice}`, values: `{tags: {$add: [a]}}`},
			query:   `UPDATE "users" SET "tags" = "tags" + ? WHERE "name" = ?;`,
			params:  []any{[]any{"a"}, "alice"},
		},
		{
			name:    "delete",
			options: Options{operation: "delete", query: `{name: alice}`},
			query:   `DELETE FROM "users" WHERE "name" = ?;`,
			params:  []any{"alice"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.options.schemaFile = path
			if tt.options.values == "" {
				tt.options.values = "{}"
			}
			stmt, err := compile(&tt.options)
			require.NoError(t, err)
			assert.Equal(t, tt.query, stmt.Query)
			assert.Equal(t, tt.params, stmt.Params)
		})
	}
}

func TestCompileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yml")
	require.NoError(t, os.WriteFile(path, []byte(schemaFile), 0o644))

	for _, options := range []Options{
		{schemaFile: path, table: "missing", operation: "find", query: "{}"},
		{schemaFile: path, operation: "upsert", query: "{}", values: "{}"},
		{schemaFile: path, operation: "find", query: "{unknown: 1}"},
	} {
		_, err := compile(&options)
		assert.Error(t, err)
	}
}
