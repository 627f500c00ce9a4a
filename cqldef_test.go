package cqldef

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cqldef/cqldef/database"
	"github.com/cqldef/cqldef/database/file"
	"github.com/cqldef/cqldef/migrate"
	"github.com/cqldef/cqldef/schema"
	"github.com/cqldef/cqldef/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const desiredFile = `
keyspace: app
tables:
  users:
    fields:
      id: uuid
      name: text
    key: [id]
    indexes: [name]
  events:
    fields:
      tenant: text
      at: timestamp
      body: text
    key: [[tenant], at]
    clustering_order: {at: desc}
`

const createUsers = `CREATE TABLE IF NOT EXISTS "users" ("id" uuid, "name" text, PRIMARY KEY (("id")));
CREATE INDEX IF NOT EXISTS ON "users" ("name");
`

const createEvents = `CREATE TABLE IF NOT EXISTS "events" ("tenant" text, "at" timestamp, "body" text, PRIMARY KEY (("tenant"), "at")) WITH CLUSTERING ORDER BY ("at" DESC);
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, session *testutil.FakeSession, catalog database.Catalog, options *Options) (string, error) {
	t.Helper()
	var out bytes.Buffer
	if options.Confirm == nil {
		options.Confirm = migrate.AlwaysApprove{}
	}
	err := Run(context.Background(), session, catalog, options, database.WriterLogger{W: &out})
	return out.String(), err
}

func setTables(t *testing.T, session *testutil.FakeSession, content string) {
	t.Helper()
	ks, err := schema.Parse([]byte(content))
	require.NoError(t, err)
	for _, table := range ks.Tables {
		n, err := schema.Normalize(table)
		require.NoError(t, err)
		session.SetTable(n)
	}
}

func TestRunApply(t *testing.T) {
	session := testutil.NewFakeSession()
	out, err := run(t, session, session, &Options{DesiredFile: writeFile(t, "schema.yml", desiredFile)})
	require.NoError(t, err)
	assert.Equal(t, "-- Apply --\n"+createUsers+createEvents, out)
	assert.Len(t, session.Definitions(), 3)

	setTables(t, session, desiredFile)
	out, err = run(t, session, session, &Options{DesiredFile: writeFile(t, "schema.yml", desiredFile)})
	require.NoError(t, err)
	assert.Equal(t, "-- Nothing is modified --\n", out)
	assert.Len(t, session.Definitions(), 3)
}

func TestRunDryRun(t *testing.T) {
	session := testutil.NewFakeSession()
	out, err := run(t, session, session, &Options{
		DesiredFile: writeFile(t, "schema.yml", desiredFile),
		DryRun:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, "-- dry run --\n"+createUsers+createEvents, out)
	assert.Empty(t, session.Definitions())
}

func TestRunTableSelection(t *testing.T) {
	session := testutil.NewFakeSession()
	out, err := run(t, session, session, &Options{
		DesiredFile: writeFile(t, "schema.yml", desiredFile),
		Config:      database.GeneratorConfig{SkipTables: []string{"users"}, Concurrency: -1},
	})
	require.NoError(t, err)
	assert.Equal(t, "-- Apply --\n"+createEvents, out)
}

func TestRunSkipDrop(t *testing.T) {
	session := testutil.NewFakeSession()
	setTables(t, session, `
tables:
  users:
    fields:
      id: uuid
      name: text
      nickname: text
    key: [id]
    indexes: [name]
  events:
    fields:
      tenant: text
      at: timestamp
      body: text
    key: [[tenant], at]
    clustering_order: {at: desc}
`)
	out, err := run(t, session, session, &Options{
		DesiredFile: writeFile(t, "schema.yml", desiredFile),
		SkipDrop:    true,
		Config:      database.GeneratorConfig{Migration: "alter"},
	})
	require.NoError(t, err)
	assert.Equal(t, "-- Apply --\n-- Skipped: ALTER TABLE \"users\" DROP \"nickname\";\n", out)
	assert.Empty(t, session.Definitions())
}

func TestRunSafeModeMismatch(t *testing.T) {
	session := testutil.NewFakeSession()
	setTables(t, session, `
tables:
  users:
    fields:
      id: text
      name: text
    key: [id]
`)
	_, err := run(t, session, session, &Options{DesiredFile: writeFile(t, "schema.yml", desiredFile)})
	assert.Error(t, err)
	assert.Empty(t, session.Definitions())
}

func TestRunAgainstCurrentFile(t *testing.T) {
	current := writeFile(t, "current.yml", `
keyspace: app
tables:
  users:
    fields:
      id: uuid
    key: [id]
`)
	session := testutil.NewFakeSession()
	out, err := run(t, session, file.NewCatalog(current), &Options{
		DesiredFile: writeFile(t, "schema.yml", desiredFile),
		CurrentFile: current,
		Config:      database.GeneratorConfig{Migration: "alter"},
	})
	require.NoError(t, err)
	assert.Equal(t, "-- dry run --\n"+
		"ALTER TABLE \"users\" ADD \"name\" text;\n"+
		"CREATE INDEX IF NOT EXISTS ON \"users\" (\"name\");\n"+
		createEvents, out)
	assert.Empty(t, session.Definitions())
}

func TestExport(t *testing.T) {
	catalog := file.NewCatalog(writeFile(t, "schema.yml", desiredFile))

	out, err := run(t, nil, catalog, &Options{Keyspace: "app", Export: true})
	require.NoError(t, err)
	exported, err := schema.Parse([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, "app", exported.Name)
	original, err := schema.Parse([]byte(desiredFile))
	require.NoError(t, err)
	for _, table := range original.Tables {
		want, err := schema.Normalize(table)
		require.NoError(t, err)
		got, err := schema.Normalize(exported.Table(table.TableName))
		require.NoError(t, err)
		assert.True(t, want.Equal(got), "table %s", table.TableName)
	}

	out, err = run(t, nil, catalog, &Options{Keyspace: "app", Export: true, Snapshot: true})
	require.NoError(t, err)
	snapshot := file.NewCatalog(writeFile(t, "snapshot.yml", out))
	live, err := database.Introspect(context.Background(), snapshot, "app", "events")
	require.NoError(t, err)
	require.NotNil(t, live)
	assert.Equal(t, []string{"at"}, live.Schema.Key.Clustering)

	out, err = run(t, nil, catalog, &Options{Keyspace: "app", Export: true, Config: database.GeneratorConfig{TargetTables: []string{"missing"}}})
	require.NoError(t, err)
	assert.Equal(t, "-- No table exists --\n", out)

	session := testutil.NewFakeSession()
	_, err = run(t, session, session, &Options{Export: true})
	assert.Error(t, err)
}

func TestParseFiles(t *testing.T) {
	tests := []struct {
		files   []string
		desired string
		current string
		err     bool
	}{
		{files: nil, desired: "-"},
		{files: []string{"schema.yml"}, desired: "schema.yml"},
		{files: []string{"current.yml", "schema.yml"}, desired: "schema.yml", current: "current.yml"},
		{files: []string{"a", "b", "c"}, err: true},
	}
	for _, tt := range tests {
		desired, current, err := ParseFiles(tt.files)
		if tt.err {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.desired, desired)
		assert.Equal(t, tt.current, current)
	}
}
