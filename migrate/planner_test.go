package migrate_test

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/cqldef/cqldef/cqlerr"
	"github.com/cqldef/cqldef/database"
	"github.com/cqldef/cqldef/migrate"
	"github.com/cqldef/cqldef/schema"
	"github.com/cqldef/cqldef/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	tests, err := testutil.ReadTests("tests/*.yml")
	if err != nil {
		t.Fatal(err)
	}

	names := make([]string, 0, len(tests))
	for name := range tests {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		test := tests[name]
		t.Run(name, func(t *testing.T) {
			testutil.RunPlanTest(t, test)
		})
	}
}

const usersTable = `
fields:
  id: uuid
  name: text
  email: text
key: [id]
indexes: [email]
`

func TestPlanIsPure(t *testing.T) {
	desired := testutil.MustNormalizeTable(t, "users", usersTable)
	current := testutil.MustNormalizeTable(t, "users", `
fields:
  id: uuid
  name: text
key: [id]
`)
	live := testutil.MustLive(t, current)
	before := live.Clone()

	planner := &migrate.Planner{Mode: migrate.ModeAlter, Policy: migrate.DefaultAlterPolicy()}
	first, err := planner.Plan(desired, live)
	require.NoError(t, err)
	second, err := planner.Plan(desired, live)
	require.NoError(t, err)

	assert.Equal(t, first.Statements(), second.Statements())
	assert.True(t, before.Schema.Equal(live.Schema), "planning must not modify the live schema")
	assert.Equal(t, before.IndexNames, live.IndexNames)
}

func TestPlanUsesStoredIndexNames(t *testing.T) {
	desired := testutil.MustNormalizeTable(t, "users", `
fields:
  id: uuid
  name: text
key: [id]
`)
	live := testutil.MustLive(t, testutil.MustNormalizeTable(t, "users", `
fields:
  id: uuid
  name: text
key: [id]
indexes: [name]
`))
	live.IndexNames["name"] = "users_by_name"

	planner := &migrate.Planner{Mode: migrate.ModeAlter, Policy: migrate.DefaultAlterPolicy()}
	plan, err := planner.Plan(desired, live)
	require.NoError(t, err)
	assert.Equal(t, []string{`DROP INDEX IF EXISTS "users_by_name"`}, plan.Statements())
	assert.Equal(t, []string{`Migration: model schema for table "users" has removed indexes: ["users_by_name"], drop them? (y/n): `}, plan.Prompts())
}

func TestExecutorStopsOnFailure(t *testing.T) {
	desired := testutil.MustNormalizeTable(t, "users", usersTable)
	planner := &migrate.Planner{Mode: migrate.ModeAlter, Policy: migrate.DefaultAlterPolicy()}
	plan, err := planner.Plan(desired, nil)
	require.NoError(t, err)
	require.Len(t, plan.Statements(), 2)

	session := testutil.NewFakeSession()
	session.FailDefinition = func(query string) error {
		if query == plan.Statements()[1] {
			return errors.New("index creation timed out")
		}
		return nil
	}
	executor := &migrate.Executor{Session: session, Confirm: migrate.AlwaysApprove{}}
	err = executor.Execute(context.Background(), plan)
	require.Error(t, err)
	assert.True(t, cqlerr.IsKind(err, cqlerr.DDLFailed))
	assert.Contains(t, err.Error(), `failed to create index for table "users"`)
	assert.Len(t, session.Definitions(), 2)
}

func TestExecutorWithoutConfirmationProviderDeclines(t *testing.T) {
	desired := testutil.MustNormalizeTable(t, "users", usersTable)
	live := testutil.MustLive(t, testutil.MustNormalizeTable(t, "users", `
fields:
  id: uuid
key: [id]
`))
	planner := &migrate.Planner{Mode: migrate.ModeDrop, Policy: migrate.DefaultAlterPolicy()}
	plan, err := planner.Plan(desired, live)
	require.NoError(t, err)

	session := testutil.NewFakeSession()
	err = (&migrate.Executor{Session: session}).Execute(context.Background(), plan)
	assert.True(t, cqlerr.IsKind(err, cqlerr.SchemaMismatch))
	assert.Empty(t, session.Definitions())
}

type failingConfirm struct{}

func (failingConfirm) Confirm(string) (string, error) { return "", errors.New("stdin closed") }

func TestExecutorConfirmationError(t *testing.T) {
	desired := testutil.MustNormalizeTable(t, "users", usersTable)
	live := testutil.MustLive(t, testutil.MustNormalizeTable(t, "users", `
fields:
  id: uuid
key: [id]
`))
	planner := &migrate.Planner{Mode: migrate.ModeDrop, Policy: migrate.DefaultAlterPolicy()}
	plan, err := planner.Plan(desired, live)
	require.NoError(t, err)

	session := testutil.NewFakeSession()
	err = (&migrate.Executor{Session: session, Confirm: failingConfirm{}}).Execute(context.Background(), plan)
	assert.True(t, cqlerr.IsKind(err, cqlerr.SchemaMismatch))
	assert.ErrorContains(t, err, "stdin closed")
	assert.Empty(t, session.Definitions())
}

func TestReconcile(t *testing.T) {
	desired := testutil.MustNormalizeTable(t, "users", usersTable)
	session := testutil.NewFakeSession()
	planner, err := migrate.NewPlanner(database.GeneratorConfig{Migration: "alter"})
	require.NoError(t, err)
	reconciler := &migrate.Reconciler{
		Keyspace: "app",
		Catalog:  session,
		Planner:  planner,
		Executor: &migrate.Executor{Session: session, Confirm: migrate.AlwaysApprove{}},
	}

	plan, err := reconciler.Reconcile(context.Background(), desired)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`CREATE TABLE IF NOT EXISTS "users" ("id" uuid, "name" text, "email" text, PRIMARY KEY (("id")))`,
		`CREATE INDEX IF NOT EXISTS ON "users" ("email")`,
	}, session.Definitions())
	assert.Empty(t, plan.Prompts())

	session.SetTable(desired)
	plan, err = reconciler.Reconcile(context.Background(), desired)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
	assert.Len(t, session.Definitions(), 2)
}

func TestNewPlannerRejectsInvalidAlterableTypes(t *testing.T) {
	_, err := migrate.NewPlanner(database.GeneratorConfig{AlterableTypes: []string{"text"}})
	assert.Error(t, err)
}

func TestPlanStatementsOrder(t *testing.T) {
	plan := &migrate.Plan{Table: "t", Tasks: []migrate.Task{
		{Confirm: "first?", DDLs: []schema.DDL{&schema.DropIndex{Name: "a"}}},
		{DDLs: []schema.DDL{&schema.DropTable{Name: "t"}, &schema.TruncateTable{Name: "u"}}},
	}}
	assert.Equal(t, []string{`DROP INDEX IF EXISTS "a"`, `DROP TABLE IF EXISTS "t"`, `TRUNCATE TABLE "u"`}, plan.Statements())
	assert.Equal(t, []string{"first?"}, plan.Prompts())
	assert.False(t, plan.Empty())

	var nilPlan *migrate.Plan
	assert.True(t, nilPlan.Empty())
	assert.Nil(t, nilPlan.Statements())
}

func TestExecutorSkipDrop(t *testing.T) {
	desired := testutil.MustNormalizeTable(t, "users", `
fields:
  id: uuid
key: [id]
`)
	live := testutil.MustLive(t, testutil.MustNormalizeTable(t, "users", `
fields:
  id: uuid
  name: text
key: [id]
indexes: [name]
`))
	planner := &migrate.Planner{Mode: migrate.ModeAlter, Policy: migrate.DefaultAlterPolicy()}
	plan, err := planner.Plan(desired, live)
	require.NoError(t, err)

	var out bytes.Buffer
	session := testutil.NewFakeSession()
	executor := &migrate.Executor{
		Session:  session,
		Confirm:  migrate.AlwaysApprove{},
		Logger:   database.WriterLogger{W: &out},
		SkipDrop: true,
	}
	require.NoError(t, executor.Execute(context.Background(), plan))
	assert.Empty(t, session.Definitions())
	assert.Equal(t, "-- Skipped: DROP INDEX IF EXISTS \"users_name_idx\";\n-- Skipped: ALTER TABLE \"users\" DROP \"name\";\n", out.String())
}
