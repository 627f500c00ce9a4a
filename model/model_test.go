package model_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cqldef/cqldef/cqlerr"
	"github.com/cqldef/cqldef/database"
	"github.com/cqldef/cqldef/migrate"
	"github.com/cqldef/cqldef/model"
	"github.com/cqldef/cqldef/query"
	"github.com/cqldef/cqldef/schema"
	"github.com/cqldef/cqldef/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userID = "3f2504e0-4f89-11d3-9a0c-0305e82c3301"

var noOptions = database.QueryOptions{}

func usersSchema() *schema.Schema {
	return &schema.Schema{
		TableName: "users",
		Fields: []*schema.Field{
			{Name: "id", Type: "uuid"},
			{Name: "name", Type: "text", Rule: &schema.Rule{Required: true}},
			{Name: "age", Type: "int"},
			{Name: "tags", Type: "set", TypeDef: "<text>"},
		},
		Key: schema.Key{Partition: []string{"id"}},
	}
}

func newModel(t *testing.T, session *testutil.FakeSession, config database.GeneratorConfig, hooks *query.Hooks) *model.Model {
	t.Helper()
	r, err := model.NewRegistry(model.Options{
		Keyspace: "app",
		Session:  session,
		Config:   config,
		Confirm:  migrate.AlwaysApprove{},
	})
	require.NoError(t, err)
	m, err := r.Register(usersSchema(), hooks)
	require.NoError(t, err)
	return m
}

func rows(rows ...database.Row) func(string, []any) (*database.Result, error) {
	return func(string, []any) (*database.Result, error) {
		return &database.Result{Rows: rows}, nil
	}
}

func lastQuery(t *testing.T, session *testutil.FakeSession) database.Statement {
	t.Helper()
	queries := session.Queries()
	require.NotEmpty(t, queries)
	return queries[len(queries)-1]
}

func TestLazyInit(t *testing.T) {
	ctx := context.Background()
	session := testutil.NewFakeSession()
	session.Respond = rows(database.Row{"id": userID, "name": "bob", "age": 3})
	m := newModel(t, session, database.GeneratorConfig{}, nil)
	assert.False(t, m.Ready())

	result, err := m.Find(ctx, query.Obj("id", userID), query.FindOptions{}, noOptions)
	require.NoError(t, err)
	assert.True(t, m.Ready())
	require.Len(t, session.Definitions(), 1)
	assert.Contains(t, session.Definitions()[0], `CREATE TABLE IF NOT EXISTS "users"`)

	require.Len(t, result.Records, 1)
	assert.Equal(t, "bob", result.First().Get("name"))
	assert.False(t, result.First().IsModified())
	assert.Equal(t, database.Statement{Query: `SELECT * FROM "users" WHERE "id" = ?;`, Params: []any{userID}}, lastQuery(t, session))

	_, err = m.FindOne(ctx, query.Obj("id", userID), query.FindOptions{}, noOptions)
	require.NoError(t, err)
	assert.Len(t, session.Definitions(), 1, "a ready table is not reconciled again")
	assert.Equal(t, `SELECT * FROM "users" WHERE "id" = ? LIMIT 1;`, lastQuery(t, session).Query)
}

func TestFindRaw(t *testing.T) {
	session := testutil.NewFakeSession()
	session.Respond = rows(database.Row{"name": "bob"})
	m := newModel(t, session, database.GeneratorConfig{}, nil)

	result, err := m.Find(context.Background(), query.Obj(), query.FindOptions{Select: []string{"name"}}, noOptions)
	require.NoError(t, err)
	assert.Empty(t, result.Records)
	assert.Nil(t, result.First())
	assert.Equal(t, []database.Row{{"name": "bob"}}, result.Rows)
}

func TestEachRow(t *testing.T) {
	session := testutil.NewFakeSession()
	session.Respond = rows(database.Row{"id": userID, "name": "a"}, database.Row{"id": userID, "name": "b"})
	m := newModel(t, session, database.GeneratorConfig{}, nil)

	var names []any
	err := m.EachRow(context.Background(), query.Obj(), query.FindOptions{}, noOptions, func(_ database.Row, r *query.Record) error {
		names = append(names, r.Get("name"))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, names)

	err = m.EachRow(context.Background(), query.Obj(), query.FindOptions{Raw: true}, noOptions, func(row database.Row, r *query.Record) error {
		assert.Nil(t, r)
		return errors.New("stop")
	})
	assert.True(t, cqlerr.IsKind(err, cqlerr.QueryFailed))
}

func TestMissingTableRetry(t *testing.T) {
	undefined := fmt.Errorf("%w: unconfigured table users", database.ErrUndefinedTable)

	t.Run("bound statement is executed again", func(t *testing.T) {
		session := testutil.NewFakeSession()
		calls := 0
		session.Respond = func(string, []any) (*database.Result, error) {
			calls++
			if calls == 1 {
				return nil, undefined
			}
			return &database.Result{Rows: []database.Row{{"id": userID, "name": "bob"}}}, nil
		}
		m := newModel(t, session, database.GeneratorConfig{}, nil)

		result, err := m.Find(context.Background(), query.Obj("id", userID), query.FindOptions{}, database.QueryOptions{Consistency: "one"})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.Len(t, result.Records, 1)

		queries := session.Queries()
		options := session.Options()
		require.Len(t, options, 2)
		assert.Equal(t, queries[0], queries[1])
		assert.False(t, options[0].Unprepared)
		assert.Equal(t, database.QueryOptions{Consistency: "one", Unprepared: true}, options[1])
	})

	t.Run("statement without parameters becomes a definition query", func(t *testing.T) {
		session := testutil.NewFakeSession()
		session.Respond = func(string, []any) (*database.Result, error) { return nil, undefined }
		m := newModel(t, session, database.GeneratorConfig{}, nil)

		_, err := m.Find(context.Background(), query.Obj(), query.FindOptions{}, noOptions)
		require.NoError(t, err)
		definitions := session.Definitions()
		assert.Equal(t, `SELECT * FROM "users";`, definitions[len(definitions)-1])
	})

	t.Run("second failure is returned", func(t *testing.T) {
		session := testutil.NewFakeSession()
		calls := 0
		session.Respond = func(string, []any) (*database.Result, error) {
			calls++
			return nil, undefined
		}
		m := newModel(t, session, database.GeneratorConfig{}, nil)

		_, err := m.Find(context.Background(), query.Obj("id", userID), query.FindOptions{}, noOptions)
		require.Error(t, err)
		assert.True(t, cqlerr.IsKind(err, cqlerr.QueryFailed))
		assert.ErrorIs(t, err, database.ErrUndefinedTable)
		assert.Equal(t, 2, calls)
	})
}

func TestInitRespectsMigrationMode(t *testing.T) {
	live := usersSchema()
	live.Fields = live.Fields[:2]
	liveNormalized, err := schema.Normalize(live)
	require.NoError(t, err)

	t.Run("safe mode refuses a changed table", func(t *testing.T) {
		session := testutil.NewFakeSession()
		session.SetTable(liveNormalized)
		m := newModel(t, session, database.GeneratorConfig{Migration: "safe"}, nil)

		_, err := m.Find(context.Background(), query.Obj(), query.FindOptions{}, noOptions)
		assert.True(t, cqlerr.IsKind(err, cqlerr.SchemaMismatch))
		assert.False(t, m.Ready())
		assert.Empty(t, session.Queries())
		assert.Empty(t, session.Definitions())
	})

	t.Run("alter mode adds the missing columns", func(t *testing.T) {
		session := testutil.NewFakeSession()
		session.SetTable(liveNormalized)
		m := newModel(t, session, database.GeneratorConfig{Migration: "alter"}, nil)

		plan, err := m.Sync(context.Background())
		require.NoError(t, err)
		assert.Len(t, plan.Prompts(), 2)
		assert.Equal(t, []string{
			`ALTER TABLE "users" ADD "age" int`,
			`ALTER TABLE "users" ADD "tags" set<text>`,
		}, session.Definitions())
		assert.True(t, m.Ready())
	})
}

func TestSave(t *testing.T) {
	ctx := context.Background()
	session := testutil.NewFakeSession()
	m := newModel(t, session, database.GeneratorConfig{}, nil)

	r, err := m.NewRecord(map[string]any{"id": userID, "name": "bob"})
	require.NoError(t, err)
	applied, err := m.Save(ctx, r, query.SaveOptions{TTL: 10}, noOptions)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.False(t, r.IsModified())
	assert.Equal(t, database.Statement{
		Query:  `INSERT INTO "users" ("id", "name") VALUES (?, ?) USING TTL 10;`,
		Params: []any{userID, "bob"},
	}, lastQuery(t, session))

	require.NoError(t, r.Set("age", 4))
	session.Respond = rows(database.Row{"[applied]": false, "id": userID})
	applied, err = m.Save(ctx, r, query.SaveOptions{IfNotExists: true}, noOptions)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.True(t, r.IsModified("age"), "a save that was not applied keeps the changes")

	missing, err := m.NewRecord(map[string]any{"id": userID})
	require.NoError(t, err)
	_, err = m.Save(ctx, missing, query.SaveOptions{}, noOptions)
	assert.True(t, cqlerr.IsKind(err, cqlerr.UnsetRequiredField))

	session.Respond = func(string, []any) (*database.Result, error) { return nil, errors.New("write timeout") }
	_, err = m.Save(ctx, r, query.SaveOptions{}, noOptions)
	assert.True(t, cqlerr.IsKind(err, cqlerr.WriteFailed))
	assert.ErrorContains(t, err, "write timeout")
}

func TestSaveHooks(t *testing.T) {
	ctx := context.Background()
	session := testutil.NewFakeSession()
	var events []string
	hooks := &query.Hooks{
		BeforeSave: func(_ context.Context, r *query.Record, _ query.SaveOptions) error {
			if r.Get("name") == "mallory" {
				return errors.New("rejected")
			}
			events = append(events, fmt.Sprintf("before:%d", len(session.Queries())))
			return nil
		},
		AfterSave: func(_ context.Context, r *query.Record, _ query.SaveOptions) error {
			events = append(events, fmt.Sprintf("after:%d", len(session.Queries())))
			if r.Get("name") == "eve" {
				return errors.New("audit failed")
			}
			return nil
		},
	}
	m := newModel(t, session, database.GeneratorConfig{}, hooks)

	bob, err := m.NewRecord(map[string]any{"id": userID, "name": "bob"})
	require.NoError(t, err)
	_, err = m.Save(ctx, bob, query.SaveOptions{}, noOptions)
	require.NoError(t, err)
	assert.Equal(t, []string{"before:0", "after:1"}, events)

	mallory, err := m.NewRecord(map[string]any{"id": userID, "name": "mallory"})
	require.NoError(t, err)
	_, err = m.Save(ctx, mallory, query.SaveOptions{}, noOptions)
	assert.True(t, cqlerr.IsKind(err, cqlerr.BeforeHookFailed))
	assert.Len(t, session.Queries(), 1, "a failing before hook stops the write")

	eve, err := m.NewRecord(map[string]any{"id": userID, "name": "eve"})
	require.NoError(t, err)
	_, err = m.Save(ctx, eve, query.SaveOptions{}, noOptions)
	assert.True(t, cqlerr.IsKind(err, cqlerr.AfterHookFailed))
	assert.Len(t, session.Queries(), 2, "the write happened before the after hook failed")
	assert.False(t, eve.IsModified())
}

func TestUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	session := testutil.NewFakeSession()
	var deleted []query.Object
	hooks := &query.Hooks{
		AfterDelete: func(_ context.Context, where query.Object, _ query.DeleteOptions) error {
			deleted = append(deleted, where)
			return nil
		},
	}
	m := newModel(t, session, database.GeneratorConfig{}, hooks)

	session.Respond = rows(database.Row{"[applied]": false})
	applied, err := m.Update(ctx, query.Obj("id", userID), query.Obj("tags", query.Obj("$add", []string{"x"})), query.UpdateOptions{IfExists: true}, noOptions)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, database.Statement{
		Query:  `UPDATE "users" SET "tags" = "tags" + ? WHERE "id" = ? IF EXISTS;`,
		Params: []any{[]string{"x"}, userID},
	}, lastQuery(t, session))

	session.Respond = nil
	r := query.Hydrate(m.Schema(), database.Row{"id": userID, "name": "bob"})
	require.NoError(t, m.DeleteRecord(ctx, r, noOptions))
	assert.Equal(t, database.Statement{Query: `DELETE FROM "users" WHERE "id" = ?;`, Params: []any{userID}}, lastQuery(t, session))
	assert.Equal(t, []query.Object{query.Obj("id", userID)}, deleted)

	_, err = m.Update(ctx, query.Obj("id", userID), query.Obj("id", nil), query.UpdateOptions{}, noOptions)
	assert.True(t, cqlerr.IsKind(err, cqlerr.UnsetKeyField))
}

func TestTableAdmin(t *testing.T) {
	ctx := context.Background()
	session := testutil.NewFakeSession()
	m := newModel(t, session, database.GeneratorConfig{}, nil)

	require.NoError(t, m.Init(ctx))
	require.NoError(t, m.Truncate(ctx))
	require.NoError(t, m.DropMaterializedViews(ctx, []string{"users_by_name"}))
	require.NoError(t, m.DropIndexes(ctx, []string{"users_name_idx"}))
	require.NoError(t, m.AlterTable(ctx, schema.AlterAdd, "attrs", "map<text, varchar>"))
	require.NoError(t, m.AlterTable(ctx, schema.AlterDrop, "attrs", ""))
	require.NoError(t, m.DropTable(ctx))
	assert.False(t, m.Ready())

	assert.Equal(t, []string{
		`TRUNCATE TABLE "users"`,
		`DROP MATERIALIZED VIEW IF EXISTS "users_by_name"`,
		`DROP INDEX IF EXISTS "users_name_idx"`,
		`ALTER TABLE "users" ADD "attrs" map<text,text>`,
		`ALTER TABLE "users" DROP "attrs"`,
		`DROP TABLE IF EXISTS "users"`,
	}, session.Definitions()[1:])

	require.NoError(t, m.Init(ctx))
	definitions := session.Definitions()
	assert.Contains(t, definitions[len(definitions)-1], `CREATE TABLE IF NOT EXISTS "users"`)

	session.FailDefinition = func(string) error { return errors.New("unauthorized") }
	err := m.Truncate(ctx)
	assert.True(t, cqlerr.IsKind(err, cqlerr.DDLFailed))
}
