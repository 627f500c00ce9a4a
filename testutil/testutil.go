// Utilities for _test.go files
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cqldef/cqldef/cqlerr"
	"github.com/cqldef/cqldef/database"
	"github.com/cqldef/cqldef/migrate"
	"github.com/cqldef/cqldef/schema"
	"github.com/cqldef/cqldef/util"
	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
)

func init() {
	util.InitSlog()

	// Keep INFO records out of test output unless LOG_LEVEL asks for them.
	if os.Getenv("LOG_LEVEL") == "" {
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})
		slog.SetDefault(slog.New(handler))
	}
}

// TestCase describes one planner scenario. Current and Desired are table
// definitions in schema file syntax; an empty Current means the table does
// not exist.
type TestCase struct {
	Table          string
	Current        string
	Desired        string
	Mode           string   // default: alter
	Environment    string   `yaml:"environment"`
	AlterableTypes []string `yaml:"alterable_types"`
	Answers        []string // confirmation answers in order; default: approve everything
	Up             *string  // expected statements, one per line with a trailing ";"
	Prompts        []string // expected confirmation prompts
	Error          *string  // expected error kind
}

func ReadTests(pattern string) (map[string]TestCase, error) {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}

	ret := map[string]TestCase{}
	testFileMap := map[string]string{}
	for _, file := range files {
		var tests map[string]*TestCase

		buf, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		dec := yaml.NewDecoder(bytes.NewReader(buf), yaml.DisallowUnknownField())
		if err := dec.Decode(&tests); err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}

		for name, test := range tests {
			if existingFile, ok := testFileMap[name]; ok {
				return nil, fmt.Errorf("duplicate test case name '%s': defined in both '%s' and '%s'", name, existingFile, file)
			}
			if test.Desired == "" {
				return nil, fmt.Errorf("%s: test case '%s' has no desired schema", file, name)
			}
			if test.Table == "" {
				test.Table = "t"
			}
			if test.Mode == "" {
				test.Mode = string(migrate.ModeAlter)
			}
			testFileMap[name] = file
			ret[name] = *test
		}
	}
	return ret, nil
}

// RunPlanTest plans and executes current → desired against a fake session,
// compares the executed statements and prompts, and then checks that the
// desired schema plans to nothing against itself.
func RunPlanTest(t *testing.T, test TestCase) {
	t.Helper()

	desired := MustNormalizeTable(t, test.Table, test.Desired)
	var live *schema.Live
	if test.Current != "" {
		live = MustLive(t, MustNormalizeTable(t, test.Table, test.Current))
	}

	planner, err := migrate.NewPlanner(database.GeneratorConfig{
		Migration:      test.Mode,
		Environment:    test.Environment,
		AlterableTypes: test.AlterableTypes,
	})
	if err != nil {
		t.Fatal(err)
	}

	var confirm migrate.ConfirmationProvider = migrate.AlwaysApprove{}
	scripted := &migrate.Scripted{Answers: test.Answers}
	if test.Answers != nil {
		confirm = scripted
	}
	session := NewFakeSession()
	executor := &migrate.Executor{Session: session, Confirm: confirm}

	plan, err := planner.Plan(desired, live)
	if err == nil {
		err = executor.Execute(context.Background(), plan)
	}

	if test.Error != nil {
		if err == nil {
			t.Errorf("expected error: %s, but got no error", *test.Error)
		} else if kind := cqlerr.KindOf(err); string(kind) != *test.Error {
			t.Errorf("expected error: %s, but got: %s (%v)", *test.Error, kind, err)
		}
	} else if err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	if test.Up != nil {
		expected := strings.TrimSpace(*test.Up)
		actual := strings.TrimSpace(joinDDLs(session.Definitions()))
		assert.Equal(t, expected, actual, "current → desired should execute 'up'")
	}
	if test.Prompts != nil {
		prompts := plan.Prompts()
		if test.Answers != nil {
			prompts = scripted.Prompts
		}
		if len(test.Prompts) == 0 {
			assert.Empty(t, prompts)
		} else {
			assert.Equal(t, test.Prompts, prompts)
		}
	}

	if test.Error == nil {
		again, err := planner.Plan(desired, MustLive(t, desired))
		if err != nil {
			t.Fatal(err)
		}
		if !again.Empty() {
			t.Errorf("Desired schema is not idempotent. Expected no changes when reapplying desired schema, but got:\n```\n%s```", joinDDLs(again.Statements()))
		}
	}
}

func MustNormalizeTable(t *testing.T, table, definition string) *schema.NormalizedSchema {
	t.Helper()
	s, err := schema.ParseTable(table, []byte(definition))
	if err != nil {
		t.Fatal(err)
	}
	n, err := schema.Normalize(s)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

// MustLive renders n as catalog rows and reads it back, which is what the
// store would report after creating n.
func MustLive(t *testing.T, n *schema.NormalizedSchema) *schema.Live {
	t.Helper()
	live, err := schema.FromCatalog(n.TableName, schema.CatalogOf(n))
	if err != nil {
		t.Fatal(err)
	}
	return live
}

func joinDDLs(ddls []string) string {
	var b strings.Builder
	for _, ddl := range ddls {
		b.WriteString(ddl)
		b.WriteString(";\n")
	}
	return b.String()
}

// FakeSession records everything it is asked to run. Respond, when set,
// answers Execute and Iterate; Catalogs backs the catalog lookups.
type FakeSession struct {
	mu          sync.Mutex
	definitions []string
	queries     []database.Statement
	options     []database.QueryOptions
	batches     [][]database.Statement

	Respond        func(query string, params []any) (*database.Result, error)
	FailDefinition func(query string) error
	Catalogs       map[string]*schema.Catalog
}

func NewFakeSession() *FakeSession {
	return &FakeSession{Catalogs: map[string]*schema.Catalog{}}
}

func (f *FakeSession) Execute(_ context.Context, query string, params []any, opts database.QueryOptions) (*database.Result, error) {
	f.mu.Lock()
	f.queries = append(f.queries, database.Statement{Query: query, Params: params})
	f.options = append(f.options, opts)
	respond := f.Respond
	f.mu.Unlock()
	if respond == nil {
		return &database.Result{}, nil
	}
	return respond(query, params)
}

func (f *FakeSession) ExecuteDefinition(_ context.Context, query string) error {
	f.mu.Lock()
	f.definitions = append(f.definitions, query)
	fail := f.FailDefinition
	f.mu.Unlock()
	if fail != nil {
		return fail(query)
	}
	return nil
}

func (f *FakeSession) ExecuteBatch(_ context.Context, stmts []database.Statement, _ database.QueryOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, stmts)
	return nil
}

func (f *FakeSession) Iterate(ctx context.Context, query string, params []any, opts database.QueryOptions, fn func(database.Row) error) error {
	result, err := f.Execute(ctx, query, params, opts)
	if err != nil {
		return err
	}
	for _, row := range result.Rows {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func (f *FakeSession) Close() error { return nil }

func (f *FakeSession) Definitions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.definitions...)
}

func (f *FakeSession) Queries() []database.Statement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]database.Statement(nil), f.queries...)
}

// Options returns the query options of every Execute call, in order.
func (f *FakeSession) Options() []database.QueryOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]database.QueryOptions(nil), f.options...)
}

func (f *FakeSession) Batches() [][]database.Statement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]database.Statement(nil), f.batches...)
}

// SetTable makes the catalog report n as an existing table.
func (f *FakeSession) SetTable(n *schema.NormalizedSchema) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Catalogs[n.TableName] = schema.CatalogOf(n)
}

func (f *FakeSession) catalog(table string) *schema.Catalog {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cat, ok := f.Catalogs[table]; ok {
		return cat
	}
	return &schema.Catalog{}
}

func (f *FakeSession) Columns(_ context.Context, _ string, table string) ([]schema.ColumnRow, error) {
	return f.catalog(table).Columns, nil
}

func (f *FakeSession) Indexes(_ context.Context, _ string, table string) ([]schema.IndexRow, error) {
	return f.catalog(table).Indexes, nil
}

func (f *FakeSession) Views(_ context.Context, _ string, table string) ([]schema.ViewRow, error) {
	return f.catalog(table).Views, nil
}

func (f *FakeSession) ViewColumns(_ context.Context, _ string, views []string) ([]schema.ColumnRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rows []schema.ColumnRow
	for _, cat := range f.Catalogs {
		for _, row := range cat.ViewColumns {
			for _, v := range views {
				if row.TableName == v {
					rows = append(rows, row)
				}
			}
		}
	}
	return rows, nil
}

var _ database.Session = (*FakeSession)(nil)
var _ database.Catalog = (*FakeSession)(nil)
