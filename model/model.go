package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cqldef/cqldef/cqlerr"
	"github.com/cqldef/cqldef/database"
	"github.com/cqldef/cqldef/migrate"
	"github.com/cqldef/cqldef/query"
	"github.com/cqldef/cqldef/schema"
)

// Model executes statements for one table. The table is reconciled with its
// schema before the first statement runs.
type Model struct {
	registry *Registry
	schema   *schema.Schema
	desired  *schema.NormalizedSchema
	compiler *query.Compiler
	hooks    *query.Hooks
	logger   *slog.Logger

	mu    sync.Mutex
	ready bool
}

// Result holds the rows of a find. Rows are hydrated into Records unless the
// find was raw.
type Result struct {
	Records   []*query.Record
	Rows      []database.Row
	PageState []byte
}

// First returns the first record, or nil.
func (r *Result) First() *query.Record {
	if r == nil || len(r.Records) == 0 {
		return nil
	}
	return r.Records[0]
}

func (m *Model) Name() string {
	return m.schema.TableName
}

func (m *Model) Schema() *schema.Schema {
	return m.schema
}

func (m *Model) Compiler() *query.Compiler {
	return m.compiler
}

func (m *Model) NewRecord(values map[string]any) (*query.Record, error) {
	return query.NewRecord(m.schema, values)
}

// Ready reports whether the table has been reconciled.
func (m *Model) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// Init reconciles the table unless that already happened.
func (m *Model) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready {
		return nil
	}
	if _, err := m.reconcile(ctx); err != nil {
		return err
	}
	m.ready = true
	return nil
}

// Sync reconciles the table even if it is ready and returns what was run.
func (m *Model) Sync(ctx context.Context) (*migrate.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan, err := m.reconcile(ctx)
	if err != nil {
		return plan, err
	}
	m.ready = true
	return plan, nil
}

func (m *Model) reconcile(ctx context.Context) (*migrate.Plan, error) {
	r := m.registry
	reconciler := &migrate.Reconciler{
		Keyspace: r.keyspace,
		Catalog:  r.catalog,
		Planner:  r.planner,
		Executor: r.executor,
	}
	m.logger.Debug("Reconciling table")
	return reconciler.Reconcile(ctx, m.desired)
}

// Execute runs a compiled statement after initializing the table. When the
// store reports the table as missing, the statement is issued once more,
// unprepared with the same parameters, or as a definition query when it binds
// no parameters.
func (m *Model) Execute(ctx context.Context, stmt *query.Statement, opts database.QueryOptions) (*database.Result, error) {
	if err := m.Init(ctx); err != nil {
		return nil, err
	}
	session := m.registry.session

	m.logger.Debug("Executing query", "stmt", stmt.Query, "params", stmt.Params)
	result, err := session.Execute(ctx, stmt.Query, stmt.Params, opts)
	if errors.Is(err, database.ErrUndefinedTable) {
		m.logger.Debug("Table missing, retrying", "stmt", stmt.Query)
		if len(stmt.Params) == 0 {
			result, err = &database.Result{}, session.ExecuteDefinition(ctx, stmt.Query)
		} else {
			retry := opts
			retry.Unprepared = true
			result, err = session.Execute(ctx, stmt.Query, stmt.Params, retry)
		}
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Find runs a SELECT built from q.
func (m *Model) Find(ctx context.Context, q query.Object, opts query.FindOptions, qopts database.QueryOptions) (*Result, error) {
	stmt, err := m.compiler.Find(q, opts)
	if err != nil {
		return nil, err
	}
	return m.find(ctx, stmt, qopts)
}

// FindOne is Find limited to one row.
func (m *Model) FindOne(ctx context.Context, q query.Object, opts query.FindOptions, qopts database.QueryOptions) (*Result, error) {
	stmt, err := m.compiler.FindOne(q, opts)
	if err != nil {
		return nil, err
	}
	return m.find(ctx, stmt, qopts)
}

func (m *Model) find(ctx context.Context, stmt *query.Statement, qopts database.QueryOptions) (*Result, error) {
	result, err := m.Execute(ctx, stmt, qopts)
	if err != nil {
		return nil, wrapIO(err, cqlerr.QueryFailed, fmt.Sprintf("failed to query table %q", m.Name()))
	}
	out := &Result{PageState: result.PageState}
	if stmt.Raw {
		out.Rows = result.Rows
		return out, nil
	}
	for _, row := range result.Rows {
		out.Records = append(out.Records, query.Hydrate(m.schema, row))
	}
	return out, nil
}

// EachRow streams the rows matching q, fetching further pages as needed.
// record is nil for raw finds.
func (m *Model) EachRow(ctx context.Context, q query.Object, opts query.FindOptions, qopts database.QueryOptions, fn func(row database.Row, record *query.Record) error) error {
	stmt, err := m.compiler.Find(q, opts)
	if err != nil {
		return err
	}
	if err := m.Init(ctx); err != nil {
		return err
	}
	m.logger.Debug("Executing eachRow query", "stmt", stmt.Query, "params", stmt.Params)
	err = m.registry.session.Iterate(ctx, stmt.Query, stmt.Params, qopts, func(row database.Row) error {
		if stmt.Raw {
			return fn(row, nil)
		}
		return fn(row, query.Hydrate(m.schema, row))
	})
	if err != nil {
		return wrapIO(err, cqlerr.QueryFailed, fmt.Sprintf("failed to query table %q", m.Name()))
	}
	return nil
}

// SaveStatement builds the INSERT for r with the save hooks attached, for use
// in Registry.Batch.
func (m *Model) SaveStatement(r *query.Record, opts query.SaveOptions) (*query.Statement, error) {
	stmt, err := m.compiler.Insert(r, opts)
	if err != nil {
		return nil, err
	}
	m.hooks.AttachSave(stmt, r, opts)
	return stmt, nil
}

// Save inserts r. It reports false when IF NOT EXISTS found an existing row;
// in that case the record keeps its changed fields.
func (m *Model) Save(ctx context.Context, r *query.Record, opts query.SaveOptions, qopts database.QueryOptions) (bool, error) {
	stmt, err := m.SaveStatement(r, opts)
	if err != nil {
		return false, err
	}
	applied, err := m.write(ctx, stmt, qopts)
	if err != nil {
		return false, err
	}
	if !opts.IfNotExists || applied {
		r.ClearChanges()
	}
	if err := stmt.RunAfter(ctx); err != nil {
		return applied, err
	}
	return applied, nil
}

func (m *Model) UpdateStatement(where, values query.Object, opts query.UpdateOptions) (*query.Statement, error) {
	stmt, err := m.compiler.Update(where, values, opts)
	if err != nil {
		return nil, err
	}
	m.hooks.AttachUpdate(stmt, where, values, opts)
	return stmt, nil
}

// Update reports false when a condition or IF EXISTS was not met.
func (m *Model) Update(ctx context.Context, where, values query.Object, opts query.UpdateOptions, qopts database.QueryOptions) (bool, error) {
	stmt, err := m.UpdateStatement(where, values, opts)
	if err != nil {
		return false, err
	}
	applied, err := m.write(ctx, stmt, qopts)
	if err != nil {
		return false, err
	}
	if err := stmt.RunAfter(ctx); err != nil {
		return applied, err
	}
	return applied, nil
}

func (m *Model) DeleteStatement(where query.Object, opts query.DeleteOptions) (*query.Statement, error) {
	stmt, err := m.compiler.Delete(where)
	if err != nil {
		return nil, err
	}
	m.hooks.AttachDelete(stmt, where, opts)
	return stmt, nil
}

func (m *Model) Delete(ctx context.Context, where query.Object, opts query.DeleteOptions, qopts database.QueryOptions) error {
	stmt, err := m.DeleteStatement(where, opts)
	if err != nil {
		return err
	}
	if _, err := m.write(ctx, stmt, qopts); err != nil {
		return err
	}
	return stmt.RunAfter(ctx)
}

// DeleteRecord deletes the row r was read from, matched by its primary key.
func (m *Model) DeleteRecord(ctx context.Context, r *query.Record, qopts database.QueryOptions) error {
	return m.Delete(ctx, r.KeyObject(), query.DeleteOptions{}, qopts)
}

// write runs the before hook and the statement. The after hook is left to
// the caller so that it sees the outcome first.
func (m *Model) write(ctx context.Context, stmt *query.Statement, qopts database.QueryOptions) (bool, error) {
	if err := stmt.RunBefore(ctx); err != nil {
		return false, err
	}
	result, err := m.Execute(ctx, stmt, qopts)
	if err != nil {
		return false, wrapIO(err, cqlerr.WriteFailed, fmt.Sprintf("failed to write to table %q", m.Name()))
	}
	return result.Applied(), nil
}

// wrapIO classifies a store failure. Errors that already carry a kind, such
// as a failed initialization or a failing hook, pass through.
func wrapIO(err error, kind cqlerr.Kind, msg string) error {
	if cqlerr.KindOf(err) != "" {
		return err
	}
	return cqlerr.Wrap(kind, msg, err)
}

// Truncate removes every row of the table.
func (m *Model) Truncate(ctx context.Context) error {
	return m.definition(ctx, &schema.TruncateTable{Name: m.Name()})
}

// DropTable drops the table. The next statement recreates it.
func (m *Model) DropTable(ctx context.Context) error {
	if err := m.definition(ctx, &schema.DropTable{Name: m.Name()}); err != nil {
		return err
	}
	m.mu.Lock()
	m.ready = false
	m.mu.Unlock()
	return nil
}

func (m *Model) DropMaterializedViews(ctx context.Context, names []string) error {
	for _, name := range names {
		if err := m.definition(ctx, &schema.DropMaterializedView{Name: name}); err != nil {
			return err
		}
	}
	return nil
}

func (m *Model) DropIndexes(ctx context.Context, names []string) error {
	for _, name := range names {
		if err := m.definition(ctx, &schema.DropIndex{Name: name}); err != nil {
			return err
		}
	}
	return nil
}

// AlterTable adds, drops or retypes one column. typ is ignored for drops.
func (m *Model) AlterTable(ctx context.Context, op schema.AlterOp, column, typ string) error {
	field := schema.NormalizedField{Type: schema.ExtractType(typ), TypeDef: schema.ExtractTypeDef(typ)}
	return m.definition(ctx, &schema.AlterTable{Table: m.Name(), Op: op, Column: column, Field: field})
}

func (m *Model) definition(ctx context.Context, ddl schema.DDL) error {
	stmt := ddl.Statement()
	m.logger.Debug("Executing definition", "stmt", stmt)
	if err := m.registry.session.ExecuteDefinition(ctx, stmt); err != nil {
		return cqlerr.Wrap(cqlerr.DDLFailed, fmt.Sprintf("failed to execute %q", stmt), err)
	}
	return nil
}
