// Package model runs compiled statements for registered tables. A Registry
// is owned by the caller and holds one Model per table.
package model

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/cqldef/cqldef/cqlerr"
	"github.com/cqldef/cqldef/database"
	"github.com/cqldef/cqldef/migrate"
	"github.com/cqldef/cqldef/query"
	"github.com/cqldef/cqldef/schema"
)

type Options struct {
	Keyspace string
	Session  database.Session
	// Catalog defaults to Session when the session implements
	// database.Catalog.
	Catalog database.Catalog
	Config  database.GeneratorConfig
	// Confirm defaults to migrate.NewConfirmationProvider(Config).
	Confirm migrate.ConfirmationProvider
	// Logger receives the DDL applied while initializing tables.
	Logger database.Logger
}

type Registry struct {
	keyspace string
	session  database.Session
	catalog  database.Catalog
	planner  *migrate.Planner
	executor *migrate.Executor

	mu     sync.RWMutex
	models map[string]*Model
}

func NewRegistry(opts Options) (*Registry, error) {
	if opts.Session == nil {
		return nil, fmt.Errorf("a session is required")
	}
	catalog := opts.Catalog
	if catalog == nil {
		c, ok := opts.Session.(database.Catalog)
		if !ok {
			return nil, fmt.Errorf("session %T cannot read the system catalog, set Options.Catalog", opts.Session)
		}
		catalog = c
	}
	planner, err := migrate.NewPlanner(opts.Config)
	if err != nil {
		return nil, err
	}
	confirm := opts.Confirm
	if confirm == nil {
		confirm = migrate.NewConfirmationProvider(opts.Config)
	}
	logger := opts.Logger
	if logger == nil {
		logger = database.NullLogger{}
	}

	return &Registry{
		keyspace: opts.Keyspace,
		session:  opts.Session,
		catalog:  catalog,
		planner:  planner,
		executor: &migrate.Executor{Session: opts.Session, Confirm: confirm, Logger: logger},
		models:   map[string]*Model{},
	}, nil
}

// Register validates a table schema and returns its model. The table itself
// is reconciled on first use or by Model.Init.
func (r *Registry) Register(s *schema.Schema, hooks *query.Hooks) (*Model, error) {
	desired, err := schema.Normalize(s)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[s.TableName]; ok {
		return nil, cqlerr.Newf(cqlerr.InvalidSchema, "table %q is already registered", s.TableName)
	}
	m := &Model{
		registry: r,
		schema:   s,
		desired:  desired,
		compiler: query.NewCompiler(s),
		hooks:    hooks,
		logger:   slog.Default().With("table", s.TableName),
	}
	r.models[s.TableName] = m
	return m, nil
}

// RegisterKeyspace registers every table of a schema file.
func (r *Registry) RegisterKeyspace(ks *schema.Keyspace) error {
	for _, table := range ks.Tables {
		if _, err := r.Register(table, nil); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) Model(table string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[table]
	return m, ok
}

// Models returns the registered models sorted by table name.
func (r *Registry) Models() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	models := make([]*Model, 0, len(r.models))
	for _, name := range slices.Sorted(maps.Keys(r.models)) {
		models = append(models, r.models[name])
	}
	return models
}

// Batch runs statements built with the *Statement methods of one or more
// models as a single logged batch: every before hook first, then the batch,
// then every after hook. One statement runs on its own and an empty batch is
// a no-op. The tables involved must already be initialized.
func (r *Registry) Batch(ctx context.Context, stmts []*query.Statement, opts database.QueryOptions) error {
	if len(stmts) == 0 {
		return nil
	}
	for _, stmt := range stmts {
		if err := stmt.RunBefore(ctx); err != nil {
			return err
		}
	}

	if len(stmts) == 1 {
		slog.Debug("Executing query", "stmt", stmts[0].Query, "params", stmts[0].Params)
		if _, err := r.session.Execute(ctx, stmts[0].Query, stmts[0].Params, opts); err != nil {
			return cqlerr.Wrap(cqlerr.WriteFailed, "failed to execute statement", err)
		}
	} else {
		batch := make([]database.Statement, len(stmts))
		for i, stmt := range stmts {
			batch[i] = database.Statement{Query: stmt.Query, Params: stmt.Params}
		}
		slog.Debug("Executing batch", "statements", len(batch))
		if err := r.session.ExecuteBatch(ctx, batch, opts); err != nil {
			return cqlerr.Wrap(cqlerr.WriteFailed, fmt.Sprintf("failed to execute batch of %d statements", len(batch)), err)
		}
	}

	for _, stmt := range stmts {
		if err := stmt.RunAfter(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying session.
func (r *Registry) Close() error {
	return r.session.Close()
}
