package migrate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cqldef/cqldef/cqlerr"
	"github.com/cqldef/cqldef/database"
	"github.com/cqldef/cqldef/schema"
)

// Executor runs the tasks of a plan in order. A declined confirmation or a
// failing statement stops the run; nothing after it is attempted.
type Executor struct {
	Session database.Session
	Confirm ConfirmationProvider
	Logger  database.Logger
	// SkipDrop leaves out statements that drop or truncate, echoing them as
	// skipped.
	SkipDrop bool
}

func (e *Executor) Execute(ctx context.Context, plan *Plan) error {
	if plan.Empty() {
		return nil
	}
	logger := e.Logger
	if logger == nil {
		logger = database.NullLogger{}
	}
	confirm := e.Confirm
	if confirm == nil {
		confirm = AlwaysReject{}
	}

	for _, task := range plan.Tasks {
		if task.Confirm != "" {
			answer, err := confirm.Confirm(task.Confirm)
			if err != nil {
				return cqlerr.Wrap(cqlerr.SchemaMismatch, fmt.Sprintf("no confirmation for table %q", plan.Table), err)
			}
			if !approved(answer) {
				return cqlerr.Newf(cqlerr.SchemaMismatch, "migration of table %q was declined", plan.Table)
			}
		}
		for _, ddl := range task.DDLs {
			stmt := ddl.Statement()
			if e.SkipDrop && database.IsDrop(stmt) {
				logger.Printf("-- Skipped: %s;\n", stmt)
				continue
			}
			slog.Debug("Executing definition", "table", plan.Table, "stmt", stmt)
			logger.Printf("%s;\n", stmt)
			if err := e.Session.ExecuteDefinition(ctx, stmt); err != nil {
				return cqlerr.Wrap(cqlerr.DDLFailed, fmt.Sprintf("failed to %s for table %q", describe(ddl), plan.Table), err)
			}
		}
	}
	return nil
}

func describe(ddl schema.DDL) string {
	switch d := ddl.(type) {
	case *schema.CreateTable:
		return "create table"
	case *schema.CreateIndex, *schema.CreateCustomIndex:
		return "create index"
	case *schema.CreateMaterializedView:
		return "create materialized view"
	case *schema.AlterTable:
		return fmt.Sprintf("alter table (%s %s)", d.Op, d.Column)
	case *schema.DropTable:
		return "drop table"
	case *schema.DropIndex:
		return "drop index"
	case *schema.DropMaterializedView:
		return "drop materialized view"
	case *schema.TruncateTable:
		return "truncate table"
	}
	return "execute statement"
}

// Reconciler brings one table in line with its desired schema: it reads the
// live definition, plans and executes.
type Reconciler struct {
	Keyspace string
	Catalog  database.Catalog
	Planner  *Planner
	Executor *Executor
}

func (r *Reconciler) Reconcile(ctx context.Context, desired *schema.NormalizedSchema) (*Plan, error) {
	live, err := database.Introspect(ctx, r.Catalog, r.Keyspace, desired.TableName)
	if err != nil {
		return nil, err
	}
	plan, err := r.Planner.Plan(desired, live)
	if err != nil {
		return nil, err
	}
	if err := r.Executor.Execute(ctx, plan); err != nil {
		return plan, err
	}
	return plan, nil
}
