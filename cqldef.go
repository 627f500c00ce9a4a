package cqldef

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/cqldef/cqldef/database"
	"github.com/cqldef/cqldef/database/file"
	"github.com/cqldef/cqldef/migrate"
	"github.com/cqldef/cqldef/schema"
)

type Options struct {
	DesiredFile string
	// CurrentFile, when set, stands in for the live cluster. Plans against it
	// are shown, never applied.
	CurrentFile string
	Keyspace    string
	DryRun      bool
	Export      bool
	// Snapshot exports catalog rows instead of a schema file.
	Snapshot bool
	SkipDrop bool
	Config   database.GeneratorConfig
	// Confirm defaults to migrate.NewConfirmationProvider(Config).
	Confirm migrate.ConfirmationProvider
}

// Run reconciles every table of the desired schema file against catalog, or
// exports the live schema. Output goes to logger.
func Run(ctx context.Context, session database.Session, catalog database.Catalog, options *Options, logger database.Logger) error {
	if options.Export {
		return export(ctx, catalog, options, logger)
	}

	buf, err := ReadFile(options.DesiredFile)
	if err != nil {
		return fmt.Errorf("failed to read '%s': %w", options.DesiredFile, err)
	}
	ks, err := schema.Parse(buf)
	if err != nil {
		return err
	}
	keyspace := options.Keyspace
	if keyspace == "" {
		keyspace = ks.Name
	}

	var desired []*schema.NormalizedSchema
	for _, table := range ks.Tables {
		if !options.Config.TableSelected(table.TableName) {
			slog.Debug("Skipping table", "table", table.TableName)
			continue
		}
		n, err := schema.Normalize(table)
		if err != nil {
			return err
		}
		desired = append(desired, n)
	}

	lives, err := database.ConcurrentMap(ctx, desired, options.Config.Concurrency, func(ctx context.Context, n *schema.NormalizedSchema) (*schema.Live, error) {
		return database.Introspect(ctx, catalog, keyspace, n.TableName)
	})
	if err != nil {
		return err
	}

	planner, err := migrate.NewPlanner(options.Config)
	if err != nil {
		return err
	}
	var plans []*migrate.Plan
	for i, n := range desired {
		plan, err := planner.Plan(n, lives[i])
		if err != nil {
			return err
		}
		if !plan.Empty() {
			plans = append(plans, plan)
		}
	}

	if len(plans) == 0 {
		logger.Println("-- Nothing is modified --")
		return nil
	}

	if options.DryRun || options.CurrentFile != "" {
		var stmts []string
		for _, plan := range plans {
			stmts = append(stmts, plan.Statements()...)
		}
		database.ShowDDLs(stmts, options.SkipDrop, logger)
		return nil
	}

	confirm := options.Confirm
	if confirm == nil {
		confirm = migrate.NewConfirmationProvider(options.Config)
	}
	executor := &migrate.Executor{Session: session, Confirm: confirm, Logger: logger, SkipDrop: options.SkipDrop}
	logger.Println("-- Apply --")
	for _, plan := range plans {
		if err := executor.Execute(ctx, plan); err != nil {
			return err
		}
	}
	return nil
}

func export(ctx context.Context, catalog database.Catalog, options *Options, logger database.Logger) error {
	lister, ok := catalog.(database.TableLister)
	if !ok {
		return fmt.Errorf("catalog %T cannot list tables", catalog)
	}
	tables, err := lister.Tables(ctx, options.Keyspace)
	if err != nil {
		return err
	}
	tables = slices.DeleteFunc(slices.Sorted(slices.Values(tables)), func(t string) bool {
		return !options.Config.TableSelected(t)
	})
	if len(tables) == 0 {
		logger.Println("-- No table exists --")
		return nil
	}

	catalogs, err := database.ConcurrentMap(ctx, tables, options.Config.Concurrency, func(ctx context.Context, table string) (*schema.Catalog, error) {
		return database.FetchCatalog(ctx, catalog, options.Keyspace, table)
	})
	if err != nil {
		return err
	}

	var out []byte
	if options.Snapshot {
		snapshot := map[string]*schema.Catalog{}
		for i, table := range tables {
			snapshot[table] = catalogs[i]
		}
		out, err = file.MarshalSnapshot(options.Keyspace, snapshot)
	} else {
		ks := &schema.Keyspace{Name: options.Keyspace}
		for i, table := range tables {
			live, err := schema.FromCatalog(table, catalogs[i])
			if err != nil {
				return err
			}
			if live != nil {
				ks.Tables = append(ks.Tables, schema.Denormalize(live.Schema))
			}
		}
		out, err = schema.Marshal(ks)
	}
	if err != nil {
		return err
	}
	logger.Printf("%s", out)
	return nil
}

// ParseFiles splits the --file arguments into the desired file and an
// optional current file: with two files the first one is the current state.
func ParseFiles(files []string) (string, string, error) {
	switch len(files) {
	case 0:
		return "-", "", nil
	case 1:
		return files[0], "", nil
	case 2:
		return files[1], files[0], nil
	}
	return "", "", fmt.Errorf("expected only one or two --file options, but got: %v", files)
}

// ReadFile reads a file, or stdin when path is "-".
func ReadFile(path string) ([]byte, error) {
	if path == "-" {
		stat, err := os.Stdin.Stat()
		if err != nil {
			return nil, err
		}
		if (stat.Mode() & os.ModeCharDevice) != 0 {
			return nil, fmt.Errorf("stdin is not piped")
		}
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
