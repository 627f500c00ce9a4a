package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cqldef/cqldef/cqlerr"
	"github.com/cqldef/cqldef/schema"
	"golang.org/x/sync/errgroup"
)

// Introspect reads the live definition of one table. It returns nil without
// an error when the table does not exist.
func Introspect(ctx context.Context, catalog Catalog, keyspace, table string) (*schema.Live, error) {
	cat, err := FetchCatalog(ctx, catalog, keyspace, table)
	if err != nil {
		return nil, err
	}
	return schema.FromCatalog(table, cat)
}

// FetchCatalog gathers the catalog rows of one table. Columns, indexes and
// views are looked up concurrently; view columns follow once the view names
// are known.
func FetchCatalog(ctx context.Context, catalog Catalog, keyspace, table string) (*schema.Catalog, error) {
	cat := &schema.Catalog{}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() (err error) {
		cat.Columns, err = catalog.Columns(egCtx, keyspace, table)
		return wrapCatalogError(err, "columns", table)
	})
	eg.Go(func() (err error) {
		cat.Indexes, err = catalog.Indexes(egCtx, keyspace, table)
		return wrapCatalogError(err, "indexes", table)
	})
	eg.Go(func() (err error) {
		cat.Views, err = catalog.Views(egCtx, keyspace, table)
		return wrapCatalogError(err, "materialized views", table)
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	if len(cat.Views) > 0 {
		names := make([]string, 0, len(cat.Views))
		for _, v := range cat.Views {
			names = append(names, v.ViewName)
		}
		columns, err := catalog.ViewColumns(ctx, keyspace, names)
		if err != nil {
			return nil, wrapCatalogError(err, "materialized view columns", table)
		}
		cat.ViewColumns = columns
	}

	slog.Debug("Fetched catalog", "keyspace", keyspace, "table", table,
		"columns", len(cat.Columns), "indexes", len(cat.Indexes), "views", len(cat.Views))
	return cat, nil
}

func wrapCatalogError(err error, what, table string) error {
	if err == nil {
		return nil
	}
	return cqlerr.Wrap(cqlerr.SchemaQueryFailed, fmt.Sprintf("failed to read %s of table %q", what, table), err)
}
