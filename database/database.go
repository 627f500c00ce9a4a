// Package database is the storage layer: sessions, catalog lookups and the
// generator configuration. It never constructs DDL itself.
package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cqldef/cqldef/schema"
)

type Config struct {
	Hosts             []string
	Port              int
	Keyspace          string
	User              string
	Password          string
	Consistency       string
	SerialConsistency string
	LocalDC           string
	ProtoVersion      int
	Timeout           time.Duration
	ConnectTimeout    time.Duration
}

// ErrUndefinedTable is matched (with errors.Is) by query failures caused by
// the target table not existing.
var ErrUndefinedTable = errors.New("undefined table")

// Row is one result row keyed by column name.
type Row map[string]any

// QueryOptions tunes a single request. Zero values leave the session defaults
// in place.
type QueryOptions struct {
	Consistency       string
	SerialConsistency string
	PageSize          int
	PageState         []byte
	Idempotent        bool
	// Retries caps how often an idempotent statement is retried.
	Retries int
	// Unprepared marks a statement re-issued after its table was created, so
	// that no prepared id cached for the missing table is reused.
	Unprepared bool
}

type Result struct {
	Rows      []Row
	PageState []byte
}

// Applied reports the outcome of a conditional statement. Statements without
// a condition do not return an [applied] column and count as applied.
func (r *Result) Applied() bool {
	if r == nil || len(r.Rows) == 0 {
		return true
	}
	applied, ok := r.Rows[0]["[applied]"].(bool)
	return !ok || applied
}

// Statement is a parameterized CQL statement.
type Statement struct {
	Query  string
	Params []any
}

// Session is the execution surface the rest of the module talks to.
type Session interface {
	// Execute runs a single statement and returns one page of rows.
	Execute(ctx context.Context, query string, params []any, opts QueryOptions) (*Result, error)
	// ExecuteDefinition runs a schema altering statement without parameters.
	ExecuteDefinition(ctx context.Context, query string) error
	// ExecuteBatch runs statements as one logged batch.
	ExecuteBatch(ctx context.Context, stmts []Statement, opts QueryOptions) error
	// Iterate streams every row of a query, fetching further pages as needed.
	Iterate(ctx context.Context, query string, params []any, opts QueryOptions, fn func(Row) error) error
	Close() error
}

// Catalog reads the system schema tables of a keyspace.
type Catalog interface {
	Columns(ctx context.Context, keyspace, table string) ([]schema.ColumnRow, error)
	Indexes(ctx context.Context, keyspace, table string) ([]schema.IndexRow, error)
	Views(ctx context.Context, keyspace, table string) ([]schema.ViewRow, error)
	ViewColumns(ctx context.Context, keyspace string, views []string) ([]schema.ColumnRow, error)
}

// TableLister is implemented by catalogs that can enumerate a keyspace.
type TableLister interface {
	Tables(ctx context.Context, keyspace string) ([]string, error)
}

// ShowDDLs prints statements without running them. Statements dropping
// something are marked as skipped when skipDrop is set.
func ShowDDLs(ddls []string, skipDrop bool, logger Logger) {
	logger.Println("-- dry run --")
	for _, ddl := range ddls {
		if skipDrop && IsDrop(ddl) {
			logger.Printf("-- Skipped: %s;\n", ddl)
			continue
		}
		logger.Printf("%s;\n", ddl)
	}
}

// IsDrop reports whether a statement removes data or schema.
func IsDrop(ddl string) bool {
	upper := strings.ToUpper(ddl)
	return strings.HasPrefix(upper, "DROP ") || strings.HasPrefix(upper, "TRUNCATE ") || strings.Contains(upper, " DROP ")
}
