package database

import (
	"context"
	"strings"
	"sync"
)

// DryRunSession passes reads through to the wrapped session and records
// every other statement instead of executing it.
type DryRunSession struct {
	wrapped Session
	logger  Logger

	mu       sync.Mutex
	recorded []string
}

func NewDryRunSession(s Session, logger Logger) *DryRunSession {
	if logger == nil {
		logger = NullLogger{}
	}
	return &DryRunSession{wrapped: s, logger: logger}
}

func (d *DryRunSession) Execute(ctx context.Context, query string, params []any, opts QueryOptions) (*Result, error) {
	if isRead(query) {
		return d.wrapped.Execute(ctx, query, params, opts)
	}
	d.record(query)
	return &Result{}, nil
}

func (d *DryRunSession) ExecuteDefinition(ctx context.Context, query string) error {
	d.record(query)
	return nil
}

func (d *DryRunSession) ExecuteBatch(ctx context.Context, stmts []Statement, opts QueryOptions) error {
	d.record("BEGIN BATCH")
	for _, stmt := range stmts {
		d.record(stmt.Query)
	}
	d.record("APPLY BATCH")
	return nil
}

func (d *DryRunSession) Iterate(ctx context.Context, query string, params []any, opts QueryOptions, fn func(Row) error) error {
	return d.wrapped.Iterate(ctx, query, params, opts, fn)
}

func (d *DryRunSession) Close() error {
	return d.wrapped.Close()
}

// Recorded returns the statements that were not executed.
func (d *DryRunSession) Recorded() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.recorded...)
}

func (d *DryRunSession) record(query string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recorded = append(d.recorded, query)
	d.logger.Printf("%s;\n", strings.TrimSuffix(query, ";"))
}

func isRead(query string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT")
}
