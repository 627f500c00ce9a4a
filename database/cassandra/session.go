// Package cassandra implements database.Session and database.Catalog on top
// of gocql.
package cassandra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	gocql "github.com/apache/cassandra-gocql-driver/v2"
	"github.com/cqldef/cqldef/database"
	"github.com/cqldef/cqldef/schema"
)

type Session struct {
	config database.Config

	mu      sync.Mutex
	session *gocql.Session
}

// NewSession validates the config. The connection is opened on first use.
func NewSession(config database.Config) (*Session, error) {
	if len(config.Hosts) == 0 {
		config.Hosts = []string{"127.0.0.1"}
	}
	if config.Keyspace == "" {
		return nil, errors.New("keyspace is required")
	}
	if config.Consistency != "" {
		if _, err := gocql.ParseConsistencyWrapper(config.Consistency); err != nil {
			return nil, err
		}
	}
	return &Session{config: config}, nil
}

func (s *Session) connect() (*gocql.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return s.session, nil
	}

	cluster := gocql.NewCluster(s.config.Hosts...)
	cluster.Keyspace = s.config.Keyspace
	if s.config.Port > 0 {
		cluster.Port = s.config.Port
	}
	if s.config.ProtoVersion > 0 {
		cluster.ProtoVersion = s.config.ProtoVersion
	}
	if s.config.Timeout > 0 {
		cluster.Timeout = s.config.Timeout
	}
	if s.config.ConnectTimeout > 0 {
		cluster.ConnectTimeout = s.config.ConnectTimeout
	}
	if s.config.Consistency != "" {
		cluster.Consistency, _ = gocql.ParseConsistencyWrapper(s.config.Consistency)
	}
	if s.config.User != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: s.config.User,
			Password: s.config.Password,
		}
	}
	if s.config.LocalDC != "" {
		cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.DCAwareRoundRobinPolicy(s.config.LocalDC))
	}

	start := time.Now()
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", strings.Join(s.config.Hosts, ","), err)
	}
	slog.Debug("Connected", "hosts", s.config.Hosts, "keyspace", s.config.Keyspace, "elapsed", time.Since(start))
	s.session = session
	return session, nil
}

// singlePage reports whether Execute should stop after one page. gocql keeps
// fetching pages until a page state is set, so a nil state still has to be
// passed for the first page.
func singlePage(opts database.QueryOptions) bool {
	return opts.PageSize > 0 || len(opts.PageState) > 0
}

func (s *Session) query(session *gocql.Session, stmt string, params []any, opts database.QueryOptions, paged bool) (*gocql.Query, error) {
	q := session.Query(stmt, params...)
	if opts.Consistency != "" {
		c, err := gocql.ParseConsistencyWrapper(opts.Consistency)
		if err != nil {
			return nil, err
		}
		q = q.Consistency(c)
	}
	serial := opts.SerialConsistency
	if serial == "" {
		serial = s.config.SerialConsistency
	}
	switch strings.ToLower(serial) {
	case "":
	case "serial":
		q = q.SerialConsistency(gocql.Serial)
	case "local_serial":
		q = q.SerialConsistency(gocql.LocalSerial)
	default:
		return nil, fmt.Errorf("unknown serial consistency %q", serial)
	}
	if opts.PageSize > 0 {
		q = q.PageSize(opts.PageSize)
	}
	if paged {
		q = q.PageState(opts.PageState)
	}
	if opts.Unprepared {
		// gocql prepares every bound statement and drops failed preparations
		// from its cache; the rows must still be decoded with fresh metadata
		// rather than what was cached for the missing table.
		q = q.NoSkipMetadata()
	}
	if opts.Idempotent {
		q = q.Idempotent(true)
		if opts.Retries > 0 {
			q = q.RetryPolicy(&gocql.SimpleRetryPolicy{NumRetries: opts.Retries})
		}
	}
	return q, nil
}

func (s *Session) Execute(ctx context.Context, stmt string, params []any, opts database.QueryOptions) (*database.Result, error) {
	session, err := s.connect()
	if err != nil {
		return nil, err
	}
	q, err := s.query(session, stmt, params, opts, singlePage(opts))
	if err != nil {
		return nil, err
	}

	iter := q.IterContext(ctx)
	result := &database.Result{}
	for {
		row := map[string]any{}
		if !iter.MapScan(row) {
			break
		}
		result.Rows = append(result.Rows, database.Row(row))
	}
	result.PageState = iter.PageState()
	if err := iter.Close(); err != nil {
		return nil, classify(err)
	}
	return result, nil
}

func (s *Session) ExecuteDefinition(ctx context.Context, stmt string) error {
	session, err := s.connect()
	if err != nil {
		return err
	}
	return classify(session.Query(stmt).ExecContext(ctx))
}

func (s *Session) ExecuteBatch(ctx context.Context, stmts []database.Statement, opts database.QueryOptions) error {
	session, err := s.connect()
	if err != nil {
		return err
	}
	b := session.Batch(gocql.LoggedBatch)
	for _, stmt := range stmts {
		b.Query(stmt.Query, stmt.Params...)
	}
	if opts.Consistency != "" {
		c, err := gocql.ParseConsistencyWrapper(opts.Consistency)
		if err != nil {
			return err
		}
		b = b.Consistency(c)
	}
	return classify(b.ExecContext(ctx))
}

func (s *Session) Iterate(ctx context.Context, stmt string, params []any, opts database.QueryOptions, fn func(database.Row) error) error {
	session, err := s.connect()
	if err != nil {
		return err
	}
	q, err := s.query(session, stmt, params, opts, false)
	if err != nil {
		return err
	}
	iter := q.IterContext(ctx)
	for {
		row := map[string]any{}
		if !iter.MapScan(row) {
			break
		}
		if err := fn(database.Row(row)); err != nil {
			iter.Close()
			return err
		}
	}
	return classify(iter.Close())
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		s.session.Close()
		s.session = nil
	}
	return nil
}

// classify marks "unconfigured table" style failures with
// database.ErrUndefinedTable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var reqErr gocql.RequestError
	if errors.As(err, &reqErr) && reqErr.Code() == gocql.ErrCodeInvalid && undefinedTableMessage(reqErr.Message()) {
		return fmt.Errorf("%w: %w", database.ErrUndefinedTable, err)
	}
	return err
}

func undefinedTableMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "unconfigured table") || strings.Contains(msg, "does not exist")
}

var _ database.Session = (*Session)(nil)
var _ database.Catalog = (*Session)(nil)

// Catalog queries.

func (s *Session) Columns(ctx context.Context, keyspace, table string) ([]schema.ColumnRow, error) {
	return s.columns(ctx, `SELECT table_name, column_name, type, kind, position, clustering_order
		FROM system_schema.columns WHERE keyspace_name = ? AND table_name = ?`, keyspace, table)
}

func (s *Session) ViewColumns(ctx context.Context, keyspace string, views []string) ([]schema.ColumnRow, error) {
	if len(views) == 0 {
		return nil, nil
	}
	return s.columns(ctx, `SELECT table_name, column_name, type, kind, position, clustering_order
		FROM system_schema.columns WHERE keyspace_name = ? AND table_name IN ?`, keyspace, views)
}

func (s *Session) columns(ctx context.Context, stmt string, params ...any) ([]schema.ColumnRow, error) {
	session, err := s.connect()
	if err != nil {
		return nil, err
	}
	iter := session.Query(stmt, params...).IterContext(ctx)
	var rows []schema.ColumnRow
	var row schema.ColumnRow
	for iter.Scan(&row.TableName, &row.ColumnName, &row.Type, &row.Kind, &row.Position, &row.ClusteringOrder) {
		rows = append(rows, row)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Session) Indexes(ctx context.Context, keyspace, table string) ([]schema.IndexRow, error) {
	session, err := s.connect()
	if err != nil {
		return nil, err
	}
	iter := session.Query(`SELECT index_name, kind, options
		FROM system_schema.indexes WHERE keyspace_name = ? AND table_name = ?`, keyspace, table).IterContext(ctx)
	var rows []schema.IndexRow
	var name, kind string
	var options map[string]string
	for iter.Scan(&name, &kind, &options) {
		rows = append(rows, schema.IndexRow{IndexName: name, Kind: kind, Options: options})
		options = nil
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return rows, nil
}

// Views lists the materialized views built on table. The views table is
// keyed by view name, so the base table filter needs ALLOW FILTERING.
func (s *Session) Views(ctx context.Context, keyspace, table string) ([]schema.ViewRow, error) {
	session, err := s.connect()
	if err != nil {
		return nil, err
	}
	iter := session.Query(`SELECT view_name, base_table_name
		FROM system_schema.views WHERE keyspace_name = ? AND base_table_name = ? ALLOW FILTERING`, keyspace, table).IterContext(ctx)
	var rows []schema.ViewRow
	var row schema.ViewRow
	for iter.Scan(&row.ViewName, &row.BaseTableName) {
		rows = append(rows, row)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return rows, nil
}

// Tables lists the tables of a keyspace, used when exporting.
func (s *Session) Tables(ctx context.Context, keyspace string) ([]string, error) {
	session, err := s.connect()
	if err != nil {
		return nil, err
	}
	iter := session.Query(`SELECT table_name FROM system_schema.tables WHERE keyspace_name = ?`, keyspace).IterContext(ctx)
	var tables []string
	var name string
	for iter.Scan(&name) {
		tables = append(tables, name)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return tables, nil
}
