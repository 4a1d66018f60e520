package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements harvest.Store using PostgreSQL.
type PostgresStore struct {
	*store
	pool   *pgxpool.Pool
	schema string // sanitized identifier
}

// NewPostgresStore connects to dsn with every table living in schema.
// maxConns <= 0 keeps the pool default.
func NewPostgresStore(ctx context.Context, dsn, schema string, maxConns int) (*PostgresStore, error) {
	if schema == "" {
		return nil, fmt.Errorf("postgres schema required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	ident := pgx.Identifier{schema}.Sanitize()
	cfg.ConnConfig.RuntimeParams["search_path"] = ident
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	begin := func(ctx context.Context) (txRunner, error) {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}
		return pgTx{pgRunner: pgRunner{q: tx}, tx: tx, ctx: ctx}, nil
	}
	return &PostgresStore{
		store:  newStore(dialectPostgres, pgRunner{q: pool}, begin),
		pool:   pool,
		schema: ident,
	}, nil
}

// Migrate creates the schema if it does not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+s.schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// CheckMigrations verifies every table exists.
func (s *PostgresStore) CheckMigrations(ctx context.Context) error {
	for _, name := range []string{"distributors", "vendors", "clients", "users", "harvest_runs"} {
		var exists bool
		if err := s.pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", name).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check table %s: %w", name, err)
		}
		if !exists {
			return fmt.Errorf("table %s is missing (needs migration)", name)
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS distributors (
  key bigint PRIMARY KEY,
  external_id text NOT NULL,
  parent_key bigint,
  parent_external_id text NOT NULL DEFAULT '',
  name text NOT NULL DEFAULT '',
  type text NOT NULL DEFAULT '',
  state text NOT NULL DEFAULT '',
  stats_status text NOT NULL DEFAULT 'pending',
  first_seen_at timestamptz NOT NULL,
  refreshed_at timestamptz NOT NULL,
  refresh_pass text NOT NULL DEFAULT '',
  password_min_length bigint,
  password_expiry_days bigint,
  password_history bigint,
  password_mfa_required boolean
);
CREATE TABLE IF NOT EXISTS vendors (LIKE distributors INCLUDING ALL);
CREATE TABLE IF NOT EXISTS clients (LIKE distributors INCLUDING ALL);

CREATE INDEX IF NOT EXISTS distributors_refresh_idx ON distributors (stats_status, refreshed_at);
CREATE INDEX IF NOT EXISTS vendors_parent_idx ON vendors (parent_key);
CREATE INDEX IF NOT EXISTS clients_parent_idx ON clients (parent_key);

CREATE TABLE IF NOT EXISTS users (
  key bigint PRIMARY KEY,
  external_id text NOT NULL,
  name text NOT NULL DEFAULT '',
  email text NOT NULL DEFAULT '',
  mobile text,
  timezone text,
  language text,
  state text,
  owner_key bigint NOT NULL,
  owner_external_id text NOT NULL DEFAULT '',
  owner_name text NOT NULL DEFAULT '',
  owner_type text NOT NULL DEFAULT '',
  default_client_id text NOT NULL DEFAULT '',
  default_client_name text NOT NULL DEFAULT '',
  cost_centre_id text,
  cost_centre_name text,
  modified_at timestamptz,
  stats_status text NOT NULL DEFAULT 'pending',
  first_seen_at timestamptz NOT NULL,
  refreshed_at timestamptz NOT NULL,
  refresh_pass text NOT NULL DEFAULT '',
  otp_enabled boolean,
  otp_methods text
);
CREATE INDEX IF NOT EXISTS users_refresh_idx ON users (stats_status, refreshed_at);
CREATE INDEX IF NOT EXISTS users_owner_idx ON users (owner_key);

CREATE TABLE IF NOT EXISTS harvest_runs (
  id bigserial PRIMARY KEY,
  environment text NOT NULL,
  report_date date NOT NULL,
  started_at timestamptz NOT NULL,
  finished_at timestamptz,
  status text NOT NULL,
  api_calls bigint NOT NULL DEFAULT 0
);
`

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type pgRunner struct {
	q pgQuerier
}

func (r pgRunner) exec(ctx context.Context, query string, args ...any) error {
	_, err := r.q.Exec(ctx, query, args...)
	return err
}

func (r pgRunner) queryRow(ctx context.Context, query string, args ...any) scanner {
	return pgRow{row: r.q.QueryRow(ctx, query, args...)}
}

func (r pgRunner) query(ctx context.Context, query string, args ...any) (rowIter, error) {
	return r.q.Query(ctx, query, args...)
}

type pgRow struct {
	row pgx.Row
}

func (r pgRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return errNoRows
	}
	return err
}

// pgTx is a PostgreSQL transaction. A failed statement aborts the whole
// transaction, so guarded wraps each write in a savepoint.
type pgTx struct {
	pgRunner
	tx  pgx.Tx
	ctx context.Context
}

func (t pgTx) guarded(ctx context.Context, fn func(runner) error) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(pgRunner{q: sp}); err != nil {
		sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

func (t pgTx) commit() error {
	return t.tx.Commit(t.ctx)
}

func (t pgTx) rollback() error {
	return t.tx.Rollback(t.ctx)
}
