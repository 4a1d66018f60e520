package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MarkSG93/2fa-stats-sub000/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements harvest.Store using SQLite.
type SQLiteStore struct {
	*store
	db   *sql.DB
	path string
}

// NewSQLiteStore opens the cache at path, which can be a file path or
// ":memory:".
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStoreFromDB(db, path), nil
}

// NewSQLiteStoreFromDB wraps an existing connection opened with OpenConnection.
func NewSQLiteStoreFromDB(db *sql.DB, path string) *SQLiteStore {
	begin := func(ctx context.Context) (txRunner, error) {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		return sqlTx{sqlRunner: sqlRunner{q: tx}, tx: tx}, nil
	}
	return &SQLiteStore{
		store: newStore(dialectSQLite, sqlRunner{q: db}, begin),
		db:    db,
		path:  path,
	}
}

// OpenConnection opens and configures a SQLite connection.
// The pool is capped at one connection: SQLite has a single writer, and an
// in-memory database only exists on the connection that created it.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// DB exposes the underlying connection for migrations and tests.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	return migrations.MigrateUp(s.db)
}

func (s *SQLiteStore) CheckMigrations(ctx context.Context) error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// SnapshotTo writes a consistent copy of the database to destPath.
func (s *SQLiteStore) SnapshotTo(ctx context.Context, destPath string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("failed to snapshot database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type sqlRunner struct {
	q sqlQuerier
}

func (r sqlRunner) exec(ctx context.Context, query string, args ...any) error {
	_, err := r.q.ExecContext(ctx, query, args...)
	return err
}

func (r sqlRunner) queryRow(ctx context.Context, query string, args ...any) scanner {
	return sqlRow{row: r.q.QueryRowContext(ctx, query, args...)}
}

func (r sqlRunner) query(ctx context.Context, query string, args ...any) (rowIter, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rows}, nil
}

type sqlRow struct {
	row *sql.Row
}

func (r sqlRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return errNoRows
	}
	return err
}

type sqlRows struct {
	*sql.Rows
}

func (r sqlRows) Close() {
	r.Rows.Close()
}

// sqlTx is a SQLite transaction. A failed statement only rolls back itself,
// so guarded needs no savepoint.
type sqlTx struct {
	sqlRunner
	tx *sql.Tx
}

func (t sqlTx) guarded(ctx context.Context, fn func(runner) error) error {
	return fn(t.sqlRunner)
}

func (t sqlTx) commit() error {
	return t.tx.Commit()
}

func (t sqlTx) rollback() error {
	return t.tx.Rollback()
}
