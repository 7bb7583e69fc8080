// Package sqlite implements the storage interface using SQLite.
// Tables and join tables are generated from the registry's
// descriptors, one table per entity type.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/grafton-io/grafton/internal/registry"
	"github.com/grafton-io/grafton/internal/storage"

	// Import SQLite driver
	_ "modernc.org/sqlite"
)

// dbtx is satisfied by *sql.DB and *sql.Conn so the same store code
// runs both inside and outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	q      dbtx
	reg    *registry.Registry
	dbPath string
	closed atomic.Bool
}

// New opens (or creates) a SQLite store at path and materializes the
// schema for every registered entity type.
func New(path string, reg *registry.Registry) (*SQLiteStore, error) {
	if err := validateRegistryIdentifiers(reg); err != nil {
		return nil, err
	}

	// Convert :memory: to a shared-cache URL so every pooled
	// connection sees the same in-memory database.
	dbPath := path
	if path == ":memory:" {
		dbPath = "file::memory:?cache=shared"
	}

	if !strings.Contains(dbPath, ":memory:") {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// WAL for concurrency, foreign keys on, generous busy timeout so
	// parallel writers wait for locks instead of failing.
	connStr := dbPath
	if strings.Contains(dbPath, "?") {
		connStr += "&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	} else {
		connStr += "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(db, reg); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		q:      db,
		reg:    reg,
		dbPath: path,
	}, nil
}

// Path returns the database file path the store was opened with.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Registry returns the descriptor table the store was built from.
func (s *SQLiteStore) Registry() *registry.Registry {
	return s.reg
}

// UnderlyingDB returns the underlying *sql.DB connection for callers
// that need raw access. Direct access bypasses the storage layer.
func (s *SQLiteStore) UnderlyingDB() *sql.DB {
	return s.db
}

// Transact runs fn on a dedicated connection inside a BEGIN IMMEDIATE
// transaction. IMMEDIATE acquires the write lock up front so the whole
// restore is serialized against other writers.
//
// We issue raw BEGIN/COMMIT on the connection because database/sql
// does not expose transaction modes and modernc.org/sqlite's BeginTx
// always uses DEFERRED.
func (s *SQLiteStore) Transact(ctx context.Context, fn func(storage.Store) error) error {
	if s.q != dbtx(s.db) {
		return fmt.Errorf("nested transaction not supported")
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("failed to begin immediate transaction: %w", err)
	}

	txStore := &SQLiteStore{
		db:     s.db,
		q:      conn,
		reg:    s.reg,
		dbPath: s.dbPath,
	}

	if err := fn(txStore); err != nil {
		if _, rbErr := conn.ExecContext(ctx, "ROLLBACK"); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (after: %w)", rbErr, err)
		}
		if errors.Is(err, storage.ErrRollback) {
			return nil
		}
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// MaxIdentity returns the highest identity present for the type.
func (s *SQLiteStore) MaxIdentity(ctx context.Context, typeName string) (int64, error) {
	d, err := s.reg.Get(typeName)
	if err != nil {
		return 0, err
	}
	var max sql.NullInt64
	query := fmt.Sprintf(`SELECT MAX(id) FROM %s`, quoteIdent(d.Name))
	if err := s.q.QueryRowContext(ctx, query).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to read max identity for %s: %w", typeName, err)
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}

// ResetIdentityCounter sets sqlite_sequence so the next insert into
// the type's table assigns at least next. Safe to run repeatedly.
func (s *SQLiteStore) ResetIdentityCounter(ctx context.Context, typeName string, next int64) error {
	d, err := s.reg.Get(typeName)
	if err != nil {
		return err
	}
	seq := next - 1
	if seq < 0 {
		seq = 0
	}
	res, err := s.q.ExecContext(ctx, `UPDATE sqlite_sequence SET seq = ? WHERE name = ?`, seq, d.Name)
	if err != nil {
		return fmt.Errorf("failed to update sequence for %s: %w", typeName, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check sequence update for %s: %w", typeName, err)
	}
	if n == 0 {
		// No row yet: the table has never seen an organic insert.
		if _, err := s.q.ExecContext(ctx,
			`INSERT INTO sqlite_sequence (name, seq) VALUES (?, ?)`, d.Name, seq); err != nil {
			return fmt.Errorf("failed to seed sequence for %s: %w", typeName, err)
		}
	}
	return nil
}

// Close closes the database. Safe to call more than once.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.q != dbtx(s.db) {
		// Transaction-scoped view: the outer store owns the pool.
		return nil
	}
	return s.db.Close()
}
