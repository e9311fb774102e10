// Package database implements the SQLite persistence layer: the connection
// wrapper, versioned schema migrations, and the DAO implementations behind
// the planner, pattern, learning, and monitor interfaces. All row mutations
// run as per-row atomic read-modify-write transactions so concurrent
// recordings for different rows proceed without contention.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection with transaction and maintenance helpers.
type DB struct {
	conn *sql.DB
	path string
}

// Config holds database configuration options.
type Config struct {
	Path            string        // Database file path
	MaxOpenConns    int           // Maximum number of open connections
	MaxIdleConns    int           // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum connection lifetime
	BusyTimeout     time.Duration // SQLite busy timeout
}

// DefaultConfig returns sensible defaults for database configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:            path,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		BusyTimeout:     5 * time.Second,
	}
}

// Open creates a database connection with default settings. WAL mode and
// foreign keys are required; opening fails if either cannot be enabled.
func Open(path string) (*DB, error) {
	return OpenWithConfig(DefaultConfig(path))
}

// OpenWithConfig creates a database connection with custom configuration.
func OpenWithConfig(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=%d",
		cfg.Path,
		int(cfg.BusyTimeout.Milliseconds()),
	)

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{
		conn: conn,
		path: cfg.Path,
	}

	var journalMode string
	if err := db.conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		conn.Close()
		return nil, fmt.Errorf("WAL mode not enabled (got %s)", journalMode)
	}

	var foreignKeys int
	if err := db.conn.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to verify foreign keys: %w", err)
	}
	if foreignKeys != 1 {
		conn.Close()
		return nil, fmt.Errorf("foreign keys not enabled")
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Conn returns the underlying sql.DB connection.
// Prefer the DB methods; this exists for migrations and tests.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Health verifies the connection is alive and can serve queries.
func (db *DB) Health(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var result int
	if err := db.conn.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("unexpected query result: %d", result)
	}
	return nil
}

// WithTx executes fn within a transaction. The transaction is rolled back
// when fn returns an error and committed otherwise.
func (db *DB) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // re-throw after rollback
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// InitSchema applies all pending migrations.
func (db *DB) InitSchema(ctx context.Context) error {
	if err := NewMigrator(db).Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Vacuum reclaims unused space and defragments the database file.
func (db *DB) Vacuum(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum failed: %w", err)
	}
	return nil
}

// Checkpoint moves data from the WAL file into the main database file.
func (db *DB) Checkpoint(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint failed: %w", err)
	}
	return nil
}

// QueryContext wraps the underlying connection's QueryContext.
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext wraps the underlying connection's QueryRowContext.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.conn.QueryRowContext(ctx, query, args...)
}

// ExecContext wraps the underlying connection's ExecContext.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.conn.ExecContext(ctx, query, args...)
}
