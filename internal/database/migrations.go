package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"
)

//go:embed schema.sql
var initialSchema string

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending migrations.
	Migrate(ctx context.Context) error

	// CurrentVersion returns the current schema version.
	CurrentVersion(ctx context.Context) (int, error)

	// Rollback rolls back to a target version.
	Rollback(ctx context.Context, targetVersion int) error

	// AppliedMigrations returns all applied migrations in order.
	AppliedMigrations(ctx context.Context) ([]MigrationInfo, error)
}

// MigrationInfo describes one applied migration.
type MigrationInfo struct {
	Version   int
	Name      string
	AppliedAt time.Time
}

// migration is a single schema change with its reverse.
type migration struct {
	version int
	name    string
	up      string
	down    string
}

type migrator struct {
	db         *DB
	migrations []migration
}

// NewMigrator creates a database migrator.
func NewMigrator(db *DB) Migrator {
	return &migrator{
		db:         db,
		migrations: getMigrations(),
	}
}

// getMigrations returns all available migrations in order.
func getMigrations() []migration {
	return []migration{
		{
			version: 1,
			name:    "initial_schema",
			up:      initialSchema,
			down: `
DROP TABLE IF EXISTS adaptive_thresholds;
DROP TABLE IF EXISTS agent_reliability;
DROP TABLE IF EXISTS verification_outcomes;
DROP TABLE IF EXISTS goap_replanning_triggers;
DROP TABLE IF EXISTS goap_heuristic_learning;
DROP TABLE IF EXISTS goap_execution_outcomes;
DROP TABLE IF EXISTS goap_plans;
DROP TABLE IF EXISTS goap_patterns;
`,
		},
		{
			version: 2,
			name:    "lookup_indexes",
			up: `
CREATE INDEX IF NOT EXISTS idx_goap_patterns_goal ON goap_patterns(goal);
CREATE INDEX IF NOT EXISTS idx_goap_patterns_confidence ON goap_patterns(confidence, last_used);
CREATE INDEX IF NOT EXISTS idx_goap_outcomes_plan ON goap_execution_outcomes(plan_id);
CREATE INDEX IF NOT EXISTS idx_goap_triggers_plan ON goap_replanning_triggers(plan_id);
CREATE INDEX IF NOT EXISTS idx_verification_agent ON verification_outcomes(agent_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_verification_context ON verification_outcomes(agent_type, file_type, timestamp);
`,
			down: `
DROP INDEX IF EXISTS idx_verification_context;
DROP INDEX IF EXISTS idx_verification_agent;
DROP INDEX IF EXISTS idx_goap_triggers_plan;
DROP INDEX IF EXISTS idx_goap_outcomes_plan;
DROP INDEX IF EXISTS idx_goap_patterns_confidence;
DROP INDEX IF EXISTS idx_goap_patterns_goal;
`,
		},
	}
}

// Migrate applies all pending migrations.
func (m *migrator) Migrate(ctx context.Context) error {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := m.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, mig := range m.migrations {
		if mig.version <= currentVersion {
			continue
		}
		if err := m.applyMigration(ctx, mig); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", mig.version, mig.name, err)
		}
	}
	return nil
}

// CurrentVersion returns the current schema version.
func (m *migrator) CurrentVersion(ctx context.Context) (int, error) {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return 0, fmt.Errorf("failed to ensure migrations table: %w", err)
	}

	var version int
	query := "SELECT COALESCE(MAX(version), 0) FROM migrations"
	if err := m.db.conn.QueryRowContext(ctx, query).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to query current version: %w", err)
	}
	return version, nil
}

// Rollback rolls back to a target version.
func (m *migrator) Rollback(ctx context.Context, targetVersion int) error {
	if targetVersion < 0 {
		return fmt.Errorf("invalid target version: %d", targetVersion)
	}

	currentVersion, err := m.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	if targetVersion > currentVersion {
		return fmt.Errorf("cannot rollback to future version %d (current: %d)", targetVersion, currentVersion)
	}

	for i := len(m.migrations) - 1; i >= 0; i-- {
		mig := m.migrations[i]
		if mig.version <= targetVersion || mig.version > currentVersion {
			continue
		}
		if err := m.revertMigration(ctx, mig); err != nil {
			return fmt.Errorf("failed to revert migration %d (%s): %w", mig.version, mig.name, err)
		}
	}
	return nil
}

// AppliedMigrations returns all applied migrations in order.
func (m *migrator) AppliedMigrations(ctx context.Context) ([]MigrationInfo, error) {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure migrations table: %w", err)
	}

	rows, err := m.db.conn.QueryContext(ctx,
		"SELECT version, name, applied_at FROM migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	var out []MigrationInfo
	for rows.Next() {
		var info MigrationInfo
		if err := rows.Scan(&info.Version, &info.Name, &info.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (m *migrator) ensureMigrationsTable(ctx context.Context) error {
	_, err := m.db.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func (m *migrator) applyMigration(ctx context.Context, mig migration) error {
	return m.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, mig.up); err != nil {
			return fmt.Errorf("migration SQL failed: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO migrations (version, name) VALUES (?, ?)",
			mig.version, mig.name)
		return err
	})
}

func (m *migrator) revertMigration(ctx context.Context, mig migration) error {
	return m.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, mig.down); err != nil {
			return fmt.Errorf("rollback SQL failed: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			"DELETE FROM migrations WHERE version = ?", mig.version)
		return err
	})
}
