package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"slices"

	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLockID is the advisory lock key held while a migration runs, so
// two processes starting against one database apply each file once.
const migrationLockID int64 = 0x66616365

func (p *Pool) ensureMigrationsTable(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}
	return nil
}

// migrationFiles returns the embedded migration filenames in apply order.
func migrationFiles() ([]string, error) {
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	slices.Sort(files)
	return files, nil
}

// Migrate applies pending migrations in filename order, each in its own
// transaction under the migration advisory lock.
func (p *Pool) Migrate(ctx context.Context) error {
	if err := p.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	applied, err := p.MigrationsApplied(ctx)
	if err != nil {
		return err
	}

	files, err := migrationFiles()
	if err != nil {
		return err
	}

	for _, path := range files {
		version := path[len("migrations/"):]
		if slices.Contains(applied, version) {
			continue
		}
		ran, err := p.applyMigration(ctx, path, version)
		if err != nil {
			return err
		}
		if ran {
			logrus.WithField("migration", version).Info("Applied migration")
		}
	}
	return nil
}

// applyMigration runs one file unless another process recorded it while we
// waited for the lock.
func (p *Pool) applyMigration(ctx context.Context, path, version string) (bool, error) {
	content, err := migrationsFS.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read migration %s: %w", version, err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction for %s: %w", version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return false, fmt.Errorf("lock migrations: %w", err)
	}

	var done bool
	err = tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version).Scan(&done)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	if done {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return false, fmt.Errorf("execute migration %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
		return false, fmt.Errorf("record migration %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", version, err)
	}
	return true, nil
}

// MigrationsApplied returns the applied migration filenames in order.
func (p *Pool) MigrationsApplied(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migration versions: %w", err)
	}
	return versions, nil
}
