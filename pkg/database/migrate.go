package database

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
)

// migrationLockKey serialises migrations across replicas starting together.
const migrationLockKey int64 = 0x7465636873746f72

const createSchemaMigrations = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

// RunMigrations applies every *.up.sql file at the root of migrations in
// lexical order. Each file runs in its own transaction together with its
// schema_migrations row; applied versions are skipped. Transport failures
// are retried, SQL errors are not.
func RunMigrations(ctx context.Context, db DBTX, migrations fs.FS, logger *slog.Logger) error {
	files, err := fs.Glob(migrations, "*.up.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	return startupRetry.do(ctx, logger, "migrations", isConnectionError, func(ctx context.Context) error {
		if _, err := db.Exec(ctx, createSchemaMigrations); err != nil {
			return fmt.Errorf("create schema_migrations table: %w", err)
		}
		for _, name := range files {
			if err := applyMigration(ctx, db, migrations, name, logger); err != nil {
				return err
			}
		}
		return nil
	})
}

func applyMigration(ctx context.Context, db DBTX, migrations fs.FS, name string, logger *slog.Logger) error {
	content, err := fs.ReadFile(migrations, name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", name, err)
	}

	fail := func(step string, err error) error {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("%s migration %s: %w", step, name, err)
	}

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockKey); err != nil {
		return fail("lock", err)
	}

	var applied bool
	err = tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", name).Scan(&applied)
	if err != nil {
		return fail("check", err)
	}
	if applied {
		_ = tx.Rollback(ctx)
		logger.DebugContext(ctx, "migration already applied", slog.String("version", name))
		return nil
	}

	if _, err := tx.Exec(ctx, string(content)); err != nil {
		return fail("execute", err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", name); err != nil {
		return fail("record", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}

	logger.InfoContext(ctx, "migration applied", slog.String("version", name))
	return nil
}
