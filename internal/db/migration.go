package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// openMigrationDB opens a database/sql handle whose every connection uses
// the configured schema, creating the schema first.
func openMigrationDB(ctx context.Context, cfg Config) (*sql.DB, error) {
	connConfig, err := pgx.ParseConfig(cfg.Url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	schema := cfg.schema()
	connConfig.RuntimeParams["search_path"] = schema

	db := stdlib.OpenDB(*connConfig)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema %s: %w", schema, err)
	}
	slog.Info("Schema is ready", "schema", schema)
	return db, nil
}

func newProvider(db *sql.DB) (*goose.Provider, error) {
	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(goose.DialectPostgres, db, migrations)
}

// RunMigrations applies all pending migrations.
func RunMigrations(ctx context.Context, cfg Config) error {
	slog.Info("Running database migrations...")

	db, err := openMigrationDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	provider, err := newProvider(db)
	if err != nil {
		return err
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		slog.Info("Applied migration", "version", r.Source.Version, "duration", r.Duration)
	}

	slog.Info("Database migrations completed successfully", "applied", len(results))
	return nil
}

// MigrationState is one migration and whether it has been applied.
type MigrationState struct {
	Version   int64
	Path      string
	Applied   bool
	AppliedAt time.Time
}

func MigrationStatus(ctx context.Context, cfg Config) ([]MigrationState, error) {
	db, err := openMigrationDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	provider, err := newProvider(db)
	if err != nil {
		return nil, err
	}
	statuses, err := provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("migration status: %w", err)
	}

	out := make([]MigrationState, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, MigrationState{
			Version:   s.Source.Version,
			Path:      s.Source.Path,
			Applied:   s.State == goose.StateApplied,
			AppliedAt: s.AppliedAt,
		})
	}
	return out, nil
}

// RollbackMigration reverts the most recent migration.
func RollbackMigration(ctx context.Context, cfg Config) error {
	db, err := openMigrationDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	provider, err := newProvider(db)
	if err != nil {
		return err
	}
	result, err := provider.Down(ctx)
	if err != nil {
		return fmt.Errorf("rollback migration: %w", err)
	}
	slog.Info("Rolled back migration", "version", result.Source.Version)
	return nil
}
