// Package db provides Postgres access for session state via pgx.
package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

// PoolConfig sizes the connection pool. Zero values use the defaults.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// DefaultPoolConfig returns the pool sizing used by the server.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{MaxConns: 10, MinConns: 1}
}

// NewPool creates a pgx connection pool from the given database URL and
// verifies connectivity.
func NewPool(ctx context.Context, databaseURL string, cfg PoolConfig) (*pgxpool.Pool, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to database", logPrefix))

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}

	def := DefaultPoolConfig()
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = def.MaxConns
	}
	if cfg.MinConns <= 0 || cfg.MinConns > cfg.MaxConns {
		cfg.MinConns = def.MinConns
	}
	config.MaxConns = cfg.MaxConns
	config.MinConns = cfg.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Database connection established (max %d conns)", logPrefix, cfg.MaxConns))
	return pool, nil
}

// RunMigrations applies migrations in order. Every migration must be
// idempotent since no applied-version table is kept.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) error {
	slog.Info(fmt.Sprintf("%s - Running %d migrations", logPrefix, len(migrations)))

	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("%s - migration %s failed: %w", logPrefix, m.Name, err)
		}
		slog.Debug(fmt.Sprintf("%s - Applied %s", logPrefix, m.Name))
	}

	slog.Info(fmt.Sprintf("%s - Migrations complete", logPrefix))
	return nil
}

// MigrationStatus reports whether the session schema exists.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrationPath string) (string, error) {
	const statusLogPrefix = "db:MigrationStatus"

	var exists bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'nav_sessions')`).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("%s - failed to check schema: %w", statusLogPrefix, err)
	}

	migrations, err := LoadMigrations(migrationPath)
	if err != nil {
		return "", fmt.Errorf("%s - load migration list: %w", statusLogPrefix, err)
	}

	if exists {
		return fmt.Sprintf("applied (schema present, %d migration files in %s)", len(migrations), migrationPath), nil
	}
	return fmt.Sprintf("not applied (run 'navrouter migrate up'); %d migration files in %s", len(migrations), migrationPath), nil
}
