package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearSessions truncates every session table. The schema is kept.
func ClearSessions(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing session tables", clearLogPrefix))

	_, err := pool.Exec(ctx, `TRUNCATE TABLE
		nav_redirect_targets,
		nav_session_capabilities,
		nav_sessions
		CASCADE`)
	if err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Session tables cleared", clearLogPrefix))
	return nil
}
