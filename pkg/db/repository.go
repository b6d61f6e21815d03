package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoLogPrefix = "db:repository"

// Repository provides database access for session operations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Pool returns the underlying connection pool.
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// =========================================================================
// SESSION OPERATIONS
// =========================================================================

// UpsertSession creates the session or refreshes its modified time, and
// replaces its capabilities.
func (r *Repository) UpsertSession(ctx context.Context, id string, capabilities []string) (*Session, error) {
	slog.Debug(fmt.Sprintf("%s - UpsertSession id=%s caps=%d", repoLogPrefix, id, len(capabilities)))

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s - begin: %w", repoLogPrefix, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	var s Session
	err = tx.QueryRow(ctx,
		`INSERT INTO nav_sessions (id, created, modified)
		 VALUES ($1, $2, $2)
		 ON CONFLICT (id) DO UPDATE SET modified = $2
		 RETURNING id, created, modified`, id, now).Scan(&s.ID, &s.Created, &s.Modified)
	if err != nil {
		return nil, fmt.Errorf("%s - upsert session: %w", repoLogPrefix, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM nav_session_capabilities WHERE session_id = $1`, id); err != nil {
		return nil, fmt.Errorf("%s - reset capabilities: %w", repoLogPrefix, err)
	}
	if len(capabilities) > 0 {
		batch := &pgx.Batch{}
		for _, c := range capabilities {
			batch.Queue(`INSERT INTO nav_session_capabilities (session_id, capability) VALUES ($1, $2)
			             ON CONFLICT DO NOTHING`, id, c)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return nil, fmt.Errorf("%s - insert capabilities: %w", repoLogPrefix, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s - commit: %w", repoLogPrefix, err)
	}
	return &s, nil
}

// GetSession finds a session by id. It returns nil when none exists.
func (r *Repository) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	err := r.pool.QueryRow(ctx,
		`SELECT id, created, modified FROM nav_sessions WHERE id = $1`, id).Scan(&s.ID, &s.Created, &s.Modified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - get session: %w", repoLogPrefix, err)
	}
	return &s, nil
}

// DeleteSession removes a session, its capabilities and its redirect target.
func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	slog.Debug(fmt.Sprintf("%s - DeleteSession id=%s", repoLogPrefix, id))
	if _, err := r.pool.Exec(ctx, `DELETE FROM nav_redirect_targets WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("%s - delete redirect: %w", repoLogPrefix, err)
	}
	if _, err := r.pool.Exec(ctx, `DELETE FROM nav_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("%s - delete session: %w", repoLogPrefix, err)
	}
	return nil
}

// HasCapability reports whether session id holds capability.
func (r *Repository) HasCapability(ctx context.Context, id, capability string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM nav_session_capabilities WHERE session_id = $1 AND capability = $2)`,
		id, capability).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s - has capability: %w", repoLogPrefix, err)
	}
	return exists, nil
}

// ListCapabilities returns the capabilities of session id, sorted.
func (r *Repository) ListCapabilities(ctx context.Context, id string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT capability FROM nav_session_capabilities WHERE session_id = $1 ORDER BY capability`, id)
	if err != nil {
		return nil, fmt.Errorf("%s - list capabilities: %w", repoLogPrefix, err)
	}
	caps, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%s - scan capabilities: %w", repoLogPrefix, err)
	}
	return caps, nil
}

// =========================================================================
// REDIRECT TARGET OPERATIONS
// =========================================================================

// PutRedirectTarget stores path for session id, replacing any previous one.
func (r *Repository) PutRedirectTarget(ctx context.Context, id, path string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO nav_redirect_targets (session_id, path, created)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (session_id) DO UPDATE SET path = $2, created = $3`, id, path, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%s - put redirect target: %w", repoLogPrefix, err)
	}
	return nil
}

// TakeRedirectTarget deletes and returns the redirect target for session id.
// It returns nil when there is none.
func (r *Repository) TakeRedirectTarget(ctx context.Context, id string) (*RedirectTarget, error) {
	var t RedirectTarget
	err := r.pool.QueryRow(ctx,
		`DELETE FROM nav_redirect_targets WHERE session_id = $1
		 RETURNING session_id, path, created`, id).Scan(&t.SessionID, &t.Path, &t.Created)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - take redirect target: %w", repoLogPrefix, err)
	}
	return &t, nil
}
