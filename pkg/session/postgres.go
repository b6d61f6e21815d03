package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/nav-dispatch/pkg/db"
)

const pgLogPrefix = "session:postgres"

// PostgresStore is a Store backed by the nav_* session tables.
type PostgresStore struct {
	repo *db.Repository
}

// NewPostgresStore creates a PostgresStore over repo.
func NewPostgresStore(repo *db.Repository) *PostgresStore {
	return &PostgresStore{repo: repo}
}

func (p *PostgresStore) Authenticate(ctx context.Context, id string, capabilities ...string) error {
	if _, err := p.repo.UpsertSession(ctx, id, capabilities); err != nil {
		return fmt.Errorf("%s - authenticate %s: %w", pgLogPrefix, id, err)
	}
	slog.Info(fmt.Sprintf("%s - Session %s authenticated with %d capabilities", pgLogPrefix, id, len(capabilities)))
	return nil
}

func (p *PostgresStore) Revoke(ctx context.Context, id string) error {
	if err := p.repo.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("%s - revoke %s: %w", pgLogPrefix, id, err)
	}
	return nil
}

func (p *PostgresStore) IsAuthenticated(ctx context.Context) (bool, error) {
	id := IDFrom(ctx)
	if id == "" {
		return false, nil
	}
	s, err := p.repo.GetSession(ctx, id)
	if err != nil {
		return false, fmt.Errorf("%s - lookup %s: %w", pgLogPrefix, id, err)
	}
	return s != nil, nil
}

func (p *PostgresStore) HasCapability(ctx context.Context, name string) (bool, error) {
	id := IDFrom(ctx)
	if id == "" {
		return false, nil
	}
	has, err := p.repo.HasCapability(ctx, id, name)
	if err != nil {
		return false, fmt.Errorf("%s - capability %s for %s: %w", pgLogPrefix, name, id, err)
	}
	return has, nil
}

func (p *PostgresStore) PersistRedirectTarget(ctx context.Context, path string) error {
	if err := p.repo.PutRedirectTarget(ctx, IDFrom(ctx), path); err != nil {
		return fmt.Errorf("%s - persist redirect: %w", pgLogPrefix, err)
	}
	return nil
}

func (p *PostgresStore) ConsumeRedirectTarget(ctx context.Context) (string, bool, error) {
	t, err := p.repo.TakeRedirectTarget(ctx, IDFrom(ctx))
	if err != nil {
		return "", false, fmt.Errorf("%s - consume redirect: %w", pgLogPrefix, err)
	}
	if t == nil {
		return "", false, nil
	}
	return t.Path, true, nil
}
