// Package session answers who the caller is: whether they are authenticated,
// which capabilities they hold, and where to send them after logging in.
package session

import "context"

// Oracle answers authentication questions for the caller identified by ctx.
type Oracle interface {
	IsAuthenticated(ctx context.Context) (bool, error)
	// PersistRedirectTarget remembers path so it can be resumed after login.
	PersistRedirectTarget(ctx context.Context, path string) error
	// ConsumeRedirectTarget returns and forgets the remembered path.
	ConsumeRedirectTarget(ctx context.Context) (string, bool, error)
}

// CapabilityOracle answers capability questions for the caller identified by ctx.
type CapabilityOracle interface {
	HasCapability(ctx context.Context, name string) (bool, error)
}

// Store is both oracles plus the administrative operations the server and
// CLI use.
type Store interface {
	Oracle
	CapabilityOracle
	// Authenticate marks id as logged in with the given capabilities.
	Authenticate(ctx context.Context, id string, capabilities ...string) error
	// Revoke logs id out and drops its capabilities and redirect target.
	Revoke(ctx context.Context, id string) error
}

type ctxKey struct{}

// WithID returns a context carrying the session id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IDFrom returns the session id carried by ctx, or "".
func IDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
