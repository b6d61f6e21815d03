package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/morezero/nav-dispatch/pkg/events"
	"github.com/morezero/nav-dispatch/pkg/naverr"
	"github.com/morezero/nav-dispatch/pkg/pathutil"
)

const logPrefix = "registry:registry"

// Registry is a concurrency-safe map from path to Descriptor. Exact paths
// are looked up in O(1); prefix patterns ("/user/*") are consulted only
// when the exact lookup misses.
type Registry struct {
	mu       sync.RWMutex
	routes   map[string]Descriptor
	prefixes []string // wildcard patterns, longest base first
	sink     events.Sink
}

// NewRegistryParams holds parameters for NewRegistry.
type NewRegistryParams struct {
	// Sink receives route change events. Nil means no events.
	Sink events.Sink
}

// NewRegistry creates a new Registry instance.
func NewRegistry(params NewRegistryParams) *Registry {
	sink := params.Sink
	if sink == nil {
		sink = &events.NoOpSink{}
	}
	return &Registry{
		routes: make(map[string]Descriptor),
		sink:   sink,
	}
}

// Register stores d under path, replacing any previous descriptor for the
// same path. The path must be valid (or a valid prefix pattern).
func (r *Registry) Register(path string, d Descriptor) error {
	if !pathutil.ValidatePattern(path) {
		return naverr.Newf(naverr.CodeInvalidPath, "invalid route path %q", path)
	}
	if d.HandlerID == "" {
		return naverr.Newf(naverr.CodeInvalidState, "route %q has no handler id", path)
	}

	stored := d.clone()
	stored.Path = path

	r.mu.Lock()
	_, replaced := r.routes[path]
	r.routes[path] = stored
	if !replaced && pathutil.IsWildcard(path) {
		r.prefixes = append(r.prefixes, path)
		sortPrefixes(r.prefixes)
	}
	r.mu.Unlock()

	slog.Debug(fmt.Sprintf("%s - Registered %s -> %s (replaced=%v)", logPrefix, path, stored.HandlerID, replaced))
	r.emit(events.MessageRouteRegistered, map[string]interface{}{
		"path":      path,
		"handlerId": stored.HandlerID,
		"replaced":  replaced,
	})
	return nil
}

// Lookup resolves path to a descriptor copy.
func (r *Registry) Lookup(path string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.routes[path]; ok && !pathutil.IsWildcard(path) {
		return d.clone(), true
	}
	for _, pattern := range r.prefixes {
		if pathutil.MatchPrefix(pattern, path) {
			return r.routes[pattern].clone(), true
		}
	}
	return Descriptor{}, false
}

// IsRegistered reports whether path resolves to a descriptor.
func (r *Registry) IsRegistered(path string) bool {
	_, ok := r.Lookup(path)
	return ok
}

// Unregister removes the descriptor stored under path.
func (r *Registry) Unregister(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.routes[path]; !ok {
		return false
	}
	delete(r.routes, path)
	if pathutil.IsWildcard(path) {
		for i, p := range r.prefixes {
			if p == path {
				r.prefixes = append(r.prefixes[:i], r.prefixes[i+1:]...)
				break
			}
		}
	}
	return true
}

// UnregisterAll removes every route.
func (r *Registry) UnregisterAll() {
	r.mu.Lock()
	n := len(r.routes)
	r.routes = make(map[string]Descriptor)
	r.prefixes = nil
	r.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - Cleared %d routes", logPrefix, n))
	r.emit(events.MessageRoutesCleared, map[string]interface{}{"count": n})
}

// Snapshot returns an independent copy of all routes keyed by path.
func (r *Registry) Snapshot() map[string]Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Descriptor, len(r.routes))
	for p, d := range r.routes {
		out[p] = d.clone()
	}
	return out
}

// Len returns the number of registered routes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

func (r *Registry) emit(message string, fields map[string]interface{}) {
	if err := r.sink.Emit(context.Background(), events.NewEvent(events.SeverityDebug, message, fields)); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to emit %s: %v", logPrefix, message, err))
	}
}

// sortPrefixes orders patterns so the most specific (longest base) wins.
func sortPrefixes(prefixes []string) {
	sort.SliceStable(prefixes, func(i, j int) bool {
		return len(pathutil.WildcardBase(prefixes[i])) > len(pathutil.WildcardBase(prefixes[j]))
	})
}
