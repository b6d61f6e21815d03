// Package scanner turns handler manifests into routes, middleware rules and
// per-path middleware at startup.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/morezero/nav-dispatch/pkg/manifest"
	"github.com/morezero/nav-dispatch/pkg/middleware"
	"github.com/morezero/nav-dispatch/pkg/pathutil"
	"github.com/morezero/nav-dispatch/pkg/registry"
)

const logPrefix = "scanner:scanner"

// maxConcurrentLoads bounds how many sources load at once.
const maxConcurrentLoads = 4

// Skip records a handler or middleware reference that was not applied.
type Skip struct {
	Manifest  string `json:"manifest"`
	HandlerID string `json:"handlerId"`
	Path      string `json:"path"`
	Reason    string `json:"reason"`
}

// Report summarizes a scan.
type Report struct {
	// Registered lists registered paths in scan order.
	Registered []string `json:"registered"`
	Skipped    []Skip   `json:"skipped,omitempty"`
}

// Scanner populates the routing tables from manifests. Binder turns each
// handler's auth, capability and middleware declarations into rules; it
// should be the one the dispatcher registers through so both entry points
// replace each other's rules. A handler whose declarations cannot all be
// bound is not registered; without a Binder that is every handler that
// declares any.
type Scanner struct {
	Registry *registry.Registry
	Binder   *middleware.Binder
	// Constraint, if set, is a semver range every manifest version must satisfy.
	Constraint string
}

// Scan loads all sources concurrently and then applies them in argument
// order, so a later source overrides an earlier one for the same path.
// Sources that fail to load are skipped; their errors are joined into the
// returned error alongside the report of what was applied.
func (s *Scanner) Scan(ctx context.Context, sources ...manifest.Source) (*Report, error) {
	manifests := make([]*manifest.Manifest, len(sources))
	loadErrs := make([]error, len(sources))

	var g errgroup.Group
	g.SetLimit(maxConcurrentLoads)
	for i, src := range sources {
		g.Go(func() error {
			m, err := src.Load(ctx)
			if err != nil {
				loadErrs[i] = fmt.Errorf("%s - source %d: %w", logPrefix, i, err)
				return nil
			}
			if err := manifest.CheckCompatible(m.Version, s.Constraint); err != nil {
				loadErrs[i] = fmt.Errorf("%s - manifest %s: %w", logPrefix, m.Name, err)
				return nil
			}
			manifests[i] = m
			return nil
		})
	}
	_ = g.Wait()

	binder := s.Binder
	if binder == nil {
		binder = &middleware.Binder{}
	}
	report := &Report{}
	for _, m := range manifests {
		if m != nil {
			s.apply(m, binder, report)
		}
	}

	err := errors.Join(loadErrs...)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - Some sources failed to load: %v", logPrefix, err))
	}
	slog.Info(fmt.Sprintf("%s - Scan complete: %d registered, %d skipped", logPrefix, len(report.Registered), len(report.Skipped)))
	return report, err
}

func (s *Scanner) apply(m *manifest.Manifest, binder *middleware.Binder, report *Report) {
	skip := func(h manifest.Handler, reason string) {
		slog.Warn(fmt.Sprintf("%s - Skipping %s (%s) from %s: %s", logPrefix, h.ID, h.Path, m.Name, reason))
		report.Skipped = append(report.Skipped, Skip{Manifest: m.Name, HandlerID: h.ID, Path: h.Path, Reason: reason})
	}

	for _, h := range m.Handlers {
		if h.ID == "" {
			skip(h, "missing handler id")
			continue
		}
		if !pathutil.ValidatePattern(h.Path) {
			skip(h, "invalid path")
			continue
		}

		desc := registry.Descriptor{
			HandlerID:            h.ID,
			RequiresAuth:         h.RequiresAuth,
			RequiredCapabilities: h.Capabilities,
			MiddlewareIDs:        h.Middleware,
		}
		if err := s.Registry.Register(h.Path, desc); err != nil {
			skip(h, err.Error())
			continue
		}
		if errs := splitErrors(binder.Bind(h.Path, desc)); len(errs) > 0 {
			// a route never stays up without the rules it declares
			binder.Unbind(h.Path)
			s.Registry.Unregister(h.Path)
			for _, err := range errs {
				skip(h, err.Error())
			}
			continue
		}
		report.Registered = append(report.Registered, h.Path)
	}
}

// splitErrors undoes errors.Join so each problem gets its own entry.
func splitErrors(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
