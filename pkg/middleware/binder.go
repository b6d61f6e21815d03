package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/nav-dispatch/pkg/naverr"
	"github.com/morezero/nav-dispatch/pkg/registry"
)

const binderLogPrefix = "middleware:binder"

// Binder turns the auth, capability and middleware fields of a route
// descriptor into session rules, capability rules and path middleware.
// Every field is optional.
//
// Binding a path again replaces what the previous binding installed for it.
// Paths it never bound keep whatever rules were added directly, e.g. from
// configuration.
type Binder struct {
	Chain        *Chain
	Catalog      *Catalog
	Session      *SessionCheck
	Capabilities *CapabilityCheck

	mu    sync.Mutex
	bound map[string]binding
}

type binding struct {
	auth       bool
	caps       bool
	middleware []string
}

// Bind installs the rules and middleware desc declares for path. Every
// problem is returned joined; the parts that could be applied still are.
func (b *Binder) Bind(path string, desc registry.Descriptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bound == nil {
		b.bound = make(map[string]binding)
	}
	prev := b.bound[path]
	next := binding{}
	var errs []error

	if b.Session != nil {
		if prev.auth && !desc.RequiresAuth {
			b.Session.Forget(path)
		}
		if desc.RequiresAuth {
			if err := b.Session.Require(path); err != nil {
				errs = append(errs, fmt.Errorf("session rule: %w", err))
			} else {
				next.auth = true
			}
		}
	} else if desc.RequiresAuth {
		errs = append(errs, naverr.Newf(naverr.CodeInvalidState, "route %s requires auth but no session check is installed", path))
	}

	if b.Capabilities != nil {
		if prev.caps || len(desc.RequiredCapabilities) > 0 {
			if err := b.Capabilities.Set(path, desc.RequiredCapabilities...); err != nil {
				errs = append(errs, fmt.Errorf("capability rule: %w", err))
			} else {
				next.caps = len(desc.RequiredCapabilities) > 0
			}
		}
	} else if len(desc.RequiredCapabilities) > 0 {
		errs = append(errs, naverr.Newf(naverr.CodeInvalidState, "route %s requires capabilities but no capability check is installed", path))
	}

	if b.Chain != nil {
		for _, name := range prev.middleware {
			b.Chain.RemoveForPath(path, name)
		}
	}
	for _, id := range desc.MiddlewareIDs {
		if b.Catalog == nil || b.Chain == nil {
			errs = append(errs, fmt.Errorf("middleware %q: no catalog", id))
			continue
		}
		d, ok := b.Catalog.Get(id)
		if !ok {
			errs = append(errs, fmt.Errorf("unknown middleware %q", id))
			continue
		}
		if err := b.Chain.AddForPath(path, d); err != nil {
			errs = append(errs, fmt.Errorf("middleware %q: %w", id, err))
			continue
		}
		next.middleware = append(next.middleware, d.Name)
	}

	if next.auth || next.caps || len(next.middleware) > 0 {
		b.bound[path] = next
	} else {
		delete(b.bound, path)
	}
	slog.Debug(fmt.Sprintf("%s - Bound %s (auth=%t caps=%t middleware=%v)", binderLogPrefix, path, next.auth, next.caps, next.middleware))
	return errors.Join(errs...)
}

// Unbind removes everything Bind installed for path.
func (b *Binder) Unbind(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unbind(path)
}

// Reset removes everything Bind installed for every path.
func (b *Binder) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for path := range b.bound {
		b.unbind(path)
	}
}

// unbind must be called with b.mu held.
func (b *Binder) unbind(path string) {
	prev, ok := b.bound[path]
	if !ok {
		return
	}
	if prev.auth && b.Session != nil {
		b.Session.Forget(path)
	}
	if prev.caps && b.Capabilities != nil {
		_ = b.Capabilities.Set(path)
	}
	if b.Chain != nil {
		for _, name := range prev.middleware {
			b.Chain.RemoveForPath(path, name)
		}
	}
	delete(b.bound, path)
}
