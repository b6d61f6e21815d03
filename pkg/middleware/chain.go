// Package middleware runs priority-ordered interceptors in front of every
// navigation and provides the built-in session, capability and logging checks.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/morezero/nav-dispatch/pkg/naverr"
	"github.com/morezero/nav-dispatch/pkg/pathutil"
	"github.com/morezero/nav-dispatch/pkg/request"
)

const logPrefix = "middleware:chain"

// Func inspects a request. Returning false vetoes the navigation. A non-nil
// error is a fault: it is logged and treated as "did not veto".
type Func func(ctx context.Context, req *request.Request) (bool, error)

// Descriptor is a named middleware with its priority. Lower runs earlier.
type Descriptor struct {
	Name     string
	Priority int32
	Handler  Func
}

// Observer is told about vetoes and faults, e.g. for metrics.
type Observer interface {
	OnVeto(name, path string)
	OnFault(name, path string, err error)
}

type entry struct {
	Descriptor
	seq uint64
}

// Chain holds the global chain and the per-path chains.
type Chain struct {
	mu       sync.RWMutex
	seq      uint64
	global   []entry
	paths    map[string][]entry
	patterns []string // wildcard keys of paths, longest base first
	observer Observer
}

// NewChain creates an empty Chain. observer may be nil.
func NewChain(observer Observer) *Chain {
	return &Chain{
		paths:    make(map[string][]entry),
		observer: observer,
	}
}

// AddGlobal adds d to the global chain. A descriptor with the same name is
// replaced.
func (c *Chain) AddGlobal(d Descriptor) error {
	if d.Handler == nil {
		return naverr.Newf(naverr.CodeInvalidState, "middleware %q has no handler", d.Name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.global = c.insert(c.global, d)
	slog.Debug(fmt.Sprintf("%s - Added global middleware %s (priority %d)", logPrefix, d.Name, d.Priority))
	return nil
}

// AddForPath adds d to the chain for path. path may be a prefix pattern
// such as "/user/*".
func (c *Chain) AddForPath(path string, d Descriptor) error {
	if !pathutil.ValidatePattern(path) {
		return naverr.Newf(naverr.CodeInvalidPath, "invalid middleware path %q", path)
	}
	if d.Handler == nil {
		return naverr.Newf(naverr.CodeInvalidState, "middleware %q has no handler", d.Name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, existed := c.paths[path]
	c.paths[path] = c.insert(c.paths[path], d)
	if !existed && pathutil.IsWildcard(path) {
		c.patterns = append(c.patterns, path)
		sort.SliceStable(c.patterns, func(i, j int) bool {
			return len(pathutil.WildcardBase(c.patterns[i])) > len(pathutil.WildcardBase(c.patterns[j]))
		})
	}
	slog.Debug(fmt.Sprintf("%s - Added middleware %s for %s (priority %d)", logPrefix, d.Name, path, d.Priority))
	return nil
}

// RemoveGlobal removes the global middleware called name.
func (c *Chain) RemoveGlobal(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ok bool
	c.global, ok = remove(c.global, name)
	return ok
}

// RemoveForPath removes the middleware called name from path's chain.
func (c *Chain) RemoveForPath(path, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	list, ok := remove(c.paths[path], name)
	if !ok {
		return false
	}
	if len(list) > 0 {
		c.paths[path] = list
		return true
	}
	delete(c.paths, path)
	for i, p := range c.patterns {
		if p == path {
			c.patterns = append(c.patterns[:i], c.patterns[i+1:]...)
			break
		}
	}
	return true
}

// ClearAll removes every middleware.
func (c *Chain) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.global = nil
	c.paths = make(map[string][]entry)
	c.patterns = nil
}

// GlobalNames returns the global middleware names in execution order.
func (c *Chain) GlobalNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return names(c.global)
}

// PathNames returns the names registered under exactly path, in execution order.
func (c *Chain) PathNames(path string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return names(c.paths[path])
}

// RunChain runs the global chain and then the chain for req.Path. It returns
// false as soon as a middleware vetoes. Faults and panics are logged and the
// chain continues.
//
// The path chain is the exact chain for req.Path when one exists; otherwise
// the entries of every matching wildcard chain run merged by priority, with
// ties going to the more specific pattern.
func (c *Chain) RunChain(ctx context.Context, req *request.Request) bool {
	global, scoped := c.snapshot(req.Path)
	if !c.run(ctx, global, req) {
		return false
	}
	return c.run(ctx, scoped, req)
}

func (c *Chain) snapshot(path string) ([]entry, []entry) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	global := append([]entry(nil), c.global...)
	if list, ok := c.paths[path]; ok && !pathutil.IsWildcard(path) {
		return global, append([]entry(nil), list...)
	}
	var scoped []entry
	for _, p := range c.patterns {
		if pathutil.MatchPrefix(p, path) {
			scoped = append(scoped, c.paths[p]...)
		}
	}
	// patterns is most specific first, so a stable sort keeps that order
	// among equal priorities.
	sort.SliceStable(scoped, func(i, j int) bool { return scoped[i].Priority < scoped[j].Priority })
	return global, scoped
}

func (c *Chain) run(ctx context.Context, list []entry, req *request.Request) bool {
	for _, e := range list {
		ok, err := invoke(ctx, e, req)
		if err != nil {
			fault := naverr.Wrap(naverr.CodeMiddlewareFault, err, fmt.Sprintf("middleware %s failed", e.Name))
			slog.Warn(fmt.Sprintf("%s - %v (path %s): %v", logPrefix, fault, req.Path, err))
			if c.observer != nil {
				c.observer.OnFault(e.Name, req.Path, fault)
			}
			continue
		}
		if !ok {
			slog.Debug(fmt.Sprintf("%s - %s vetoed %s", logPrefix, e.Name, req.Path))
			if c.observer != nil {
				c.observer.OnVeto(e.Name, req.Path)
			}
			return false
		}
	}
	return true
}

func invoke(ctx context.Context, e entry, req *request.Request) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = true, fmt.Errorf("panic: %v", r)
		}
	}()
	return e.Handler(ctx, req)
}

// insert must be called with c.mu held.
func (c *Chain) insert(list []entry, d Descriptor) []entry {
	if d.Name != "" {
		list, _ = remove(list, d.Name)
	}
	c.seq++
	list = append(list, entry{Descriptor: d, seq: c.seq})
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority < list[j].Priority
		}
		return list[i].seq < list[j].seq
	})
	return list
}

// remove drops the first entry called name.
func remove(list []entry, name string) ([]entry, bool) {
	for i, e := range list {
		if e.Name == name {
			out := make([]entry, 0, len(list)-1)
			out = append(out, list[:i]...)
			return append(out, list[i+1:]...), true
		}
	}
	return list, false
}

func names(list []entry) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.Name
	}
	return out
}
