package middleware

import (
	"sort"
	"sync"

	"github.com/morezero/nav-dispatch/pkg/naverr"
)

// Catalog maps middleware ids, as referenced by handler metadata, to
// descriptors.
type Catalog struct {
	mu    sync.RWMutex
	items map[string]Descriptor
}

// NewCatalog creates an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{items: make(map[string]Descriptor)}
}

// Put registers d under id, replacing any previous entry. The descriptor's
// name defaults to id.
func (c *Catalog) Put(id string, d Descriptor) error {
	if id == "" || d.Handler == nil {
		return naverr.Newf(naverr.CodeInvalidState, "catalog entry %q needs an id and a handler", id)
	}
	if d.Name == "" {
		d.Name = id
	}
	c.mu.Lock()
	c.items[id] = d
	c.mu.Unlock()
	return nil
}

// Get returns the descriptor registered under id.
func (c *Catalog) Get(id string) (Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.items[id]
	return d, ok
}

// IDs returns the registered ids, sorted.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
