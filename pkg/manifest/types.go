// Package manifest describes handlers declaratively: which path each one
// serves and what it needs before it may be launched.
package manifest

import "context"

// Handler is the declared routing metadata of one handler.
type Handler struct {
	ID           string   `json:"id"`
	Path         string   `json:"path"`
	RequiresAuth bool     `json:"requiresAuth,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Middleware   []string `json:"middleware,omitempty"`
}

// Manifest is a named, versioned list of handlers.
type Manifest struct {
	Name     string    `json:"name"`
	Version  string    `json:"version"`
	Handlers []Handler `json:"handlers"`

	// Origin is the file the manifest was read from, if any.
	Origin string `json:"-"`
}

// Source yields a manifest.
type Source interface {
	Load(ctx context.Context) (*Manifest, error)
}

// Load returns a copy of m, so a Manifest is its own Source.
func (m *Manifest) Load(_ context.Context) (*Manifest, error) {
	c := *m
	c.Handlers = make([]Handler, len(m.Handlers))
	for i, h := range m.Handlers {
		h.Capabilities = append([]string(nil), h.Capabilities...)
		h.Middleware = append([]string(nil), h.Middleware...)
		c.Handlers[i] = h
	}
	return &c, nil
}

// StaticSource is an explicit registration table filled in code.
type StaticSource struct {
	m Manifest
}

// NewStaticSource creates an empty StaticSource.
func NewStaticSource(name, version string) *StaticSource {
	return &StaticSource{m: Manifest{Name: name, Version: version}}
}

// Add appends h and returns s for chaining.
func (s *StaticSource) Add(h Handler) *StaticSource {
	s.m.Handlers = append(s.m.Handlers, h)
	return s
}

// Load implements Source.
func (s *StaticSource) Load(ctx context.Context) (*Manifest, error) {
	return s.m.Load(ctx)
}

// FileSource reads a JSON or HCL manifest from Path on every Load.
type FileSource struct {
	Path string
}

// Load implements Source.
func (f FileSource) Load(_ context.Context) (*Manifest, error) {
	return ReadFile(f.Path)
}
