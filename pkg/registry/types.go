// Package registry implements the concurrent route registry mapping navigation paths to handler descriptors.
package registry

import (
	"sort"
)

// Descriptor describes the handler a path resolves to.
type Descriptor struct {
	Path                 string   `json:"path"`
	HandlerID            string   `json:"handlerId"`
	RequiresAuth         bool     `json:"requiresAuth"`
	RequiredCapabilities []string `json:"requiredCapabilities,omitempty"`
	MiddlewareIDs        []string `json:"middlewareIds,omitempty"`
}

// clone returns a copy that shares no slices with d. Capabilities are
// de-duplicated and sorted since they have set semantics; middleware ids
// keep their declared order.
func (d Descriptor) clone() Descriptor {
	c := d
	c.RequiredCapabilities = capabilitySet(d.RequiredCapabilities)
	if d.MiddlewareIDs != nil {
		c.MiddlewareIDs = append([]string(nil), d.MiddlewareIDs...)
	}
	return c
}

func capabilitySet(caps []string) []string {
	if len(caps) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(caps))
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// HasCapability reports whether name is among the required capabilities.
func (d Descriptor) HasCapability(name string) bool {
	i := sort.SearchStrings(d.RequiredCapabilities, name)
	return i < len(d.RequiredCapabilities) && d.RequiredCapabilities[i] == name
}
