// Package directory resolves participant identifiers to display
// information for conversation titles and search.
package directory

import "sync"

// Display is the presentable identity of a participant.
type Display struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

// Directory looks up display information for a participant ID.
type Directory interface {
	ResolveDisplay(id string) (Display, bool)
}

// Static is an in-memory Directory seeded from configuration.
type Static struct {
	mu      sync.RWMutex
	entries map[string]Display
}

// NewStatic returns an empty static directory.
func NewStatic() *Static {
	return &Static{entries: map[string]Display{}}
}

// Put registers or replaces an entry.
func (s *Static) Put(id string, d Display) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = d
}

// ResolveDisplay returns the display entry for id when known.
func (s *Static) ResolveDisplay(id string) (Display, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.entries[id]
	return d, ok
}
