// Package dedup suppresses repeated link records for the lifetime of a crawl.
package dedup

import "sync"

// Gate remembers every link it has admitted. It never forgets: memory grows
// with the number of distinct links seen by the crawl.
type Gate struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewGate returns an empty gate.
func NewGate() *Gate {
	return &Gate{seen: make(map[string]struct{})}
}

// Admit reports whether link is new, recording it if so. Only the first call
// for a given link returns true.
func (g *Gate) Admit(link string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.seen[link]; ok {
		return false
	}
	g.seen[link] = struct{}{}
	return true
}

// Forget removes link so a later Admit accepts it again.
func (g *Gate) Forget(link string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, link)
}

// Len returns the number of admitted links.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
