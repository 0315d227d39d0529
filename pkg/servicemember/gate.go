package servicemember

import "sync"

// Gate tracks which MLS groups the service member currently has loaded
// into its in-memory MLS state. It is the single source of truth the
// gateway consults before ever attempting a decrypt; auxiliary-store
// hints are advisory and never substitute for this check.
type Gate struct {
	mu     sync.RWMutex
	loaded map[string]struct{}
}

// NewGate returns an empty gate.
func NewGate() *Gate {
	return &Gate{loaded: make(map[string]struct{})}
}

// HasGroupLoaded reports whether groupID is currently loaded. Constant
// time with respect to the group identifier's content (a plain map
// lookup keyed by the full string, no early-exit comparison).
func (g *Gate) HasGroupLoaded(groupID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.loaded[groupID]
	return ok
}

// Load marks groupID as loaded, e.g. after the service member joins the
// group or restores its MLS state from storage at startup.
func (g *Gate) Load(groupID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.loaded[groupID] = struct{}{}
}

// Unload marks groupID as no longer loaded, e.g. after a remove/leave.
func (g *Gate) Unload(groupID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.loaded, groupID)
}

// LoadedGroups returns a snapshot of currently loaded group identifiers.
func (g *Gate) LoadedGroups() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.loaded))
	for id := range g.loaded {
		out = append(out, id)
	}
	return out
}
