package capability

import "sync"

// Principal is an authenticated or anonymous actor and the set of
// capabilities the host has granted it.
type Principal struct {
	Name         string
	capabilities map[Token]bool
}

// NewPrincipal builds a principal holding the given capabilities.
func NewPrincipal(name string, caps ...Token) Principal {
	set := make(map[Token]bool, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	return Principal{Name: name, capabilities: set}
}

// Anonymous returns a principal with no capabilities.
func Anonymous() Principal {
	return NewPrincipal("anonymous")
}

// Has reports whether the principal holds the capability.
func (p Principal) Has(t Token) bool {
	return p.capabilities[t]
}

// IsManager reports whether the principal holds the umbrella lockdown
// management capability.
func (p Principal) IsManager() bool {
	return p.Has(Lockdown)
}

// Groups maps capabilities to the named groups that hold them, so a
// denial can tell the caller who could access the resource. The host
// registers its group layout at startup.
type Groups struct {
	mu      sync.RWMutex
	holders map[Token][]string
}

// NewGroups creates a registry pre-loaded with a conventional layout:
// administrators hold everything, trusted editors hold the semi-level
// bypasses.
func NewGroups() *Groups {
	g := &Groups{holders: make(map[Token][]string)}
	for _, t := range []Token{
		Lockdown, ViewHiddenRevisions,
		BypassReadLock, BypassReadFullLock,
		BypassEditLock, BypassEditFullLock,
	} {
		g.holders[t] = []string{"administrators"}
	}
	g.holders[BypassReadSemiLock] = []string{"administrators", "trusted"}
	g.holders[BypassEditSemiLock] = []string{"administrators", "trusted"}
	return g
}

// Register replaces the holder groups for a capability.
func (g *Groups) Register(t Token, groups []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.holders[t] = append([]string(nil), groups...)
}

// Holders returns the groups holding the capability. The result is a
// copy; callers may not mutate registry state through it.
func (g *Groups) Holders(t Token) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.holders[t]...)
}
