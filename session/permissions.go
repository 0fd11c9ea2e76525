package session

import "sync"

// Wildcard as a resource id grants the actions on every resource of the type.
const Wildcard = "*"

// Grant is one permission record as returned by the backend at login.
type Grant struct {
	ResourceType string   `json:"resourceType"`
	ResourceID   string   `json:"resourceId"`
	Actions      []string `json:"actions"`
}

type resourceKey struct {
	typ string
	id  string
}

// Permissions maps (resource type, resource id) to an action set.
// Built once from the login grants and queried by direct lookup.
type Permissions struct {
	mu      sync.RWMutex
	entries map[resourceKey]map[string]struct{}
}

func NewPermissions(grants []Grant) *Permissions {
	p := &Permissions{entries: make(map[resourceKey]map[string]struct{})}
	for _, g := range grants {
		p.add(g)
	}
	return p
}

func (p *Permissions) add(g Grant) {
	if g.ResourceType == "" || g.ResourceID == "" {
		return
	}
	key := resourceKey{typ: g.ResourceType, id: g.ResourceID}
	set, ok := p.entries[key]
	if !ok {
		set = make(map[string]struct{}, len(g.Actions))
		p.entries[key] = set
	}
	for _, a := range g.Actions {
		set[a] = struct{}{}
	}
}

// Allows reports whether action is granted on the resource, falling back to
// the wildcard id of the same type.
func (p *Permissions) Allows(resourceType, resourceID, action string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if set, ok := p.entries[resourceKey{typ: resourceType, id: resourceID}]; ok {
		if _, ok := set[action]; ok {
			return true
		}
	}
	if set, ok := p.entries[resourceKey{typ: resourceType, id: Wildcard}]; ok {
		_, ok := set[action]
		return ok
	}
	return false
}

// Actions returns the actions granted on exactly this resource, without
// wildcard expansion.
func (p *Permissions) Actions(resourceType, resourceID string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	set := p.entries[resourceKey{typ: resourceType, id: resourceID}]
	actions := make([]string, 0, len(set))
	for a := range set {
		actions = append(actions, a)
	}
	return actions
}

// Replace swaps the registry content, e.g. after a fresh login.
func (p *Permissions) Replace(grants []Grant) {
	fresh := NewPermissions(grants)
	p.mu.Lock()
	p.entries = fresh.entries
	p.mu.Unlock()
}
