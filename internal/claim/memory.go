package claim

import (
	"context"
	"sort"
	"sync"
)

// Ensure MemoryRegistry implements Registry
var _ Registry = (*MemoryRegistry)(nil)

// groupSet is the claimed set of one group. Its mutex serializes
// arbitration for that group only. A disposed set is marked dead and must
// not be written again.
type groupSet struct {
	mu     sync.Mutex
	dead   bool
	guests map[string]struct{}
}

// MemoryRegistry keeps claims in process memory.
type MemoryRegistry struct {
	mu     sync.RWMutex
	groups map[string]*groupSet
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		groups: make(map[string]*groupSet),
	}
}

// group returns the set for id, creating it when create is true.
// Returns nil if the group does not exist and create is false.
func (r *MemoryRegistry) group(id string, create bool) *groupSet {
	r.mu.RLock()
	g := r.groups[id]
	r.mu.RUnlock()
	if g != nil || !create {
		return g
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g = r.groups[id]; g == nil {
		g = &groupSet{guests: make(map[string]struct{})}
		r.groups[id] = g
	}
	return g
}

// lock returns the live set for id with its mutex held, or nil. A set
// retired by Dispose after the lookup is skipped and the lookup retried.
func (r *MemoryRegistry) lock(id string, create bool) *groupSet {
	for {
		g := r.group(id, create)
		if g == nil {
			return nil
		}
		g.mu.Lock()
		if !g.dead {
			return g
		}
		g.mu.Unlock()
	}
}

// IsClaimed reports whether guest is held in group.
func (r *MemoryRegistry) IsClaimed(_ context.Context, group, guest string) (bool, error) {
	if err := validate(group, guest); err != nil {
		return false, err
	}
	g := r.lock(group, false)
	if g == nil {
		return false, nil
	}
	defer g.mu.Unlock()
	_, ok := g.guests[guest]
	return ok, nil
}

// TryClaim checks and commits under the group's mutex.
func (r *MemoryRegistry) TryClaim(_ context.Context, group, guest string) (bool, error) {
	if err := validate(group, guest); err != nil {
		return false, err
	}
	g := r.lock(group, true)
	defer g.mu.Unlock()
	if _, ok := g.guests[guest]; ok {
		return false, nil
	}
	g.guests[guest] = struct{}{}
	return true, nil
}

// Claim marks guest claimed in group.
func (r *MemoryRegistry) Claim(_ context.Context, group, guest string) error {
	if err := validate(group, guest); err != nil {
		return err
	}
	g := r.lock(group, true)
	g.guests[guest] = struct{}{}
	g.mu.Unlock()
	return nil
}

// Release removes guest from group.
func (r *MemoryRegistry) Release(_ context.Context, group, guest string) (bool, error) {
	if err := validate(group, guest); err != nil {
		return false, err
	}
	g := r.lock(group, false)
	if g == nil {
		return false, nil
	}
	defer g.mu.Unlock()
	if _, ok := g.guests[guest]; !ok {
		return false, nil
	}
	delete(g.guests, guest)
	return true, nil
}

// Claimed returns the sorted claimed guests of group.
func (r *MemoryRegistry) Claimed(_ context.Context, group string) ([]string, error) {
	if group == "" {
		return nil, ErrEmptyGroup
	}
	g := r.lock(group, false)
	if g == nil {
		return []string{}, nil
	}
	guests := make([]string, 0, len(g.guests))
	for id := range g.guests {
		guests = append(guests, id)
	}
	g.mu.Unlock()
	sort.Strings(guests)
	return guests, nil
}

// Dispose forgets group entirely. The set is retired before the registry
// lock is released, so no claim can land in it after a new set exists.
func (r *MemoryRegistry) Dispose(_ context.Context, group string) error {
	if group == "" {
		return ErrEmptyGroup
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if g := r.groups[group]; g != nil {
		g.mu.Lock()
		g.dead = true
		g.mu.Unlock()
		delete(r.groups, group)
	}
	return nil
}

// groupCount returns the number of groups currently tracked.
func (r *MemoryRegistry) groupCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}
