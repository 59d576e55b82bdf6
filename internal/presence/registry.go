// Package presence tracks which identities currently hold live connections.
// One identity may hold several connections at once (multi-device).
package presence

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/gigdesk/gigdesk/internal/model"
)

// Conn is the delivery handle the registry holds for each live connection.
// Deliver must not block; it reports false when the frame was dropped.
type Conn interface {
	ID() uuid.UUID
	Deliver(ev model.Outbound) bool
}

// Registry is the identity -> connection-set map. Constructed once per
// process and injected into the gateway; a fresh registry per test.
type Registry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]map[uuid.UUID]Conn
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[uuid.UUID]map[uuid.UUID]Conn),
	}
}

// Register adds the connection under the identity. Returns true when this is
// the identity's first live connection, i.e. it just came online.
func (r *Registry) Register(identityID uuid.UUID, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[identityID]
	if !ok {
		set = make(map[uuid.UUID]Conn)
		r.conns[identityID] = set
	}
	set[c.ID()] = c
	return !ok
}

// Unregister removes the connection. Returns true when the identity's set
// became empty, i.e. it just went offline. The entry is deleted so stale
// identities never linger in the map.
func (r *Registry) Unregister(identityID uuid.UUID, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[identityID]
	if !ok {
		return false
	}
	if _, ok := set[c.ID()]; !ok {
		return false
	}
	delete(set, c.ID())
	if len(set) == 0 {
		delete(r.conns, identityID)
		return true
	}
	return false
}

func (r *Registry) IsOnline(identityID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns[identityID]) > 0
}

// OnlineIdentities returns the sorted set of identities with at least one
// live connection. Sorted so presence broadcasts are deterministic.
func (r *Registry) OnlineIdentities() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uuid.UUID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
	return ids
}

// Connections returns the live connection handles for the identity. Empty
// when offline; delivery to an offline identity is a no-op, never queued.
func (r *Registry) Connections(identityID uuid.UUID) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.conns[identityID]
	conns := make([]Conn, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}

// Broadcast delivers the event to every live connection of every identity.
func (r *Registry) Broadcast(ev model.Outbound) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, set := range r.conns {
		for _, c := range set {
			c.Deliver(ev)
		}
	}
}
