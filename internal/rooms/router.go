// Package rooms computes canonical conversation room keys and tracks room
// membership. Membership is a routing convenience only: message delivery
// always goes directly to each participant's connection set and never depends
// on who has joined the room.
package rooms

import (
	"sync"

	"github.com/google/uuid"

	"github.com/gigdesk/gigdesk/internal/presence"
)

// RoomID returns the canonical key for a conversation between two users,
// optionally scoped to a project. Order-independent in the two user ids so
// both participants compute the same key.
func RoomID(a, b uuid.UUID, projectID *uuid.UUID) string {
	lo, hi := a.String(), b.String()
	if hi < lo {
		lo, hi = hi, lo
	}

	project := ""
	if projectID != nil {
		project = projectID.String()
	}
	return "chat:" + lo + ":" + hi + ":" + project
}

// Router tracks which connections joined which rooms. Membership is
// reconstructed on each join; nothing is persisted.
type Router struct {
	mu      sync.Mutex
	members map[string]map[uuid.UUID]presence.Conn
	joined  map[uuid.UUID]map[string]struct{} // connID -> room keys, for LeaveAll
}

func NewRouter() *Router {
	return &Router{
		members: make(map[string]map[uuid.UUID]presence.Conn),
		joined:  make(map[uuid.UUID]map[string]struct{}),
	}
}

// Join adds the connection to the room. A connection may be in any number of
// rooms at once.
func (r *Router) Join(roomID string, c presence.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.members[roomID]
	if !ok {
		set = make(map[uuid.UUID]presence.Conn)
		r.members[roomID] = set
	}
	set[c.ID()] = c

	rooms, ok := r.joined[c.ID()]
	if !ok {
		rooms = make(map[string]struct{})
		r.joined[c.ID()] = rooms
	}
	rooms[roomID] = struct{}{}
}

func (r *Router) Leave(roomID string, c presence.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveLocked(roomID, c.ID())
}

// LeaveAll removes the connection from every room it joined. Called on
// disconnect so abrupt closes never leak membership.
func (r *Router) LeaveAll(c presence.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID := range r.joined[c.ID()] {
		r.leaveLocked(roomID, c.ID())
	}
}

func (r *Router) leaveLocked(roomID string, connID uuid.UUID) {
	if set, ok := r.members[roomID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.members, roomID)
		}
	}
	if rooms, ok := r.joined[connID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(r.joined, connID)
		}
	}
}

// Members returns the connections currently joined to the room.
func (r *Router) Members(roomID string) []presence.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.members[roomID]
	conns := make([]presence.Conn, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}
