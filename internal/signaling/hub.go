package signaling

import (
	"sync"

	"callbridge/internal/auth"
)

// Conn is one realtime transport connection as the hub sees it.
//
// Send must never block the caller: implementations queue the message and
// drop it if the peer cannot keep up (delivery is at-least-once across the
// session; receivers tolerate duplicates and gaps idempotently).
type Conn interface {
	ID() string
	Identity() auth.Identity
	Send(msg Message)
}

// Hub is the presence registry: it maps logical room names to the set of
// currently-connected transport connections. Membership has no lifecycle
// beyond the transport session; Remove tears down everything a connection
// joined.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Conn     // room -> connID -> conn
	conns map[string]map[string]struct{} // connID -> joined rooms
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[string]Conn),
		conns: make(map[string]map[string]struct{}),
	}
}

func (h *Hub) Join(room string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]Conn)
		h.rooms[room] = members
	}
	members[conn.ID()] = conn

	joined, ok := h.conns[conn.ID()]
	if !ok {
		joined = make(map[string]struct{})
		h.conns[conn.ID()] = joined
	}
	joined[room] = struct{}{}
}

func (h *Hub) Leave(room, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, connID)
}

// Remove drops the connection from every room it joined.
func (h *Hub) Remove(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for room := range h.conns[connID] {
		h.leaveLocked(room, connID)
	}
	delete(h.conns, connID)
}

func (h *Hub) leaveLocked(room, connID string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	if joined, ok := h.conns[connID]; ok {
		delete(joined, room)
	}
}

// Broadcast fans a message out to every member of the room.
func (h *Hub) Broadcast(room string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.rooms[room] {
		conn.Send(msg)
	}
}

// BroadcastExcept fans out to every member but the named connection,
// used for SDP/ICE relay where the sender must not echo itself.
func (h *Hub) BroadcastExcept(room, exceptConnID string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, conn := range h.rooms[room] {
		if id == exceptConnID {
			continue
		}
		conn.Send(msg)
	}
}

// MemberCount reports room size; used by tests and debug endpoints.
func (h *Hub) MemberCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
