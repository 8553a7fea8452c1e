package sync

import "sync"

// Hub is the reverse index from room name to subscribed connections, used
// only for broadcast fan-out. Authoritative membership lives on each
// connection; the hub merely mirrors it so other connections' handlers
// can reach room members.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Connection]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: map[string]map[*Connection]struct{}{}}
}

func (h *Hub) add(c *Connection, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = map[*Connection]struct{}{}
		h.rooms[room] = members
	}
	members[c] = struct{}{}
}

func (h *Hub) remove(c *Connection, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// removeAll drops a connection from every room, on disconnect.
func (h *Hub) removeAll(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Broadcast sends an event to every member of the room except the sender.
func (h *Hub) Broadcast(room, event string, payload any, except *Connection) {
	h.mu.RLock()
	members := make([]*Connection, 0, len(h.rooms[room]))
	for member := range h.rooms[room] {
		if member != except {
			members = append(members, member)
		}
	}
	h.mu.RUnlock()

	for _, member := range members {
		member.sendEvent(event, payload)
	}
}

// MemberCount reports how many connections are subscribed to a room.
func (h *Hub) MemberCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
