package ws

import "sync"

// roomRegistry is the shared mutable membership state across connections:
// one room per order id, guarded by a single RWMutex.
type roomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]map[*connection]struct{}
}

func newRoomRegistry() *roomRegistry {
	return &roomRegistry{
		rooms: make(map[string]map[*connection]struct{}),
	}
}

func (r *roomRegistry) Join(orderID string, c *connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[orderID]
	if !ok {
		room = make(map[*connection]struct{})
		r.rooms[orderID] = room
	}
	room[c] = struct{}{}
}

func (r *roomRegistry) Leave(orderID string, c *connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[orderID]
	if !ok {
		return
	}

	delete(room, c)
	if len(room) == 0 {
		delete(r.rooms, orderID)
	}
}

// Drop removes the connection from every room it joined.
func (r *roomRegistry) Drop(c *connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for orderID, room := range r.rooms {
		delete(room, c)
		if len(room) == 0 {
			delete(r.rooms, orderID)
		}
	}
}

// Members returns a snapshot of the room so broadcasting never holds the
// lock while writing to sockets.
func (r *roomRegistry) Members(orderID string) []*connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[orderID]
	members := make([]*connection, 0, len(room))
	for c := range room {
		members = append(members, c)
	}
	return members
}
