package ws

import "sync"

// Registry is the process-local presence authority: room -> user -> set of
// live connections. It is rebuilt empty on restart and knows nothing about
// connections held by other instances; a user connected to two instances
// appears online on both and each instance broadcasts its own offline.
//
// All mutations and snapshot reads are serialized through one RWMutex so a
// broadcast can iterate a consistent snapshot while other goroutines attach
// or detach.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]map[*Client]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]map[*Client]struct{}),
	}
}

// Attach registers the connection and returns the user's connection count
// afterwards. A result of 1 marks the 0->1 transition that triggers the
// "participant joined" broadcast.
func (r *Registry) Attach(c *Client) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	users, ok := r.rooms[c.roomId]
	if !ok {
		users = make(map[string]map[*Client]struct{})
		r.rooms[c.roomId] = users
	}
	conns, ok := users[c.userId]
	if !ok {
		conns = make(map[*Client]struct{})
		users[c.userId] = conns
	}
	conns[c] = struct{}{}
	return len(conns)
}

// Detach removes the connection. It returns the user's remaining connection
// count (0 marks the N->0 transition that triggers the "offline" broadcast)
// and whether the room has no live connections left at all.
func (r *Registry) Detach(c *Client) (remaining int, roomEmpty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	users, ok := r.rooms[c.roomId]
	if !ok {
		return 0, true
	}
	conns, ok := users[c.userId]
	if ok {
		delete(conns, c)
		remaining = len(conns)
		if remaining == 0 {
			delete(users, c.userId)
		}
	}
	if len(users) == 0 {
		delete(r.rooms, c.roomId)
		return remaining, true
	}
	return remaining, false
}

// Users returns the ids of users with at least one live connection in the room.
func (r *Registry) Users(roomId string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]string, 0, len(r.rooms[roomId]))
	for userId := range r.rooms[roomId] {
		users = append(users, userId)
	}
	return users
}

// UserCount is the number of distinct online users in the room.
func (r *Registry) UserCount(roomId string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomId])
}

// OccupantCount is the number of distinct online users occupying a capacity
// slot in the room. Ghosts are excluded: an online ghost must never block a
// normal join.
func (r *Registry) OccupantCount(roomId string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, conns := range r.rooms[roomId] {
		for c := range conns {
			if !c.ghost {
				count++
				break
			}
		}
	}
	return count
}

// IsOnline reports whether the user holds a live connection in the room on
// this instance.
func (r *Registry) IsOnline(roomId, userId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomId][userId]) > 0
}

// Connections returns a snapshot of all live connections in the room, safe to
// iterate without holding the registry lock.
func (r *Registry) Connections(roomId string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Client, 0)
	for _, userConns := range r.rooms[roomId] {
		for c := range userConns {
			conns = append(conns, c)
		}
	}
	return conns
}

// ActiveRooms returns the ids of rooms with at least one live connection.
func (r *Registry) ActiveRooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]string, 0, len(r.rooms))
	for roomId := range r.rooms {
		rooms = append(rooms, roomId)
	}
	return rooms
}
