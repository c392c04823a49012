package chat

import "sync"

// Room is one broadcast scope. Membership and fan-out use separate locks:
// fan-out holds order for its whole pass so frames reach every member in
// the same sequence, while join/leave only ever wait on mu.
type Room struct {
	Name string

	order sync.Mutex

	mu      sync.Mutex
	members map[string]*Connection
	pruned  bool
}

func newRoom(name string) *Room {
	return &Room{
		Name:    name,
		members: make(map[string]*Connection),
	}
}

func (r *Room) snapshot() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := make([]*Connection, 0, len(r.members))
	for _, c := range r.members {
		members = append(members, c)
	}
	return members
}

func (r *Room) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}
