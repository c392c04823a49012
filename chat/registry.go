package chat

import (
	"sort"
	"sync"
)

// RoomRegistry is the source of truth for which connections are in which
// room. Each room locks independently; there is no registry-wide lock.
type RoomRegistry struct {
	rooms sync.Map // room name -> *Room
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{}
}

// Join adds c to roomID, creating the room on first use. It reports whether
// c was newly added; joining twice leaves membership unchanged.
func (r *RoomRegistry) Join(roomID string, c *Connection) bool {
	for {
		room := r.lookup(roomID)
		if room == nil {
			v, loaded := r.rooms.LoadOrStore(roomID, newRoom(roomID))
			room = v.(*Room)
			if !loaded {
				roomsGauge.Inc()
			}
		}

		room.mu.Lock()
		if room.pruned {
			// Lost a race with the last member leaving; retry on a fresh entry.
			room.mu.Unlock()
			continue
		}
		_, exists := room.members[c.ID()]
		room.members[c.ID()] = c
		c.attach(room)
		room.mu.Unlock()
		return !exists
	}
}

// Leave removes connID from roomID and prunes the room once it is empty.
// It reports whether connID was a member.
func (r *RoomRegistry) Leave(roomID, connID string) bool {
	room := r.lookup(roomID)
	if room == nil {
		return false
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if _, ok := room.members[connID]; !ok {
		return false
	}
	delete(room.members, connID)
	if len(room.members) == 0 {
		room.pruned = true
		if r.rooms.CompareAndDelete(roomID, room) {
			roomsGauge.Dec()
		}
	}
	return true
}

// MembersOf returns the IDs of the connections currently in roomID.
// An unknown room yields an empty set.
func (r *RoomRegistry) MembersOf(roomID string) map[string]struct{} {
	ids := make(map[string]struct{})
	room := r.lookup(roomID)
	if room == nil {
		return ids
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	for id := range room.members {
		ids[id] = struct{}{}
	}
	return ids
}

// Rooms lists the non-empty rooms by name.
func (r *RoomRegistry) Rooms() []RoomSummary {
	rooms := []RoomSummary{}
	r.rooms.Range(func(_, v any) bool {
		room := v.(*Room)
		if n := room.size(); n > 0 {
			rooms = append(rooms, RoomSummary{Room: room.Name, Members: n})
		}
		return true
	})
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Room < rooms[j].Room })
	return rooms
}

func (r *RoomRegistry) lookup(roomID string) *Room {
	v, ok := r.rooms.Load(roomID)
	if !ok {
		return nil
	}
	return v.(*Room)
}
