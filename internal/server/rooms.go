// Package server maintains the room registry: a fixed-capacity slot arena
// owning room creation, lookup, capacity and password checks, and the
// multicast-group assignment derived from each room's slot.
package server

import (
	"fmt"

	"github.com/TomerKal7/Chat-Room-Project/internal/protocol"
)

// Failure is a typed rejection carrying the wire error code and a short
// human-readable reason. It is not a Go error: validation failures travel to
// the peer as protocol responses, never up the call stack.
type Failure struct {
	Code   uint8
	Reason string
}

// Room is one chat room slot. The ID is derived from the slot index and is
// stable (and reused) for the slot's lifetime, so a reactivated slot keeps
// the same multicast coordinates.
type Room struct {
	ID            uint16
	Name          string
	Password      string
	MulticastAddr string
	MulticastPort uint16
	MaxClients    int
	ClientCount   int
	Active        bool
}

// RoomRegistry is the fixed-capacity room table.
//
// The registry does no locking of its own: callers hold the server's room
// lock (after the session lock, when both are needed).
type RoomRegistry struct {
	rooms     []Room
	base      string
	portStart int
}

// NewRoomRegistry builds a registry of maxRooms inactive slots. Room N
// (1-based) is assigned the multicast group base+N on port portStart+N,
// disjoint per room.
func NewRoomRegistry(maxRooms int, base string, portStart int) *RoomRegistry {
	r := &RoomRegistry{
		rooms:     make([]Room, maxRooms),
		base:      base,
		portStart: portStart,
	}
	for i := range r.rooms {
		id := uint16(i + 1)
		r.rooms[i].ID = id
		r.rooms[i].MulticastAddr = fmt.Sprintf("%s%d", base, id)
		r.rooms[i].MulticastPort = uint16(portStart + int(id))
	}
	return r
}

// validRoomName accepts non-empty, bounded, printable-ASCII names.
func validRoomName(name string) bool {
	if len(name) == 0 || len(name) > protocol.MaxRoomNameLen {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] < 0x20 || name[i] > 0x7e {
			return false
		}
	}
	return true
}

// validPassword restricts passwords to alphanumerics plus a small
// punctuation set. Content hygiene, not cryptographic strength.
func validPassword(pw string) bool {
	if len(pw) > protocol.MaxPasswordLen {
		return false
	}
	for i := 0; i < len(pw); i++ {
		c := pw[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-' || c == '.' || c == '!' || c == '?' || c == '@' || c == '#':
		default:
			return false
		}
	}
	return true
}

// create claims a free slot for a new room. maxClientsBound is the server's
// session capacity, the upper bound for a room's capacity.
func (r *RoomRegistry) create(name, password string, maxUsers, maxClientsBound int) (*Room, *Failure) {
	if !validRoomName(name) {
		return nil, &Failure{Code: protocol.RoomNotFound, Reason: "invalid room name"}
	}
	if !validPassword(password) {
		return nil, &Failure{Code: protocol.RoomWrongPassword, Reason: "invalid password"}
	}
	if maxUsers < 1 || maxUsers > maxClientsBound {
		return nil, &Failure{Code: protocol.RoomFull, Reason: "invalid room capacity"}
	}
	if r.findByName(name) != nil {
		return nil, &Failure{Code: protocol.RoomNameExists, Reason: "room name already exists"}
	}

	slot := r.freeSlot()
	if slot < 0 {
		return nil, &Failure{Code: protocol.RoomFull, Reason: "server room limit reached"}
	}

	room := &r.rooms[slot]
	room.Name = name
	room.Password = password
	room.MaxClients = maxUsers
	room.ClientCount = 0
	room.Active = true
	return room, nil
}

// join checks existence, password, and capacity by exact name match, then
// increments the member count.
func (r *RoomRegistry) join(name, password string) (*Room, *Failure) {
	room := r.findByName(name)
	if room == nil {
		return nil, &Failure{Code: protocol.RoomNotFound, Reason: "room not found"}
	}
	if room.Password != "" && room.Password != password {
		return nil, &Failure{Code: protocol.RoomWrongPassword, Reason: "wrong room password"}
	}
	if room.MaxClients > 0 && room.ClientCount >= room.MaxClients {
		return nil, &Failure{Code: protocol.RoomFull, Reason: "room is full"}
	}
	room.ClientCount++
	return room, nil
}

// leave decrements the member count of the room with the given ID and
// deactivates the slot once the count reaches zero. A room is never
// deactivated while it has members.
func (r *RoomRegistry) leave(id uint16) *Room {
	room := r.findByID(id)
	if room == nil {
		return nil
	}
	if room.ClientCount > 0 {
		room.ClientCount--
	}
	if room.ClientCount == 0 {
		room.Active = false
	}
	return room
}

// findByName returns the active room with the exact (case-sensitive) name.
func (r *RoomRegistry) findByName(name string) *Room {
	for i := range r.rooms {
		if r.rooms[i].Active && r.rooms[i].Name == name {
			return &r.rooms[i]
		}
	}
	return nil
}

// findByID returns the active room with the given ID.
func (r *RoomRegistry) findByID(id uint16) *Room {
	if id == 0 || int(id) > len(r.rooms) {
		return nil
	}
	room := &r.rooms[id-1]
	if !room.Active {
		return nil
	}
	return room
}

func (r *RoomRegistry) freeSlot() int {
	for i := range r.rooms {
		if !r.rooms[i].Active {
			return i
		}
	}
	return -1
}

// snapshot renders the active rooms as room-list records.
func (r *RoomRegistry) snapshot() []protocol.RoomListEntry {
	entries := make([]protocol.RoomListEntry, 0, len(r.rooms))
	for i := range r.rooms {
		room := &r.rooms[i]
		if !room.Active {
			continue
		}
		entries = append(entries, protocol.RoomListEntry{
			RoomID:      room.ID,
			Name:        room.Name,
			UserCount:   uint8(room.ClientCount),
			HasPassword: room.Password != "",
		})
	}
	return entries
}

// activeCount reports how many room slots are active.
func (r *RoomRegistry) activeCount() int {
	n := 0
	for i := range r.rooms {
		if r.rooms[i].Active {
			n++
		}
	}
	return n
}
