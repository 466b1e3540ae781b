package session

import (
	"log"
	"sort"
	"sync"
	"time"

	"liveclass/pkg/types"
)

// Registry maps session codes to live rooms. It is an owned value; tests
// build their own.
// ARCHITECTURAL DISCOVERY: r.mu only ever guards the map and is never held
// while waiting on a room lock, so a busy room cannot stall lookups of other
// codes. Removal marks the room closed under its own lock first and unmaps it
// afterwards; a join racing that window sees errRoomClosed and retries, and
// GetOrCreateRoom treats a closed room as absent.
type Registry struct {
	opts Options

	mu    sync.Mutex
	rooms map[string]*Room
}

// Stats is a point-in-time summary of the registry.
type Stats struct {
	Rooms        int `json:"rooms"`
	Participants int `json:"participants"`
	CallMembers  int `json:"callMembers"`
}

func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:  opts.withDefaults(),
		rooms: make(map[string]*Room),
	}
}

// Options returns the room options this registry applies.
func (r *Registry) Options() Options {
	return r.opts
}

// GetOrCreateRoom returns the room for code. Only a teacher may create one;
// anyone else gets ErrSessionNotFound for an unknown code.
func (r *Registry) GetOrCreateRoom(code string, requester types.Identity) (*Room, error) {
	code = types.NormalizeSessionCode(code)
	if !types.IsValidSessionCode(code) {
		return nil, types.ErrInvalidSessionCode
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if room, ok := r.rooms[code]; ok && !room.closed.Load() {
		return room, nil
	}
	if !requester.IsTeacher() {
		return nil, ErrSessionNotFound
	}

	room := newRoom(code, requester.UserID, r.opts)
	r.rooms[code] = room
	log.Printf("Room created: room=%s teacher=%s", code, requester.UserID)
	return room, nil
}

// RemoveRoomIfEmpty deletes the room once both its roster and call roster are
// empty. It reports whether the room was removed.
func (r *Registry) RemoveRoomIfEmpty(code string) bool {
	r.mu.Lock()
	room, ok := r.rooms[code]
	r.mu.Unlock()
	if !ok {
		return false
	}

	room.mu.Lock()
	if room.closed.Load() || !room.isEmptyLocked() {
		room.mu.Unlock()
		return false
	}
	room.closed.Store(true)
	room.mu.Unlock()

	r.mu.Lock()
	if r.rooms[code] == room {
		delete(r.rooms, code)
	}
	r.mu.Unlock()

	log.Printf("Room removed: room=%s lifetime=%s", code, r.opts.Now().Sub(room.createdAt).Round(time.Second))
	return true
}

// Room looks up a live room without creating it.
func (r *Registry) Room(code string) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[types.NormalizeSessionCode(code)]
	if !ok || room.closed.Load() {
		return nil, false
	}
	return room, true
}

// Rooms returns the live rooms ordered by code.
func (r *Registry) Rooms() []*Room {
	r.mu.Lock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		if !room.closed.Load() {
			rooms = append(rooms, room)
		}
	}
	r.mu.Unlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].code < rooms[j].code })
	return rooms
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// ExpireTyping sweeps stale typing flags in every room.
func (r *Registry) ExpireTyping(now time.Time) int {
	expired := 0
	for _, room := range r.Rooms() {
		expired += room.ExpireTyping(now)
	}
	return expired
}

func (r *Registry) GetStats() Stats {
	stats := Stats{}
	for _, room := range r.Rooms() {
		room.mu.Lock()
		stats.Rooms++
		stats.Participants += len(room.roster)
		stats.CallMembers += room.call.Len()
		room.mu.Unlock()
	}
	return stats
}
