// Package roomstore is the concurrent RoomId -> *room.Room registry
// (spec.md §4.3). It is the sole owner of each room's memory: dispatcher
// loops only ever hold a room pointer briefly, never a back-reference into
// the store itself, which avoids the cyclic-lifetime problem spec.md §9
// calls out.
package roomstore

import (
	"sync"

	"github.com/drophub/drophub/internal/ids"
	"github.com/drophub/drophub/internal/metrics"
	"github.com/drophub/drophub/internal/room"
	"github.com/drophub/drophub/internal/roomerr"
)

// Store is a finely concurrent map: operations on distinct rooms never
// block each other, because the map itself is only held under lock for the
// brief lookup/insert/delete, while all of a room's interior mutation is
// serialized by the room's own mutex (spec.md §5).
type Store struct {
	mu    sync.RWMutex
	rooms map[ids.RoomId]*room.Room
	alloc ids.RoomAllocator
}

// New returns an empty store.
func New() *Store {
	return &Store{rooms: make(map[ids.RoomId]*room.Room)}
}

// Create allocates a fresh RoomId, constructs the room via build, and
// registers it. build receives the allocated id so room.New can embed it.
func (s *Store) Create(build func(id ids.RoomId) *room.Room) *room.Room {
	id := s.alloc.Next()
	r := build(id)

	s.mu.Lock()
	s.rooms[id] = r
	n := len(s.rooms)
	s.mu.Unlock()
	metrics.SetRooms(n)
	return r
}

// Get returns the room for id, or RoomNotFound.
func (s *Store) Get(id ids.RoomId) (*room.Room, error) {
	s.mu.RLock()
	r, ok := s.rooms[id]
	s.mu.RUnlock()
	if !ok {
		return nil, roomerr.RoomNotFound{RoomID: id}
	}
	return r, nil
}

// Remove deletes id from the store and tears the room itself down, closing
// every broadcast subscriber so their dispatcher loops unwind (spec.md §4.7
// step 6). It is a no-op if id is already gone.
func (s *Store) Remove(id ids.RoomId) {
	s.mu.Lock()
	r, ok := s.rooms[id]
	delete(s.rooms, id)
	n := len(s.rooms)
	s.mu.Unlock()
	metrics.SetRooms(n)
	if ok {
		r.Close()
	}
}

// Len reports the number of currently live rooms, for metrics.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
