package roomstore_test

import (
	"sync"
	"testing"
	"time"

	"github.com/drophub/drophub/internal/ids"
	"github.com/drophub/drophub/internal/room"
	"github.com/drophub/drophub/internal/roomerr"
	"github.com/drophub/drophub/internal/roomstore"
)

func TestCreateGetRemove(t *testing.T) {
	s := roomstore.New()
	host := ids.NewPeerId()
	r := s.Create(func(id ids.RoomId) *room.Room {
		return room.New(id, host, room.Options{Capacity: 2, BlockSize: 1024, InviteTTL: time.Minute}, nil)
	})

	got, err := s.Get(r.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != r {
		t.Fatalf("expected same room pointer")
	}

	s.Remove(r.ID())
	if _, err := s.Get(r.ID()); err == nil {
		t.Fatalf("expected RoomNotFound after remove")
	} else if _, ok := err.(roomerr.RoomNotFound); !ok {
		t.Fatalf("expected RoomNotFound, got %T", err)
	}
}

func TestRoomIdsNeverReused(t *testing.T) {
	s := roomstore.New()
	seen := make(map[ids.RoomId]struct{})
	for i := 0; i < 50; i++ {
		r := s.Create(func(id ids.RoomId) *room.Room {
			return room.New(id, ids.NewPeerId(), room.Options{Capacity: 1, BlockSize: 1024, InviteTTL: time.Minute}, nil)
		})
		if _, dup := seen[r.ID()]; dup {
			t.Fatalf("room id %v reused", r.ID())
		}
		seen[r.ID()] = struct{}{}
		s.Remove(r.ID())
	}
}

func TestConcurrentDistinctRoomsDontBlock(t *testing.T) {
	s := roomstore.New()
	const n = 50
	var wg sync.WaitGroup
	roomIDs := make([]ids.RoomId, n)
	for i := 0; i < n; i++ {
		r := s.Create(func(id ids.RoomId) *room.Room {
			return room.New(id, ids.NewPeerId(), room.Options{Capacity: 4, BlockSize: 1024, InviteTTL: time.Minute}, nil)
		})
		roomIDs[i] = r.ID()
	}

	wg.Add(n)
	for _, rid := range roomIDs {
		rid := rid
		go func() {
			defer wg.Done()
			r, err := s.Get(rid)
			if err != nil {
				t.Errorf("get %v: %v", rid, err)
				return
			}
			r.PublishSnapshot()
		}()
	}
	wg.Wait()
}
