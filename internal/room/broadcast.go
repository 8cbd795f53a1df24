package room

import "sync"

// Event is a single item delivered to a broadcast subscriber: either a
// RoomInfo snapshot, or a lag marker telling the subscriber it missed one
// or more snapshots and should treat the next one as authoritative
// (spec.md §4.4 Broadcast policy, §5).
type Event struct {
	Info *Info
	Lag  bool
}

// broadcastCapacity bounds each subscriber's mailbox. A slow subscriber
// never blocks Publish: once its mailbox is full, Publish drops the oldest
// queued item and marks the slot with a lag event in its place (spec.md
// §5: "a slow subscriber is not allowed to stall publishers").
const broadcastCapacity = 8

// broadcaster is a bounded, multi-subscriber fan-out of Info snapshots.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[uint64]chan Event
	nextID uint64
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[uint64]chan Event)}
}

// subscribe registers a new receiver and returns its id (for unsubscribe)
// and receive channel. If the broadcaster has already been closed (the
// room has ended), the returned channel is itself closed so callers observe
// end-of-stream immediately.
func (b *broadcaster) subscribe() (uint64, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, broadcastCapacity)
	if b.closed {
		close(ch)
		return 0, ch
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	return id, ch
}

func (b *broadcaster) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// publish fans a fresh snapshot out to every live subscriber without
// blocking. A full mailbox is drained by one slot and the slot is replaced
// with a lag marker instead of the snapshot, so a resync is always
// observable without ever stalling the publisher.
func (b *broadcaster) publish(info Info) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ev := Event{Info: &info}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- Event{Lag: true}:
			default:
			}
		}
	}
}

// close tears the broadcaster down: every live subscriber's channel is
// closed, which is how a dispatcher loop learns the room has ended.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
