// Package dispatcher implements the per-subscription event loop spec.md
// §4.7 describes: host-create and guest-connect both allocate a peer,
// mint a credential, and then multiplex room-info broadcasts and
// upload-demand requests onto a single ordered event stream until the
// subscription's context is cancelled.
package dispatcher

import (
	"context"
	"time"

	"github.com/drophub/drophub/internal/credential"
	"github.com/drophub/drophub/internal/ids"
	"github.com/drophub/drophub/internal/invite"
	"github.com/drophub/drophub/internal/logs"
	"github.com/drophub/drophub/internal/room"
	"github.com/drophub/drophub/internal/roomstore"
)

// EventKind discriminates a RoomEvent's payload (spec.md §6 RoomEvent
// variants).
type EventKind string

const (
	EventInit          EventKind = "init"
	EventRoomInfo      EventKind = "room_info"
	EventUploadRequest EventKind = "upload_request"
)

// InitPayload is the first event ever sent on a subscription.
type InitPayload struct {
	Access  string
	Refresh credential.Refresh
	PeerID  ids.PeerId
	RoomID  ids.RoomId
}

// Event is one item on a Session's event stream.
type Event struct {
	Kind   EventKind
	Init   *InitPayload
	Info   *room.Info
	Upload *room.UploadRequest
}

// eventBuffer sizes each Session's Events channel. It only needs to absorb
// the brief window between the RPC adapter's writer goroutine waking up
// and it draining the channel; a blocked writer applies natural
// backpressure to the room's broadcaster, which is itself lag-tolerant.
const eventBuffer = 16

// Session is a live host-create or guest-connect subscription.
type Session struct {
	PeerID ids.PeerId
	RoomID ids.RoomId
	Role   credential.Role
	Room   *room.Room
	Peer   *room.Peer
	Events chan Event

	subID uint64
	sub   <-chan room.Event
}

// Dispatcher wires the room store and credential codec together to service
// subscription requests. It holds no per-session state of its own beyond
// what's needed to mint credentials and look up rooms.
type Dispatcher struct {
	store *roomstore.Store
	codec *credential.Codec
	now   func() time.Time
	log   logs.Logger
}

// New builds a Dispatcher. now defaults to time.Now when nil.
func New(store *roomstore.Store, codec *credential.Codec, log logs.Logger, now func() time.Time) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{store: store, codec: codec, now: now, log: log.Named("dispatcher")}
}

// CreateRoom services a host-create subscription: it allocates a fresh
// room (with the host already its sole peer, per invariant 1), mints the
// host's credential, and starts the session's event loop. The caller is
// responsible for running ctx's cancellation on sink close.
func (d *Dispatcher) CreateRoom(ctx context.Context, opts room.Options) (*Session, error) {
	hostID := ids.NewPeerId()
	r := d.store.Create(func(id ids.RoomId) *room.Room {
		return room.New(id, hostID, opts, d.now)
	})

	access, refresh, err := d.codec.Mint(hostID, r.ID(), credential.RoleHost, d.now())
	if err != nil {
		d.store.Remove(r.ID())
		return nil, err
	}

	hostPeer, err := r.Peer(hostID)
	if err != nil {
		d.store.Remove(r.ID())
		return nil, err
	}

	sess := &Session{
		PeerID: hostID,
		RoomID: r.ID(),
		Role:   credential.RoleHost,
		Room:   r,
		Peer:   hostPeer,
		Events: make(chan Event, eventBuffer),
	}
	sess.Events <- Event{Kind: EventInit, Init: &InitPayload{Access: access, Refresh: refresh, PeerID: hostID, RoomID: r.ID()}}

	go d.run(ctx, sess)
	return sess, nil
}

// ConnectRoom services a guest-connect subscription: it locates the room,
// atomically consumes the invite, adds the peer, mints the guest's
// credential, and starts the session's event loop.
func (d *Dispatcher) ConnectRoom(ctx context.Context, roomID ids.RoomId, passphrase invite.Passphrase) (*Session, error) {
	r, err := d.store.Get(roomID)
	if err != nil {
		return nil, err
	}

	peerID := ids.NewPeerId()
	// Subscribe before joining: the snapshot AddPeer publishes is this
	// session's first RoomInfo and the same one every existing peer sees.
	subID, sub := r.Subscribe()
	peer, err := r.AddPeer(peerID, passphrase)
	if err != nil {
		r.Unsubscribe(subID)
		return nil, err
	}

	access, refresh, err := d.codec.Mint(peerID, roomID, credential.RoleGuest, d.now())
	if err != nil {
		r.Unsubscribe(subID)
		r.RemovePeer(peerID)
		return nil, err
	}

	sess := &Session{
		PeerID: peerID,
		RoomID: roomID,
		Role:   credential.RoleGuest,
		Room:   r,
		Peer:   peer,
		Events: make(chan Event, eventBuffer),
		subID:  subID,
		sub:    sub,
	}
	sess.Events <- Event{Kind: EventInit, Init: &InitPayload{Access: access, Refresh: refresh, PeerID: peerID, RoomID: roomID}}

	go d.run(ctx, sess)
	return sess, nil
}

// run is the subscription loop of spec.md §4.7 step 5: select among
// sink-closed (ctx.Done), broadcast-recv, and upload-demand-recv, forward
// each as a typed Event, and run cleanup on every exit path.
func (d *Dispatcher) run(ctx context.Context, sess *Session) {
	defer d.cleanup(sess)

	sub := sess.sub
	if sub == nil {
		sess.subID, sub = sess.Room.Subscribe()
		sess.Room.PublishSnapshot()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return // room ended: host subscription has already exited
			}
			if ev.Lag {
				d.log.Warn("subscriber lagged, next snapshot is authoritative",
					logs.F("room_id", sess.RoomID), logs.F("peer_id", sess.PeerID))
				continue
			}
			if !d.emit(ctx, sess, Event{Kind: EventRoomInfo, Info: ev.Info}) {
				return
			}
		case req, ok := <-sess.Peer.UploadDemand:
			if !ok {
				return // this peer has been kicked
			}
			if !d.emit(ctx, sess, Event{Kind: EventUploadRequest, Upload: &req}) {
				return
			}
		}
	}
}

func (d *Dispatcher) emit(ctx context.Context, sess *Session, ev Event) bool {
	select {
	case sess.Events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// cleanup runs on every exit path (normal, error, cancellation), matching
// spec.md §4.7 step 6: remove the peer (which drops its entities and
// broadcasts the update); for the host, tear the room down entirely, which
// closes every other subscription's broadcast receiver in turn.
func (d *Dispatcher) cleanup(sess *Session) {
	sess.Room.Unsubscribe(sess.subID)
	if sess.Role == credential.RoleHost {
		d.store.Remove(sess.RoomID)
	} else {
		sess.Room.RemovePeer(sess.PeerID)
	}
	close(sess.Events)
}
