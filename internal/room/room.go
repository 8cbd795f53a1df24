package room

import (
	"sync"
	"time"

	"github.com/drophub/drophub/internal/credential"
	"github.com/drophub/drophub/internal/ids"
	"github.com/drophub/drophub/internal/invite"
	"github.com/drophub/drophub/internal/metrics"
	"github.com/drophub/drophub/internal/roomerr"
)

// Room is the in-room data model: peers, entities, invites, and active
// transfers, plus the broadcast channel that publishes a post-mutation
// snapshot after every state-visible change (spec.md §3, §4.4). A Room is
// owned exclusively by the store that created it; all of its exported
// methods lock its own mutex, so distinct rooms never contend with each
// other (spec.md §5).
type Room struct {
	mu sync.Mutex

	id      ids.RoomId
	hostID  ids.PeerId
	opts    Options
	peers   map[ids.PeerId]*Peer
	entities map[ids.EntityId]*Entity
	invites  *invite.TTLMap
	transfers map[ids.TransferId]*Transfer

	bcast *broadcaster

	now func() time.Time // injectable for tests
}

// New constructs a room around its host. The host peer is inserted before
// the room is handed back, matching invariant 1 ("a room exists iff its
// host subscription is alive").
func New(id ids.RoomId, hostID ids.PeerId, opts Options, now func() time.Time) *Room {
	if now == nil {
		now = time.Now
	}
	r := &Room{
		id:        id,
		hostID:    hostID,
		opts:      opts,
		peers:     make(map[ids.PeerId]*Peer),
		entities:  make(map[ids.EntityId]*Entity),
		invites:   invite.NewTTLMap(),
		transfers: make(map[ids.TransferId]*Transfer),
		bcast:     newBroadcaster(),
		now:       now,
	}
	r.peers[hostID] = newPeer(hostID, credential.RoleHost)
	metrics.PeersActive.Inc()
	return r
}

// ID returns the room's id.
func (r *Room) ID() ids.RoomId { return r.id }

// HostID returns the room's host peer id.
func (r *Room) HostID() ids.PeerId { return r.hostID }

// Subscribe registers a new broadcast subscriber and immediately returns
// the subscription id alongside its event channel. It publishes nothing
// itself: a host session calls PublishSnapshot right after subscribing, and
// a guest session subscribes before AddPeer so that AddPeer's broadcast is
// its first snapshot (spec.md §4.7 step 4).
func (r *Room) Subscribe() (uint64, <-chan Event) {
	return r.bcast.subscribe()
}

// Unsubscribe removes a broadcast subscriber.
func (r *Room) Unsubscribe(id uint64) {
	r.bcast.unsubscribe(id)
}

// PublishSnapshot publishes the room's current state on the broadcast
// channel without performing any mutation. Used right after a subscribe so
// the new subscriber's first RoomInfo reflects the room as it stands
// (spec.md §4.7 step 4).
func (r *Room) PublishSnapshot() {
	r.mu.Lock()
	info := r.snapshotLocked()
	r.mu.Unlock()
	r.bcast.publish(info)
}

// Peer returns the peer with the given id, or PeerNotFound.
func (r *Room) Peer(pid ids.PeerId) (*Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return checkPeerExists(r.id, r.peers, pid)
}

func (r *Room) snapshotLocked() Info {
	peers := make([]PeerSummary, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, PeerSummary{ID: p.ID, Role: p.Role})
	}
	entities := make(map[ids.EntityId]EntityMeta, len(r.entities))
	for id, e := range r.entities {
		entities[id] = e.Meta
	}
	return Info{
		RoomID:   r.id,
		HostID:   r.hostID,
		Options:  r.opts,
		Peers:    peers,
		Entities: entities,
		Invites:  r.invites.Live(r.now()),
	}
}

// GenerateInvite mints a fresh passphrase if capacity allows (spec.md §4.4).
// Host-only.
func (r *Room) GenerateInvite(claims credential.Claims) (invite.Invite, error) {
	r.mu.Lock()
	if err := checkHostOnly(claims, r.id); err != nil {
		r.mu.Unlock()
		return invite.Invite{}, err
	}
	now := r.now()
	if err := checkCapacity(r.id, r.opts.Capacity, len(r.peers), len(r.invites.Live(now))); err != nil {
		r.mu.Unlock()
		return invite.Invite{}, err
	}
	p, err := invite.Generate(func(p invite.Passphrase) bool { return r.invites.Exists(p, now) })
	if err != nil {
		r.mu.Unlock()
		metrics.InviteGenerationFailures.Inc()
		return invite.Invite{}, roomerr.Internal{Reason: err.Error()}
	}
	inv := invite.Invite{Passphrase: p, RoomID: r.id, Expiry: now.Add(r.opts.InviteTTL)}
	r.invites.Add(inv)
	info := r.snapshotLocked()
	r.mu.Unlock()

	r.bcast.publish(info)
	return inv, nil
}

// RevokeInvite removes a live invite. Host-only.
func (r *Room) RevokeInvite(claims credential.Claims, p invite.Passphrase) error {
	r.mu.Lock()
	if err := checkHostOnly(claims, r.id); err != nil {
		r.mu.Unlock()
		return err
	}
	if _, ok := r.invites.Get(p, r.now()); !ok {
		r.mu.Unlock()
		return roomerr.InviteNotFound{Passphrase: p, RoomID: r.id}
	}
	r.invites.Remove(p)
	info := r.snapshotLocked()
	r.mu.Unlock()

	r.bcast.publish(info)
	return nil
}

// AddPeer atomically verifies-and-consumes an invite, then inserts the new
// peer (spec.md §3 Lifecycle). Called by the dispatcher on guest connect;
// the caller mints the new peer's id, so the room package need not know
// about id minting policy, and AddPeer builds the Peer (with its
// upload-demand channel) around that id.
func (r *Room) AddPeer(pid ids.PeerId, p invite.Passphrase) (*Peer, error) {
	r.mu.Lock()
	now := r.now()
	if _, ok := r.invites.Get(p, now); !ok {
		r.mu.Unlock()
		return nil, roomerr.InviteNotFound{Passphrase: p, RoomID: r.id}
	}
	r.invites.Remove(p)
	peer := newPeer(pid, credential.RoleGuest)
	r.peers[pid] = peer
	info := r.snapshotLocked()
	r.mu.Unlock()

	metrics.PeersActive.Inc()
	r.bcast.publish(info)
	return peer, nil
}

// RemovePeer drops a peer and every entity it owned (invariant 3). It is
// used both for voluntary disconnects and for host-initiated kicks; any
// transfers sourcing from the removed peer are dropped so their
// downloaders observe end-of-stream (spec.md §4.6 Cancellation).
func (r *Room) RemovePeer(pid ids.PeerId) {
	r.mu.Lock()
	peer, ok := r.peers[pid]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.peers, pid)
	for eid := range peer.OwnedEntities {
		delete(r.entities, eid)
	}
	r.dropTransfersForOwnerLocked(pid)
	if !peer.closed {
		peer.closed = true
		close(peer.UploadDemand)
	}
	info := r.snapshotLocked()
	r.mu.Unlock()

	metrics.PeersActive.Dec()
	r.bcast.publish(info)
}

// Kick is RemovePeer gated by the host-only / not-self-kick checks
// (spec.md §6 `kick`).
func (r *Room) Kick(claims credential.Claims, target ids.PeerId) error {
	r.mu.Lock()
	if err := checkHostOnly(claims, r.id); err != nil {
		r.mu.Unlock()
		return err
	}
	if err := checkNotSelfKick(claims, r.id, target); err != nil {
		r.mu.Unlock()
		return err
	}
	if _, err := checkPeerExists(r.id, r.peers, target); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	r.RemovePeer(target)
	return nil
}

// AddEntity announces a new entity owned by claims.PeerID.
func (r *Room) AddEntity(claims credential.Claims, meta EntityMeta, eid ids.EntityId) (ids.EntityId, error) {
	r.mu.Lock()
	owner, err := checkPeerExists(r.id, r.peers, claims.PeerID)
	if err != nil {
		r.mu.Unlock()
		return "", err
	}
	e := &Entity{ID: eid, Meta: meta, OwnerID: claims.PeerID}
	r.entities[eid] = e
	owner.OwnedEntities[eid] = struct{}{}
	info := r.snapshotLocked()
	r.mu.Unlock()

	r.bcast.publish(info)
	return eid, nil
}

// RemoveEntity removes an entity; only its owner may do so.
func (r *Room) RemoveEntity(claims credential.Claims, eid ids.EntityId) error {
	r.mu.Lock()
	e, err := checkEntityExists(r.id, r.entities, eid)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if err := checkEntityOwner(claims, r.id, *e); err != nil {
		r.mu.Unlock()
		return err
	}
	delete(r.entities, eid)
	if owner, ok := r.peers[e.OwnerID]; ok {
		delete(owner.OwnedEntities, eid)
	}
	info := r.snapshotLocked()
	r.mu.Unlock()

	r.bcast.publish(info)
	return nil
}

// Close tears the room down: every broadcast subscriber's channel is
// closed (so every other subscription's loop observes end-of-stream and
// terminates in turn, per spec.md §4.7 step 6), every peer's upload-demand
// channel is closed so no further owner is asked for blocks, and every
// in-flight transfer is finished so its downloader's stream observes
// end-of-stream instead of blocking forever (spec.md §4.6, §5). The maps
// are drained here so that any subsequent RemovePeer/StopTransfer call
// racing in from a still-unwinding dispatcher finds nothing left to do.
func (r *Room) Close() {
	r.mu.Lock()
	n := len(r.peers)
	t := len(r.transfers)
	for _, p := range r.peers {
		if !p.closed {
			p.closed = true
			close(p.UploadDemand)
		}
	}
	for id := range r.peers {
		delete(r.peers, id)
	}
	for tid, tr := range r.transfers {
		delete(r.transfers, tid)
		tr.finish()
	}
	r.mu.Unlock()

	metrics.PeersActive.Add(-float64(n))
	metrics.TransfersActive.Add(-float64(t))
	r.bcast.close()
}
