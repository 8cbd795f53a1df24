// Package room implements DropHub's in-room data model: peers, entities,
// invites, and chunked transfers, plus the validator and transfer
// coordinator that operate on it (spec.md §4.4-4.6).
package room

import (
	"sync"
	"time"

	"github.com/drophub/drophub/internal/credential"
	"github.com/drophub/drophub/internal/ids"
	"github.com/drophub/drophub/internal/invite"
)

// EntityKind distinguishes a file from a pasted text blob.
type EntityKind string

const (
	KindFile EntityKind = "file"
	KindText EntityKind = "text"
)

// EntityMeta is the caller-supplied description of an announced entity.
type EntityMeta struct {
	Name      string
	SizeBytes int64
	Kind      EntityKind
}

// Entity is a file or text blob announced by its owning peer, addressable
// by content checksum.
type Entity struct {
	ID      ids.EntityId
	Meta    EntityMeta
	OwnerID ids.PeerId
}

// Peer is one connected client within a room.
type Peer struct {
	ID            ids.PeerId
	Role          credential.Role
	OwnedEntities map[ids.EntityId]struct{}

	// UploadDemand is the server-to-owner channel of block-upload requests.
	// spec.md models it as unbounded; Go channels cannot be truly unbounded,
	// so it is sized generously (demandQueueCapacity) relative to the
	// at-most-one-outstanding-demand-per-transfer rate bound in spec.md §5 —
	// a peer would need that many concurrently active outbound transfers to
	// ever find it full. Sends never block: when it is full, demandLocked
	// refuses the demand and the transfer is dropped. Nothing limits how
	// many transfers one peer's entities may source at once.
	UploadDemand chan UploadRequest

	// closed marks the peer as having been removed (kicked or disconnected)
	// so the dispatcher's select loop, observing UploadDemand closed, knows
	// to stop.
	closed bool
}

// demandQueueCapacity sizes Peer.UploadDemand; see the field's doc comment.
const demandQueueCapacity = 64

func newPeer(id ids.PeerId, role credential.Role) *Peer {
	return &Peer{
		ID:            id,
		Role:          role,
		OwnedEntities: make(map[ids.EntityId]struct{}),
		UploadDemand:  make(chan UploadRequest, demandQueueCapacity),
	}
}

// UploadRequest asks a peer's subscription loop to supply one block of one
// of its entities.
type UploadRequest struct {
	TransferID ids.TransferId
	EntityID   ids.EntityId
	BlockIdx   uint64
}

// Block is one block of bytes produced by an owner in response to an
// UploadRequest.
type Block struct {
	Index uint64
	Bytes []byte
	Last  bool
}

// Transfer is the per-download state machine described in spec.md §4.6.
//
// Data is never closed: closing it from both the completion path and the
// cancellation path (which run on different goroutines — the owner's
// upload vs. a peer removal) would race. Instead every reader and writer
// selects on Done alongside Data; Done is closed exactly once, by whichever
// path reaches it first, and means "stop, regardless of whether Data has
// more buffered".
type Transfer struct {
	ID             ids.TransferId
	EntityID       ids.EntityId
	OwnerID        ids.PeerId
	DownloaderID   ids.PeerId
	NextBlockIndex uint64
	TotalBlocks    uint64
	BlockSize      int64
	Data           chan Block // capacity 1: enforces back-pressure on the owner
	Done           chan struct{}
	doneOnce       sync.Once
}

func newTransfer() *Transfer {
	return &Transfer{Done: make(chan struct{})}
}

// finish closes Done exactly once, marking the transfer as over whether it
// completed normally or was cancelled.
func (t *Transfer) finish() {
	t.doneOnce.Do(func() { close(t.Done) })
}

// Options are the host-chosen, per-room settings fixed at creation.
type Options struct {
	Encryption bool
	Capacity   int
	BlockSize  int64
	InviteTTL  time.Duration
}

// PeerSummary is the public view of a Peer carried in a RoomInfo snapshot.
type PeerSummary struct {
	ID   ids.PeerId
	Role credential.Role
}

// Info is the public, serializable view of a room at a point in time
// (spec.md §4.4, §6).
type Info struct {
	RoomID   ids.RoomId
	HostID   ids.PeerId
	Options  Options
	Peers    []PeerSummary
	Entities map[ids.EntityId]EntityMeta
	Invites  []invite.Passphrase
}
