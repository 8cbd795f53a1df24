package room

import (
	"github.com/drophub/drophub/internal/credential"
	"github.com/drophub/drophub/internal/ids"
	"github.com/drophub/drophub/internal/roomerr"
)

// Credential expiry is not checked here: the caller is responsible for
// having already called codec.Verify, which rejects expired blobs — this
// package only knows about Claims, never about the blob or the secret.
// Mutating operations then apply the operation-specific checks below. Each check is a free function
// over plain values so it stays stateless and independently testable
// (spec.md §4.5).

func checkHostOnly(claims credential.Claims, roomID ids.RoomId) error {
	if claims.Role != credential.RoleHost {
		return roomerr.PermissionDenied{PeerID: claims.PeerID, RoomID: roomID, Detail: "host-only operation"}
	}
	return nil
}

func checkNotSelfKick(claims credential.Claims, roomID ids.RoomId, target ids.PeerId) error {
	if claims.PeerID == target {
		return roomerr.PermissionDenied{PeerID: claims.PeerID, RoomID: roomID, Detail: "cannot kick self"}
	}
	return nil
}

func checkEntityOwner(claims credential.Claims, roomID ids.RoomId, e Entity) error {
	if claims.PeerID != e.OwnerID {
		return roomerr.PermissionDenied{PeerID: claims.PeerID, RoomID: roomID, Detail: "not-owner"}
	}
	return nil
}

func checkNotOwnEntityDownload(claims credential.Claims, roomID ids.RoomId, e Entity) error {
	if claims.PeerID == e.OwnerID {
		return roomerr.PermissionDenied{PeerID: claims.PeerID, RoomID: roomID, Detail: "cannot download own entity"}
	}
	return nil
}

// checkCapacity enforces invariant 4: |peers| + |live_invites| <= capacity,
// evaluated at the instant a new invite is issued or a peer joins. Callers
// must hold the room lock and pass the count *before* the admission being
// checked, since the check is "would this admission still fit".
func checkCapacity(roomID ids.RoomId, capacity, currentPeers, currentInvites int) error {
	if currentPeers+currentInvites >= capacity {
		return roomerr.CapacityReached{RoomID: roomID, Capacity: capacity}
	}
	return nil
}

func checkPeerExists(roomID ids.RoomId, peers map[ids.PeerId]*Peer, pid ids.PeerId) (*Peer, error) {
	p, ok := peers[pid]
	if !ok {
		return nil, roomerr.PeerNotFound{PeerID: pid, RoomID: roomID}
	}
	return p, nil
}

func checkEntityExists(roomID ids.RoomId, entities map[ids.EntityId]*Entity, eid ids.EntityId) (*Entity, error) {
	e, ok := entities[eid]
	if !ok {
		return nil, roomerr.EntityNotFound{EntityID: eid, RoomID: roomID}
	}
	return e, nil
}

func checkTransferExists(roomID ids.RoomId, transfers map[ids.TransferId]*Transfer, tid ids.TransferId) (*Transfer, error) {
	tr, ok := transfers[tid]
	if !ok {
		return nil, roomerr.TransferNotFound{TransferID: tid, RoomID: roomID}
	}
	return tr, nil
}
