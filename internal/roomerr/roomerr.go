// Package roomerr defines DropHub's closed error-kind taxonomy (spec.md
// §7). Every mutating room operation returns one of these types (or nil);
// the RPC adapter maps each to one of the three transport error codes
// without inspecting anything beyond the type switch below.
package roomerr

import "fmt"

// Code is the JSON-RPC error code family a Kind maps to (spec.md §6).
type Code int

const (
	CodeGeneral   Code = -40000
	CodeNotFound  Code = -40001
	CodeForbidden Code = -40002
)

// RoomNotFound is returned when a RoomId has no corresponding room, either
// because it never existed or because it has already evaporated.
type RoomNotFound struct{ RoomID any }

func (e RoomNotFound) Error() string { return fmt.Sprintf("room %v not found", e.RoomID) }

// PeerNotFound is returned when a PeerId is not present in the named room.
type PeerNotFound struct {
	PeerID any
	RoomID any
}

func (e PeerNotFound) Error() string {
	return fmt.Sprintf("peer %v not found in room %v", e.PeerID, e.RoomID)
}

// EntityNotFound is returned when an EntityId is not present in the named
// room.
type EntityNotFound struct {
	EntityID any
	RoomID   any
}

func (e EntityNotFound) Error() string {
	return fmt.Sprintf("entity %v not found in room %v", e.EntityID, e.RoomID)
}

// InviteNotFound is returned when a passphrase is unknown, expired, or
// already redeemed in the named room.
type InviteNotFound struct {
	Passphrase any
	RoomID     any
}

func (e InviteNotFound) Error() string {
	return fmt.Sprintf("invite %v not found in room %v", e.Passphrase, e.RoomID)
}

// TransferNotFound is returned when a TransferId has no active transfer
// record, including after its final block has already been delivered.
type TransferNotFound struct {
	TransferID any
	RoomID     any
}

func (e TransferNotFound) Error() string {
	return fmt.Sprintf("transfer %v not found in room %v", e.TransferID, e.RoomID)
}

// PermissionDenied wraps every authorization failure: wrong role, self-kick,
// non-owner mutation, self-download, or an expired credential. Detail names
// which check failed.
type PermissionDenied struct {
	PeerID any
	RoomID any
	Detail string
}

func (e PermissionDenied) Error() string {
	return fmt.Sprintf("peer %v denied in room %v: %s", e.PeerID, e.RoomID, e.Detail)
}

// CapacityReached is returned when admitting one more peer or invite would
// exceed the room's capacity.
type CapacityReached struct {
	RoomID   any
	Capacity int
}

func (e CapacityReached) Error() string {
	return fmt.Sprintf("room %v at capacity %d", e.RoomID, e.Capacity)
}

// InvalidBlockSize is returned when an uploaded block's length violates the
// block-size contract (too big, or short but not the final block).
type InvalidBlockSize struct {
	TransferID any
	Got        int
	Want       int
	IsLast     bool
}

func (e InvalidBlockSize) Error() string {
	return fmt.Sprintf("transfer %v: invalid block size %d (want %d, last=%v)", e.TransferID, e.Got, e.Want, e.IsLast)
}

// UnexpectedBlockIndex is returned when a delivered block's index does not
// match the transfer's next expected index.
type UnexpectedBlockIndex struct {
	TransferID any
	Got        uint64
	Want       uint64
}

func (e UnexpectedBlockIndex) Error() string {
	return fmt.Sprintf("transfer %v: unexpected block index %d (want %d)", e.TransferID, e.Got, e.Want)
}

// MalformedCredential covers credential codec failures other than expiry:
// a blob that doesn't parse, or a bad signature. An expired access blob is
// reported as PermissionDenied instead.
type MalformedCredential struct{ Reason string }

func (e MalformedCredential) Error() string { return "malformed credential: " + e.Reason }

// Internal wraps failures outside the domain taxonomy: a closed channel,
// RNG failure, signing failure, or a request that cannot be decoded. It
// maps to CodeGeneral; its Error text, Reason included, is what the RPC
// adapter sends as the error message. It carries no stack data.
type Internal struct{ Reason string }

func (e Internal) Error() string { return "internal error: " + e.Reason }

// RPCCode maps an error produced by this package to the JSON-RPC error code
// family spec.md §6 defines. Errors outside this taxonomy map to
// CodeGeneral.
func RPCCode(err error) Code {
	switch err.(type) {
	case RoomNotFound, PeerNotFound, EntityNotFound, InviteNotFound, TransferNotFound:
		return CodeNotFound
	case PermissionDenied:
		return CodeForbidden
	default:
		return CodeGeneral
	}
}
