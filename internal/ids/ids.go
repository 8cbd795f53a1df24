// Package ids mints the identifiers DropHub's room model uses: a
// monotonic, process-unique RoomId, and 128-bit random identifiers for
// everything else (peers, entities, transfers, download procs).
package ids

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// RoomId is allocated by atomic increment and is unique for the lifetime
// of the process (spec.md §3, invariant 7).
type RoomId uint64

// PeerId, EntityId, TransferId and DownloadProcId are 128-bit random
// identifiers; collisions are treated as negligible.
type (
	PeerId         string
	EntityId       string
	TransferId     string
	DownloadProcId string
)

// RoomAllocator hands out strictly increasing RoomIds.
type RoomAllocator struct {
	next atomic.Uint64
}

// Next returns the next RoomId. The zero value is never returned so that
// a RoomId zero value can serve as a sentinel "unset" in structs that embed
// ids.RoomId without an accompanying "ok" flag.
func (a *RoomAllocator) Next() RoomId {
	return RoomId(a.next.Add(1))
}

// NewPeerId mints a fresh PeerId.
func NewPeerId() PeerId { return PeerId(uuid.NewString()) }

// NewEntityId derives an EntityId from a content checksum. DropHub treats
// the checksum itself as the entity's id (spec.md §3: "id = content
// checksum"), so this is a thin named conversion rather than a generator.
func NewEntityId(checksum string) EntityId { return EntityId(checksum) }

// NewTransferId mints a fresh TransferId.
func NewTransferId() TransferId { return TransferId(uuid.NewString()) }

// NewDownloadProcId mints a fresh DownloadProcId.
func NewDownloadProcId() DownloadProcId { return DownloadProcId(uuid.NewString()) }
