package room

import (
	"github.com/drophub/drophub/internal/credential"
	"github.com/drophub/drophub/internal/ids"
	"github.com/drophub/drophub/internal/metrics"
	"github.com/drophub/drophub/internal/roomerr"
)

// ceilDiv computes ceil(size / blockSize) without overflow for the
// reasonable entity sizes DropHub deals with.
func ceilDiv(size, blockSize int64) uint64 {
	if size <= 0 {
		return 0
	}
	n := size / blockSize
	if size%blockSize != 0 {
		n++
	}
	return uint64(n)
}

// StartTransfer is step 1 of the demand/response pairing in spec.md §4.6:
// look up the entity, refuse self-download, create the transfer record,
// push the first UploadRequest to the owner, and return the data channel's
// receive side (and the Done channel, so the downloader's subscription
// loop can select on both — see Transfer's doc comment) for the
// downloader's subscription loop.
func (r *Room) StartTransfer(claims credential.Claims, eid ids.EntityId, tid ids.TransferId) (*Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := checkEntityExists(r.id, r.entities, eid)
	if err != nil {
		return nil, err
	}
	if err := checkNotOwnEntityDownload(claims, r.id, *e); err != nil {
		return nil, err
	}
	owner, err := checkPeerExists(r.id, r.peers, e.OwnerID)
	if err != nil {
		return nil, err
	}

	tr := newTransfer()
	tr.ID = tid
	tr.EntityID = eid
	tr.OwnerID = e.OwnerID
	tr.DownloaderID = claims.PeerID
	tr.TotalBlocks = ceilDiv(e.Meta.SizeBytes, r.opts.BlockSize)
	tr.BlockSize = r.opts.BlockSize
	tr.Data = make(chan Block, 1)

	if tr.TotalBlocks == 0 {
		// zero-byte entity: no owner upload to wait for, so synthesize the
		// single (empty, last) block directly. tr.Data has capacity 1, so
		// this never blocks. The downloader's stream loop reads it like any
		// other final block and returns on its own — spec.md §4.4 treats a
		// zero-byte entity's download as a completion, not a cancellation,
		// so Done is deliberately left unclosed here (closing it would race
		// the buffered block against the Done branch in the reader's select).
		tr.Data <- Block{Index: 0, Bytes: nil, Last: true}
		return tr, nil
	}

	r.transfers[tid] = tr
	metrics.TransfersActive.Inc()
	if !r.demandLocked(owner, tr, 0) {
		delete(r.transfers, tid)
		metrics.TransfersActive.Dec()
		tr.finish()
	}
	return tr, nil
}

// demandLocked pushes an UploadRequest for blockIdx to owner's demand
// channel, non-blocking. It reports whether the demand was accepted; a
// full/closed channel means the owner can no longer be asked, which the
// caller treats as "drop this transfer".
func (r *Room) demandLocked(owner *Peer, tr *Transfer, blockIdx uint64) bool {
	req := UploadRequest{TransferID: tr.ID, EntityID: tr.EntityID, BlockIdx: blockIdx}
	if owner.closed {
		return false
	}
	select {
	case owner.UploadDemand <- req:
		return true
	default:
		return false
	}
}

// DeliverBlock validates and applies one uploaded block (spec.md §4.6
// step 3). Last-ness is computed server-side from the transfer's own block
// counter — spec.md §6 gives `upload_block` no `last` field, the owner only
// supplies index and bytes — then pushed into the transfer's data channel
// — which blocks if the downloader hasn't drained the previous block,
// providing the back-pressure spec.md §5 requires — and either the next
// demand is emitted or the transfer completes and is dropped. If the
// transfer is cancelled concurrently (downloader gone, or owner kicked),
// the send is abandoned via Transfer.Done rather than racing a channel
// close.
func (r *Room) DeliverBlock(tid ids.TransferId, idx uint64, bytes []byte) error {
	r.mu.Lock()
	tr, err := checkTransferExists(r.id, r.transfers, tid)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if idx != tr.NextBlockIndex {
		r.mu.Unlock()
		return roomerr.UnexpectedBlockIndex{TransferID: tid, Got: idx, Want: tr.NextBlockIndex}
	}
	isLast := idx+1 == tr.TotalBlocks
	if !isLast && int64(len(bytes)) != tr.BlockSize {
		r.mu.Unlock()
		return roomerr.InvalidBlockSize{TransferID: tid, Got: len(bytes), Want: int(tr.BlockSize), IsLast: isLast}
	}
	if isLast && int64(len(bytes)) > tr.BlockSize {
		r.mu.Unlock()
		return roomerr.InvalidBlockSize{TransferID: tid, Got: len(bytes), Want: int(tr.BlockSize), IsLast: isLast}
	}

	owner := r.peers[tr.OwnerID]
	complete := isLast
	if complete {
		delete(r.transfers, tid)
	} else {
		tr.NextBlockIndex = idx + 1
	}
	r.mu.Unlock()

	// Send outside the lock: this may block on back-pressure, and must
	// never hold the room mutex while doing so (spec.md §5: no CPU-bound
	// or blocking operation holds exclusive access across a suspension
	// point).
	select {
	case tr.Data <- Block{Index: idx, Bytes: bytes, Last: isLast}:
	case <-tr.Done:
		return nil
	}
	metrics.BlocksTransferred.Inc()
	if complete {
		metrics.TransfersActive.Dec()
		tr.finish()
		return nil
	}

	r.mu.Lock()
	if _, stillLive := r.transfers[tid]; stillLive && owner != nil {
		if !r.demandLocked(owner, tr, idx+1) {
			delete(r.transfers, tid)
			r.mu.Unlock()
			metrics.TransfersActive.Dec()
			tr.finish()
			return nil
		}
	}
	r.mu.Unlock()
	return nil
}

// StopTransfer removes a transfer record, e.g. because the downloader's
// sink closed. The owner simply stops receiving further demands for it.
func (r *Room) StopTransfer(tid ids.TransferId) {
	r.mu.Lock()
	tr, ok := r.transfers[tid]
	if ok {
		delete(r.transfers, tid)
	}
	r.mu.Unlock()
	if ok {
		metrics.TransfersActive.Dec()
		tr.finish()
	}
}

// dropTransfersForOwnerLocked removes every transfer sourcing from owner.
// Called while r.mu is held (from RemovePeer). Downloaders observe Done
// closing as end-of-stream (spec.md §4.6 Cancellation).
func (r *Room) dropTransfersForOwnerLocked(owner ids.PeerId) {
	for tid, tr := range r.transfers {
		if tr.OwnerID == owner {
			delete(r.transfers, tid)
			metrics.TransfersActive.Dec()
			tr.finish()
		}
	}
}
