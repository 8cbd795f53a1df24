package wsrpc

import (
	"encoding/json"

	"github.com/drophub/drophub/internal/dispatcher"
	"github.com/drophub/drophub/internal/ids"
	"github.com/drophub/drophub/internal/room"
	"github.com/drophub/drophub/internal/roomerr"
)

// handleCreate services the host-create subscription (spec.md §6 `create`).
// Its first event (Init) doubles as the RPC's acknowledgement: there is no
// separate synchronous response, matching the "stream of RoomEvent" result
// type spec.md's method table gives it.
func (c *connSession) handleCreate(req request) {
	var p createParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		c.sendResponse(req.ID, nil, roomerr.Internal{Reason: "bad params"})
		return
	}
	opts := room.Options{
		Encryption: p.Encryption,
		Capacity:   p.Capacity,
		BlockSize:  p.BlockSize,
		InviteTTL:  c.h.cfg.InviteTTL,
	}
	if opts.Capacity <= 0 {
		opts.Capacity = c.h.cfg.RoomCapacity
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = c.h.cfg.BlockSizeBytes
	}

	sess, err := c.h.disp.CreateRoom(c.ctx, opts)
	if err != nil {
		c.sendResponse(req.ID, nil, err)
		return
	}
	go c.pumpSession(req.ID, sess)
}

// handleConnect services the guest-connect subscription (spec.md §6 `connect`).
func (c *connSession) handleConnect(req request) {
	var p connectParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		c.sendResponse(req.ID, nil, roomerr.Internal{Reason: "bad params"})
		return
	}

	sess, err := c.h.disp.ConnectRoom(c.ctx, p.RoomID, p.InvitePassphrase)
	if err != nil {
		c.sendResponse(req.ID, nil, err)
		return
	}
	go c.pumpSession(req.ID, sess)
}

// pumpSession forwards a dispatcher Session's event stream onto the
// connection as notifications tagged with the originating request's id, so
// the client can demultiplex concurrent subscriptions on one socket.
func (c *connSession) pumpSession(reqID json.RawMessage, sess *dispatcher.Session) {
	for ev := range sess.Events {
		switch ev.Kind {
		case dispatcher.EventInit:
			c.sendNotification("init", reqID, initPayload{
				PeerID:        ev.Init.PeerID,
				RoomID:        ev.Init.RoomID,
				AccessToken:   ev.Init.Access,
				RefreshToken:  ev.Init.Refresh.Blob,
				RefreshExpiry: ev.Init.Refresh.Expiry.Unix(),
			})
		case dispatcher.EventRoomInfo:
			c.sendNotification("room_info", reqID, toRoomInfoPayload(ev.Info))
		case dispatcher.EventUploadRequest:
			c.sendNotification("upload_request", reqID, uploadRequestPayload{
				TransferID: ev.Upload.TransferID,
				EntityID:   ev.Upload.EntityID,
				BlockIdx:   ev.Upload.BlockIdx,
			})
		}
	}
}

// handleSubDownload services the downloader subscription (spec.md §6
// `sub_download`): it starts the transfer and streams blocks as
// notifications until the transfer completes or is cancelled.
func (c *connSession) handleSubDownload(req request) {
	var p subDownloadParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		c.sendResponse(req.ID, nil, roomerr.Internal{Reason: "bad params"})
		return
	}
	claims, err := c.verify(p.Credential)
	if err != nil {
		c.sendResponse(req.ID, nil, err)
		return
	}
	r, err := c.roomFor(claims)
	if err != nil {
		c.sendResponse(req.ID, nil, err)
		return
	}

	tid := ids.NewTransferId()
	tr, err := r.StartTransfer(claims, p.EntityID, tid)
	if err != nil {
		c.sendResponse(req.ID, nil, err)
		return
	}
	go c.streamDownload(req.ID, r, tr)
}

// streamDownload forwards one transfer's blocks to the downloader in
// order, stopping on completion (the final block) or cancellation (Done
// closing without one) — spec.md §4.6 Cancellation. If the connection
// itself closes first, the transfer record is explicitly dropped so the
// owner stops being asked for blocks nobody will receive.
func (c *connSession) streamDownload(reqID json.RawMessage, r *room.Room, tr *room.Transfer) {
	forward := func(blk room.Block) bool {
		c.sendNotification("download_block", reqID, blockPayload{
			TransferID: tr.ID,
			BlockIdx:   blk.Index,
			Bytes:      blk.Bytes,
			Last:       blk.Last,
		})
		return blk.Last
	}
	for {
		select {
		case blk := <-tr.Data:
			if forward(blk) {
				return
			}
		case <-tr.Done:
			// A completed transfer closes Done right after buffering its
			// final block, so a block still in Data is forwarded first.
			select {
			case blk := <-tr.Data:
				if forward(blk) {
					return
				}
			default:
			}
			c.sendNotification("download_cancelled", reqID, nil)
			return
		case <-c.ctx.Done():
			r.StopTransfer(tr.ID)
			return
		}
	}
}

func (c *connSession) handleInvite(req request) (any, error) {
	var p credentialParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return nil, roomerr.Internal{Reason: "bad params"}
	}
	claims, err := c.verify(p.Credential)
	if err != nil {
		return nil, err
	}
	r, err := c.roomFor(claims)
	if err != nil {
		return nil, err
	}
	inv, err := r.GenerateInvite(claims)
	if err != nil {
		return nil, err
	}
	return inviteResult{Passphrase: inv.Passphrase, RoomID: inv.RoomID, Expiry: inv.Expiry.Unix()}, nil
}

func (c *connSession) handleRevokeInvite(req request) error {
	var p revokeInviteParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return roomerr.Internal{Reason: "bad params"}
	}
	claims, err := c.verify(p.Credential)
	if err != nil {
		return err
	}
	r, err := c.roomFor(claims)
	if err != nil {
		return err
	}
	return r.RevokeInvite(claims, p.Passphrase)
}

func (c *connSession) handleKick(req request) error {
	var p kickParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return roomerr.Internal{Reason: "bad params"}
	}
	claims, err := c.verify(p.Credential)
	if err != nil {
		return err
	}
	r, err := c.roomFor(claims)
	if err != nil {
		return err
	}
	return r.Kick(claims, p.PeerID)
}

func (c *connSession) handleAnnounceEntity(req request) (any, error) {
	var p announceEntityParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return nil, roomerr.Internal{Reason: "bad params"}
	}
	claims, err := c.verify(p.Credential)
	if err != nil {
		return nil, err
	}
	r, err := c.roomFor(claims)
	if err != nil {
		return nil, err
	}
	meta := room.EntityMeta{Name: p.Name, SizeBytes: p.SizeBytes, Kind: p.Kind}
	eid, err := r.AddEntity(claims, meta, ids.NewEntityId(p.Checksum))
	if err != nil {
		return nil, err
	}
	return entityResult{EntityID: eid}, nil
}

func (c *connSession) handleRemoveEntity(req request) error {
	var p removeEntityParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return roomerr.Internal{Reason: "bad params"}
	}
	claims, err := c.verify(p.Credential)
	if err != nil {
		return err
	}
	r, err := c.roomFor(claims)
	if err != nil {
		return err
	}
	return r.RemoveEntity(claims, p.EntityID)
}

func (c *connSession) handleUploadBlock(req request) error {
	var p uploadBlockParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return roomerr.Internal{Reason: "bad params"}
	}
	claims, err := c.verify(p.Credential)
	if err != nil {
		return err
	}
	r, err := c.roomFor(claims)
	if err != nil {
		return err
	}
	return r.DeliverBlock(p.TransferID, p.BlockIdx, p.Bytes)
}
