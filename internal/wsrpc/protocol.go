// Package wsrpc is the JSON-RPC 2.0 over WebSocket surface described in
// spec.md §6. It owns no business logic: every method decodes its params,
// verifies the caller's credential where required, invokes the
// dispatcher/room/credential layers, and maps the result (or error) back
// onto the wire. All room and transfer semantics live in internal/room and
// internal/dispatcher.
package wsrpc

import (
	"encoding/json"

	"github.com/drophub/drophub/internal/ids"
	"github.com/drophub/drophub/internal/invite"
	"github.com/drophub/drophub/internal/room"
	"github.com/drophub/drophub/internal/roomerr"
)

// request is an inbound JSON-RPC call. Subscriptions (create, connect,
// sub_download) and ordinary calls share this single envelope; Method
// decides how the id is treated.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// response answers one request by ID. A subscription gets a response only
// when its subscribe call is refused; on success no response is sent and
// its stream travels as notifications carrying the request's ID.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// notification carries an unsolicited event on a subscription: a RoomEvent
// for create/connect, or a block for sub_download.
type notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	ID      json.RawMessage `json:"id,omitempty"`
	Params  any             `json:"params"`
}

// rpcError is the three-code error family spec.md §6 defines.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func errorFrom(err error) *rpcError {
	return &rpcError{Code: int(roomerr.RPCCode(err)), Message: err.Error()}
}

// --- method params, one struct per spec.md §6 RPC method ---

type createParams struct {
	Encryption bool  `json:"encryption"`
	Capacity   int   `json:"capacity"`
	BlockSize  int64 `json:"block_size_bytes,omitempty"`
}

type connectParams struct {
	RoomID            ids.RoomId        `json:"room_id"`
	InvitePassphrase  invite.Passphrase `json:"invite_passphrase"`
}

type credentialParams struct {
	Credential string `json:"credential"`
}

type revokeInviteParams struct {
	Credential string            `json:"credential"`
	Passphrase invite.Passphrase `json:"passphrase"`
}

type kickParams struct {
	Credential string     `json:"credential"`
	PeerID     ids.PeerId `json:"peer_id"`
}

type announceEntityParams struct {
	Credential string          `json:"credential"`
	Name       string          `json:"name"`
	SizeBytes  int64           `json:"size_bytes"`
	Kind       room.EntityKind `json:"kind"`
	Checksum   string          `json:"checksum"`
}

type removeEntityParams struct {
	Credential string        `json:"credential"`
	EntityID   ids.EntityId  `json:"entity_id"`
}

type uploadBlockParams struct {
	Credential string         `json:"credential"`
	TransferID ids.TransferId `json:"transfer_id"`
	BlockIdx   uint64         `json:"block_idx"`
	Bytes      []byte         `json:"bytes"`
}

type subDownloadParams struct {
	Credential string       `json:"credential"`
	EntityID   ids.EntityId `json:"entity_id"`
}

// --- result payloads ---

type inviteResult struct {
	Passphrase invite.Passphrase `json:"passphrase"`
	RoomID     ids.RoomId        `json:"room_id"`
	Expiry     int64             `json:"expiry_unix"`
}

type entityResult struct {
	EntityID ids.EntityId `json:"entity_id"`
}

// roomInfoPayload is the wire shape of a RoomInfo snapshot notification.
type roomInfoPayload struct {
	RoomID   ids.RoomId                   `json:"room_id"`
	HostID   ids.PeerId                   `json:"host_id"`
	Options  room.Options                 `json:"options"`
	Peers    []room.PeerSummary           `json:"peers"`
	Entities map[ids.EntityId]room.EntityMeta `json:"entities"`
	Invites  []invite.Passphrase          `json:"invites"`
}

func toRoomInfoPayload(info *room.Info) roomInfoPayload {
	return roomInfoPayload{
		RoomID:   info.RoomID,
		HostID:   info.HostID,
		Options:  info.Options,
		Peers:    info.Peers,
		Entities: info.Entities,
		Invites:  info.Invites,
	}
}

type initPayload struct {
	PeerID        ids.PeerId `json:"peer_id"`
	RoomID        ids.RoomId `json:"room_id"`
	AccessToken   string     `json:"access_token"`
	RefreshToken  string     `json:"refresh_token"`
	RefreshExpiry int64      `json:"refresh_expiry_unix"`
}

type uploadRequestPayload struct {
	TransferID ids.TransferId `json:"transfer_id"`
	EntityID   ids.EntityId   `json:"entity_id"`
	BlockIdx   uint64         `json:"block_idx"`
}

type blockPayload struct {
	TransferID ids.TransferId `json:"transfer_id"`
	BlockIdx   uint64         `json:"block_idx"`
	Bytes      []byte         `json:"bytes"`
	Last       bool           `json:"last"`
}
