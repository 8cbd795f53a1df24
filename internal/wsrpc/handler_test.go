package wsrpc_test

import (
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/drophub/drophub/internal/config"
	"github.com/drophub/drophub/internal/credential"
	"github.com/drophub/drophub/internal/dispatcher"
	"github.com/drophub/drophub/internal/logs"
	"github.com/drophub/drophub/internal/roomstore"
	"github.com/drophub/drophub/internal/wsrpc"
)

func testConfig() config.Config {
	return config.Config{
		BlockSizeBytes: 1024,
		RoomCapacity:   4,
		InviteTTL:      time.Minute,
		Heartbeat:      time.Minute,
		Handshake:      time.Minute,
		DevMode:        true,
		WSReadBuf:      4 << 10,
		WSWriteBuf:     4 << 10,
		WSMaxMsg:       1 << 20,
	}
}

func newTestServer(t *testing.T) (*httptest.Server, func() *websocket.Conn) {
	t.Helper()
	cfg := testConfig()
	codec := credential.NewCodec([]byte("test-secret-0123456789"), time.Minute, time.Hour)
	store := roomstore.New()
	disp := dispatcher.New(store, codec, logs.New("error"), nil)
	h := wsrpc.NewHandler(cfg, logs.New("error"), disp, codec, store, nil)

	ts := httptest.NewServer(h)
	dial := func() *websocket.Conn {
		u, _ := url.Parse(ts.URL)
		u.Scheme = "ws"
		c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
		require.NoError(t, err)
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		return c
	}
	return ts, dial
}

type frame struct {
	Method string          `json:"method"`
	ID     json.RawMessage `json:"id,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func readFrame(t *testing.T, c *websocket.Conn) frame {
	t.Helper()
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

// readUntil reads frames until one matches want, skipping — and returning —
// any others along the way. RPC responses (no method field) and broadcast
// notifications for other subscriptions race onto the same connection, so
// tests must not assume a fixed interleaving, only that every expected
// frame eventually arrives.
func readUntil(t *testing.T, c *websocket.Conn, want func(frame) bool) (frame, []frame) {
	t.Helper()
	var skipped []frame
	for i := 0; i < 10; i++ {
		f := readFrame(t, c)
		if want(f) {
			return f, skipped
		}
		skipped = append(skipped, f)
	}
	t.Fatal("did not observe expected frame within 10 reads")
	return frame{}, nil
}

func isResponseTo(id int) func(frame) bool {
	idBytes, _ := json.Marshal(id)
	return func(f frame) bool { return f.Method == "" && string(f.ID) == string(idBytes) }
}

func isNotification(method string) func(frame) bool {
	return func(f frame) bool { return f.Method == method }
}

func sendRequest(t *testing.T, c *websocket.Conn, id int, method string, params any) {
	t.Helper()
	p, err := json.Marshal(params)
	require.NoError(t, err)
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  json.RawMessage(p),
	}
	b, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, c.WriteMessage(websocket.TextMessage, b))
}

func TestCreateConnectAndAnnounce(t *testing.T) {
	ts, dial := newTestServer(t)
	defer ts.Close()

	host := dial()
	defer host.Close()

	sendRequest(t, host, 1, "create", map[string]any{"encryption": false, "capacity": 2})
	init, _ := readUntil(t, host, isNotification("init"))
	var initPayload struct {
		PeerID      string `json:"peer_id"`
		RoomID      uint64 `json:"room_id"`
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(init.Params, &initPayload))
	require.NotEmpty(t, initPayload.AccessToken)

	readUntil(t, host, isNotification("room_info")) // post-create snapshot

	sendRequest(t, host, 2, "invite", map[string]any{"credential": initPayload.AccessToken})
	inviteResp, _ := readUntil(t, host, isResponseTo(2))
	require.Nil(t, inviteResp.Error)
	var inviteResult struct {
		Passphrase string `json:"passphrase"`
	}
	require.NoError(t, json.Unmarshal(inviteResp.Result, &inviteResult))
	require.Len(t, inviteResult.Passphrase, 8)

	readUntil(t, host, isNotification("room_info")) // post-invite snapshot

	guest := dial()
	defer guest.Close()
	sendRequest(t, guest, 1, "connect", map[string]any{
		"room_id":           initPayload.RoomID,
		"invite_passphrase": inviteResult.Passphrase,
	})
	guestInit, _ := readUntil(t, guest, isNotification("init"))
	var guestInitPayload struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(guestInit.Params, &guestInitPayload))

	readUntil(t, guest, isNotification("room_info")) // guest's post-join snapshot
	readUntil(t, host, isNotification("room_info"))  // host observes the post-join snapshot too

	sendRequest(t, host, 3, "announce_entity", map[string]any{
		"credential": initPayload.AccessToken,
		"name":       "notes.txt",
		"size_bytes": 10,
		"kind":       "file",
		"checksum":   "chk-1",
	})
	announceResp, _ := readUntil(t, host, isResponseTo(3))
	require.Nil(t, announceResp.Error)

	readUntil(t, host, isNotification("room_info"))  // post-announce snapshot to host
	readUntil(t, guest, isNotification("room_info")) // post-announce snapshot to guest
}

func TestDownloadStreamsBlocksInOrder(t *testing.T) {
	ts, dial := newTestServer(t)
	defer ts.Close()

	host := dial()
	defer host.Close()
	sendRequest(t, host, 1, "create", map[string]any{"encryption": false, "capacity": 2})
	init, _ := readUntil(t, host, isNotification("init"))
	var hostInit struct {
		AccessToken string `json:"access_token"`
		RoomID      uint64 `json:"room_id"`
	}
	require.NoError(t, json.Unmarshal(init.Params, &hostInit))
	readUntil(t, host, isNotification("room_info"))

	sendRequest(t, host, 2, "invite", map[string]any{"credential": hostInit.AccessToken})
	inviteResp, _ := readUntil(t, host, isResponseTo(2))
	var inviteResult struct {
		Passphrase string `json:"passphrase"`
	}
	require.NoError(t, json.Unmarshal(inviteResp.Result, &inviteResult))
	readUntil(t, host, isNotification("room_info"))

	guest := dial()
	defer guest.Close()
	sendRequest(t, guest, 1, "connect", map[string]any{
		"room_id":           hostInit.RoomID,
		"invite_passphrase": inviteResult.Passphrase,
	})
	guestInitFrame, _ := readUntil(t, guest, isNotification("init"))
	var guestInit struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(guestInitFrame.Params, &guestInit))
	readUntil(t, guest, isNotification("room_info"))
	readUntil(t, host, isNotification("room_info"))

	sendRequest(t, host, 3, "announce_entity", map[string]any{
		"credential": hostInit.AccessToken,
		"name":       "blob.bin",
		"size_bytes": 1500,
		"kind":       "file",
		"checksum":   "chk-blob",
	})
	announceResp, _ := readUntil(t, host, isResponseTo(3))
	var entity struct {
		EntityID string `json:"entity_id"`
	}
	require.NoError(t, json.Unmarshal(announceResp.Result, &entity))
	readUntil(t, host, isNotification("room_info"))
	readUntil(t, guest, isNotification("room_info"))

	sendRequest(t, guest, 2, "sub_download", map[string]any{
		"credential": guestInit.AccessToken,
		"entity_id":  entity.EntityID,
	})

	demand0, _ := readUntil(t, host, isNotification("upload_request"))
	var req0 struct {
		TransferID string `json:"transfer_id"`
		BlockIdx   uint64 `json:"block_idx"`
	}
	require.NoError(t, json.Unmarshal(demand0.Params, &req0))
	require.EqualValues(t, 0, req0.BlockIdx)

	block0 := make([]byte, 1024)
	sendRequest(t, host, 4, "upload_block", map[string]any{
		"credential":  hostInit.AccessToken,
		"transfer_id": req0.TransferID,
		"block_idx":   0,
		"bytes":       block0,
	})
	uploadResp0, _ := readUntil(t, host, isResponseTo(4))
	require.Nil(t, uploadResp0.Error)

	blockEv0, _ := readUntil(t, guest, isNotification("download_block"))
	var gotBlock0 struct {
		BlockIdx uint64 `json:"block_idx"`
		Last     bool   `json:"last"`
	}
	require.NoError(t, json.Unmarshal(blockEv0.Params, &gotBlock0))
	require.EqualValues(t, 0, gotBlock0.BlockIdx)
	require.False(t, gotBlock0.Last)

	demand1, _ := readUntil(t, host, isNotification("upload_request"))
	var req1 struct {
		TransferID string `json:"transfer_id"`
		BlockIdx   uint64 `json:"block_idx"`
	}
	require.NoError(t, json.Unmarshal(demand1.Params, &req1))
	require.EqualValues(t, 1, req1.BlockIdx)

	block1 := make([]byte, 476)
	sendRequest(t, host, 5, "upload_block", map[string]any{
		"credential":  hostInit.AccessToken,
		"transfer_id": req1.TransferID,
		"block_idx":   1,
		"bytes":       block1,
	})
	uploadResp1, _ := readUntil(t, host, isResponseTo(5))
	require.Nil(t, uploadResp1.Error)

	blockEv1, _ := readUntil(t, guest, isNotification("download_block"))
	var gotBlock1 struct {
		BlockIdx uint64 `json:"block_idx"`
		Last     bool   `json:"last"`
	}
	require.NoError(t, json.Unmarshal(blockEv1.Params, &gotBlock1))
	require.EqualValues(t, 1, gotBlock1.BlockIdx)
	require.True(t, gotBlock1.Last)
}

func TestUnknownMethodReturnsGeneralError(t *testing.T) {
	ts, dial := newTestServer(t)
	defer ts.Close()

	c := dial()
	defer c.Close()

	sendRequest(t, c, 1, "not_a_method", map[string]any{})
	resp := readFrame(t, c)
	require.NotNil(t, resp.Error)
	require.Equal(t, -40000, resp.Error.Code)
}

func TestInviteWithoutCredentialFails(t *testing.T) {
	ts, dial := newTestServer(t)
	defer ts.Close()

	c := dial()
	defer c.Close()

	sendRequest(t, c, 1, "invite", map[string]any{"credential": "garbage"})
	resp := readFrame(t, c)
	require.NotNil(t, resp.Error)
}
