package wsrpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drophub/drophub/internal/config"
	"github.com/drophub/drophub/internal/credential"
	"github.com/drophub/drophub/internal/dispatcher"
	"github.com/drophub/drophub/internal/ids"
	"github.com/drophub/drophub/internal/logs"
	"github.com/drophub/drophub/internal/metrics"
	"github.com/drophub/drophub/internal/middleware"
	"github.com/drophub/drophub/internal/room"
	"github.com/drophub/drophub/internal/roomerr"
	"github.com/drophub/drophub/internal/roomstore"
)

// outboxCapacity bounds how many frames can queue for a connection's writer
// before ordinary sends start blocking their producer goroutine.
const outboxCapacity = 64

// Handler serves DropHub's single WebSocket endpoint. One call handles one
// connection end to end: upgrade, subscribe-or-not, then a read loop that
// decodes JSON-RPC requests and a writer loop that serializes every
// outbound frame, mirroring the teacher's upgrade-then-read-loop shape
// (internal/ws/handler.go) but replacing the signaling relay with the RPC
// method table spec.md §6 defines.
type Handler struct {
	cfg     config.Config
	log     logs.Logger
	disp    *dispatcher.Dispatcher
	codec   *credential.Codec
	store   *roomstore.Store
	limiter *middleware.Limiter
	now     func() time.Time

	upgrader websocket.Upgrader
}

func NewHandler(cfg config.Config, log logs.Logger, disp *dispatcher.Dispatcher, codec *credential.Codec, store *roomstore.Store, limiter *middleware.Limiter) *Handler {
	return &Handler{
		cfg:   cfg,
		log:   log.Named("wsrpc"),
		disp:  disp,
		codec: codec,
		store: store,
		limiter: limiter,
		now:   time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.WSReadBuf,
			WriteBufferSize: cfg.WSWriteBuf,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.DevMode || len(cfg.CORSOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, o := range cfg.CORSOrigins {
					if o == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "upgrade required", http.StatusUpgradeRequired)
		return
	}
	if h.limiter != nil && !h.limiter.AllowWS(r) {
		http.Error(w, "rate limit", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", logs.F("err", err))
		return
	}
	metrics.WSConnections.Inc()

	c := newConnSession(h, conn)
	c.run()
}

// connSession is one live WebSocket connection. It never touches room
// state directly beyond what it needs to decode params and route to
// internal/room, internal/dispatcher, and internal/credential.
type connSession struct {
	h    *Handler
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	outbox chan []byte
}

func newConnSession(h *Handler, conn *websocket.Conn) *connSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &connSession{
		h:      h,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		outbox: make(chan []byte, outboxCapacity),
	}
}

func (c *connSession) run() {
	defer func() {
		c.cancel()
		_ = c.conn.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(c.h.cfg.Handshake))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.h.cfg.Heartbeat * 2))
		return nil
	})

	c.readLoop()
	// cancel, not close: pumpSession/streamDownload goroutines and this
	// connection's own send() calls race on c.outbox, so closing it here
	// could panic a concurrent send. ctx cancellation is what every
	// producer and writeLoop itself select on to unwind.
	c.cancel()
	wg.Wait()
}

// writeLoop is the connection's sole writer: gorilla's Conn forbids
// concurrent writers, so every response, notification, and ping funnels
// through this one goroutine.
func (c *connSession) writeLoop() {
	ticker := time.NewTicker(c.h.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case frame, ok := <-c.outbox:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(2*time.Second))
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *connSession) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, io.EOF) {
				metrics.WSErrors.Inc()
			}
			return
		}

		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			c.sendResponse(nil, nil, roomerr.Internal{Reason: "malformed request"})
			continue
		}
		c.handle(req)
	}
}

func (c *connSession) handle(req request) {
	var (
		result any
		err    error
	)

	switch req.Method {
	case "create":
		c.handleCreate(req)
		return
	case "connect":
		c.handleConnect(req)
		return
	case "sub_download":
		c.handleSubDownload(req)
		return
	case "invite":
		result, err = c.handleInvite(req)
	case "revoke_invite":
		err = c.handleRevokeInvite(req)
	case "kick":
		err = c.handleKick(req)
	case "announce_entity":
		result, err = c.handleAnnounceEntity(req)
	case "remove_entity":
		err = c.handleRemoveEntity(req)
	case "upload_block":
		err = c.handleUploadBlock(req)
	default:
		err = roomerr.Internal{Reason: "unknown method: " + req.Method}
	}

	metrics.ObserveRPC(req.Method, err, func(e error) int { return int(roomerr.RPCCode(e)) })
	c.sendResponse(req.ID, result, err)
}

// verify maps a credential blob to Claims, translating an expired blob into
// a PermissionDenied (spec.md §6: expired credential is a -40002, not a
// -40000) and every other codec failure into a general error.
func (c *connSession) verify(blob string) (credential.Claims, error) {
	claims, err := c.h.codec.Verify(blob, c.h.now())
	if err == nil {
		return claims, nil
	}
	if errors.Is(err, credential.ErrExpired) {
		return credential.Claims{}, roomerr.PermissionDenied{Detail: "expired credential"}
	}
	return credential.Claims{}, roomerr.MalformedCredential{Reason: err.Error()}
}

func (c *connSession) roomFor(claims credential.Claims) (*room.Room, error) {
	return c.h.store.Get(ids.RoomId(claims.RoomID))
}

func (c *connSession) sendResponse(id json.RawMessage, result any, err error) {
	resp := response{JSONRPC: "2.0", ID: id, Result: result}
	if err != nil {
		resp.Error = errorFrom(err)
	}
	c.send(resp)
}

func (c *connSession) sendNotification(method string, id json.RawMessage, params any) {
	c.send(notification{JSONRPC: "2.0", Method: method, ID: id, Params: params})
}

func (c *connSession) send(v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.outbox <- frame:
	case <-c.ctx.Done():
	}
}
