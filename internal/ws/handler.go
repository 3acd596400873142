package ws

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"codepad/api/internal/auth"
	"codepad/api/internal/collab"
	"codepad/api/internal/util"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Options configure the WebSocket endpoint.
type Options struct {
	// SendBuffer is the per-connection outbound queue depth. A client that
	// falls this far behind is dropped.
	SendBuffer int

	// AckOrigin controls whether the handler confirms an accepted edit
	// back to the submitting connection. Disable it when the engine is
	// configured to echo broadcasts to the origin, otherwise the origin
	// hears every edit twice.
	AckOrigin bool

	// AllowedOrigin restricts browser connections; empty allows any.
	AllowedOrigin string

	// Presence, when set, is notified as users open and close files.
	Presence PresenceNotifier
}

// PresenceNotifier receives open/close transitions for the presence layer.
// Failures are logged, never surfaced to the editing path.
type PresenceNotifier interface {
	FileOpened(ctx context.Context, fileID, userID, userName string) error
	FileClosed(ctx context.Context, fileID, userID string) error
}

// Handler upgrades authenticated HTTP requests to WebSocket connections and
// bridges the wire protocol to the engine.
type Handler struct {
	engine   *collab.Engine
	hub      *Hub
	secret   []byte
	opts     Options
	upgrader websocket.Upgrader
}

func NewHandler(engine *collab.Engine, hub *Hub, secret []byte, opts Options) *Handler {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	return &Handler{
		engine: engine,
		hub:    hub,
		secret: secret,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if opts.AllowedOrigin == "" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origin == opts.AllowedOrigin
			},
		},
	}
}

// ServeHTTP authenticates and upgrades the connection, then runs the read
// loop on the request goroutine. Browsers cannot set headers on WebSocket
// requests, so the token travels in the query string; the Authorization
// header is honored for non-browser clients.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		}
	}
	claims, err := auth.ParseToken(h.secret, token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	c := &conn{
		id:     util.NewConnectionID(),
		userID: claims.Sub,
		sock:   sock,
		send:   make(chan collab.Message, h.opts.SendBuffer),
	}
	h.hub.add(c)

	go h.writePump(c)
	h.readPump(r.Context(), c, claims.Name)
}

func (h *Handler) readPump(ctx context.Context, c *conn, userName string) {
	defer func() {
		h.engine.Disconnect(c.id)
		h.hub.remove(c.id)
		c.sock.Close()
	}()

	c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg collab.Message
		if err := c.sock.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws: read from %s: %v", c.id, err)
			}
			return
		}
		h.dispatch(ctx, c, userName, msg)
	}
}

// dispatch handles one client envelope. Errors are reported back on the same
// connection; a bad message from one client never affects the others.
func (h *Handler) dispatch(ctx context.Context, c *conn, userName string, msg collab.Message) {
	switch msg.Type {
	case collab.MessageJoinFile:
		snap, err := h.engine.Join(ctx, msg.FileID, c.id, c.userID)
		if err != nil {
			h.sendError(c, msg.FileID, err)
			return
		}
		h.reply(c, collab.Message{
			Type:         collab.MessageJoined,
			FileID:       msg.FileID,
			Content:      snap.Content,
			Version:      snap.Version,
			ConnectionID: c.id,
		})
		h.notifyOpened(ctx, msg.FileID, c.userID, userName)

	case collab.MessageLeaveFile:
		h.engine.Leave(msg.FileID, c.id)
		h.notifyClosed(ctx, msg.FileID, c.userID)

	case collab.MessageContentChange:
		snap, err := h.engine.SubmitEdit(ctx, msg.FileID, c.id, msg.BaseVersion, msg.Content)
		if err != nil {
			h.sendError(c, msg.FileID, err)
			return
		}
		if h.opts.AckOrigin {
			h.reply(c, collab.Message{
				Type:    collab.MessageContentApplied,
				FileID:  msg.FileID,
				Content: snap.Content,
				Version: snap.Version,
			})
		}

	default:
		h.reply(c, collab.Message{
			Type:   collab.MessageError,
			FileID: msg.FileID,
			Detail: "unknown message type " + string(msg.Type),
		})
	}
}

func (h *Handler) sendError(c *conn, fileID string, err error) {
	var conflict *collab.VersionConflictError
	switch {
	case errors.As(err, &conflict):
		h.reply(c, collab.Message{
			Type:            collab.MessageVersionConflict,
			FileID:          conflict.FileID,
			ExpectedVersion: conflict.Expected,
			Detail:          "document advanced; rejoin to resync",
		})
	case errors.Is(err, collab.ErrNotFound):
		h.reply(c, collab.Message{
			Type:   collab.MessageError,
			FileID: fileID,
			Detail: "file not found",
		})
	case errors.Is(err, collab.ErrUnknownSession):
		h.reply(c, collab.Message{
			Type:   collab.MessageError,
			FileID: fileID,
			Detail: "no open session; send join_file first",
		})
	default:
		log.Printf("ws: %s on %s: %v", c.id, fileID, err)
		h.reply(c, collab.Message{
			Type:   collab.MessageError,
			FileID: fileID,
			Detail: "internal error",
		})
	}
}

// reply queues a message for this connection, tolerating a concurrent drop.
func (h *Handler) reply(c *conn, msg collab.Message) {
	if err := h.hub.Send(c.id, msg); err != nil {
		log.Printf("ws: reply to %s dropped: %v", c.id, err)
	}
}

func (h *Handler) notifyOpened(ctx context.Context, fileID, userID, userName string) {
	if h.opts.Presence == nil {
		return
	}
	if err := h.opts.Presence.FileOpened(ctx, fileID, userID, userName); err != nil {
		log.Printf("ws: presence open %s/%s: %v", fileID, userID, err)
	}
}

func (h *Handler) notifyClosed(ctx context.Context, fileID, userID string) {
	if h.opts.Presence == nil {
		return
	}
	if err := h.opts.Presence.FileClosed(ctx, fileID, userID); err != nil {
		log.Printf("ws: presence close %s/%s: %v", fileID, userID, err)
	}
}

// writePump drains the send queue onto the socket and keeps the connection
// alive with pings. It exits when the hub closes the queue or a write fails.
func (h *Handler) writePump(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.sock.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.sock.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.sock.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
