package sync

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel/attribute"

	"clipsync/internal/collab"
	"clipsync/internal/middleware"
)

/*
LEARNING: WEBSOCKET UPGRADER

The upgrader converts HTTP connections to WebSocket connections.

Key settings:
- ReadBufferSize/WriteBufferSize: Memory for I/O operations
- CheckOrigin: CORS validation for WebSocket connections
*/

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: In production, validate origin properly
		return true
	},
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// connection is one live WebSocket tied to a user in a session.
type connection struct {
	id        string
	ctx       context.Context
	sessionID collab.SessionID
	userID    collab.UserID
	conn      *websocket.Conn
	send      chan SyncMessage
	manager   *SessionManager
}

// WebSocketHandler upgrades HTTP requests into session connections.
type WebSocketHandler struct {
	sessionManager *SessionManager
}

func NewWebSocketHandler(sessionManager *SessionManager) *WebSocketHandler {
	return &WebSocketHandler{sessionManager: sessionManager}
}

// HandleSessionConnection joins the caller to /ws/session/{id}. Identity
// comes from query params; anonymous callers get a generated id so presence
// still works.
func (h *WebSocketHandler) HandleSessionConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	sessionID := collab.SessionID(vars["id"])

	userID := collab.UserID(r.URL.Query().Get("user_id"))
	userName := r.URL.Query().Get("user_name")
	if userID == "" {
		userID = collab.NewUserID()
	}
	if userName == "" {
		userName = "Anonymous"
	}

	ctx, span := middleware.StartSpan(ctx, "WebSocket.Connect",
		attribute.String("session.id", string(sessionID)),
		attribute.String("user.id", string(userID)),
	)
	defer span.End()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	user := collab.User{
		ID:    userID,
		Name:  userName,
		Color: collab.ColorForUser(userID),
	}
	_, send := h.sessionManager.Join(sessionID, user)

	c := &connection{
		id:        ksuid.New().String(),
		ctx:       context.Background(),
		sessionID: sessionID,
		userID:    userID,
		conn:      conn,
		send:      send,
		manager:   h.sessionManager,
	}

	// Separate read and write goroutines prevent a slow reader from
	// blocking writes and vice versa.
	go c.writePump()
	go c.readPump()

	log.Printf("✓ WebSocket connection %s established for session %s (user: %s)",
		c.id, sessionID, userName)
}

// readPump decodes client messages and hands them to the session manager.
// Leaving the session on exit is what tears everything else down: the member
// channel closes, which ends the write pump. The leave is scoped to this
// connection's channel so a teardown racing a reconnect cannot evict the
// user's fresh connection.
func (c *connection) readPump() {
	defer func() {
		c.manager.leave(c.sessionID, c.userID, c.send)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error on connection %s: %v", c.id, err)
			}
			return
		}

		var msg SyncMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(NewErrorMessage(c.sessionID, "malformed_message", err.Error()))
			continue
		}
		// The connection is the source of truth for identity; clients
		// cannot speak for other users or sessions.
		msg.SessionID = c.sessionID
		msg.UserID = c.userID

		msgCtx, span := middleware.StartSpan(c.ctx, "WebSocket.ProcessMessage",
			attribute.String("session.id", string(c.sessionID)),
			attribute.String("message.type", string(msg.Type)),
			attribute.Int("message.size", len(data)),
		)
		if reply := c.manager.HandleMessage(msgCtx, msg); reply != nil {
			c.reply(*reply)
		}
		span.End()
	}
}

// reply queues a direct response on the member's outbound channel. The
// write pump is the socket's only writer; gorilla/websocket allows exactly
// one concurrent writer per connection, so acks and error replies must not
// race the fan-out path onto the socket.
func (c *connection) reply(msg SyncMessage) {
	if !c.manager.Reply(c.sessionID, c.userID, c.send, msg) {
		log.Printf("Dropped reply on connection %s (member gone or buffer full)", c.id)
	}
}

// writePump drains the member channel onto the socket and keeps the
// connection alive with pings.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

			// Batch additional queued messages
			for i := len(c.send); i > 0; i-- {
				next, ok := <-c.send
				if !ok {
					return
				}
				if err := c.conn.WriteJSON(next); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
