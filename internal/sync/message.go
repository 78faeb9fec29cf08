package sync

import (
	"time"

	"clipsync/internal/collab"
)

// MessageType tags SyncMessage payloads on the wire.
type MessageType string

const (
	// Client -> server
	//
	// MessageConnect is reserved for transports that multiplex several
	// sessions over one socket. The WebSocket server joins clients at
	// upgrade time, so a connect frame on an established socket is
	// answered with an already_connected error.
	MessageConnect     MessageType = "connect"
	MessageDisconnect  MessageType = "disconnect"
	MessageOperation   MessageType = "operation"
	MessageSyncRequest MessageType = "sync_request"
	MessagePresence    MessageType = "presence"
	MessagePing        MessageType = "ping"

	// Server -> client
	MessageConnected    MessageType = "connected"
	MessageOperationAck MessageType = "operation_ack"
	MessageSyncResponse MessageType = "sync_response"
	MessageError        MessageType = "error"
	MessagePong         MessageType = "pong"
)

// SyncMessage is the single envelope for everything crossing the wire. The
// Type field selects which payload fields are meaningful; unused fields are
// omitted from the JSON encoding.
type SyncMessage struct {
	Type      MessageType      `json:"type"`
	SessionID collab.SessionID `json:"session_id,omitempty"`
	UserID    collab.UserID    `json:"user_id,omitempty"`

	// connect / connected
	User    *collab.User       `json:"user,omitempty"`
	Users   []collab.User      `json:"users,omitempty"`
	Backlog []collab.Operation `json:"backlog,omitempty"`

	// operation / operation_ack
	Operation   *collab.Operation  `json:"operation,omitempty"`
	OperationID collab.OperationID `json:"operation_id,omitempty"`

	// sync_request / sync_response
	Since      collab.VectorClock `json:"since,omitempty"`
	Operations []collab.Operation `json:"operations,omitempty"`
	Clock      collab.VectorClock `json:"clock,omitempty"`

	// presence
	Presence *collab.PresenceUpdate `json:"presence,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	SentAt time.Time `json:"sent_at,omitempty"`
}

// NewOperationMessage wraps a freshly authored operation for broadcast.
func NewOperationMessage(session collab.SessionID, op collab.Operation) SyncMessage {
	return SyncMessage{
		Type:      MessageOperation,
		SessionID: session,
		UserID:    op.UserID,
		Operation: &op,
		SentAt:    time.Now().UTC(),
	}
}

// NewErrorMessage builds a server error reply. Errors are messages, never
// dropped connections: a bad operation must not take down the session.
func NewErrorMessage(session collab.SessionID, code, msg string) SyncMessage {
	return SyncMessage{
		Type:      MessageError,
		SessionID: session,
		Code:      code,
		Message:   msg,
		SentAt:    time.Now().UTC(),
	}
}

// Client is one user's synchronization endpoint: a local replica plus the
// bookkeeping needed to talk to a session (unacknowledged sends, observed
// remote clock, offline backlog).
//
// Not safe for concurrent use.
type Client struct {
	sessionID collab.SessionID
	replica   *collab.CRDTTimeline

	// unacked holds operations sent but not yet acknowledged, for
	// retransmission after a reconnect.
	unacked map[collab.OperationID]collab.Operation

	// offline state: while disconnected, submitted operations accumulate
	// in queue and are persisted through the manager so edits survive a
	// crash before the next reconnect.
	offline  bool
	queueMgr *collab.OfflineQueueManager
	queue    *collab.OfflineQueue
	strategy collab.SyncStrategy
}

// NewClient creates a client replica for one user in one session.
func NewClient(session collab.SessionID, user collab.UserID) *Client {
	return &Client{
		sessionID: session,
		replica:   collab.NewCRDTTimeline(user),
		unacked:   make(map[collab.OperationID]collab.Operation),
	}
}

// Replica exposes the client's local timeline.
func (c *Client) Replica() *collab.CRDTTimeline { return c.replica }

// EnableOfflineQueue persists operations authored while disconnected under
// dir, one file per (user, session), replayed per strategy on Reconnect.
func (c *Client) EnableOfflineQueue(dir string, strategy collab.SyncStrategy) error {
	mgr, err := collab.NewOfflineQueueManager(dir)
	if err != nil {
		return err
	}
	c.queueMgr = mgr
	c.strategy = strategy
	return nil
}

// GoOffline marks the client disconnected. Local edits keep applying to the
// replica; Submit queues them durably until Reconnect.
func (c *Client) GoOffline() {
	c.offline = true
	if c.queue == nil {
		c.queue = collab.NewOfflineQueue(c.replica.Replica(), c.sessionID)
	}
}

// Submit applies a local mutation and returns the message to send. While
// offline the operation is also queued (and persisted, if the offline queue
// is enabled); the caller sends nothing until Reconnect drains the backlog.
func (c *Client) Submit(kind collab.OperationKind) (SyncMessage, error) {
	op, err := c.replica.ApplyLocalOperation(kind)
	if err != nil {
		return SyncMessage{}, err
	}
	c.unacked[op.ID] = op
	if c.offline && c.queue != nil {
		c.queue.Enqueue(op)
		if c.queueMgr != nil {
			if err := c.queueMgr.Save(c.queue); err != nil {
				return SyncMessage{}, err
			}
		}
	}
	return NewOperationMessage(c.sessionID, op), nil
}

// Reconnect returns the offline backlog as operation messages, batched per
// the sync strategy and followed by a catch-up request, then clears the
// durable queue. Safe to call with an empty backlog.
func (c *Client) Reconnect() ([]SyncMessage, error) {
	user := c.replica.Replica()
	queue := c.queue
	if queue == nil && c.queueMgr != nil {
		// A previous process crashed before reconnecting; resume its
		// queue from disk.
		loaded, err := c.queueMgr.Load(user, c.sessionID)
		if err != nil {
			return nil, err
		}
		queue = loaded
	}

	var out []SyncMessage
	if queue != nil {
		for _, batch := range queue.Batches(c.strategy) {
			for _, op := range batch {
				out = append(out, NewOperationMessage(c.sessionID, op))
			}
		}
	}
	out = append(out, c.RequestSync())

	if c.queueMgr != nil {
		if err := c.queueMgr.Delete(user, c.sessionID); err != nil {
			return nil, err
		}
	}
	c.queue = nil
	c.offline = false
	return out, nil
}

// Acknowledge clears an operation from the retransmission buffer.
func (c *Client) Acknowledge(id collab.OperationID) {
	delete(c.unacked, id)
}

// Unacked returns operations still awaiting acknowledgment.
func (c *Client) Unacked() []collab.Operation {
	out := make([]collab.Operation, 0, len(c.unacked))
	for _, op := range c.unacked {
		out = append(out, op)
	}
	return out
}

// HandleMessage folds a server message into the local replica.
func (c *Client) HandleMessage(msg SyncMessage) error {
	switch msg.Type {
	case MessageConnected:
		for _, op := range msg.Backlog {
			if err := c.replica.ApplyRemoteOperation(op); err != nil {
				return err
			}
		}
		return nil
	case MessageOperation:
		if msg.Operation == nil {
			return nil
		}
		return c.replica.ApplyRemoteOperation(*msg.Operation)
	case MessageOperationAck:
		c.Acknowledge(msg.OperationID)
		return nil
	case MessageSyncResponse:
		for _, op := range msg.Operations {
			if err := c.replica.ApplyRemoteOperation(op); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

// RequestSync builds a catch-up request carrying everything this replica has
// already observed, so the server sends only the gap.
func (c *Client) RequestSync() SyncMessage {
	return SyncMessage{
		Type:      MessageSyncRequest,
		SessionID: c.sessionID,
		UserID:    c.replica.Replica(),
		Since:     c.replica.VectorClock(),
		SentAt:    time.Now().UTC(),
	}
}
