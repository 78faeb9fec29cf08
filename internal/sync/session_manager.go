package sync

import (
	"context"
	"log"
	stdsync "sync"
	"time"

	"clipsync/internal/collab"
	"clipsync/internal/timeline"
)

/*
LEARNING: SESSION FAN-OUT

One Session per shared timeline. The session owns the authoritative replica
(CRDT + operation log) and a map of member outbound channels. Topology
changes (join/leave) hold both the registry lock and the session lock, in
that order, so a join can never land on a session the registry has already
dropped. All channel sends happen under the session lock and are
non-blocking: a member whose buffer is full is treated as disconnected and
evicted. A slow client must never stall the whole session.

Everything bound for a client - fan-out, acks, error replies - travels the
member's channel; the connection's write pump is the socket's only writer.
*/

// sendBuffer is the per-member outbound queue depth.
const sendBuffer = 256

// Persister stores applied operations out of band. Implementations must not
// block: the session calls this on the hot path.
type Persister interface {
	PersistOperation(ctx context.Context, session collab.SessionID, op collab.Operation)
}

// member is one connected user's entry in a session.
type member struct {
	user collab.User
	send chan SyncMessage
}

// Session is the server-side state of one collaborative timeline.
type Session struct {
	ID        collab.SessionID
	CreatedAt time.Time

	mu       stdsync.Mutex
	replica  *collab.CRDTTimeline
	conflict *collab.ConflictManager
	presence *collab.PresenceManager
	members  map[collab.UserID]*member
}

func newSession(id collab.SessionID, strategy collab.ResolutionStrategy) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		replica:   collab.NewCRDTTimeline(collab.UserID("server:" + string(id))),
		conflict:  collab.NewConflictManager(strategy),
		presence:  collab.NewPresenceManager(),
		members:   make(map[collab.UserID]*member),
	}
}

// MemberCount returns how many users are connected.
func (s *Session) MemberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// Users returns the identities of all connected members.
func (s *Session) Users() []collab.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]collab.User, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m.user)
	}
	return out
}

// Snapshot returns the session's full operation history and observed clock.
func (s *Session) Snapshot() ([]collab.Operation, collab.VectorClock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replica.Log().Operations(), s.replica.VectorClock()
}

// OperationsSince returns operations the given clock has not observed.
func (s *Session) OperationsSince(since collab.VectorClock) []collab.Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replica.GetOperationsSince(since)
}

// Timeline returns a deep snapshot of the materialized document.
func (s *Session) Timeline() *timeline.TimelineGraph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replica.Graph().Clone()
}

// PendingConflicts returns conflicts parked for manual resolution.
func (s *Session) PendingConflicts() []collab.Conflict {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conflict.PendingConflicts()
}

// fanout delivers a message to every member except the excluded one. Sends
// happen under the lock but never block (buffered channel, default case), so
// a concurrent Leave cannot close a channel mid-send. Members whose buffers
// are full are returned for eviction.
func (s *Session) fanout(msg SyncMessage, exclude collab.UserID) []collab.UserID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stalled []collab.UserID
	for id, m := range s.members {
		if id == exclude {
			continue
		}
		select {
		case m.send <- msg:
		default:
			stalled = append(stalled, id)
		}
	}
	return stalled
}

// SessionManager is the registry of live sessions. Sessions are created on
// first join and removed when the last member leaves.
type SessionManager struct {
	mu       stdsync.RWMutex
	sessions map[collab.SessionID]*Session

	strategy  collab.ResolutionStrategy
	persister Persister
}

// NewSessionManager creates an empty registry resolving conflicts with the
// given default strategy.
func NewSessionManager(strategy collab.ResolutionStrategy) *SessionManager {
	return &SessionManager{
		sessions: make(map[collab.SessionID]*Session),
		strategy: strategy,
	}
}

// SetPersister installs the async operation store.
func (sm *SessionManager) SetPersister(p Persister) { sm.persister = p }

// Session returns a live session, or nil.
func (sm *SessionManager) Session(id collab.SessionID) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// Sessions returns every live session.
func (sm *SessionManager) Sessions() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		out = append(out, s)
	}
	return out
}

// Join connects a user to a session, creating the session on first join.
// It returns the member's outbound channel; the first message on it is the
// Connected reply carrying the full backlog in log order. A second join by
// the same user displaces the previous connection.
func (sm *SessionManager) Join(id collab.SessionID, user collab.User) (*Session, chan SyncMessage) {
	send := make(chan SyncMessage, sendBuffer)

	sm.mu.Lock()
	session, ok := sm.sessions[id]
	if !ok {
		session = newSession(id, sm.strategy)
		sm.sessions[id] = session
		log.Printf("  Session %s created", id)
	}

	session.mu.Lock()
	if old, reconnect := session.members[user.ID]; reconnect {
		// Closing the displaced channel ends the stale connection's
		// write pump; its deferred leave then sees a channel it no
		// longer owns and backs off.
		close(old.send)
	}
	session.members[user.ID] = &member{user: user, send: send}
	joined := session.presence.Join(user)
	backlog := session.replica.Log().Operations()
	clock := session.replica.VectorClock()
	users := make([]collab.User, 0, len(session.members))
	for _, m := range session.members {
		users = append(users, m.user)
	}
	total := len(session.members)

	// Connected goes to the newcomer only; it precedes anything else on
	// the channel. Sent under the lock so a racing reconnect cannot close
	// the channel first; the fresh buffer guarantees the send never
	// blocks.
	send <- SyncMessage{
		Type:      MessageConnected,
		SessionID: id,
		UserID:    user.ID,
		Users:     users,
		Backlog:   backlog,
		Clock:     clock,
		SentAt:    time.Now().UTC(),
	}
	session.mu.Unlock()
	sm.mu.Unlock()

	log.Printf("  User %s joined session %s (total: %d users)", user.ID, id, total)

	sm.broadcastPresence(session, joined, user.ID)
	return session, send
}

// Leave disconnects a user. The last member out removes the session.
func (sm *SessionManager) Leave(id collab.SessionID, user collab.UserID) {
	sm.leave(id, user, nil)
}

// leave removes a member. A non-nil ch scopes the removal to the connection
// that owns that channel: a connection displaced by a reconnect must not
// tear down its successor's membership. Registry and session locks are held
// together across the removal so a concurrent Join cannot land on a session
// being deleted.
func (sm *SessionManager) leave(id collab.SessionID, user collab.UserID, ch chan SyncMessage) {
	sm.mu.Lock()
	session, ok := sm.sessions[id]
	if !ok {
		sm.mu.Unlock()
		return
	}

	session.mu.Lock()
	m, present := session.members[user]
	if present && ch != nil && m.send != ch {
		// A newer connection owns this membership.
		present = false
	}
	var left collab.PresenceUpdate
	if present {
		delete(session.members, user)
		close(m.send)
		left = session.presence.Leave(user)
	}
	remaining := len(session.members)
	if present && remaining == 0 {
		delete(sm.sessions, id)
	}
	session.mu.Unlock()
	sm.mu.Unlock()

	if !present {
		return
	}
	log.Printf("  User %s left session %s (remaining: %d users)", user, id, remaining)

	if remaining == 0 {
		log.Printf("  Session %s removed (empty)", id)
		return
	}

	sm.broadcastPresence(session, left, user)
}

// Reply queues a direct message for one member, provided the given channel
// still owns that membership. Like fanout it never blocks; a reply to a
// full buffer or a displaced connection is dropped, and reports false.
func (sm *SessionManager) Reply(id collab.SessionID, user collab.UserID, ch chan SyncMessage, msg SyncMessage) bool {
	session := sm.Session(id)
	if session == nil {
		return false
	}
	session.mu.Lock()
	defer session.mu.Unlock()

	m, ok := session.members[user]
	if !ok || m.send != ch {
		return false
	}
	select {
	case m.send <- msg:
		return true
	default:
		return false
	}
}

// HandleMessage processes one client message and returns the direct reply
// for the sender, if any. Broadcast side effects happen internally. Protocol
// errors come back as Error messages - a malformed operation never crashes
// the session.
func (sm *SessionManager) HandleMessage(ctx context.Context, msg SyncMessage) *SyncMessage {
	session := sm.Session(msg.SessionID)
	if session == nil {
		reply := NewErrorMessage(msg.SessionID, "unknown_session", "session does not exist")
		return &reply
	}

	switch msg.Type {
	case MessageOperation:
		return sm.handleOperation(ctx, session, msg)

	case MessageSyncRequest:
		ops := session.OperationsSince(msg.Since)
		_, clock := session.Snapshot()
		return &SyncMessage{
			Type:       MessageSyncResponse,
			SessionID:  session.ID,
			UserID:     msg.UserID,
			Operations: ops,
			Clock:      clock,
			SentAt:     time.Now().UTC(),
		}

	case MessagePresence:
		if msg.Presence != nil {
			update := sm.applyPresence(session, msg)
			if update != nil {
				sm.broadcastPresence(session, *update, msg.UserID)
			}
		}
		return nil

	case MessagePing:
		return &SyncMessage{Type: MessagePong, SessionID: session.ID, SentAt: time.Now().UTC()}

	case MessageDisconnect:
		sm.Leave(session.ID, msg.UserID)
		return nil

	case MessageConnect:
		// Joining happens at WebSocket upgrade time; a connect frame on
		// an established socket has nothing left to do.
		reply := NewErrorMessage(session.ID, "already_connected", "join happens at connection time")
		return &reply

	default:
		reply := NewErrorMessage(session.ID, "unsupported_type", string(msg.Type))
		return &reply
	}
}

func (sm *SessionManager) handleOperation(ctx context.Context, session *Session, msg SyncMessage) *SyncMessage {
	if msg.Operation == nil {
		reply := NewErrorMessage(session.ID, "missing_operation", "operation message without payload")
		return &reply
	}
	op := *msg.Operation

	session.mu.Lock()
	err := session.replica.ApplyRemoteOperation(op)
	var resolutions []collab.Resolution
	if err == nil {
		resolutions = session.conflict.CheckConflicts(op)
	}
	session.mu.Unlock()

	if err != nil {
		log.Printf("⚠️  Session %s rejected operation %s: %v", session.ID, op.ID, err)
		reply := NewErrorMessage(session.ID, "invalid_operation", err.Error())
		return &reply
	}
	for _, res := range resolutions {
		log.Printf("  Session %s resolved %s conflict: %s", session.ID, res.Strategy, res.Outcome)
	}

	if sm.persister != nil {
		sm.persister.PersistOperation(ctx, session.ID, op)
	}

	// Fan out to everyone except the author, then ack the author.
	sm.evict(session, session.fanout(NewOperationMessage(session.ID, op), op.UserID))

	return &SyncMessage{
		Type:        MessageOperationAck,
		SessionID:   session.ID,
		UserID:      op.UserID,
		OperationID: op.ID,
		SentAt:      time.Now().UTC(),
	}
}

func (sm *SessionManager) applyPresence(session *Session, msg SyncMessage) *collab.PresenceUpdate {
	p := msg.Presence
	session.mu.Lock()
	defer session.mu.Unlock()

	switch p.Type {
	case collab.PresenceCursorMoved:
		if p.Cursor == nil {
			return nil
		}
		if update, ok := session.presence.MoveCursor(msg.UserID, *p.Cursor); ok {
			return &update
		}
	case collab.PresenceSelectionChanged:
		if update, ok := session.presence.SetSelection(msg.UserID, p.Selection); ok {
			return &update
		}
	case collab.PresenceViewportChanged:
		if p.Viewport == nil {
			return nil
		}
		if update, ok := session.presence.SetViewport(msg.UserID, *p.Viewport); ok {
			return &update
		}
	}
	return nil
}

func (sm *SessionManager) broadcastPresence(session *Session, update collab.PresenceUpdate, from collab.UserID) {
	msg := SyncMessage{
		Type:      MessagePresence,
		SessionID: session.ID,
		UserID:    from,
		Presence:  &update,
		SentAt:    time.Now().UTC(),
	}
	sm.evict(session, session.fanout(msg, from))
}

// evict disconnects members whose send buffers overflowed.
func (sm *SessionManager) evict(session *Session, stalled []collab.UserID) {
	for _, id := range stalled {
		log.Printf("⚠️  User %s buffer full in session %s, disconnecting", id, session.ID)
		sm.Leave(session.ID, id)
	}
}

// SweepIdle flips quiet members to idle across all sessions and broadcasts
// the transitions. Called periodically by the server.
func (sm *SessionManager) SweepIdle(now time.Time) {
	for _, session := range sm.Sessions() {
		session.mu.Lock()
		updates := session.presence.SweepIdle(now)
		session.mu.Unlock()
		for _, update := range updates {
			sm.broadcastPresence(session, update, update.UserID)
		}
	}
}

// Shutdown closes every member channel and drops all sessions.
func (sm *SessionManager) Shutdown() {
	log.Println("🛑 Shutting down session manager...")

	sm.mu.Lock()
	sessions := sm.sessions
	sm.sessions = make(map[collab.SessionID]*Session)
	sm.mu.Unlock()

	for _, session := range sessions {
		session.mu.Lock()
		for _, m := range session.members {
			close(m.send)
		}
		session.members = make(map[collab.UserID]*member)
		session.mu.Unlock()
	}

	log.Println("✓ Session manager shutdown complete")
}
