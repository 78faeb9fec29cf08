package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipsync/internal/collab"
	"clipsync/internal/timeline"
)

func testUser(name string) collab.User {
	id := collab.NewUserID()
	return collab.User{ID: id, Name: name, Color: collab.ColorForUser(id)}
}

func addNodeKind(id timeline.NodeID) collab.OperationKind {
	return collab.OperationKind{
		Type: collab.OpAddNode,
		Node: &timeline.TimelineNode{
			ID:   id,
			Kind: timeline.NodeKindClip,
			Clip: &timeline.ClipNode{
				TimelineRange: timeline.FrameRange{Start: 0, Duration: 100},
				PlaybackRate:  1.0,
			},
		},
	}
}

// drainType reads messages until one of the wanted type arrives, skipping
// presence chatter.
func drainType(t *testing.T, ch <-chan SyncMessage, want MessageType) SyncMessage {
	t.Helper()
	for i := 0; i < 16; i++ {
		select {
		case msg := <-ch:
			if msg.Type == want {
				return msg
			}
		default:
			t.Fatalf("no %s message queued", want)
		}
	}
	t.Fatalf("no %s message within 16 reads", want)
	return SyncMessage{}
}

func TestJoinCreatesSessionAndSendsBacklog(t *testing.T) {
	sm := NewSessionManager(collab.StrategyLastWriteWins)
	sessionID := collab.NewSessionID()

	alice := testUser("Alice")
	aliceClient := NewClient(sessionID, alice.ID)
	_, aliceCh := sm.Join(sessionID, alice)

	connected := drainType(t, aliceCh, MessageConnected)
	assert.Empty(t, connected.Backlog)

	// Alice authors three operations.
	var sent []collab.OperationID
	for i := 0; i < 3; i++ {
		msg, err := aliceClient.Submit(addNodeKind(timeline.NewNodeID()))
		require.NoError(t, err)
		reply := sm.HandleMessage(context.Background(), msg)
		require.NotNil(t, reply)
		assert.Equal(t, MessageOperationAck, reply.Type)
		sent = append(sent, msg.Operation.ID)
	}

	// A late joiner gets the full backlog in log order, before anything else.
	bob := testUser("Bob")
	_, bobCh := sm.Join(sessionID, bob)
	connected = <-bobCh
	require.Equal(t, MessageConnected, connected.Type)
	require.Len(t, connected.Backlog, 3)
	for i, op := range connected.Backlog {
		assert.Equal(t, sent[i], op.ID)
	}
	assert.Len(t, connected.Users, 2)
}

func TestOperationFanOutExcludesAuthor(t *testing.T) {
	sm := NewSessionManager(collab.StrategyLastWriteWins)
	sessionID := collab.NewSessionID()

	alice, bob, carol := testUser("Alice"), testUser("Bob"), testUser("Carol")
	aliceClient := NewClient(sessionID, alice.ID)

	_, aliceCh := sm.Join(sessionID, alice)
	_, bobCh := sm.Join(sessionID, bob)
	_, carolCh := sm.Join(sessionID, carol)
	drainType(t, aliceCh, MessageConnected)
	drainType(t, bobCh, MessageConnected)
	drainType(t, carolCh, MessageConnected)

	msg, err := aliceClient.Submit(addNodeKind(timeline.NewNodeID()))
	require.NoError(t, err)
	reply := sm.HandleMessage(context.Background(), msg)
	require.NotNil(t, reply)
	assert.Equal(t, MessageOperationAck, reply.Type)
	assert.Equal(t, msg.Operation.ID, reply.OperationID)

	// Bob and Carol each see the operation exactly once.
	bobMsg := drainType(t, bobCh, MessageOperation)
	assert.Equal(t, msg.Operation.ID, bobMsg.Operation.ID)
	carolMsg := drainType(t, carolCh, MessageOperation)
	assert.Equal(t, msg.Operation.ID, carolMsg.Operation.ID)

	// The author gets only the ack, never an echo.
	select {
	case echoed := <-aliceCh:
		assert.NotEqual(t, MessageOperation, echoed.Type)
	default:
	}
}

func TestSyncRequestReturnsOnlyTheGap(t *testing.T) {
	sm := NewSessionManager(collab.StrategyLastWriteWins)
	sessionID := collab.NewSessionID()

	alice := testUser("Alice")
	aliceClient := NewClient(sessionID, alice.ID)
	_, aliceCh := sm.Join(sessionID, alice)
	drainType(t, aliceCh, MessageConnected)

	for i := 0; i < 2; i++ {
		msg, err := aliceClient.Submit(addNodeKind(timeline.NewNodeID()))
		require.NoError(t, err)
		require.NotNil(t, sm.HandleMessage(context.Background(), msg))
	}

	// Bob reconnects with a partial clock: the response covers only what
	// that clock has not observed.
	bob := testUser("Bob")
	bobClient := NewClient(sessionID, bob.ID)
	_, bobCh := sm.Join(sessionID, bob)
	connected := drainType(t, bobCh, MessageConnected)
	require.NoError(t, bobClient.HandleMessage(connected))

	msg, err := aliceClient.Submit(addNodeKind(timeline.NewNodeID()))
	require.NoError(t, err)
	require.NotNil(t, sm.HandleMessage(context.Background(), msg))

	reply := sm.HandleMessage(context.Background(), bobClient.RequestSync())
	require.NotNil(t, reply)
	require.Equal(t, MessageSyncResponse, reply.Type)
	require.Len(t, reply.Operations, 1)
	assert.Equal(t, msg.Operation.ID, reply.Operations[0].ID)

	require.NoError(t, bobClient.HandleMessage(*reply))
	assert.Len(t, bobClient.Replica().Log().Operations(), 3)
}

func TestMalformedOperationGetsErrorReply(t *testing.T) {
	sm := NewSessionManager(collab.StrategyLastWriteWins)
	sessionID := collab.NewSessionID()

	alice := testUser("Alice")
	_, aliceCh := sm.Join(sessionID, alice)
	drainType(t, aliceCh, MessageConnected)

	// add_node without a node payload.
	bad := collab.NewOperation(alice.ID, 1, 1, collab.OperationKind{Type: collab.OpAddNode})
	reply := sm.HandleMessage(context.Background(), NewOperationMessage(sessionID, bad))
	require.NotNil(t, reply)
	assert.Equal(t, MessageError, reply.Type)
	assert.Equal(t, "invalid_operation", reply.Code)

	// The session survives and stays usable.
	client := NewClient(sessionID, alice.ID)
	msg, err := client.Submit(addNodeKind(timeline.NewNodeID()))
	require.NoError(t, err)
	reply = sm.HandleMessage(context.Background(), msg)
	require.NotNil(t, reply)
	assert.Equal(t, MessageOperationAck, reply.Type)
}

func TestUnknownSessionGetsErrorReply(t *testing.T) {
	sm := NewSessionManager(collab.StrategyLastWriteWins)

	reply := sm.HandleMessage(context.Background(), SyncMessage{
		Type:      MessagePing,
		SessionID: collab.NewSessionID(),
	})
	require.NotNil(t, reply)
	assert.Equal(t, MessageError, reply.Type)
	assert.Equal(t, "unknown_session", reply.Code)
}

func TestLastLeaveRemovesSession(t *testing.T) {
	sm := NewSessionManager(collab.StrategyLastWriteWins)
	sessionID := collab.NewSessionID()

	alice, bob := testUser("Alice"), testUser("Bob")
	sm.Join(sessionID, alice)
	sm.Join(sessionID, bob)
	require.NotNil(t, sm.Session(sessionID))

	sm.Leave(sessionID, alice.ID)
	assert.NotNil(t, sm.Session(sessionID))

	sm.Leave(sessionID, bob.ID)
	assert.Nil(t, sm.Session(sessionID))

	// Leaving twice is harmless.
	sm.Leave(sessionID, bob.ID)
}

func TestPresenceFanOut(t *testing.T) {
	sm := NewSessionManager(collab.StrategyLastWriteWins)
	sessionID := collab.NewSessionID()

	alice, bob := testUser("Alice"), testUser("Bob")
	_, aliceCh := sm.Join(sessionID, alice)
	_, bobCh := sm.Join(sessionID, bob)
	drainType(t, aliceCh, MessageConnected)
	drainType(t, bobCh, MessageConnected)

	reply := sm.HandleMessage(context.Background(), SyncMessage{
		Type:      MessagePresence,
		SessionID: sessionID,
		UserID:    alice.ID,
		Presence: &collab.PresenceUpdate{
			Type:   collab.PresenceCursorMoved,
			Cursor: &collab.CursorPosition{Frame: 480},
		},
	})
	assert.Nil(t, reply)

	msg := drainType(t, bobCh, MessagePresence)
	require.NotNil(t, msg.Presence)
	assert.Equal(t, collab.PresenceCursorMoved, msg.Presence.Type)
	assert.Equal(t, timeline.Frame(480), msg.Presence.Cursor.Frame)
}

func TestOperationsArePersisted(t *testing.T) {
	sm := NewSessionManager(collab.StrategyLastWriteWins)
	sessionID := collab.NewSessionID()

	var persisted []collab.OperationID
	sm.SetPersister(persistFunc(func(ctx context.Context, session collab.SessionID, op collab.Operation) {
		persisted = append(persisted, op.ID)
	}))

	alice := testUser("Alice")
	client := NewClient(sessionID, alice.ID)
	_, aliceCh := sm.Join(sessionID, alice)
	drainType(t, aliceCh, MessageConnected)

	msg, err := client.Submit(addNodeKind(timeline.NewNodeID()))
	require.NoError(t, err)
	require.NotNil(t, sm.HandleMessage(context.Background(), msg))

	require.Len(t, persisted, 1)
	assert.Equal(t, msg.Operation.ID, persisted[0])
}

type persistFunc func(ctx context.Context, session collab.SessionID, op collab.Operation)

func (f persistFunc) PersistOperation(ctx context.Context, session collab.SessionID, op collab.Operation) {
	f(ctx, session, op)
}

func TestReconnectDisplacesOldConnection(t *testing.T) {
	sm := NewSessionManager(collab.StrategyLastWriteWins)
	sessionID := collab.NewSessionID()

	alice := testUser("Alice")
	_, oldCh := sm.Join(sessionID, alice)
	drainType(t, oldCh, MessageConnected)

	// The same user joins again (new tab, network flap). The old channel
	// closes; the new one gets a fresh Connected reply.
	_, newCh := sm.Join(sessionID, alice)
	drainType(t, newCh, MessageConnected)

	closed := false
	for i := 0; i < sendBuffer+1; i++ {
		if _, ok := <-oldCh; !ok {
			closed = true
			break
		}
	}
	assert.True(t, closed, "displaced channel should be closed")

	// The old connection's teardown must not evict the new one.
	sm.leave(sessionID, alice.ID, oldCh)
	require.NotNil(t, sm.Session(sessionID))
	assert.Equal(t, 1, sm.Session(sessionID).MemberCount())

	select {
	case _, ok := <-newCh:
		assert.True(t, ok, "successor channel must stay open")
	default:
	}
}

func TestReplyTravelsMemberChannel(t *testing.T) {
	sm := NewSessionManager(collab.StrategyLastWriteWins)
	sessionID := collab.NewSessionID()

	alice := testUser("Alice")
	_, aliceCh := sm.Join(sessionID, alice)
	drainType(t, aliceCh, MessageConnected)

	ok := sm.Reply(sessionID, alice.ID, aliceCh, NewErrorMessage(sessionID, "malformed_message", "bad json"))
	require.True(t, ok)
	msg := drainType(t, aliceCh, MessageError)
	assert.Equal(t, "malformed_message", msg.Code)

	// A reply through a channel that no longer owns the membership is
	// dropped instead of landing on the successor.
	_, newCh := sm.Join(sessionID, alice)
	drainType(t, newCh, MessageConnected)
	assert.False(t, sm.Reply(sessionID, alice.ID, aliceCh, NewErrorMessage(sessionID, "stale", "stale")))
	select {
	case msg, open := <-newCh:
		if open {
			assert.NotEqual(t, "stale", msg.Code)
		}
	default:
	}
}

func TestConnectOnEstablishedSessionRejected(t *testing.T) {
	sm := NewSessionManager(collab.StrategyLastWriteWins)
	sessionID := collab.NewSessionID()

	alice := testUser("Alice")
	_, aliceCh := sm.Join(sessionID, alice)
	drainType(t, aliceCh, MessageConnected)

	reply := sm.HandleMessage(context.Background(), SyncMessage{
		Type:      MessageConnect,
		SessionID: sessionID,
		UserID:    alice.ID,
	})
	require.NotNil(t, reply)
	assert.Equal(t, MessageError, reply.Type)
	assert.Equal(t, "already_connected", reply.Code)
}
