package collab

import (
	"fmt"
	"time"

	"clipsync/internal/timeline"
)

// User is a collaborator's public identity inside a session.
type User struct {
	ID     UserID    `json:"id"`
	Name   string    `json:"name"`
	Color  UserColor `json:"color"`
	Avatar string    `json:"avatar,omitempty"`
}

// UserColor is the cursor/selection tint other collaborators see.
type UserColor struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// ColorForUser derives a stable color from the user id so every client
// renders the same collaborator in the same tint without coordination.
func ColorForUser(id UserID) UserColor {
	var h uint32 = 2166136261
	for i := 0; i < len(id); i++ {
		h ^= uint32(id[i])
		h *= 16777619
	}
	// Keep channels out of the very dark range so cursors stay visible.
	return UserColor{
		R: uint8(64 + (h>>16)%192),
		G: uint8(64 + (h>>8)%192),
		B: uint8(64 + h%192),
	}
}

func (c UserColor) ToHex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// CursorPosition is where a collaborator is pointing on the timeline.
type CursorPosition struct {
	Frame   timeline.Frame   `json:"frame"`
	TrackID timeline.TrackID `json:"track_id,omitempty"`
}

// Viewport is the visible window of a collaborator's timeline panel.
type Viewport struct {
	Start timeline.Frame `json:"start"`
	End   timeline.Frame `json:"end"`
	Zoom  float64        `json:"zoom"`
}

// idleAfter marks a collaborator idle when no presence update arrived.
const idleAfter = 2 * time.Minute

// UserPresence is the live ephemeral state of one collaborator. Presence is
// never logged or persisted - it rides the session fan-out only.
type UserPresence struct {
	User      User              `json:"user"`
	Cursor    *CursorPosition   `json:"cursor,omitempty"`
	Selection []timeline.NodeID `json:"selection,omitempty"`
	Viewport  *Viewport         `json:"viewport,omitempty"`
	LastSeen  time.Time         `json:"last_seen"`
	Idle      bool              `json:"idle"`
}

// Touch records activity and clears the idle flag.
func (p *UserPresence) Touch() {
	p.LastSeen = time.Now().UTC()
	p.Idle = false
}

// IsIdle reports whether the collaborator has gone quiet.
func (p *UserPresence) IsIdle(now time.Time) bool {
	return now.Sub(p.LastSeen) >= idleAfter
}

// PresenceEventType tags PresenceUpdate payloads.
type PresenceEventType string

const (
	PresenceUserJoined       PresenceEventType = "user_joined"
	PresenceUserLeft         PresenceEventType = "user_left"
	PresenceCursorMoved      PresenceEventType = "cursor_moved"
	PresenceSelectionChanged PresenceEventType = "selection_changed"
	PresenceViewportChanged  PresenceEventType = "viewport_changed"
	PresenceUserIdle         PresenceEventType = "user_idle"
	PresenceUserActive       PresenceEventType = "user_active"
)

// PresenceUpdate is one presence event broadcast to a session.
type PresenceUpdate struct {
	Type      PresenceEventType `json:"type"`
	UserID    UserID            `json:"user_id"`
	User      *User             `json:"user,omitempty"`
	Cursor    *CursorPosition   `json:"cursor,omitempty"`
	Selection []timeline.NodeID `json:"selection,omitempty"`
	Viewport  *Viewport         `json:"viewport,omitempty"`
	At        time.Time         `json:"at"`
}

// PresenceManager tracks who is in a session and what they are doing.
//
// Not safe for concurrent use - the owning Session serializes access.
type PresenceManager struct {
	users map[UserID]*UserPresence
}

func NewPresenceManager() *PresenceManager {
	return &PresenceManager{users: make(map[UserID]*UserPresence)}
}

// Join registers a collaborator and returns the broadcastable event.
func (m *PresenceManager) Join(user User) PresenceUpdate {
	p := &UserPresence{User: user}
	p.Touch()
	m.users[user.ID] = p
	return PresenceUpdate{
		Type:   PresenceUserJoined,
		UserID: user.ID,
		User:   &user,
		At:     p.LastSeen,
	}
}

// Leave removes a collaborator.
func (m *PresenceManager) Leave(id UserID) PresenceUpdate {
	delete(m.users, id)
	return PresenceUpdate{Type: PresenceUserLeft, UserID: id, At: time.Now().UTC()}
}

// MoveCursor records a cursor position.
func (m *PresenceManager) MoveCursor(id UserID, cursor CursorPosition) (PresenceUpdate, bool) {
	p, ok := m.users[id]
	if !ok {
		return PresenceUpdate{}, false
	}
	p.Cursor = &cursor
	p.Touch()
	return PresenceUpdate{Type: PresenceCursorMoved, UserID: id, Cursor: &cursor, At: p.LastSeen}, true
}

// SetSelection records the collaborator's selected nodes.
func (m *PresenceManager) SetSelection(id UserID, selection []timeline.NodeID) (PresenceUpdate, bool) {
	p, ok := m.users[id]
	if !ok {
		return PresenceUpdate{}, false
	}
	p.Selection = append([]timeline.NodeID(nil), selection...)
	p.Touch()
	return PresenceUpdate{Type: PresenceSelectionChanged, UserID: id, Selection: p.Selection, At: p.LastSeen}, true
}

// SetViewport records the collaborator's visible window.
func (m *PresenceManager) SetViewport(id UserID, vp Viewport) (PresenceUpdate, bool) {
	p, ok := m.users[id]
	if !ok {
		return PresenceUpdate{}, false
	}
	p.Viewport = &vp
	p.Touch()
	return PresenceUpdate{Type: PresenceViewportChanged, UserID: id, Viewport: &vp, At: p.LastSeen}, true
}

// SweepIdle flips quiet collaborators to idle and returns the transitions.
func (m *PresenceManager) SweepIdle(now time.Time) []PresenceUpdate {
	var out []PresenceUpdate
	for id, p := range m.users {
		if !p.Idle && p.IsIdle(now) {
			p.Idle = true
			out = append(out, PresenceUpdate{Type: PresenceUserIdle, UserID: id, At: now})
		}
	}
	return out
}

// Get returns one collaborator's presence.
func (m *PresenceManager) Get(id UserID) (*UserPresence, bool) {
	p, ok := m.users[id]
	return p, ok
}

// All returns every tracked presence.
func (m *PresenceManager) All() []*UserPresence {
	out := make([]*UserPresence, 0, len(m.users))
	for _, p := range m.users {
		out = append(out, p)
	}
	return out
}

// Count returns how many collaborators are present.
func (m *PresenceManager) Count() int { return len(m.users) }
