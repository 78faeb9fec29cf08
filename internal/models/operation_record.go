package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

/*
LEARNING: OPERATION PERSISTENCE

Each replicated timeline operation is stored as an append-only row. The
in-memory operation log is authoritative while a session is live; the table
exists so that:
- A restarted server can rebuild a session by replaying stored operations
- Clients reconnecting after a log compaction can still catch up
- There is an audit trail of who changed what and when

Flow:
  Client sends operation → Session applies it → Worker pool persists row
  → Broadcast to other clients → Replicas converge
*/

// OperationRecord is one persisted timeline operation.
type OperationRecord struct {
	ID          string    `gorm:"type:varchar(27);primaryKey" json:"id"`
	SessionID   string    `gorm:"type:varchar(64);not null;index:idx_session_time" json:"session_id"`
	OperationID string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"operation_id"`
	UserID      string    `gorm:"type:varchar(64);not null" json:"user_id"`
	Clock       uint64    `gorm:"not null" json:"clock"`
	Seq         uint64    `gorm:"not null" json:"seq"`
	Payload     []byte    `gorm:"type:jsonb;not null" json:"-"` // Full serialized operation
	CreatedAt   time.Time `gorm:"index:idx_session_time" json:"created_at"`
}

// BeforeCreate generates KSUID
func (o *OperationRecord) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = ksuid.New().String()
	}
	return nil
}

// TableName override
func (OperationRecord) TableName() string {
	return "timeline_operations"
}

// SessionRecord is the durable row behind a collaborative session, so
// sessions survive a server restart even after every member leaves.
type SessionRecord struct {
	ID         string     `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name       string     `gorm:"type:varchar(255)" json:"name"`
	OwnerID    string     `gorm:"type:varchar(64);index" json:"owner_id"`
	CreatedAt  time.Time  `json:"created_at"`
	LastActive *time.Time `json:"last_active,omitempty"`
}

// TableName override
func (SessionRecord) TableName() string {
	return "collab_sessions"
}
