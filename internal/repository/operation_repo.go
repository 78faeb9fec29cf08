package repository

import (
	"context"
	"fmt"
	"time"

	"clipsync/internal/models"

	"gorm.io/gorm"
)

/*
LEARNING: OPERATION LOG PERSISTENCE

Query patterns:
- GetSessionOperations: rebuild a session after restart (get everything,
  oldest first - replay order matters)
- GetOperationsAfter: incremental catch-up for reconnecting clients whose
  gap predates the in-memory log
- Store: append one operation (called from the persistence worker pool)
*/

// OperationRepositoryImpl handles timeline operation storage
type OperationRepositoryImpl struct {
	db *gorm.DB
}

// NewOperationRepository creates a new operation repository
func NewOperationRepository(db *gorm.DB) *OperationRepositoryImpl {
	return &OperationRepositoryImpl{db: db}
}

// Store appends one operation row. Redelivery is tolerated: the unique index
// on operation_id turns duplicates into conflicts we silently skip.
func (r *OperationRepositoryImpl) Store(ctx context.Context, record *models.OperationRecord) error {
	err := r.db.WithContext(ctx).
		Where("operation_id = ?", record.OperationID).
		FirstOrCreate(record).Error
	if err != nil {
		return fmt.Errorf("failed to store operation: %w", err)
	}
	return nil
}

// GetSessionOperations retrieves every stored operation for a session in
// replay order.
func (r *OperationRepositoryImpl) GetSessionOperations(ctx context.Context, sessionID string) ([]*models.OperationRecord, error) {
	var records []*models.OperationRecord

	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("clock ASC, operation_id ASC").
		Find(&records).Error

	if err != nil {
		return nil, fmt.Errorf("failed to get session operations: %w", err)
	}
	return records, nil
}

// GetOperationsAfter retrieves operations with a Lamport clock above the
// given value, for incremental catch-up.
func (r *OperationRepositoryImpl) GetOperationsAfter(ctx context.Context, sessionID string, afterClock uint64) ([]*models.OperationRecord, error) {
	var records []*models.OperationRecord

	err := r.db.WithContext(ctx).
		Where("session_id = ? AND clock > ?", sessionID, afterClock).
		Order("clock ASC, operation_id ASC").
		Find(&records).Error

	if err != nil {
		return nil, fmt.Errorf("failed to get operations after clock %d: %w", afterClock, err)
	}
	return records, nil
}

// CountSessionOperations returns the number of stored operations.
func (r *OperationRepositoryImpl) CountSessionOperations(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.OperationRecord{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count session operations: %w", err)
	}
	return count, nil
}

// DeleteOldOperations trims a session's history to the newest keepCount
// rows. Call only after the trimmed prefix is folded into a snapshot.
func (r *OperationRepositoryImpl) DeleteOldOperations(ctx context.Context, sessionID string, keepCount int) error {
	count, err := r.CountSessionOperations(ctx, sessionID)
	if err != nil {
		return err
	}
	if count <= int64(keepCount) {
		return nil
	}

	var cutoff models.OperationRecord
	offset := count - int64(keepCount)
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Offset(int(offset)).
		First(&cutoff).Error; err != nil {
		return err
	}

	result := r.db.WithContext(ctx).
		Where("session_id = ? AND created_at < ?", sessionID, cutoff.CreatedAt).
		Delete(&models.OperationRecord{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete old operations: %w", result.Error)
	}
	return nil
}

// TouchSession upserts the session row and bumps its last-active time.
func (r *OperationRepositoryImpl) TouchSession(ctx context.Context, sessionID string) error {
	now := time.Now().UTC()
	record := &models.SessionRecord{ID: sessionID, LastActive: &now}
	err := r.db.WithContext(ctx).
		Where("id = ?", sessionID).
		Assign(models.SessionRecord{LastActive: &now}).
		FirstOrCreate(record).Error
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// ListSessions returns all known session rows, most recently active first.
func (r *OperationRepositoryImpl) ListSessions(ctx context.Context) ([]*models.SessionRecord, error) {
	var records []*models.SessionRecord
	err := r.db.WithContext(ctx).
		Order("last_active DESC NULLS LAST").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return records, nil
}
