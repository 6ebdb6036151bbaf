package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/dentaldesk/internal/docstore"
	"github.com/charlesng35/dentaldesk/internal/errorhandler"
	"github.com/charlesng35/dentaldesk/internal/models"
)

// PendingWriteStore persists quota-deferred writes so they survive a
// restart. It implements errorhandler.Queue.
type PendingWriteStore struct {
	db *gorm.DB
}

// NewPendingWriteStore constructs a database-backed queue.
func NewPendingWriteStore(db *gorm.DB) *PendingWriteStore {
	if db == nil {
		return nil
	}
	return &PendingWriteStore{db: db}
}

var errPendingNotInitialised = errors.New("pending writes: database store not initialised")

// Enqueue records w and returns it with its assigned ID.
func (s *PendingWriteStore) Enqueue(ctx context.Context, w errorhandler.PendingWrite) (errorhandler.PendingWrite, error) {
	if s == nil {
		return errorhandler.PendingWrite{}, errPendingNotInitialised
	}
	if w.Collection == "" || w.Operation == "" {
		return errorhandler.PendingWrite{}, errors.New("pending writes: collection and operation are required")
	}
	if w.QueuedAt.IsZero() {
		w.QueuedAt = time.Now().UTC()
	}

	payload, err := encodePayload(w.Payload)
	if err != nil {
		return errorhandler.PendingWrite{}, err
	}

	record := models.PendingWrite{
		BaseModel:  models.BaseModel{ID: w.ID},
		Collection: w.Collection,
		Operation:  w.Operation,
		DocID:      w.DocID,
		OwnerID:    w.OwnerID,
		Payload:    payload,
		QueuedAt:   w.QueuedAt,
		Attempts:   w.Attempts,
		LastError:  w.LastError,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return errorhandler.PendingWrite{}, fmt.Errorf("pending writes: enqueue: %w", err)
	}

	w.ID = record.ID
	return w, nil
}

// Pending lists writes oldest first.
func (s *PendingWriteStore) Pending(ctx context.Context, limit int) ([]errorhandler.PendingWrite, error) {
	if s == nil {
		return nil, errPendingNotInitialised
	}

	query := s.db.WithContext(ctx).Order("queued_at ASC").Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []models.PendingWrite
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("pending writes: list: %w", err)
	}

	out := make([]errorhandler.PendingWrite, 0, len(records))
	for _, record := range records {
		payload, err := decodePayload(record.Payload)
		if err != nil {
			return nil, fmt.Errorf("pending writes: decode %s: %w", record.ID, err)
		}
		out = append(out, errorhandler.PendingWrite{
			ID:         record.ID,
			Collection: record.Collection,
			Operation:  record.Operation,
			DocID:      record.DocID,
			OwnerID:    record.OwnerID,
			Payload:    payload,
			QueuedAt:   record.QueuedAt,
			Attempts:   record.Attempts,
			LastError:  record.LastError,
		})
	}
	return out, nil
}

// Remove deletes a replayed write. Removing an unknown ID is not an error.
func (s *PendingWriteStore) Remove(ctx context.Context, id string) error {
	if s == nil {
		return errPendingNotInitialised
	}
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.PendingWrite{}).Error
}

// MarkFailed counts a failed replay attempt.
func (s *PendingWriteStore) MarkFailed(ctx context.Context, id string, cause error) error {
	if s == nil {
		return errPendingNotInitialised
	}
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	return s.db.WithContext(ctx).
		Model(&models.PendingWrite{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + ?", 1),
			"last_error": message,
		}).Error
}

// Len counts queued writes.
func (s *PendingWriteStore) Len(ctx context.Context) (int, error) {
	if s == nil {
		return 0, errPendingNotInitialised
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.PendingWrite{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// PurgeOlderThan drops writes queued before cutoff and returns how many
// were removed.
func (s *PendingWriteStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil {
		return 0, errPendingNotInitialised
	}
	result := s.db.WithContext(ctx).Where("queued_at < ?", cutoff).Delete(&models.PendingWrite{})
	return result.RowsAffected, result.Error
}

func encodePayload(payload docstore.Document) (datatypes.JSON, error) {
	if payload == nil {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("pending writes: encode payload: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func decodePayload(raw datatypes.JSON) (docstore.Document, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var payload docstore.Document
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
