package dispatch

import (
	"context"
	"fmt"

	"github.com/zulandar/waybill/internal/models"
	"gorm.io/gorm"
)

// History stores finished batches in the record database.
type History struct {
	db *gorm.DB
}

// NewHistory returns a History backed by db. Tables must already be migrated.
func NewHistory(db *gorm.DB) *History {
	return &History{db: db}
}

// Record writes the batch row and one outcome row per attempted recipient.
func (h *History) Record(ctx context.Context, s Summary) error {
	batch := models.DispatchBatch{
		ID:         s.BatchID,
		Kind:       s.Kind,
		Outcome:    s.Outcome,
		Error:      s.Error,
		Total:      s.Total,
		Attempted:  s.Attempted,
		Successful: s.Successful,
		Failed:     s.Failed,
		Filtered:   s.Filtered,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
	}
	for _, r := range s.Results {
		batch.Outcomes = append(batch.Outcomes, models.DispatchOutcome{
			BatchID:     s.BatchID,
			Position:    r.Index,
			Name:        r.Name,
			Destination: r.Number,
			Success:     r.Success,
			ErrorCode:   r.Error,
			Error:       r.Detail,
		})
	}
	if err := h.db.WithContext(ctx).Create(&batch).Error; err != nil {
		return fmt.Errorf("dispatch: record batch %s: %w", s.BatchID, err)
	}
	return nil
}

const (
	defaultRecent = 20
	maxRecent     = 100
)

// Recent returns the newest batches first, without their outcomes. limit
// defaults to 20 and is capped at 100.
func (h *History) Recent(ctx context.Context, limit int) ([]models.DispatchBatch, error) {
	switch {
	case limit <= 0:
		limit = defaultRecent
	case limit > maxRecent:
		limit = maxRecent
	}
	var batches []models.DispatchBatch
	err := h.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&batches).Error
	if err != nil {
		return nil, fmt.Errorf("dispatch: list batches: %w", err)
	}
	return batches, nil
}

// Get returns one batch with its outcomes in recipient order.
func (h *History) Get(ctx context.Context, id string) (*models.DispatchBatch, error) {
	var batch models.DispatchBatch
	err := h.db.WithContext(ctx).
		Preload("Outcomes", func(tx *gorm.DB) *gorm.DB { return tx.Order("position ASC") }).
		Where("id = ?", id).
		First(&batch).Error
	if err != nil {
		return nil, fmt.Errorf("dispatch: get batch %s: %w", id, err)
	}
	return &batch, nil
}
