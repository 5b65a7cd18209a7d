package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/farellandr/enrollhub/internal/models"
)

// BatchRepository owns the per-batch enrolled counter.
type BatchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

func (r *BatchRepository) WithTx(tx *gorm.DB) *BatchRepository {
	return &BatchRepository{db: tx}
}

func (r *BatchRepository) ByID(ctx context.Context, id uuid.UUID) (*models.Batch, error) {
	var b models.Batch
	if err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

// Increment adds one seat in a single UPDATE so concurrent confirmations
// against the same batch cannot lose updates. It returns the row as it
// stands after the increment.
func (r *BatchRepository) Increment(ctx context.Context, batchID uuid.UUID) (*models.Batch, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Batch{}).
		Where("id = ?", batchID).
		UpdateColumns(map[string]interface{}{
			"enrolled":   gorm.Expr("enrolled + ?", 1),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.ByID(ctx, batchID)
}

// Recount rebuilds enrolled from the paid enrollments of the batch. The
// batch row is locked first so a confirmation committing mid-recount waits
// on its Increment instead of being overwritten.
func (r *BatchRepository) Recount(ctx context.Context, batchID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch models.Batch
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&batch, "id = ?", batchID).Error; err != nil {
			return translate(err)
		}
		if err := tx.Model(&models.Enrollment{}).
			Where("batch_id = ? AND payment_status = ?", batchID, models.PaymentPaid).
			Count(&count).Error; err != nil {
			return err
		}
		res := tx.Model(&models.Batch{}).
			Where("id = ?", batchID).
			UpdateColumns(map[string]interface{}{
				"enrolled":   count,
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	return count, err
}
