package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/farellandr/enrollhub/internal/models"
)

type WorkshopRepository struct {
	db *gorm.DB
}

func NewWorkshopRepository(db *gorm.DB) *WorkshopRepository {
	return &WorkshopRepository{db: db}
}

func (r *WorkshopRepository) WithTx(tx *gorm.DB) *WorkshopRepository {
	return &WorkshopRepository{db: tx}
}

// batchOrder lists scheduled batches by date with TBD batches last.
func batchOrder(db *gorm.DB) *gorm.DB {
	return db.Order("starts_at IS NULL, starts_at ASC")
}

func (r *WorkshopRepository) ListPublished(ctx context.Context) ([]models.Workshop, error) {
	var out []models.Workshop
	err := r.db.WithContext(ctx).
		Preload("Batches", batchOrder).
		Where("published = ?", true).
		Order("title ASC").
		Find(&out).Error
	return out, err
}

func (r *WorkshopRepository) BySlug(ctx context.Context, slug string) (*models.Workshop, error) {
	var w models.Workshop
	err := r.db.WithContext(ctx).
		Preload("Batches", batchOrder).
		Where("slug = ? AND published = ?", slug, true).
		First(&w).Error
	if err != nil {
		return nil, translate(err)
	}
	return &w, nil
}

func (r *WorkshopRepository) ByID(ctx context.Context, id uuid.UUID) (*models.Workshop, error) {
	var w models.Workshop
	if err := r.db.WithContext(ctx).First(&w, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &w, nil
}
