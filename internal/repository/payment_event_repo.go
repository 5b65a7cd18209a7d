package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/farellandr/enrollhub/internal/models"
)

type PaymentEventRepository struct {
	db *gorm.DB
}

func NewPaymentEventRepository(db *gorm.DB) *PaymentEventRepository {
	return &PaymentEventRepository{db: db}
}

func (r *PaymentEventRepository) Create(ctx context.Context, ev *models.PaymentEvent) error {
	return r.db.WithContext(ctx).Create(ev).Error
}

func (r *PaymentEventRepository) ByOrderID(ctx context.Context, orderID string) ([]models.PaymentEvent, error) {
	var out []models.PaymentEvent
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("received_at ASC").Find(&out).Error
	return out, err
}
