package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/farellandr/enrollhub/internal/models"
)

type EnrollmentRepository struct {
	db *gorm.DB
}

func NewEnrollmentRepository(db *gorm.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// WithTx binds the repository to an open transaction.
func (r *EnrollmentRepository) WithTx(tx *gorm.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: tx}
}

func (r *EnrollmentRepository) Create(ctx context.Context, e *models.Enrollment) error {
	return translate(r.db.WithContext(ctx).Create(e).Error)
}

func (r *EnrollmentRepository) ByOrderID(ctx context.Context, orderID string) (*models.Enrollment, error) {
	var e models.Enrollment
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&e).Error; err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

// ByOrderIDWithRelations also loads the workshop and batch for messaging.
func (r *EnrollmentRepository) ByOrderIDWithRelations(ctx context.Context, orderID string) (*models.Enrollment, error) {
	var e models.Enrollment
	err := r.db.WithContext(ctx).
		Preload("Workshop").
		Preload("Batch").
		Where("order_id = ?", orderID).
		First(&e).Error
	if err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

func (r *EnrollmentRepository) ExistsOrderID(ctx context.Context, orderID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Enrollment{}).Where("order_id = ?", orderID).Count(&n).Error
	return n > 0, err
}

// Transition is the terminal write applied to a pending enrollment.
type Transition struct {
	To            models.PaymentStatus
	TransactionID *string
	Details       datatypes.JSON
	At            time.Time
}

// TransitionFromPending moves the enrollment out of pending only if it is
// still pending at write time. A false result means another caller won.
func (r *EnrollmentRepository) TransitionFromPending(ctx context.Context, orderID string, t Transition) (bool, error) {
	updates := map[string]interface{}{
		"payment_status": t.To,
		"updated_at":     t.At,
	}
	if t.TransactionID != nil {
		updates["transaction_id"] = *t.TransactionID
	}
	if len(t.Details) > 0 {
		updates["payment_details"] = t.Details
	}
	if t.To == models.PaymentPaid {
		updates["paid_at"] = t.At
	}

	res := r.db.WithContext(ctx).
		Model(&models.Enrollment{}).
		Where("order_id = ? AND payment_status = ?", orderID, models.PaymentPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetPaymentSession records the gateway session for a still-pending order.
func (r *EnrollmentRepository) SetPaymentSession(ctx context.Context, orderID, sessionID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Enrollment{}).
		Where("order_id = ? AND payment_status = ?", orderID, models.PaymentPending).
		Updates(map[string]interface{}{
			"payment_session_id": sessionID,
			"updated_at":         time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// StalePending lists pending enrollments that reached the gateway and have
// been waiting since before cutoff, oldest first.
func (r *EnrollmentRepository) StalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Enrollment, error) {
	var out []models.Enrollment
	err := r.db.WithContext(ctx).
		Where("payment_status = ? AND payment_session_id IS NOT NULL AND created_at < ?", models.PaymentPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
