package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentPaid || s == PaymentFailed
}

type Enrollment struct {
	ID               uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	StudentID        uuid.UUID       `gorm:"type:uuid;not null;index" json:"student_id"`
	Student          *Student        `gorm:"foreignKey:StudentID" json:"-"`
	WorkshopID       uuid.UUID       `gorm:"type:uuid;not null;index" json:"workshop_id"`
	Workshop         *Workshop       `gorm:"foreignKey:WorkshopID" json:"-"`
	BatchID          uuid.UUID       `gorm:"type:uuid;not null;index" json:"batch_id"`
	Batch            *Batch          `gorm:"foreignKey:BatchID" json:"-"`
	Name             string          `gorm:"not null" json:"name"`
	Email            string          `gorm:"not null" json:"email"`
	Phone            string          `gorm:"not null" json:"phone"`
	Address          string          `gorm:"not null" json:"address"`
	OrderID          string          `gorm:"not null;uniqueIndex" json:"order_id"`
	PaymentSessionID *string         `json:"payment_session_id,omitempty"`
	TransactionID    *string         `json:"transaction_id,omitempty"`
	PaymentStatus    PaymentStatus   `gorm:"not null;default:'pending';index" json:"payment_status"`
	PaymentDetails   datatypes.JSON  `gorm:"type:jsonb" json:"-"`
	Amount           decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"amount"`
	Currency         string          `gorm:"not null;default:'INR'" json:"currency"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (enrollment *Enrollment) BeforeCreate(tx *gorm.DB) (err error) {
	if enrollment.ID == uuid.Nil {
		enrollment.ID = uuid.New()
	}
	if enrollment.PaymentStatus == "" {
		enrollment.PaymentStatus = PaymentPending
	}
	return
}
