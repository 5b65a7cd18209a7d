package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentEvent records a verified webhook delivery and what reconciliation
// made of it. Unverified deliveries are never stored.
type PaymentEvent struct {
	ID               uuid.UUID      `gorm:"type:uuid;primary_key"`
	OrderID          string         `gorm:"not null;default:'';index"`
	EventType        string         `gorm:"not null"`
	GatewayEventType string         `gorm:"not null;default:''"`
	Signature        string         `gorm:"not null;default:''"`
	Payload          datatypes.JSON `gorm:"type:jsonb"`
	Outcome          string         `gorm:"not null;default:''"`
	ReceivedAt       time.Time      `gorm:"not null"`
}

func (event *PaymentEvent) BeforeCreate(tx *gorm.DB) (err error) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	return
}
