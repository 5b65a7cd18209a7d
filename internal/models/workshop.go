package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Workshop struct {
	ID            uuid.UUID       `gorm:"type:uuid;primary_key" json:"id"`
	Slug          string          `gorm:"not null;uniqueIndex" json:"slug"`
	Title         string          `gorm:"not null" json:"title"`
	Description   string          `gorm:"not null;default:''" json:"description"`
	Price         decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"price"`
	Currency      string          `gorm:"not null;default:'INR'" json:"currency"`
	AccessDetails string          `gorm:"not null;default:''" json:"-"`
	Published     bool            `gorm:"not null;default:false" json:"published"`
	Batches       []Batch         `gorm:"foreignKey:WorkshopID" json:"batches,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (workshop *Workshop) BeforeCreate(tx *gorm.DB) (err error) {
	if workshop.ID == uuid.Nil {
		workshop.ID = uuid.New()
	}
	return
}

// Batch is one scheduled instance of a workshop. A nil StartsAt means the
// date is still to be announced.
type Batch struct {
	ID         uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	WorkshopID uuid.UUID  `gorm:"type:uuid;not null;index" json:"workshop_id"`
	Workshop   *Workshop  `gorm:"foreignKey:WorkshopID" json:"-"`
	Capacity   int        `gorm:"not null" json:"capacity"`
	Enrolled   int        `gorm:"not null;default:0" json:"enrolled"`
	StartsAt   *time.Time `json:"starts_at"`
	TimeLabel  string     `gorm:"not null;default:''" json:"time_label"`
	Location   string     `gorm:"not null;default:''" json:"location"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (Batch) TableName() string {
	return "workshop_batches"
}

func (batch *Batch) BeforeCreate(tx *gorm.DB) (err error) {
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	return
}

func (batch *Batch) Scheduled() bool {
	return batch.StartsAt != nil
}

func (batch *Batch) SeatsLeft() int {
	if left := batch.Capacity - batch.Enrolled; left > 0 {
		return left
	}
	return 0
}

// ScheduleLabel renders the batch date for customer-facing text.
func (batch *Batch) ScheduleLabel() string {
	if !batch.Scheduled() {
		return "TBD"
	}
	label := batch.StartsAt.Format("Mon, 02 Jan 2006")
	if batch.TimeLabel != "" {
		label += ", " + batch.TimeLabel
	}
	return label
}
