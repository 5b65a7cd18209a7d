package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Student struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	FirstName string    `gorm:"not null" json:"first_name"`
	LastName  string    `gorm:"not null" json:"last_name"`
	Email     string    `gorm:"not null;uniqueIndex" json:"email"`
	Phone     string    `gorm:"not null" json:"phone"`
	Address   string    `gorm:"not null" json:"address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (student *Student) BeforeCreate(tx *gorm.DB) (err error) {
	if student.ID == uuid.Nil {
		student.ID = uuid.New()
	}
	student.Email = strings.ToLower(strings.TrimSpace(student.Email))
	return
}

func (student *Student) FullName() string {
	return strings.TrimSpace(student.FirstName + " " + student.LastName)
}
