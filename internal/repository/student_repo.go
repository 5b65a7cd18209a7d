package repository

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/farellandr/enrollhub/internal/models"
)

type StudentRepository struct {
	db *gorm.DB
}

func NewStudentRepository(db *gorm.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

func (r *StudentRepository) WithTx(tx *gorm.DB) *StudentRepository {
	return &StudentRepository{db: tx}
}

func (r *StudentRepository) ByID(ctx context.Context, id uuid.UUID) (*models.Student, error) {
	var s models.Student
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

func (r *StudentRepository) ByEmail(ctx context.Context, email string) (*models.Student, error) {
	var s models.Student
	err := r.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&s).Error
	if err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

func (r *StudentRepository) Create(ctx context.Context, s *models.Student) error {
	return translate(r.db.WithContext(ctx).Create(s).Error)
}
