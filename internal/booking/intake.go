// Package booking turns a booking request into a pending enrollment.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/farellandr/enrollhub/internal/apperr"
	"github.com/farellandr/enrollhub/internal/helpers"
	"github.com/farellandr/enrollhub/internal/models"
	"github.com/farellandr/enrollhub/internal/repository"
)

// Submission is a booking request as the customer sent it. Customer fields
// may be omitted when StudentID names an existing student.
type Submission struct {
	FirstName  string           `json:"first_name"`
	LastName   string           `json:"last_name"`
	Name       string           `json:"name"`
	Email      string           `json:"email"`
	Phone      string           `json:"phone"`
	Address    string           `json:"address"`
	WorkshopID string           `json:"workshop_id"`
	BatchID    string           `json:"batch_id"`
	OrderID    string           `json:"order_id"`
	StudentID  string           `json:"student_id"`
	Amount     *decimal.Decimal `json:"amount"`
}

type Intake struct {
	db        *gorm.DB
	workshops *repository.WorkshopRepository
	batches   *repository.BatchRepository
	validate  *validator.Validate
	log       *logrus.Logger
}

func NewIntake(db *gorm.DB, log *logrus.Logger) *Intake {
	return &Intake{
		db:        db,
		workshops: repository.NewWorkshopRepository(db),
		batches:   repository.NewBatchRepository(db),
		validate:  validator.New(),
		log:       log,
	}
}

type parsedIDs struct {
	workshop uuid.UUID
	batch    uuid.UUID
	student  uuid.UUID
}

// Submit validates s and stores a pending enrollment. No external calls are
// made; the payment session is created separately.
func (in *Intake) Submit(ctx context.Context, s Submission) (*models.Enrollment, error) {
	s = normalize(s)
	ids, verr := in.check(s)
	if verr != nil {
		return nil, verr
	}

	workshop, err := in.workshops.ByID(ctx, ids.workshop)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !workshop.Published) {
		return nil, &apperr.NotFoundError{Resource: "workshop", ID: s.WorkshopID}
	}
	if err != nil {
		return nil, fmt.Errorf("load workshop: %w", err)
	}

	batch, err := in.batches.ByID(ctx, ids.batch)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && batch.WorkshopID != workshop.ID) {
		return nil, &apperr.NotFoundError{Resource: "batch", ID: s.BatchID}
	}
	if err != nil {
		return nil, fmt.Errorf("load batch: %w", err)
	}

	if s.Amount != nil && !s.Amount.Equal(workshop.Price) {
		return nil, apperr.NewValidation("amount", "does not match the workshop price")
	}
	if batch.Enrolled >= batch.Capacity {
		return nil, &apperr.ConflictError{Reason: "batch is full"}
	}

	var enrollment *models.Enrollment
	err = in.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		enrollments := repository.NewEnrollmentRepository(tx)
		students := repository.NewStudentRepository(tx)

		exists, err := enrollments.ExistsOrderID(ctx, s.OrderID)
		if err != nil {
			return err
		}
		if exists {
			return &apperr.ConflictError{Reason: "order_id already used"}
		}

		student, err := in.resolveStudent(ctx, students, s, ids)
		if err != nil {
			return err
		}

		enrollment = &models.Enrollment{
			StudentID:     student.ID,
			WorkshopID:    workshop.ID,
			BatchID:       batch.ID,
			Name:          student.FullName(),
			Email:         student.Email,
			Phone:         student.Phone,
			Address:       student.Address,
			OrderID:       s.OrderID,
			PaymentStatus: models.PaymentPending,
			Amount:        workshop.Price,
			Currency:      workshop.Currency,
		}
		if err := enrollments.Create(ctx, enrollment); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return &apperr.ConflictError{Reason: "order_id already used"}
			}
			return err
		}
		return nil
	})
	if err != nil {
		var conflict *apperr.ConflictError
		var notFound *apperr.NotFoundError
		if errors.As(err, &conflict) || errors.As(err, &notFound) {
			return nil, err
		}
		return nil, fmt.Errorf("store enrollment: %w", err)
	}

	in.log.WithFields(logrus.Fields{
		"order_id":    enrollment.OrderID,
		"workshop_id": enrollment.WorkshopID,
		"batch_id":    enrollment.BatchID,
	}).Info("enrollment booked")
	return enrollment, nil
}

func (in *Intake) resolveStudent(ctx context.Context, students *repository.StudentRepository, s Submission, ids parsedIDs) (*models.Student, error) {
	if ids.student != uuid.Nil {
		student, err := students.ByID(ctx, ids.student)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &apperr.NotFoundError{Resource: "student", ID: s.StudentID}
		}
		return student, err
	}

	_, err := students.ByEmail(ctx, s.Email)
	if err == nil {
		return nil, &apperr.ConflictError{Reason: "a student with this email already exists"}
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	student := &models.Student{
		FirstName: s.FirstName,
		LastName:  s.LastName,
		Email:     s.Email,
		Phone:     s.Phone,
		Address:   s.Address,
	}
	if err := students.Create(ctx, student); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, &apperr.ConflictError{Reason: "a student with this email already exists"}
		}
		return nil, err
	}
	return student, nil
}

func normalize(s Submission) Submission {
	trim := strings.TrimSpace
	s.FirstName, s.LastName, s.Name = trim(s.FirstName), trim(s.LastName), trim(s.Name)
	s.Email = strings.ToLower(trim(s.Email))
	s.Phone, s.Address = trim(s.Phone), trim(s.Address)
	s.WorkshopID, s.BatchID, s.StudentID = trim(s.WorkshopID), trim(s.BatchID), trim(s.StudentID)
	s.OrderID = trim(s.OrderID)

	if s.FirstName == "" && s.Name != "" {
		first, last := helpers.SplitName(s.Name)
		s.FirstName = first
		if s.LastName == "" {
			s.LastName = last
		}
	}
	return s
}

func (in *Intake) check(s Submission) (parsedIDs, error) {
	var ids parsedIDs
	verr := &apperr.ValidationError{}

	parseID := func(field, raw string, required bool) uuid.UUID {
		if raw == "" {
			if required {
				verr.Add(field, "is required")
			}
			return uuid.Nil
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			verr.Add(field, "must be a UUID")
		}
		return id
	}
	ids.workshop = parseID("workshop_id", s.WorkshopID, true)
	ids.batch = parseID("batch_id", s.BatchID, true)
	ids.student = parseID("student_id", s.StudentID, false)

	switch {
	case s.OrderID == "":
		verr.Add("order_id", "is required")
	case !helpers.ValidOrderID(s.OrderID):
		verr.Add("order_id", "must be 1-64 letters, digits, '-' or '_'")
	}

	if s.StudentID == "" {
		required := map[string]string{
			"first_name": s.FirstName,
			"last_name":  s.LastName,
			"email":      s.Email,
			"phone":      s.Phone,
			"address":    s.Address,
		}
		for field, v := range required {
			if v == "" {
				verr.Add(field, "is required")
			}
		}
	}
	if s.Email != "" {
		if err := in.validate.Var(s.Email, "email"); err != nil {
			verr.Add("email", "must be a valid email address")
		}
	}
	if s.Phone != "" {
		if err := in.validate.Var(s.Phone, "min=7,max=20"); err != nil {
			verr.Add("phone", "must be between 7 and 20 characters")
		}
	}
	if s.Amount != nil && s.Amount.IsNegative() {
		verr.Add("amount", "must not be negative")
	}

	if !verr.Empty() {
		return ids, verr
	}
	return ids, nil
}
