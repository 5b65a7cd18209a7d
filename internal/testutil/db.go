// Package testutil provides fixtures shared by package tests.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/farellandr/enrollhub/internal/models"
)

// NewDB opens a throwaway SQLite database in a temp dir and migrates the
// models. A single connection serialises writers the way row locks would.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "enrollhub.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(
		&models.Workshop{},
		&models.Batch{},
		&models.Student{},
		&models.Enrollment{},
		&models.PaymentEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// SeedWorkshop creates a published workshop with one scheduled batch.
func SeedWorkshop(t *testing.T, db *gorm.DB, capacity int) (*models.Workshop, *models.Batch) {
	t.Helper()

	w := &models.Workshop{
		Slug:          "clay-basics",
		Title:         "Clay Basics",
		Description:   "Hand-building for beginners",
		Price:         decimal.NewFromInt(4999),
		Currency:      "INR",
		AccessDetails: "Studio 2, bring an apron",
		Published:     true,
	}
	if err := db.Create(w).Error; err != nil {
		t.Fatalf("seed workshop: %v", err)
	}

	starts := time.Date(2026, 11, 7, 10, 0, 0, 0, time.UTC)
	b := &models.Batch{
		WorkshopID: w.ID,
		Capacity:   capacity,
		StartsAt:   &starts,
		TimeLabel:  "10:00-13:00 IST",
		Location:   "Bandra studio",
	}
	if err := db.Create(b).Error; err != nil {
		t.Fatalf("seed batch: %v", err)
	}
	return w, b
}

// SeedPendingEnrollment inserts a student and a pending enrollment for orderID.
func SeedPendingEnrollment(t *testing.T, db *gorm.DB, w *models.Workshop, b *models.Batch, orderID string) *models.Enrollment {
	t.Helper()

	s := &models.Student{
		FirstName: "Asha",
		LastName:  "Rao",
		Email:     orderID + "@example.com",
		Phone:     "9999999999",
		Address:   "12 Hill Road, Mumbai",
	}
	if err := db.Create(s).Error; err != nil {
		t.Fatalf("seed student: %v", err)
	}

	session := "session_" + orderID
	e := &models.Enrollment{
		StudentID:        s.ID,
		WorkshopID:       w.ID,
		BatchID:          b.ID,
		Name:             s.FullName(),
		Email:            s.Email,
		Phone:            s.Phone,
		Address:          s.Address,
		OrderID:          orderID,
		PaymentSessionID: &session,
		PaymentStatus:    models.PaymentPending,
		Amount:           w.Price,
		Currency:         w.Currency,
	}
	if err := db.Create(e).Error; err != nil {
		t.Fatalf("seed enrollment: %v", err)
	}
	return e
}

// Enrolled reads the current counter of a batch.
func Enrolled(t *testing.T, db *gorm.DB, b *models.Batch) int {
	t.Helper()
	var fresh models.Batch
	if err := db.First(&fresh, "id = ?", b.ID).Error; err != nil {
		t.Fatalf("reload batch: %v", err)
	}
	return fresh.Enrolled
}
