package handlers

import (
	"context"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/farellandr/enrollhub/internal/booking"
	"github.com/farellandr/enrollhub/internal/gateway"
	"github.com/farellandr/enrollhub/internal/models"
	"github.com/farellandr/enrollhub/internal/reconcile"
	"github.com/farellandr/enrollhub/internal/repository"
)

type BookingService interface {
	Submit(ctx context.Context, s booking.Submission) (*models.Enrollment, error)
}

type PaymentGateway interface {
	CreateSession(ctx context.Context, req gateway.SessionRequest) (*gateway.Session, error)
	CheckoutURL(orderID, sessionID string) string
	VerifyWebhook(payload []byte, signature, timestamp string) (*gateway.Notification, error)
}

type OutcomeApplier interface {
	Apply(ctx context.Context, out reconcile.Outcome) (*reconcile.Result, error)
}

type StatusPoller interface {
	Poll(ctx context.Context, orderID string) (*reconcile.StatusView, error)
	Local(ctx context.Context, orderID string) (*reconcile.StatusView, error)
}

type SweepRunner interface {
	RunOnce(ctx context.Context) (reconcile.SweepReport, error)
}

// Handler serves the public booking and payment API and the admin repair
// endpoints.
type Handler struct {
	db            *gorm.DB
	workshops     *repository.WorkshopRepository
	enrollments   *repository.EnrollmentRepository
	batches       *repository.BatchRepository
	paymentEvents *repository.PaymentEventRepository
	intake        BookingService
	gateway       PaymentGateway
	engine        OutcomeApplier
	poller        StatusPoller
	sweeper       SweepRunner
	log           *logrus.Logger
}

type Deps struct {
	DB      *gorm.DB
	Intake  BookingService
	Gateway PaymentGateway
	Engine  OutcomeApplier
	Poller  StatusPoller
	Sweeper SweepRunner
	Log     *logrus.Logger
}

func New(d Deps) *Handler {
	return &Handler{
		db:            d.DB,
		workshops:     repository.NewWorkshopRepository(d.DB),
		enrollments:   repository.NewEnrollmentRepository(d.DB),
		batches:       repository.NewBatchRepository(d.DB),
		paymentEvents: repository.NewPaymentEventRepository(d.DB),
		intake:        d.Intake,
		gateway:       d.Gateway,
		engine:        d.Engine,
		poller:        d.Poller,
		sweeper:       d.Sweeper,
		log:           d.Log,
	}
}
