// Package reconcile applies gateway payment outcomes to enrollments exactly
// once. The conditional status update is the only serialisation point
// between concurrent webhooks, polls and sweeps.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/farellandr/enrollhub/internal/apperr"
	"github.com/farellandr/enrollhub/internal/metrics"
	"github.com/farellandr/enrollhub/internal/models"
	"github.com/farellandr/enrollhub/internal/mq"
	"github.com/farellandr/enrollhub/internal/repository"
)

var tracer = otel.Tracer("github.com/farellandr/enrollhub/internal/reconcile")

const sideEffectTimeout = 30 * time.Second

type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
	SourceSweep   Source = "sweep"
)

// Outcome is a payment result reported by the gateway.
type Outcome struct {
	OrderID       string
	Status        models.PaymentStatus
	TransactionID string
	Amount        decimal.Decimal
	Details       datatypes.JSON
	Source        Source
}

type Result struct {
	Enrollment *models.Enrollment
	Applied    bool
	// Reason explains a no-op: already_paid, already_failed or lost_race.
	Reason string
}

type Mailer interface {
	SendConfirmation(ctx context.Context, e *models.Enrollment) error
}

type EventPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// EnrollmentEvent is the body of enrollment.paid and enrollment.failed.
type EnrollmentEvent struct {
	EnrollmentID  string          `json:"enrollment_id"`
	OrderID       string          `json:"order_id"`
	Status        string          `json:"status"`
	TransactionID string          `json:"transaction_id,omitempty"`
	WorkshopID    string          `json:"workshop_id"`
	BatchID       string          `json:"batch_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

type Engine struct {
	db          *gorm.DB
	enrollments *repository.EnrollmentRepository
	batches     *repository.BatchRepository
	mailer      Mailer
	events      EventPublisher
	log         *logrus.Logger
	now         func() time.Time
}

// NewEngine wires the engine. events may be nil when no broker is configured.
func NewEngine(db *gorm.DB, mailer Mailer, events EventPublisher, log *logrus.Logger) *Engine {
	return &Engine{
		db:          db,
		enrollments: repository.NewEnrollmentRepository(db),
		batches:     repository.NewBatchRepository(db),
		mailer:      mailer,
		events:      events,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Apply moves a pending enrollment to the outcome's status. Repeated or
// late outcomes for a terminal enrollment are successful no-ops.
func (e *Engine) Apply(ctx context.Context, out Outcome) (*Result, error) {
	ctx, span := tracer.Start(ctx, "reconcile.Apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", out.OrderID),
		attribute.String("outcome.status", string(out.Status)),
		attribute.String("outcome.source", string(out.Source)),
	)

	if out.Status != models.PaymentPaid && out.Status != models.PaymentFailed {
		return nil, apperr.NewValidation("status", "outcome must be paid or failed")
	}

	logger := e.log.WithFields(logrus.Fields{
		"order_id": out.OrderID,
		"outcome":  out.Status,
		"source":   out.Source,
	})

	enrollment, err := e.enrollments.ByOrderID(ctx, out.OrderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &apperr.NotFoundError{Resource: "enrollment", ID: out.OrderID}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return nil, fmt.Errorf("load enrollment %s: %w", out.OrderID, err)
	}

	if enrollment.PaymentStatus.Terminal() {
		return e.noop(logger, enrollment, out), nil
	}

	if !out.Amount.IsZero() && !out.Amount.Equal(enrollment.Amount) {
		logger.WithFields(logrus.Fields{
			"expected": enrollment.Amount.String(),
			"reported": out.Amount.String(),
		}).Warn("gateway amount differs from booked amount")
	}

	var (
		won   bool
		batch *models.Batch
	)
	transition := repository.Transition{
		To:      out.Status,
		Details: out.Details,
		At:      e.now(),
	}
	// A failed attempt's payment id stays in Details only; transaction_id
	// is reserved for the payment that settled the order.
	if out.Status == models.PaymentPaid && out.TransactionID != "" {
		txn := out.TransactionID
		transition.TransactionID = &txn
	}

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		won, err = e.enrollments.WithTx(tx).TransitionFromPending(ctx, out.OrderID, transition)
		if err != nil || !won {
			return err
		}
		if out.Status == models.PaymentPaid {
			batch, err = e.batches.WithTx(tx).Increment(ctx, enrollment.BatchID)
			if err != nil {
				return fmt.Errorf("increment batch %s: %w", enrollment.BatchID, err)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition failed")
		return nil, fmt.Errorf("apply %s to %s: %w", out.Status, out.OrderID, err)
	}

	if !won {
		current, err := e.enrollments.ByOrderID(ctx, out.OrderID)
		if err != nil {
			return nil, fmt.Errorf("reload enrollment %s: %w", out.OrderID, err)
		}
		metrics.NoopReconciliations.WithLabelValues("lost_race").Inc()
		logger.WithField("status", current.PaymentStatus).Debug("outcome already applied by a concurrent caller")
		return &Result{Enrollment: current, Reason: "lost_race"}, nil
	}

	metrics.Transitions.WithLabelValues(string(out.Status), string(out.Source)).Inc()
	logger.WithField("transaction_id", out.TransactionID).Info("enrollment payment reconciled")

	if batch != nil && batch.Enrolled > batch.Capacity {
		metrics.Oversold.Inc()
		logger.WithFields(logrus.Fields{
			"batch_id": batch.ID,
			"enrolled": batch.Enrolled,
			"capacity": batch.Capacity,
		}).Warn("batch oversold")
	}

	current, err := e.enrollments.ByOrderIDWithRelations(ctx, out.OrderID)
	if err != nil {
		// The transition is committed; side effects are best-effort.
		logger.WithError(err).Error("reload enrollment after transition")
		return &Result{Enrollment: enrollment, Applied: true}, nil
	}

	e.afterCommit(ctx, logger, current)
	return &Result{Enrollment: current, Applied: true}, nil
}

func (e *Engine) noop(logger *logrus.Entry, enrollment *models.Enrollment, out Outcome) *Result {
	reason := "already_" + string(enrollment.PaymentStatus)
	metrics.NoopReconciliations.WithLabelValues(reason).Inc()

	if enrollment.PaymentStatus == models.PaymentFailed && out.Status == models.PaymentPaid {
		logger.WithFields(logrus.Fields{
			"transaction_id": out.TransactionID,
			"event":          "refund_followup",
		}).Warn("payment succeeded for an order already marked failed")
	} else {
		logger.WithField("status", enrollment.PaymentStatus).Debug("enrollment already terminal")
	}
	return &Result{Enrollment: enrollment, Reason: reason}
}

// afterCommit runs the side effects of a winning transition. Neither can
// undo the transition.
func (e *Engine) afterCommit(ctx context.Context, logger *logrus.Entry, enrollment *models.Enrollment) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if enrollment.PaymentStatus == models.PaymentPaid && e.mailer != nil {
		if err := e.mailer.SendConfirmation(ctx, enrollment); err != nil {
			metrics.EmailFailures.Inc()
			logger.WithError(err).WithField("event", "degraded").Error("confirmation email failed")
		}
	}

	if e.events == nil {
		return
	}
	key := mq.KeyEnrollmentFailed
	if enrollment.PaymentStatus == models.PaymentPaid {
		key = mq.KeyEnrollmentPaid
	}
	if err := e.events.PublishJSON(ctx, key, newEnrollmentEvent(enrollment, e.now())); err != nil {
		logger.WithError(err).WithField("event", "degraded").Error("publish enrollment event failed")
	}
}

func newEnrollmentEvent(enrollment *models.Enrollment, at time.Time) EnrollmentEvent {
	ev := EnrollmentEvent{
		EnrollmentID: enrollment.ID.String(),
		OrderID:      enrollment.OrderID,
		Status:       string(enrollment.PaymentStatus),
		WorkshopID:   enrollment.WorkshopID.String(),
		BatchID:      enrollment.BatchID.String(),
		Amount:       enrollment.Amount,
		Currency:     enrollment.Currency,
		OccurredAt:   at,
	}
	if enrollment.TransactionID != nil {
		ev.TransactionID = *enrollment.TransactionID
	}
	return ev
}
