package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/farellandr/enrollhub/internal/apperr"
	"github.com/farellandr/enrollhub/internal/gateway"
	"github.com/farellandr/enrollhub/internal/models"
	"github.com/farellandr/enrollhub/internal/repository"
)

type StatusFetcher interface {
	FetchStatus(ctx context.Context, orderID string) (*gateway.RemoteStatus, error)
}

// StatusView is what a polling client is told about its order.
type StatusView struct {
	OrderID       string               `json:"order_id"`
	Status        models.PaymentStatus `json:"status"`
	TransactionID *string              `json:"transaction_id,omitempty"`
}

type Poller struct {
	enrollments *repository.EnrollmentRepository
	gateway     StatusFetcher
	engine      *Engine
	log         *logrus.Logger
}

func NewPoller(db *gorm.DB, gw StatusFetcher, engine *Engine, log *logrus.Logger) *Poller {
	return &Poller{
		enrollments: repository.NewEnrollmentRepository(db),
		gateway:     gw,
		engine:      engine,
		log:         log,
	}
}

// Poll answers with the freshest status it can. Paid orders never reach the
// gateway, and a gateway failure falls back to the stored status.
func (p *Poller) Poll(ctx context.Context, orderID string) (*StatusView, error) {
	return p.poll(ctx, orderID, SourcePoll)
}

// Local answers from stored state only. It backs the browser return page,
// which is not rate limited and so must never reach the gateway.
func (p *Poller) Local(ctx context.Context, orderID string) (*StatusView, error) {
	enrollment, err := p.enrollments.ByOrderID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &apperr.NotFoundError{Resource: "enrollment", ID: orderID}
	}
	if err != nil {
		return nil, fmt.Errorf("load enrollment %s: %w", orderID, err)
	}
	return viewOf(enrollment), nil
}

func (p *Poller) poll(ctx context.Context, orderID string, source Source) (*StatusView, error) {
	ctx, span := tracer.Start(ctx, "reconcile.Poll")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	enrollment, err := p.enrollments.ByOrderID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &apperr.NotFoundError{Resource: "enrollment", ID: orderID}
	}
	if err != nil {
		return nil, fmt.Errorf("load enrollment %s: %w", orderID, err)
	}

	if enrollment.PaymentStatus == models.PaymentPaid {
		span.SetAttributes(attribute.Bool("poll.short_circuit", true))
		return viewOf(enrollment), nil
	}

	remote, err := p.gateway.FetchStatus(ctx, orderID)
	if err != nil {
		p.log.WithError(err).WithField("order_id", orderID).Warn("gateway status unavailable, answering from local state")
		return viewOf(enrollment), nil
	}

	var status models.PaymentStatus
	switch remote.Status {
	case gateway.RemotePaid:
		status = models.PaymentPaid
	case gateway.RemoteFailed:
		status = models.PaymentFailed
	default:
		return viewOf(enrollment), nil
	}

	res, err := p.engine.Apply(ctx, Outcome{
		OrderID:       orderID,
		Status:        status,
		TransactionID: remote.TransactionID,
		Amount:        remote.Amount,
		Details:       datatypes.JSON(remote.Raw),
		Source:        source,
	})
	if err != nil {
		return nil, err
	}
	return viewOf(res.Enrollment), nil
}

func viewOf(e *models.Enrollment) *StatusView {
	v := &StatusView{OrderID: e.OrderID, Status: e.PaymentStatus}
	if e.PaymentStatus == models.PaymentPaid {
		v.TransactionID = e.TransactionID
	}
	return v
}
