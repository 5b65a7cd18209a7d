package reconcile

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/farellandr/enrollhub/config"
	"github.com/farellandr/enrollhub/internal/models"
	"github.com/farellandr/enrollhub/internal/repository"
)

// Sweeper resolves pending enrollments whose webhook never arrived by
// polling the gateway for them.
type Sweeper struct {
	enrollments *repository.EnrollmentRepository
	poller      *Poller
	cfg         config.SweepConfig
	log         *logrus.Logger
	now         func() time.Time
}

type SweepReport struct {
	Checked int `json:"checked"`
	Paid    int `json:"paid"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
	Errored int `json:"errored"`
}

func NewSweeper(db *gorm.DB, poller *Poller, cfg config.SweepConfig, log *logrus.Logger) *Sweeper {
	return &Sweeper{
		enrollments: repository.NewEnrollmentRepository(db),
		poller:      poller,
		cfg:         cfg,
		log:         log,
		now:         time.Now,
	}
}

// RunOnce checks one page of stale pending enrollments, oldest first.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	stale, err := s.enrollments.StalePending(ctx, s.now().Add(-s.cfg.MinAge), s.cfg.BatchSize)
	if err != nil {
		return report, err
	}

	for _, e := range stale {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++
		view, err := s.poller.poll(ctx, e.OrderID, SourceSweep)
		if err != nil {
			report.Errored++
			s.log.WithError(err).WithField("order_id", e.OrderID).Error("sweep poll failed")
			continue
		}
		switch view.Status {
		case models.PaymentPaid:
			report.Paid++
		case models.PaymentFailed:
			report.Failed++
		default:
			report.Pending++
		}
	}

	if report.Checked > 0 {
		s.log.WithFields(logrus.Fields{
			"checked": report.Checked,
			"paid":    report.Paid,
			"failed":  report.Failed,
			"pending": report.Pending,
			"errored": report.Errored,
		}).Info("reconciliation sweep finished")
	}
	return report, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.WithError(err).Error("reconciliation sweep failed")
			}
		}
	}
}
