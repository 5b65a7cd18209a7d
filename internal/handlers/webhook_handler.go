package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/farellandr/enrollhub/internal/apperr"
	"github.com/farellandr/enrollhub/internal/gateway"
	"github.com/farellandr/enrollhub/internal/helpers"
	"github.com/farellandr/enrollhub/internal/metrics"
	"github.com/farellandr/enrollhub/internal/models"
	"github.com/farellandr/enrollhub/internal/reconcile"
)

const maxWebhookBody = 1 << 20

const (
	outcomeApplied  = "applied"
	outcomeNoop     = "noop"
	outcomeIgnored  = "ignored"
	outcomeNotFound = "not_found"
)

// PaymentWebhook receives Cashfree notifications. Anything that cannot be
// authenticated is rejected before its body is interpreted.
func (h *Handler) PaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Unreadable body.")
		return
	}
	signature := c.GetHeader("x-webhook-signature")

	n, err := h.gateway.VerifyWebhook(payload, signature, c.GetHeader("x-webhook-timestamp"))
	if err != nil {
		var authErr *apperr.AuthenticationError
		reason := "malformed"
		if errors.As(err, &authErr) {
			reason = authErr.Reason
		}
		metrics.WebhookRejections.WithLabelValues(reason).Inc()
		h.log.WithFields(logrus.Fields{
			"event":     "security",
			"reason":    reason,
			"client_ip": c.ClientIP(),
		}).Warn("webhook rejected")
		helpers.RespondWithError(c, http.StatusBadRequest, "Webhook verification failed.")
		return
	}

	logger := h.log.WithFields(logrus.Fields{
		"order_id":           n.OrderID,
		"event_type":         n.EventType,
		"gateway_event_type": n.GatewayEventType,
	})
	ctx := c.Request.Context()

	outcome, err := h.applyNotification(c, n)
	if err != nil {
		logger.WithError(err).Error("webhook reconciliation failed")
		helpers.RespondWithError(c, http.StatusInternalServerError, "Could not process notification.")
		return
	}

	event := &models.PaymentEvent{
		OrderID:          n.OrderID,
		EventType:        string(n.EventType),
		GatewayEventType: n.GatewayEventType,
		Signature:        signature,
		Payload:          datatypes.JSON(payload),
		Outcome:          outcome,
	}
	if err := h.paymentEvents.Create(ctx, event); err != nil {
		logger.WithError(err).Error("store payment event")
		helpers.RespondWithError(c, http.StatusInternalServerError, "Could not record notification.")
		return
	}

	logger.WithField("outcome", outcome).Info("webhook processed")
	c.JSON(http.StatusOK, gin.H{"status": "ok", "outcome": outcome})
}

func (h *Handler) applyNotification(c *gin.Context, n *gateway.Notification) (string, error) {
	var status models.PaymentStatus
	switch n.EventType {
	case gateway.EventPaymentSuccess:
		status = models.PaymentPaid
	case gateway.EventPaymentFailed:
		status = models.PaymentFailed
	default:
		return outcomeIgnored, nil
	}
	if n.OrderID == "" {
		return outcomeIgnored, nil
	}

	res, err := h.engine.Apply(c.Request.Context(), reconcile.Outcome{
		OrderID:       n.OrderID,
		Status:        status,
		TransactionID: n.TransactionID,
		Amount:        n.Amount,
		Details:       datatypes.JSON(n.Payload),
		Source:        reconcile.SourceWebhook,
	})
	var notFound *apperr.NotFoundError
	switch {
	case errors.As(err, &notFound):
		h.log.WithField("order_id", n.OrderID).Warn("webhook for unknown order")
		return outcomeNotFound, nil
	case err != nil:
		return "", err
	case res.Applied:
		return outcomeApplied, nil
	default:
		return outcomeNoop, nil
	}
}
