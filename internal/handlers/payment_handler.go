package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/farellandr/enrollhub/internal/apperr"
	"github.com/farellandr/enrollhub/internal/gateway"
	"github.com/farellandr/enrollhub/internal/helpers"
	"github.com/farellandr/enrollhub/internal/models"
	"github.com/farellandr/enrollhub/internal/repository"
)

type PaymentSessionRequest struct {
	OrderID string `json:"order_id" binding:"required"`
}

// CreatePaymentSession opens a hosted checkout for a pending enrollment.
// Repeated calls return the session already on record.
func (h *Handler) CreatePaymentSession(c *gin.Context) {
	var req PaymentSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || !helpers.ValidOrderID(req.OrderID) {
		helpers.RespondWithError(c, http.StatusBadRequest, "A valid order_id is required.")
		return
	}
	ctx := c.Request.Context()
	logger := h.log.WithField("order_id", req.OrderID)

	enrollment, err := h.enrollments.ByOrderID(ctx, req.OrderID)
	if errors.Is(err, repository.ErrNotFound) {
		helpers.RespondWithError(c, http.StatusNotFound, "Booking not found.")
		return
	}
	if err != nil {
		logger.WithError(err).Error("load enrollment for session")
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to start payment.")
		return
	}
	if enrollment.PaymentStatus != models.PaymentPending {
		helpers.RespondWithError(c, http.StatusConflict, "This booking is already "+string(enrollment.PaymentStatus)+".")
		return
	}

	if enrollment.PaymentSessionID != nil {
		h.respondStoredSession(c, enrollment)
		return
	}

	session, err := h.gateway.CreateSession(ctx, gateway.SessionRequest{
		OrderID:       enrollment.OrderID,
		Amount:        enrollment.Amount,
		Currency:      enrollment.Currency,
		CustomerID:    enrollment.StudentID.String(),
		CustomerName:  enrollment.Name,
		CustomerEmail: enrollment.Email,
		CustomerPhone: enrollment.Phone,
	})
	if err != nil {
		// A concurrent request for the same order got to Cashfree first.
		if stored := h.sessionAfterConflict(ctx, enrollment.OrderID, err); stored != nil {
			logger.Info("payment session created concurrently, returning stored session")
			h.respondStoredSession(c, stored)
			return
		}
		logger.WithError(err).Error("create payment session")
		helpers.RespondWithAppError(c, err)
		return
	}

	stored, err := h.enrollments.SetPaymentSession(ctx, enrollment.OrderID, session.SessionID)
	if err != nil {
		logger.WithError(err).Error("store payment session")
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to start payment.")
		return
	}
	if !stored {
		helpers.RespondWithError(c, http.StatusConflict, "This booking is no longer awaiting payment.")
		return
	}

	logger.WithFields(logrus.Fields{"gateway_order_id": session.GatewayOrderID}).Info("payment session created")
	c.JSON(http.StatusCreated, gin.H{
		"order_id":           enrollment.OrderID,
		"payment_session_id": session.SessionID,
		"redirect_url":       session.RedirectURL,
	})
}

func (h *Handler) respondStoredSession(c *gin.Context, e *models.Enrollment) {
	c.JSON(http.StatusCreated, gin.H{
		"order_id":           e.OrderID,
		"payment_session_id": *e.PaymentSessionID,
		"redirect_url":       h.gateway.CheckoutURL(e.OrderID, *e.PaymentSessionID),
	})
}

// sessionAfterConflict returns the enrollment when err is the gateway
// refusing a duplicate order and another request has already stored a
// session for it.
func (h *Handler) sessionAfterConflict(ctx context.Context, orderID string, err error) *models.Enrollment {
	var gerr *apperr.GatewayError
	if !errors.As(err, &gerr) || gerr.StatusCode != http.StatusConflict {
		return nil
	}
	e, lookupErr := h.enrollments.ByOrderID(ctx, orderID)
	if lookupErr != nil || e.PaymentSessionID == nil || e.PaymentStatus != models.PaymentPending {
		return nil
	}
	return e
}

// PaymentStatus is polled by the browser while it waits for confirmation.
func (h *Handler) PaymentStatus(c *gin.Context) {
	orderID := c.Query("order_id")
	if !helpers.ValidOrderID(orderID) {
		helpers.RespondWithError(c, http.StatusBadRequest, "A valid order_id is required.")
		return
	}

	view, err := h.poller.Poll(c.Request.Context(), orderID)
	if err != nil {
		if helpers.StatusFor(err) == http.StatusInternalServerError {
			h.log.WithError(err).WithField("order_id", orderID).Error("poll payment status")
		}
		helpers.RespondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// PaymentReturn is where the gateway sends the customer back after checkout.
// It reads stored state only; the page then polls /status for updates.
func (h *Handler) PaymentReturn(c *gin.Context) {
	orderID := c.Query("order_id")
	if !helpers.ValidOrderID(orderID) {
		helpers.RespondWithError(c, http.StatusBadRequest, "A valid order_id is required.")
		return
	}

	view, err := h.poller.Local(c.Request.Context(), orderID)
	if err != nil {
		if helpers.StatusFor(err) == http.StatusInternalServerError {
			h.log.WithError(err).WithField("order_id", orderID).Error("payment return lookup")
		}
		helpers.RespondWithAppError(c, err)
		return
	}

	message := "We are confirming your payment. This page will update shortly."
	switch view.Status {
	case models.PaymentPaid:
		message = "Payment received. Your seat is confirmed and a confirmation email is on its way."
	case models.PaymentFailed:
		message = "Payment was not completed. You can book again to retry."
	}
	resp := gin.H{
		"order_id": view.OrderID,
		"status":   view.Status,
		"message":  message,
	}
	if view.TransactionID != nil {
		resp["transaction_id"] = *view.TransactionID
	}
	c.JSON(http.StatusOK, resp)
}
