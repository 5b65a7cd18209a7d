package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/farellandr/enrollhub/internal/apperr"
	"github.com/farellandr/enrollhub/internal/booking"
	"github.com/farellandr/enrollhub/internal/helpers"
)

func (h *Handler) CreateBooking(c *gin.Context) {
	var req booking.Submission
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.RespondWithAppError(c, bindError(err))
		return
	}

	enrollment, err := h.intake.Submit(c.Request.Context(), req)
	if err != nil {
		if helpers.StatusFor(err) == http.StatusInternalServerError {
			h.log.WithError(err).WithField("order_id", req.OrderID).Error("booking failed")
		}
		helpers.RespondWithAppError(c, err)
		return
	}

	h.log.WithFields(logrus.Fields{"order_id": enrollment.OrderID}).Debug("booking accepted")
	c.JSON(http.StatusCreated, gin.H{
		"message":    "Booking created. Complete payment to confirm your seat.",
		"enrollment": enrollment,
	})
}

// bindError names the offending field when the decoder can tell which one
// it was, and blames the whole body otherwise.
func bindError(err error) *apperr.ValidationError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return apperr.NewValidation(typeErr.Field, "has the wrong type")
	}
	return apperr.NewValidation("body", "must be a JSON object with valid field values")
}
