package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/farellandr/enrollhub/internal/helpers"
	"github.com/farellandr/enrollhub/internal/repository"
)

// RecountBatch rebuilds a batch's enrolled counter from paid enrollments.
func (h *Handler) RecountBatch(c *gin.Context) {
	batchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		helpers.RespondWithError(c, http.StatusBadRequest, "Invalid batch ID.")
		return
	}

	enrolled, err := h.batches.Recount(c.Request.Context(), batchID)
	if errors.Is(err, repository.ErrNotFound) {
		helpers.RespondWithError(c, http.StatusNotFound, "Batch not found.")
		return
	}
	if err != nil {
		h.log.WithError(err).WithField("batch_id", batchID).Error("recount batch")
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to recount batch.")
		return
	}

	h.log.WithField("batch_id", batchID).WithField("enrolled", enrolled).
		WithField("subject", c.GetString("subject")).Info("batch recounted")
	c.JSON(http.StatusOK, gin.H{"batch_id": batchID, "enrolled": enrolled})
}

func (h *Handler) RunSweep(c *gin.Context) {
	report, err := h.sweeper.RunOnce(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("manual sweep")
		helpers.RespondWithError(c, http.StatusInternalServerError, "Sweep failed.")
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) Healthz(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		h.log.WithError(err).Warn("health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
