package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/farellandr/enrollhub/internal/helpers"
	"github.com/farellandr/enrollhub/internal/models"
	"github.com/farellandr/enrollhub/internal/repository"
)

type batchResponse struct {
	ID        uuid.UUID  `json:"id"`
	StartsAt  *time.Time `json:"starts_at"`
	Schedule  string     `json:"schedule"`
	Location  string     `json:"location"`
	Capacity  int        `json:"capacity"`
	SeatsLeft int        `json:"seats_left"`
}

type workshopResponse struct {
	ID          uuid.UUID       `json:"id"`
	Slug        string          `json:"slug"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	Batches     []batchResponse `json:"batches"`
}

func toWorkshopResponse(w *models.Workshop) workshopResponse {
	resp := workshopResponse{
		ID:          w.ID,
		Slug:        w.Slug,
		Title:       w.Title,
		Description: w.Description,
		Price:       w.Price,
		Currency:    w.Currency,
		Batches:     make([]batchResponse, 0, len(w.Batches)),
	}
	for i := range w.Batches {
		b := &w.Batches[i]
		resp.Batches = append(resp.Batches, batchResponse{
			ID:        b.ID,
			StartsAt:  b.StartsAt,
			Schedule:  b.ScheduleLabel(),
			Location:  b.Location,
			Capacity:  b.Capacity,
			SeatsLeft: b.SeatsLeft(),
		})
	}
	return resp
}

func (h *Handler) ListWorkshops(c *gin.Context) {
	workshops, err := h.workshops.ListPublished(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("list workshops")
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to fetch workshops.")
		return
	}

	out := make([]workshopResponse, 0, len(workshops))
	for i := range workshops {
		out = append(out, toWorkshopResponse(&workshops[i]))
	}
	c.JSON(http.StatusOK, gin.H{"workshops": out})
}

func (h *Handler) GetWorkshop(c *gin.Context) {
	w, err := h.workshops.BySlug(c.Request.Context(), c.Param("slug"))
	if errors.Is(err, repository.ErrNotFound) {
		helpers.RespondWithError(c, http.StatusNotFound, "Workshop not found.")
		return
	}
	if err != nil {
		h.log.WithError(err).Error("get workshop")
		helpers.RespondWithError(c, http.StatusInternalServerError, "Failed to fetch workshop.")
		return
	}
	c.JSON(http.StatusOK, toWorkshopResponse(w))
}
