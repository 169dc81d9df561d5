package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	recist "github.com/recist/recist/internal/model"
	"github.com/recist/recist/internal/service"
)

// IncidentController is what the orchestrator exposes for operator-driven
// intervention on an in-flight incident: forcing a retry from the last
// persisted phase, or abandoning it outright.
type IncidentController interface {
	Retry(ctx context.Context, incidentID string) error
	Cancel(ctx context.Context, incidentID string) error
}

type EventsHandler struct {
	svc        *service.EventsService
	controller IncidentController // nil until the orchestrator is wired up
}

func NewEventsHandler(svc *service.EventsService, controller IncidentController) *EventsHandler {
	return &EventsHandler{svc: svc, controller: controller}
}

// ListEvents godoc
// @Summary List healing events
// @Tags events
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Max rows, default 100"
// @Success 200 {object} model.HealingEventListResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/v1/events [get]
func (h *EventsHandler) ListEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	events, err := h.svc.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, recist.HealingEventListResponse{Status: "success", Data: events})
}

// GetEvent godoc
// @Summary Get a healing event's full incident detail
// @Tags events
// @Produce json
// @Security BearerAuth
// @Param id path string true "Incident ID"
// @Success 200 {object} model.HealingEventDetailResponse
// @Failure 404 {object} model.ErrorResponse
// @Router /api/v1/events/{id} [get]
func (h *EventsHandler) GetEvent(c *gin.Context) {
	id := c.Param("id")
	inc, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		return
	}
	c.JSON(http.StatusOK, recist.HealingEventDetailResponse{Status: "success", Data: inc})
}

// RetryEvent godoc
// @Summary Retry a failed incident from its last persisted phase
// @Tags events
// @Produce json
// @Security BearerAuth
// @Param id path string true "Incident ID"
// @Success 200 {object} model.IncidentActionResponse
// @Failure 409,503 {object} model.ErrorResponse
// @Router /api/v1/events/{id}/retry [post]
func (h *EventsHandler) RetryEvent(c *gin.Context) {
	id := c.Param("id")
	if h.controller == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "orchestrator not attached"})
		return
	}
	if err := h.controller.Retry(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, recist.IncidentActionResponse{Status: "success", Message: "retry requested", IncidentID: id})
}

// CancelEvent godoc
// @Summary Abandon an in-flight incident
// @Tags events
// @Produce json
// @Security BearerAuth
// @Param id path string true "Incident ID"
// @Success 200 {object} model.IncidentActionResponse
// @Failure 409,503 {object} model.ErrorResponse
// @Router /api/v1/events/{id}/cancel [post]
func (h *EventsHandler) CancelEvent(c *gin.Context) {
	id := c.Param("id")
	if h.controller == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "orchestrator not attached"})
		return
	}
	if err := h.controller.Cancel(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, recist.IncidentActionResponse{Status: "success", Message: "cancel requested", IncidentID: id})
}
