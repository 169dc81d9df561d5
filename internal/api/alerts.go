package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	recist "github.com/recist/recist/internal/model"
)

// FaultIngestor is what the Containment Agent exposes to accept a fault
// discovered outside its own periodic scan. The alert webhook and the
// scan loop are two entrants feeding the same admission path, so a
// duplicate fingerprint arriving from both is deduplicated exactly once
// downstream, not here.
type FaultIngestor interface {
	IngestFault(ctx context.Context, fault recist.FaultRecord) error
}

type AlertHandler struct {
	ingestor FaultIngestor
}

func NewAlertHandler(ingestor FaultIngestor) *AlertHandler {
	return &AlertHandler{ingestor: ingestor}
}

// AlertmanagerWebhook godoc
// @Summary Accept an Alertmanager webhook
// @Description Translates firing alerts into containment fault entrants alongside the periodic scan.
// @Tags alerts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body model.AlertmanagerWebhook true "Alertmanager webhook payload"
// @Success 200 {object} model.AlertWebhookResponse
// @Failure 400 {object} model.ErrorResponse
// @Router /api/v1/webhooks/alertmanager [post]
func (h *AlertHandler) AlertmanagerWebhook(c *gin.Context) {
	var webhook recist.AlertmanagerWebhook
	if err := c.ShouldBindJSON(&webhook); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	log.Info().Str("status", webhook.Status).Int("alertCount", len(webhook.Alerts)).
		Str("receiver", webhook.Receiver).Msg("received alertmanager webhook")

	opened, skipped := 0, 0
	for _, alert := range webhook.Alerts {
		fault, ok := alert.ToFaultRecord()
		if !ok {
			skipped++
			continue
		}
		if err := h.ingestor.IngestFault(c.Request.Context(), fault); err != nil {
			log.Warn().Err(err).Str("target", fault.Target.Key()).Msg("failed to ingest fault from alertmanager")
			skipped++
			continue
		}
		opened++
	}

	c.JSON(http.StatusOK, recist.AlertWebhookResponse{
		Status:       "received",
		AlertCount:   len(webhook.Alerts),
		FaultsOpened: opened,
		FaultsSkipped: skipped,
	})
}
