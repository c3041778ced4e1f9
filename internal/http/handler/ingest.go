package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"replaycast.app/studio/common/logger"
	"replaycast.app/studio/internal/http/dto"
	"replaycast.app/studio/internal/http/middleware"
	"replaycast.app/studio/internal/service"
)

type IngestHandler struct {
	service service.IngestService
}

func NewIngestHandler(service service.IngestService) *IngestHandler {
	return &IngestHandler{service: service}
}

func (h *IngestHandler) Ingest(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid ingest request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{SessionToken: logger.Ptr(req.SessionToken)})

	project := middleware.GetProject(ctx)
	result, err := h.service.Ingest(ctx, service.IngestParams{
		ProjectID:    project.ID,
		SessionToken: req.SessionToken,
		Events:       req.Events,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to ingest events", "error", err, "batch_size", len(req.Events))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ingest events"})
		return
	}

	c.JSON(http.StatusOK, dto.IngestResponse{
		Accepted:         true,
		EventsReceived:   result.EventsReceived,
		SessionFinalized: result.SessionFinalized,
	})
}
