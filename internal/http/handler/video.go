package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"replaycast.app/studio/internal/http/dto"
	"replaycast.app/studio/internal/http/middleware"
	"replaycast.app/studio/internal/service"
)

type VideoHandler struct {
	video   service.VideoService
	queries service.SessionQueryService
}

func NewVideoHandler(video service.VideoService, queries service.SessionQueryService) *VideoHandler {
	return &VideoHandler{
		video:   video,
		queries: queries,
	}
}

func (h *VideoHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()
	token := c.Param("token")

	project := middleware.GetProject(ctx)
	sess, err := h.queries.Get(ctx, project.ID, token)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to fetch video status", "error", err, "session_token", token)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch video status"})
		return
	}

	c.JSON(http.StatusOK, dto.ToVideoStatusResponse(sess))
}

func (h *VideoHandler) Regenerate(c *gin.Context) {
	ctx := c.Request.Context()
	token := c.Param("token")

	project := middleware.GetProject(ctx)
	result, err := h.video.Regenerate(ctx, project.ID, token)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		case errors.Is(err, service.ErrSessionActive):
			c.JSON(http.StatusConflict, gin.H{"error": "session is still active"})
		case errors.Is(err, service.ErrRenderInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": "render already in progress"})
		case errors.Is(err, service.ErrNoEventsToRender):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "session has no events to render"})
		default:
			slog.ErrorContext(ctx, "failed to queue video regeneration", "error", err, "session_token", token)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue video regeneration"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.RegenerateVideoResponse{
		Accepted:       true,
		VideoJobQueued: result.VideoJobQueued,
	})
}
