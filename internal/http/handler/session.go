package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"replaycast.app/studio/common/logger"
	"replaycast.app/studio/internal/http/dto"
	"replaycast.app/studio/internal/http/middleware"
	"replaycast.app/studio/internal/model"
	"replaycast.app/studio/internal/service"
)

type SessionHandler struct {
	lifecycle service.SessionLifecycleService
	finalize  service.FinalizeService
	queries   service.SessionQueryService
}

func NewSessionHandler(lifecycle service.SessionLifecycleService, finalize service.FinalizeService, queries service.SessionQueryService) *SessionHandler {
	return &SessionHandler{
		lifecycle: lifecycle,
		finalize:  finalize,
		queries:   queries,
	}
}

func (h *SessionHandler) Start(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid session start request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{SessionToken: logger.Ptr(req.SessionToken)})

	project := middleware.GetProject(ctx)
	result, err := h.lifecycle.Start(ctx, service.StartSessionParams{
		ProjectID:    project.ID,
		SessionToken: req.SessionToken,
		Metadata:     dto.ToSessionMetadata(req),
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to start session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start session"})
		return
	}

	c.JSON(http.StatusOK, dto.StartSessionResponse{
		Accepted:     true,
		SessionToken: result.SessionToken,
	})
}

func (h *SessionHandler) Heartbeat(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid heartbeat request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{SessionToken: logger.Ptr(req.SessionToken)})

	project := middleware.GetProject(ctx)
	result, err := h.lifecycle.Heartbeat(ctx, service.HeartbeatParams{
		ProjectID:    project.ID,
		SessionToken: req.SessionToken,
		EventCount:   req.EventCount,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to record heartbeat", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record heartbeat"})
		return
	}

	c.JSON(http.StatusOK, dto.HeartbeatResponse{Accepted: result.Accepted})
}

// End is the finalize signal. It is wired to sendBeacon on the client,
// which fires exactly once per tab close and cannot observe the response,
// so every outcome short of infrastructure failure maps to 200.
func (h *SessionHandler) End(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.EndSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid session end request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{SessionToken: logger.Ptr(req.SessionToken)})

	project := middleware.GetProject(ctx)
	result, err := h.finalize.Finalize(ctx, service.FinalizeParams{
		ProjectID:       project.ID,
		SessionToken:    req.SessionToken,
		Reason:          req.Reason,
		TimestampMS:     req.Timestamp,
		FinalEventCount: req.FinalEventCount,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to finalize session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to finalize session"})
		return
	}

	c.JSON(http.StatusOK, dto.EndSessionResponse{
		Accepted:       true,
		VideoJobQueued: result.VideoJobQueued,
	})
}

func (h *SessionHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	var status *model.SessionStatus
	if raw := c.Query("status"); raw != "" {
		st := model.SessionStatus(raw)
		switch st {
		case model.SessionStatusActive, model.SessionStatusCompleted, model.SessionStatusProcessing,
			model.SessionStatusReady, model.SessionStatusFailed:
			status = &st
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
			return
		}
	}

	limit, err := queryInt32(c, "limit")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	offset, err := queryInt32(c, "offset")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
		return
	}

	project := middleware.GetProject(ctx)
	result, err := h.queries.List(ctx, service.ListSessionsParams{
		ProjectID: project.ID,
		Status:    status,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to list sessions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}

	c.JSON(http.StatusOK, dto.ToListSessionsResponse(result.Sessions, result.Total))
}

func (h *SessionHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	token := c.Param("token")

	project := middleware.GetProject(ctx)
	sess, err := h.queries.Get(ctx, project.ID, token)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to fetch session", "error", err, "session_token", token)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch session"})
		return
	}

	c.JSON(http.StatusOK, dto.ToSessionDetail(sess))
}

func (h *SessionHandler) Events(c *gin.Context) {
	ctx := c.Request.Context()
	token := c.Param("token")

	project := middleware.GetProject(ctx)
	result, err := h.queries.Events(ctx, project.ID, token)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to fetch session events", "error", err, "session_token", token)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch session events"})
		return
	}

	c.JSON(http.StatusOK, dto.ToSessionEventsResponse(result.Session, result.Events))
}

func queryInt32(c *gin.Context, name string) (int32, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}
