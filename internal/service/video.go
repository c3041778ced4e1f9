package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"replaycast.app/studio/internal/model"
	"replaycast.app/studio/internal/queue"
	"replaycast.app/studio/internal/store"
)

var (
	ErrSessionActive    = errors.New("session is still active")
	ErrRenderInProgress = errors.New("render already in progress")
	ErrNoEventsToRender = errors.New("session has no events to render")
)

type RegenerateResult struct {
	VideoJobQueued bool
	Session        *model.Session
}

// VideoService is the operator-facing recovery path for the render
// pipeline: regenerate re-arms a failed (or finished) session and queues
// a fresh render.
type VideoService interface {
	Regenerate(ctx context.Context, projectID uuid.UUID, token string) (*RegenerateResult, error)
}

type videoService struct {
	stores   StoreProvider
	producer queue.Producer
	logger   *slog.Logger
}

func NewVideoService(stores StoreProvider, producer queue.Producer, logger *slog.Logger) VideoService {
	if logger == nil {
		logger = slog.Default()
	}
	return &videoService{
		stores:   stores,
		producer: producer,
		logger:   logger,
	}
}

func (s *videoService) Regenerate(ctx context.Context, projectID uuid.UUID, token string) (*RegenerateResult, error) {
	sess, err := s.stores.Sessions().GetByToken(ctx, projectID, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("fetching session: %w", err)
	}

	switch sess.Status {
	case model.SessionStatusActive:
		return nil, ErrSessionActive
	case model.SessionStatusProcessing:
		return nil, ErrRenderInProgress
	}

	if sess.EventCount == 0 {
		return nil, ErrNoEventsToRender
	}

	// Clears artifact fields and resets to completed so a worker can
	// claim it again. Zero rows means the status moved under us, the
	// only guarded-out state left is processing.
	ok, err := s.stores.Sessions().Rearm(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("rearming session: %w", err)
	}
	if !ok {
		return nil, ErrRenderInProgress
	}

	if err := enqueueRender(ctx, s.producer, sess, 1); err != nil {
		return nil, fmt.Errorf("enqueueing render job: %w", err)
	}

	s.logger.InfoContext(ctx, "session re-armed for render", "session_token", token, "session_id", sess.ID, "previous_status", sess.Status)
	return &RegenerateResult{VideoJobQueued: true, Session: sess}, nil
}
