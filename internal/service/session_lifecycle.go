package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"replaycast.app/studio/internal/model"
	"replaycast.app/studio/internal/staging"
	"replaycast.app/studio/internal/store"
)

type StartSessionParams struct {
	ProjectID    uuid.UUID
	SessionToken string
	Metadata     model.SessionMetadata
}

type StartSessionResult struct {
	SessionToken string
}

type HeartbeatParams struct {
	ProjectID    uuid.UUID
	SessionToken string
	EventCount   int32
}

type HeartbeatResult struct {
	// Accepted is false when neither tier knows the token, a signal for
	// the recorder to stop heartbeating and start a fresh session.
	Accepted bool
}

// SessionLifecycleService covers the cheap, high-frequency signals from
// the recorder: session start and heartbeat. Both touch staging or a
// single durable row and never block on anything heavier.
type SessionLifecycleService interface {
	Start(ctx context.Context, params StartSessionParams) (*StartSessionResult, error)
	Heartbeat(ctx context.Context, params HeartbeatParams) (*HeartbeatResult, error)
}

type sessionLifecycleService struct {
	stores  StoreProvider
	staging staging.Store
	logger  *slog.Logger
}

func NewSessionLifecycleService(stores StoreProvider, stagingStore staging.Store, logger *slog.Logger) SessionLifecycleService {
	if logger == nil {
		logger = slog.Default()
	}
	return &sessionLifecycleService{
		stores:  stores,
		staging: stagingStore,
		logger:  logger,
	}
}

// Start records the session in staging only. The durable row is created
// later, and only if the session finalizes with a qualifying duration.
func (s *sessionLifecycleService) Start(ctx context.Context, params StartSessionParams) (*StartSessionResult, error) {
	if params.SessionToken == "" {
		return nil, fmt.Errorf("session_token is required")
	}

	rec := staging.PendingSession{
		SessionToken: params.SessionToken,
		ProjectID:    params.ProjectID,
		Metadata:     params.Metadata,
	}
	if rec.Metadata.StartTimestampMS <= 0 {
		rec.Metadata.StartTimestampMS = time.Now().UnixMilli()
	}

	if err := s.staging.CreatePending(ctx, rec); err != nil {
		return nil, fmt.Errorf("staging session: %w", err)
	}

	s.logger.InfoContext(ctx, "session started", "session_token", params.SessionToken, "project_id", params.ProjectID)
	return &StartSessionResult{SessionToken: params.SessionToken}, nil
}

func (s *sessionLifecycleService) Heartbeat(ctx context.Context, params HeartbeatParams) (*HeartbeatResult, error) {
	if params.SessionToken == "" {
		return nil, fmt.Errorf("session_token is required")
	}

	sess, err := s.stores.Sessions().GetByToken(ctx, params.ProjectID, params.SessionToken)
	switch {
	case err == nil && sess.Status.Finalized():
		return &HeartbeatResult{Accepted: false}, nil
	case err == nil:
		if err := s.stores.Sessions().Heartbeat(ctx, sess.ID, time.Now().UTC(), params.EventCount); err != nil {
			return nil, fmt.Errorf("recording heartbeat: %w", err)
		}
		return &HeartbeatResult{Accepted: true}, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("fetching session: %w", err)
	}

	// Not durable yet: keep the staged session alive.
	if _, err := s.staging.GetPending(ctx, params.SessionToken); err != nil {
		if errors.Is(err, staging.ErrNotFound) {
			return &HeartbeatResult{Accepted: false}, nil
		}
		return nil, fmt.Errorf("reading pending session: %w", err)
	}
	if err := s.staging.RefreshTTL(ctx, params.SessionToken); err != nil {
		return nil, fmt.Errorf("refreshing staging ttl: %w", err)
	}
	return &HeartbeatResult{Accepted: true}, nil
}
