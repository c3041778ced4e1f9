package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"replaycast.app/studio/common/id"
	"replaycast.app/studio/core/config"
	"replaycast.app/studio/internal/model"
	"replaycast.app/studio/internal/queue"
	"replaycast.app/studio/internal/staging"
	"replaycast.app/studio/internal/store"
)

type FinalizeParams struct {
	ProjectID    uuid.UUID
	SessionToken string
	Reason       *string
	// Client-declared finalize time in unix milliseconds; zero falls
	// back to the server clock.
	TimestampMS     int64
	FinalEventCount *int32
}

type FinalizeOutcome string

const (
	// A durable terminal row already existed; nothing to do.
	FinalizeOutcomeAlreadyFinal FinalizeOutcome = "already_finalized"
	// Another finalize holds the lock; it will do the work.
	FinalizeOutcomeInFlight FinalizeOutcome = "finalize_in_flight"
	// We promoted the staged session into the durable store.
	FinalizeOutcomePromoted FinalizeOutcome = "promoted"
	// A concurrent promoter won the insert race; we adopted its row.
	FinalizeOutcomeAlreadyPromoted FinalizeOutcome = "already_promoted"
	// The staged session did not qualify and was discarded.
	FinalizeOutcomeDiscarded FinalizeOutcome = "discarded"
	// No trace of the token anywhere; long-expired or never started.
	FinalizeOutcomeNoPending FinalizeOutcome = "no_pending"
	// A durable active row was completed (legacy eager-write path).
	FinalizeOutcomeCompleted FinalizeOutcome = "completed"
)

type FinalizeResult struct {
	Outcome        FinalizeOutcome
	VideoJobQueued bool
	Session        *model.Session
}

// FinalizeService decides, once per session, whether a recording
// graduates from staging into the durable store. Sessions shorter than
// the configured minimum are discarded without ever touching Postgres.
type FinalizeService interface {
	Finalize(ctx context.Context, params FinalizeParams) (*FinalizeResult, error)
}

type finalizeService struct {
	stores   StoreProvider
	txRunner TxRunner
	staging  staging.Store
	producer queue.Producer
	cfg      config.SessionConfig
	logger   *slog.Logger
}

func NewFinalizeService(stores StoreProvider, txRunner TxRunner, stagingStore staging.Store, producer queue.Producer, cfg config.SessionConfig, logger *slog.Logger) FinalizeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &finalizeService{
		stores:   stores,
		txRunner: txRunner,
		staging:  stagingStore,
		producer: producer,
		cfg:      cfg,
		logger:   logger,
	}
}

// Finalize is safe to call any number of times for the same token, from
// any number of callers at once. Every path degrades to success; the
// single durable row and single render job are guaranteed by the unique
// constraint on (project_id, session_token), not by the lock.
func (s *finalizeService) Finalize(ctx context.Context, params FinalizeParams) (*FinalizeResult, error) {
	if params.SessionToken == "" {
		return nil, fmt.Errorf("session_token is required")
	}

	endedAt := time.Now().UTC()
	if params.TimestampMS > 0 {
		endedAt = time.UnixMilli(params.TimestampMS).UTC()
	}
	endReason := "unspecified"
	if params.Reason != nil && *params.Reason != "" {
		endReason = *params.Reason
	}

	// Durable row first: most finalize calls hit a session that was
	// already promoted or eagerly written.
	sess, err := s.stores.Sessions().GetByToken(ctx, params.ProjectID, params.SessionToken)
	switch {
	case err == nil && sess.Status.Finalized():
		return &FinalizeResult{Outcome: FinalizeOutcomeAlreadyFinal, Session: sess}, nil
	case err == nil:
		return s.completeActive(ctx, sess, endedAt, endReason, params.FinalEventCount)
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("fetching session: %w", err)
	}

	acquired, err := s.staging.TryAcquireFinalize(ctx, params.SessionToken)
	if err != nil {
		return nil, fmt.Errorf("acquiring finalize lock: %w", err)
	}
	if !acquired {
		return &FinalizeResult{Outcome: FinalizeOutcomeInFlight}, nil
	}
	defer func() {
		if relErr := s.staging.ReleaseFinalize(ctx, params.SessionToken); relErr != nil {
			s.logger.WarnContext(ctx, "failed to release finalize lock", "session_token", params.SessionToken, "error", relErr)
		}
	}()

	// Re-check under the lock: a promoter may have finished between our
	// first read and the acquire.
	sess, err = s.stores.Sessions().GetByToken(ctx, params.ProjectID, params.SessionToken)
	switch {
	case err == nil && sess.Status.Finalized():
		return &FinalizeResult{Outcome: FinalizeOutcomeAlreadyFinal, Session: sess}, nil
	case err == nil:
		return s.completeActive(ctx, sess, endedAt, endReason, params.FinalEventCount)
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("fetching session: %w", err)
	}

	pending, err := s.staging.GetPending(ctx, params.SessionToken)
	if err != nil {
		if errors.Is(err, staging.ErrNotFound) {
			return &FinalizeResult{Outcome: FinalizeOutcomeNoPending}, nil
		}
		return nil, fmt.Errorf("reading pending session: %w", err)
	}

	startMS := pending.Metadata.StartTimestampMS
	if startMS <= 0 {
		s.discardStaging(ctx, params.SessionToken, "missing start timestamp")
		return &FinalizeResult{Outcome: FinalizeOutcomeDiscarded}, nil
	}

	duration := endedAt.Sub(time.UnixMilli(startMS).UTC())
	if duration < s.cfg.MinDuration {
		s.discardStaging(ctx, params.SessionToken, fmt.Sprintf("duration %.1fs below minimum", duration.Seconds()))
		return &FinalizeResult{Outcome: FinalizeOutcomeDiscarded}, nil
	}

	payloads, err := s.staging.Events(ctx, params.SessionToken)
	if err != nil {
		return nil, fmt.Errorf("reading buffered events: %w", err)
	}

	promoted, created, err := s.promote(ctx, pending, payloads, startMS, endedAt, int32(duration/time.Second))
	if err != nil {
		return nil, err
	}

	if err := s.staging.DeletePending(ctx, params.SessionToken); err != nil {
		// TTL reclaims it; the durable row is already the source of truth.
		s.logger.WarnContext(ctx, "failed to clear staging after promotion", "session_token", params.SessionToken, "error", err)
	}

	if !created {
		s.logger.InfoContext(ctx, "session promoted by concurrent finalize", "session_token", params.SessionToken, "session_id", promoted.ID)
		return &FinalizeResult{Outcome: FinalizeOutcomeAlreadyPromoted, Session: promoted}, nil
	}

	if err := enqueueRender(ctx, s.producer, promoted, 1); err != nil {
		return nil, fmt.Errorf("enqueueing render job: %w", err)
	}

	s.logger.InfoContext(ctx, "session promoted",
		"session_token", params.SessionToken,
		"session_id", promoted.ID,
		"end_reason", endReason,
		"duration_seconds", promoted.DurationSeconds,
		"event_count", promoted.EventCount)

	return &FinalizeResult{Outcome: FinalizeOutcomePromoted, VideoJobQueued: true, Session: promoted}, nil
}

// completeActive handles the legacy eager-write path: the durable row
// already exists and is still active, so finalizing is a guarded status
// flip plus the duration gate for rendering.
func (s *finalizeService) completeActive(ctx context.Context, sess *model.Session, endedAt time.Time, endReason string, finalEventCount *int32) (*FinalizeResult, error) {
	duration := endedAt.Sub(sess.StartedAt)
	if duration < 0 {
		duration = 0
	}

	ok, err := s.stores.Sessions().Complete(ctx, sess.ID, endedAt, int32(duration/time.Second), finalEventCount)
	if err != nil {
		return nil, fmt.Errorf("completing session: %w", err)
	}
	if !ok {
		// Lost the race to another finalizer.
		return &FinalizeResult{Outcome: FinalizeOutcomeAlreadyFinal, Session: sess}, nil
	}

	if duration < s.cfg.MinDuration {
		s.logger.InfoContext(ctx, "session completed without render",
			"session_token", sess.SessionToken,
			"end_reason", endReason,
			"duration_seconds", duration.Seconds())
		return &FinalizeResult{Outcome: FinalizeOutcomeCompleted, Session: sess}, nil
	}

	if err := enqueueRender(ctx, s.producer, sess, 1); err != nil {
		return nil, fmt.Errorf("enqueueing render job: %w", err)
	}
	s.logger.InfoContext(ctx, "session completed",
		"session_token", sess.SessionToken,
		"end_reason", endReason,
		"duration_seconds", duration.Seconds())
	return &FinalizeResult{Outcome: FinalizeOutcomeCompleted, VideoJobQueued: true, Session: sess}, nil
}

// promote inserts the session and its buffered events in one
// transaction. A duplicate key means a concurrent finalize already
// promoted the token; the existing row is adopted (created=false).
func (s *finalizeService) promote(ctx context.Context, pending *staging.PendingSession, payloads []json.RawMessage, startMS int64, endedAt time.Time, durationSeconds int32) (*model.Session, bool, error) {
	sess := &model.Session{
		ID:              uuid.New(),
		ProjectID:       pending.ProjectID,
		SessionToken:    pending.SessionToken,
		Status:          model.SessionStatusCompleted,
		StartedAt:       time.UnixMilli(startMS).UTC(),
		EndedAt:         &endedAt,
		DurationSeconds: &durationSeconds,
		EventCount:      int32(len(payloads)),
	}
	pending.Metadata.Apply(sess)

	err := s.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		if err := sp.Sessions().Create(ctx, sess); err != nil {
			return err
		}
		if len(payloads) == 0 {
			return nil
		}

		events := make([]model.Event, len(payloads))
		for i, payload := range payloads {
			eventType, timestamp := model.EventMeta(payload)
			events[i] = model.Event{
				ID:             id.New(),
				SessionID:      sess.ID,
				SequenceNumber: int32(i),
				EventType:      eventType,
				Timestamp:      timestamp,
				Payload:        payload,
			}
		}
		return sp.Events().InsertBatch(ctx, events)
	})
	if err == nil {
		return sess, true, nil
	}
	if errors.Is(err, store.ErrDuplicate) {
		existing, getErr := s.stores.Sessions().GetByToken(ctx, pending.ProjectID, pending.SessionToken)
		if getErr != nil {
			return nil, false, fmt.Errorf("re-reading promoted session: %w", getErr)
		}
		return existing, false, nil
	}
	return nil, false, fmt.Errorf("promoting session: %w", err)
}

func (s *finalizeService) discardStaging(ctx context.Context, token, reason string) {
	if err := s.staging.DeletePending(ctx, token); err != nil {
		s.logger.WarnContext(ctx, "failed to discard staged session", "session_token", token, "error", err)
		return
	}
	s.logger.InfoContext(ctx, "staged session discarded", "session_token", token, "reason", reason)
}

func enqueueRender(ctx context.Context, producer queue.Producer, sess *model.Session, attempt int) error {
	return producer.Enqueue(ctx, queue.RenderJob{
		SessionID:    sess.ID,
		ProjectID:    sess.ProjectID,
		SessionToken: sess.SessionToken,
		TraceID:      traceIDFromContext(ctx),
		Attempt:      attempt,
	})
}

func traceIDFromContext(ctx context.Context) *string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	traceID := sc.TraceID().String()
	return &traceID
}
