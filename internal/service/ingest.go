package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"replaycast.app/studio/common/id"
	"replaycast.app/studio/internal/model"
	"replaycast.app/studio/internal/staging"
	"replaycast.app/studio/internal/store"
)

type IngestParams struct {
	ProjectID    uuid.UUID
	SessionToken string
	Events       []json.RawMessage
}

type IngestResult struct {
	EventsReceived int
	// SessionFinalized tells the recorder its token is dead: the session
	// was finalized (or abandoned) and further batches should go to a
	// fresh session.
	SessionFinalized bool
}

type IngestService interface {
	Ingest(ctx context.Context, params IngestParams) (*IngestResult, error)
}

type ingestService struct {
	stores   StoreProvider
	txRunner TxRunner
	staging  staging.Store
	logger   *slog.Logger
}

func NewIngestService(stores StoreProvider, txRunner TxRunner, stagingStore staging.Store, logger *slog.Logger) IngestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ingestService{
		stores:   stores,
		txRunner: txRunner,
		staging:  stagingStore,
		logger:   logger,
	}
}

// Ingest routes an event batch to whichever tier currently owns the
// session: the durable store once promoted, the staging buffer before
// that. Batches for finalized or unknown sessions are accepted and
// dropped, the recorder cannot usefully retry them.
func (s *ingestService) Ingest(ctx context.Context, params IngestParams) (*IngestResult, error) {
	if params.SessionToken == "" {
		return nil, fmt.Errorf("session_token is required")
	}
	if len(params.Events) == 0 {
		return &IngestResult{}, nil
	}

	sess, err := s.stores.Sessions().GetByToken(ctx, params.ProjectID, params.SessionToken)
	switch {
	case err == nil && sess.Status.Finalized():
		s.logger.InfoContext(ctx, "dropping events for finalized session",
			"session_token", params.SessionToken,
			"status", sess.Status,
			"event_count", len(params.Events))
		return &IngestResult{SessionFinalized: true}, nil
	case err == nil:
		if err := s.appendDurable(ctx, sess.ID, params.Events); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				// A racing batch already claimed these sequence numbers.
				// The recorder double-sends and cannot retry, so a
				// duplicate insert degrades to accepted.
				s.logger.InfoContext(ctx, "dropping event batch that lost a sequence race",
					"session_token", params.SessionToken,
					"event_count", len(params.Events))
				return &IngestResult{EventsReceived: len(params.Events)}, nil
			}
			return nil, err
		}
		return &IngestResult{EventsReceived: len(params.Events)}, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("fetching session: %w", err)
	}

	// Not durable: buffer in staging while the pending record lives.
	if _, err := s.staging.GetPending(ctx, params.SessionToken); err != nil {
		if errors.Is(err, staging.ErrNotFound) {
			s.logger.InfoContext(ctx, "dropping events for unknown session", "session_token", params.SessionToken, "event_count", len(params.Events))
			return &IngestResult{SessionFinalized: true}, nil
		}
		return nil, fmt.Errorf("reading pending session: %w", err)
	}

	buffered, err := s.staging.AppendEvents(ctx, params.SessionToken, params.Events)
	if err != nil {
		return nil, fmt.Errorf("buffering events: %w", err)
	}

	s.logger.DebugContext(ctx, "events buffered", "session_token", params.SessionToken, "batch", len(params.Events), "buffered_total", buffered)
	return &IngestResult{EventsReceived: len(params.Events)}, nil
}

// appendDurable writes the batch with gapless sequence numbers. The
// event-count UPDATE runs first: it takes the session row lock, so
// concurrent transactions assign sequence numbers one at a time instead
// of both reading the same MAX and colliding on insert.
func (s *ingestService) appendDurable(ctx context.Context, sessionID uuid.UUID, payloads []json.RawMessage) error {
	return s.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		if err := sp.Sessions().AddEvents(ctx, sessionID, int32(len(payloads)), time.Now().UTC()); err != nil {
			return fmt.Errorf("bumping event count: %w", err)
		}

		next, err := sp.Events().NextSequence(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("computing next sequence: %w", err)
		}

		events := make([]model.Event, len(payloads))
		for i, payload := range payloads {
			eventType, timestamp := model.EventMeta(payload)
			events[i] = model.Event{
				ID:             id.New(),
				SessionID:      sessionID,
				SequenceNumber: next + int32(i),
				EventType:      eventType,
				Timestamp:      timestamp,
				Payload:        payload,
			}
		}

		if err := sp.Events().InsertBatch(ctx, events); err != nil {
			return fmt.Errorf("inserting events: %w", err)
		}
		return nil
	})
}
