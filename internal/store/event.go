package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"replaycast.app/studio/internal/model"
)

const eventColumns = `id, session_id, sequence_number, event_type, event_timestamp, payload, created_at`

type eventStore struct {
	db DBTX
}

func newEventStore(db DBTX) EventStore {
	return &eventStore{db: db}
}

func (s *eventStore) InsertBatch(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(`
			INSERT INTO events (id, session_id, sequence_number, event_type, event_timestamp, payload)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			ev.ID, ev.SessionID, ev.SequenceNumber, ev.EventType, ev.Timestamp, ev.Payload)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close() //nolint:errcheck

	for range events {
		if _, err := results.Exec(); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("inserting events: %w", err)
		}
	}
	return nil
}

func (s *eventStore) NextSequence(ctx context.Context, sessionID uuid.UUID) (int32, error) {
	var next int32
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number) + 1, 0) FROM events WHERE session_id = $1`,
		sessionID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("computing next sequence: %w", err)
	}
	return next, nil
}

func (s *eventStore) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.Event, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE session_id = $1 ORDER BY sequence_number ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var ev model.Event
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.SequenceNumber, &ev.EventType, &ev.Timestamp, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *eventStore) CountBySession(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM events WHERE session_id = $1`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return count, nil
}
