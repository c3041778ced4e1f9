package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"replaycast.app/studio/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert collides with an existing row.
// For session promotion this is the "someone else already promoted it"
// signal, not a failure.
var ErrDuplicate = errors.New("duplicate key")

// ArtifactUpdate carries the outputs of a successful render pipeline run.
type ArtifactUpdate struct {
	VideoURL        string
	ThumbnailURL    *string
	KeyframesURL    *string
	VideoDurationMS int64
	VideoSizeBytes  int64
	GeneratedAt     time.Time
}

// SessionStore defines the contract for durable session data access.
// State transitions are guarded updates: the bool result reports whether
// the row was in the expected source state.
type SessionStore interface {
	Create(ctx context.Context, sess *model.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Session, error)
	GetByToken(ctx context.Context, projectID uuid.UUID, token string) (*model.Session, error)
	List(ctx context.Context, projectID uuid.UUID, status *model.SessionStatus, limit, offset int32) ([]model.Session, error)
	Count(ctx context.Context, projectID uuid.UUID, status *model.SessionStatus) (int64, error)

	// Complete moves active -> completed. A nil eventCount keeps the
	// stored counter.
	Complete(ctx context.Context, id uuid.UUID, endedAt time.Time, durationSeconds int32, eventCount *int32) (bool, error)
	// Claim moves completed -> processing ahead of a render run.
	Claim(ctx context.Context, id uuid.UUID) (bool, error)
	// Unclaim moves processing -> completed so a retry can re-claim.
	Unclaim(ctx context.Context, id uuid.UUID) (bool, error)
	// MarkReady moves processing -> ready and records artifacts. False
	// means the session drifted out of processing mid-render.
	MarkReady(ctx context.Context, id uuid.UUID, artifacts ArtifactUpdate) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID) error
	// Rearm resets a finished session to completed and clears artifact
	// fields so the render pipeline can pick it up again.
	Rearm(ctx context.Context, id uuid.UUID) (bool, error)

	Heartbeat(ctx context.Context, id uuid.UUID, at time.Time, eventCount int32) error
	AddEvents(ctx context.Context, id uuid.UUID, count int32, at time.Time) error
	ListStale(ctx context.Context, olderThan time.Time, limit int32) ([]model.Session, error)
}

// EventStore defines the contract for durable event data access
type EventStore interface {
	InsertBatch(ctx context.Context, events []model.Event) error
	// NextSequence returns max(sequence_number)+1 for the session, or 0
	// when no events exist yet.
	NextSequence(ctx context.Context, sessionID uuid.UUID) (int32, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.Event, error)
	CountBySession(ctx context.Context, sessionID uuid.UUID) (int64, error)
}

// ProjectStore defines the contract for project data access
type ProjectStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Project, error)
	GetByAPIKeyHash(ctx context.Context, hash string) (*model.Project, error)
}
