package model

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "active"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusProcessing SessionStatus = "processing"
	SessionStatusReady      SessionStatus = "ready"
	SessionStatusFailed     SessionStatus = "failed"
)

// Finalized reports whether the session has left the active phase.
// Finalized sessions reject new events and treat repeat finalize
// signals as idempotent successes.
func (s SessionStatus) Finalized() bool {
	return s != SessionStatusActive && s != ""
}

// Session is a durable recording session. Rows exist only for sessions
// that were promoted from staging (duration cleared the minimum) or were
// created through the legacy eager-write path.
type Session struct {
	ID           uuid.UUID     `json:"id"`
	ProjectID    uuid.UUID     `json:"project_id"`
	SessionToken string        `json:"session_token"`
	Status       SessionStatus `json:"status"`

	// Client metadata snapshot, captured at session start.
	UserID         *string `json:"user_id,omitempty"`
	UserEmail      *string `json:"user_email,omitempty"`
	PageURL        *string `json:"page_url,omitempty"`
	Referrer       *string `json:"referrer,omitempty"`
	UserAgent      *string `json:"user_agent,omitempty"`
	ScreenWidth    *int32  `json:"screen_width,omitempty"`
	ScreenHeight   *int32  `json:"screen_height,omitempty"`
	ViewportWidth  *int32  `json:"viewport_width,omitempty"`
	ViewportHeight *int32  `json:"viewport_height,omitempty"`

	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`
	DurationSeconds *int32     `json:"duration_seconds,omitempty"`
	EventCount      int32      `json:"event_count"`

	// Artifact fields, set by the render pipeline only.
	VideoURL         *string    `json:"video_url,omitempty"`
	ThumbnailURL     *string    `json:"thumbnail_url,omitempty"`
	KeyframesURL     *string    `json:"keyframes_url,omitempty"`
	VideoDurationMS  *int64     `json:"video_duration_ms,omitempty"`
	VideoSizeBytes   *int64     `json:"video_size_bytes,omitempty"`
	VideoGeneratedAt *time.Time `json:"video_generated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasVideo reports whether a published replay exists for the session.
// Consumers (e.g. the analysis subsystem) key off this predicate rather
// than the status enum.
func (s *Session) HasVideo() bool {
	return s.VideoURL != nil && *s.VideoURL != ""
}
