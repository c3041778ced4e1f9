package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"replaycast.app/studio/internal/model"
)

const sessionColumns = `id, project_id, session_token, status,
	user_id, user_email, page_url, referrer, user_agent,
	screen_width, screen_height, viewport_width, viewport_height,
	started_at, ended_at, last_heartbeat_at, duration_seconds, event_count,
	video_url, thumbnail_url, keyframes_url, video_duration_ms, video_size_bytes, video_generated_at,
	created_at, updated_at`

type sessionStore struct {
	db DBTX
}

func newSessionStore(db DBTX) SessionStore {
	return &sessionStore{db: db}
}

func (s *sessionStore) Create(ctx context.Context, sess *model.Session) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO sessions (
			id, project_id, session_token, status,
			user_id, user_email, page_url, referrer, user_agent,
			screen_width, screen_height, viewport_width, viewport_height,
			started_at, ended_at, last_heartbeat_at, duration_seconds, event_count
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16, $17, $18
		)
		RETURNING created_at, updated_at`,
		sess.ID, sess.ProjectID, sess.SessionToken, string(sess.Status),
		sess.UserID, sess.UserEmail, sess.PageURL, sess.Referrer, sess.UserAgent,
		sess.ScreenWidth, sess.ScreenHeight, sess.ViewportWidth, sess.ViewportHeight,
		sess.StartedAt, sess.EndedAt, sess.LastHeartbeatAt, sess.DurationSeconds, sess.EventCount,
	).Scan(&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

func (s *sessionStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (s *sessionStore) GetByToken(ctx context.Context, projectID uuid.UUID, token string) (*model.Session, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE project_id = $1 AND session_token = $2`,
		projectID, token)
	return scanSession(row)
}

func (s *sessionStore) List(ctx context.Context, projectID uuid.UUID, status *model.SessionStatus, limit, offset int32) ([]model.Session, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE project_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY started_at DESC
		LIMIT $3 OFFSET $4`,
		projectID, statusArg(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

func (s *sessionStore) Count(ctx context.Context, projectID uuid.UUID, status *model.SessionStatus) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM sessions
		WHERE project_id = $1 AND ($2::text IS NULL OR status = $2)`,
		projectID, statusArg(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return count, nil
}

func (s *sessionStore) Complete(ctx context.Context, id uuid.UUID, endedAt time.Time, durationSeconds int32, eventCount *int32) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE sessions
		SET status = 'completed',
			ended_at = $2,
			duration_seconds = $3,
			event_count = COALESCE($4, event_count),
			updated_at = now()
		WHERE id = $1 AND status = 'active'`,
		id, endedAt, durationSeconds, eventCount)
	if err != nil {
		return false, fmt.Errorf("completing session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *sessionStore) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE sessions SET status = 'processing', updated_at = now()
		WHERE id = $1 AND status = 'completed'`, id)
	if err != nil {
		return false, fmt.Errorf("claiming session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *sessionStore) Unclaim(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE sessions SET status = 'completed', updated_at = now()
		WHERE id = $1 AND status = 'processing'`, id)
	if err != nil {
		return false, fmt.Errorf("unclaiming session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *sessionStore) MarkReady(ctx context.Context, id uuid.UUID, artifacts ArtifactUpdate) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE sessions
		SET status = 'ready',
			video_url = $2,
			thumbnail_url = $3,
			keyframes_url = $4,
			video_duration_ms = $5,
			video_size_bytes = $6,
			video_generated_at = $7,
			updated_at = now()
		WHERE id = $1 AND status = 'processing'`,
		id, artifacts.VideoURL, artifacts.ThumbnailURL, artifacts.KeyframesURL,
		artifacts.VideoDurationMS, artifacts.VideoSizeBytes, artifacts.GeneratedAt)
	if err != nil {
		return false, fmt.Errorf("marking session ready: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *sessionStore) MarkFailed(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE sessions SET status = 'failed', updated_at = now()
		WHERE id = $1 AND status IN ('completed', 'processing')`, id)
	if err != nil {
		return fmt.Errorf("marking session failed: %w", err)
	}
	return nil
}

func (s *sessionStore) Rearm(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE sessions
		SET status = 'completed',
			video_url = NULL,
			thumbnail_url = NULL,
			keyframes_url = NULL,
			video_duration_ms = NULL,
			video_size_bytes = NULL,
			video_generated_at = NULL,
			updated_at = now()
		WHERE id = $1 AND status IN ('completed', 'ready', 'failed')`, id)
	if err != nil {
		return false, fmt.Errorf("rearming session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *sessionStore) Heartbeat(ctx context.Context, id uuid.UUID, at time.Time, eventCount int32) error {
	_, err := s.db.Exec(ctx, `
		UPDATE sessions
		SET last_heartbeat_at = $2,
			event_count = GREATEST(event_count, $3),
			updated_at = now()
		WHERE id = $1 AND status = 'active'`,
		id, at, eventCount)
	if err != nil {
		return fmt.Errorf("recording heartbeat: %w", err)
	}
	return nil
}

func (s *sessionStore) AddEvents(ctx context.Context, id uuid.UUID, count int32, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE sessions
		SET event_count = event_count + $2,
			last_heartbeat_at = $3,
			updated_at = now()
		WHERE id = $1`,
		id, count, at)
	if err != nil {
		return fmt.Errorf("bumping event count: %w", err)
	}
	return nil
}

func (s *sessionStore) ListStale(ctx context.Context, olderThan time.Time, limit int32) ([]model.Session, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE status = 'active'
		  AND ((last_heartbeat_at IS NOT NULL AND last_heartbeat_at < $1)
		    OR (last_heartbeat_at IS NULL AND started_at < $1))
		ORDER BY started_at ASC
		LIMIT $2`,
		olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("listing stale sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

func scanSession(row pgx.Row) (*model.Session, error) {
	var sess model.Session
	err := row.Scan(
		&sess.ID, &sess.ProjectID, &sess.SessionToken, &sess.Status,
		&sess.UserID, &sess.UserEmail, &sess.PageURL, &sess.Referrer, &sess.UserAgent,
		&sess.ScreenWidth, &sess.ScreenHeight, &sess.ViewportWidth, &sess.ViewportHeight,
		&sess.StartedAt, &sess.EndedAt, &sess.LastHeartbeatAt, &sess.DurationSeconds, &sess.EventCount,
		&sess.VideoURL, &sess.ThumbnailURL, &sess.KeyframesURL, &sess.VideoDurationMS, &sess.VideoSizeBytes, &sess.VideoGeneratedAt,
		&sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	return &sess, nil
}

func statusArg(status *model.SessionStatus) *string {
	if status == nil {
		return nil
	}
	s := string(*status)
	return &s
}
