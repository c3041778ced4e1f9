package dto

import (
	"time"

	"replaycast.app/studio/internal/model"
)

// Dimensions carries a width/height pair from the recorder (screen or
// viewport size at session start).
type Dimensions struct {
	Width  int32 `json:"width"`
	Height int32 `json:"height"`
}

// SessionMetadata is the page snapshot the recorder sends on start.
// Everything except the token is best-effort; a recorder running in a
// locked-down browser may omit most of it.
type SessionMetadata struct {
	URL       *string     `json:"url,omitempty"`
	Referrer  *string     `json:"referrer,omitempty"`
	UserAgent *string     `json:"userAgent,omitempty"`
	Screen    *Dimensions `json:"screen,omitempty"`
	Viewport  *Dimensions `json:"viewport,omitempty"`
	// Unix milliseconds at recorder start.
	Timestamp int64 `json:"timestamp,omitempty"`
}

type StartSessionRequest struct {
	SessionToken string           `json:"sessionToken" binding:"required"`
	UserID       *string          `json:"userId,omitempty"`
	UserEmail    *string          `json:"userEmail,omitempty"`
	Metadata     *SessionMetadata `json:"metadata,omitempty"`
}

type StartSessionResponse struct {
	Accepted     bool   `json:"accepted"`
	SessionToken string `json:"sessionToken"`
}

type HeartbeatRequest struct {
	SessionToken string `json:"sessionToken" binding:"required"`
	Timestamp    int64  `json:"timestamp,omitempty"`
	EventCount   int32  `json:"eventCount,omitempty"`
}

type HeartbeatResponse struct {
	Accepted bool `json:"accepted"`
}

type EndSessionRequest struct {
	SessionToken    string  `json:"sessionToken" binding:"required"`
	Reason          *string `json:"reason,omitempty"`
	Timestamp       int64   `json:"timestamp,omitempty"`
	FinalEventCount *int32  `json:"finalEventCount,omitempty"`
}

type EndSessionResponse struct {
	Accepted       bool `json:"accepted"`
	VideoJobQueued bool `json:"videoJobQueued"`
}

type SessionSummary struct {
	SessionToken    string     `json:"sessionToken"`
	Status          string     `json:"status"`
	UserID          *string    `json:"userId,omitempty"`
	PageURL         *string    `json:"pageUrl,omitempty"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	DurationSeconds *int32     `json:"durationSeconds,omitempty"`
	EventCount      int32      `json:"eventCount"`
	HasVideo        bool       `json:"hasVideo"`
}

type SessionDetail struct {
	SessionToken    string     `json:"sessionToken"`
	Status          string     `json:"status"`
	UserID          *string    `json:"userId,omitempty"`
	UserEmail       *string    `json:"userEmail,omitempty"`
	PageURL         *string    `json:"pageUrl,omitempty"`
	Referrer        *string    `json:"referrer,omitempty"`
	UserAgent       *string    `json:"userAgent,omitempty"`
	ScreenWidth     *int32     `json:"screenWidth,omitempty"`
	ScreenHeight    *int32     `json:"screenHeight,omitempty"`
	ViewportWidth   *int32     `json:"viewportWidth,omitempty"`
	ViewportHeight  *int32     `json:"viewportHeight,omitempty"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	DurationSeconds *int32     `json:"durationSeconds,omitempty"`
	EventCount      int32      `json:"eventCount"`
	HasVideo        bool       `json:"hasVideo"`

	VideoURL         *string    `json:"videoUrl,omitempty"`
	ThumbnailURL     *string    `json:"thumbnailUrl,omitempty"`
	KeyframesURL     *string    `json:"keyframesUrl,omitempty"`
	VideoGeneratedAt *time.Time `json:"videoGeneratedAt,omitempty"`
	VideoDurationMS  *int64     `json:"videoDurationMs,omitempty"`
	VideoSizeBytes   *int64     `json:"videoSizeBytes,omitempty"`
}

type ListSessionsResponse struct {
	Sessions []SessionSummary `json:"sessions"`
	Total    int64            `json:"total"`
}

func ToSessionMetadata(req StartSessionRequest) model.SessionMetadata {
	meta := model.SessionMetadata{
		UserID:    req.UserID,
		UserEmail: req.UserEmail,
	}
	if req.Metadata == nil {
		return meta
	}

	meta.PageURL = req.Metadata.URL
	meta.Referrer = req.Metadata.Referrer
	meta.UserAgent = req.Metadata.UserAgent
	meta.StartTimestampMS = req.Metadata.Timestamp
	if screen := req.Metadata.Screen; screen != nil {
		meta.ScreenWidth = &screen.Width
		meta.ScreenHeight = &screen.Height
	}
	if viewport := req.Metadata.Viewport; viewport != nil {
		meta.ViewportWidth = &viewport.Width
		meta.ViewportHeight = &viewport.Height
	}
	return meta
}

func ToSessionSummary(sess *model.Session) SessionSummary {
	return SessionSummary{
		SessionToken:    sess.SessionToken,
		Status:          string(sess.Status),
		UserID:          sess.UserID,
		PageURL:         sess.PageURL,
		StartedAt:       sess.StartedAt,
		EndedAt:         sess.EndedAt,
		DurationSeconds: sess.DurationSeconds,
		EventCount:      sess.EventCount,
		HasVideo:        sess.HasVideo(),
	}
}

func ToSessionDetail(sess *model.Session) SessionDetail {
	return SessionDetail{
		SessionToken:     sess.SessionToken,
		Status:           string(sess.Status),
		UserID:           sess.UserID,
		UserEmail:        sess.UserEmail,
		PageURL:          sess.PageURL,
		Referrer:         sess.Referrer,
		UserAgent:        sess.UserAgent,
		ScreenWidth:      sess.ScreenWidth,
		ScreenHeight:     sess.ScreenHeight,
		ViewportWidth:    sess.ViewportWidth,
		ViewportHeight:   sess.ViewportHeight,
		StartedAt:        sess.StartedAt,
		EndedAt:          sess.EndedAt,
		DurationSeconds:  sess.DurationSeconds,
		EventCount:       sess.EventCount,
		HasVideo:         sess.HasVideo(),
		VideoURL:         sess.VideoURL,
		ThumbnailURL:     sess.ThumbnailURL,
		KeyframesURL:     sess.KeyframesURL,
		VideoGeneratedAt: sess.VideoGeneratedAt,
		VideoDurationMS:  sess.VideoDurationMS,
		VideoSizeBytes:   sess.VideoSizeBytes,
	}
}

func ToListSessionsResponse(sessions []model.Session, total int64) ListSessionsResponse {
	out := ListSessionsResponse{
		Sessions: make([]SessionSummary, len(sessions)),
		Total:    total,
	}
	for i := range sessions {
		out.Sessions[i] = ToSessionSummary(&sessions[i])
	}
	return out
}
