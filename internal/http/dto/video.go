package dto

import (
	"time"

	"replaycast.app/studio/internal/model"
)

type VideoStatusResponse struct {
	SessionToken     string     `json:"sessionToken"`
	Status           string     `json:"status"`
	HasVideo         bool       `json:"hasVideo"`
	VideoURL         *string    `json:"videoUrl,omitempty"`
	ThumbnailURL     *string    `json:"thumbnailUrl,omitempty"`
	KeyframesURL     *string    `json:"keyframesUrl,omitempty"`
	VideoGeneratedAt *time.Time `json:"videoGeneratedAt,omitempty"`
	VideoDurationMS  *int64     `json:"videoDurationMs,omitempty"`
	VideoSizeBytes   *int64     `json:"videoSizeBytes,omitempty"`
}

type RegenerateVideoResponse struct {
	Accepted       bool `json:"accepted"`
	VideoJobQueued bool `json:"videoJobQueued"`
}

func ToVideoStatusResponse(sess *model.Session) VideoStatusResponse {
	return VideoStatusResponse{
		SessionToken:     sess.SessionToken,
		Status:           string(sess.Status),
		HasVideo:         sess.HasVideo(),
		VideoURL:         sess.VideoURL,
		ThumbnailURL:     sess.ThumbnailURL,
		KeyframesURL:     sess.KeyframesURL,
		VideoGeneratedAt: sess.VideoGeneratedAt,
		VideoDurationMS:  sess.VideoDurationMS,
		VideoSizeBytes:   sess.VideoSizeBytes,
	}
}
