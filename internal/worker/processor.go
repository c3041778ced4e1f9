package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"replaycast.app/studio/common/logger"
	"replaycast.app/studio/internal/publish"
	"replaycast.app/studio/internal/queue"
	"replaycast.app/studio/internal/render"
	"replaycast.app/studio/internal/store"
)

// RenderProcessor runs one render job end to end: claim the session,
// replay its events into a video, publish the artifacts, mark it ready.
type RenderProcessor struct {
	stores    StoreProvider
	renderer  render.Renderer
	publisher publish.Publisher
}

func NewRenderProcessor(stores StoreProvider, renderer render.Renderer, publisher publish.Publisher) *RenderProcessor {
	return &RenderProcessor{
		stores:    stores,
		renderer:  renderer,
		publisher: publisher,
	}
}

func (p *RenderProcessor) Process(ctx context.Context, msg queue.Message) error {
	claimed, err := p.stores.Sessions().Claim(ctx, msg.SessionID)
	if err != nil {
		return fmt.Errorf("claiming session: %w", err)
	}
	if !claimed {
		// Duplicate delivery, a concurrent worker, or a session that
		// moved on. All are resolved by dropping the message.
		p.logUnclaimable(ctx, msg)
		return nil
	}

	events, err := p.stores.Events().ListBySession(ctx, msg.SessionID)
	if err != nil {
		return fmt.Errorf("loading events: %w", err)
	}

	workDir, err := os.MkdirTemp("", "replay-render-")
	if err != nil {
		return fmt.Errorf("creating work dir: %w", err)
	}
	defer os.RemoveAll(workDir) //nolint:errcheck

	ctx = logger.WithLogFields(ctx, logger.LogFields{Stage: logger.Ptr("record")})
	result, err := p.renderer.Render(ctx, events, workDir)
	if err != nil {
		return err
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{Stage: logger.Ptr("upload")})
	videoURL, err := p.publisher.PublishVideo(ctx, result.VideoPath, msg.ProjectID, msg.SessionID)
	if err != nil {
		return fmt.Errorf("publishing video: %w", err)
	}

	artifacts := store.ArtifactUpdate{
		VideoURL:        videoURL,
		VideoDurationMS: result.DurationMS,
		VideoSizeBytes:  result.SizeBytes,
		GeneratedAt:     time.Now().UTC(),
	}

	// Thumbnail and keyframes are best-effort: the replay ships without
	// them rather than failing the job.
	if result.ThumbnailPath != "" {
		thumbURL, thumbErr := p.publisher.PublishThumbnail(ctx, result.ThumbnailPath, msg.ProjectID, msg.SessionID)
		if thumbErr != nil {
			slog.WarnContext(ctx, "thumbnail upload failed", "error", thumbErr, "session_id", msg.SessionID)
		} else {
			artifacts.ThumbnailURL = &thumbURL
		}
	}
	if result.KeyframesPath != "" {
		keyframesURL, kfErr := p.publisher.PublishKeyframes(ctx, result.KeyframesPath, msg.ProjectID, msg.SessionID)
		if kfErr != nil {
			slog.WarnContext(ctx, "keyframes upload failed", "error", kfErr, "session_id", msg.SessionID)
		} else {
			artifacts.KeyframesURL = &keyframesURL
		}
	}

	updated, err := p.stores.Sessions().MarkReady(ctx, msg.SessionID, artifacts)
	if err != nil {
		return fmt.Errorf("marking session ready: %w", err)
	}
	if !updated {
		// The session left processing while we rendered (operator
		// intervention or a sweep). Whatever state it reached now wins;
		// downgrading it to ready would lose that transition.
		slog.WarnContext(ctx, "session drifted during render, artifacts not recorded",
			"session_id", msg.SessionID,
			"video_url", videoURL)
		return nil
	}

	slog.InfoContext(ctx, "session replay published",
		"session_id", msg.SessionID,
		"video_url", videoURL,
		"video_size_bytes", result.SizeBytes,
		"video_duration_ms", result.DurationMS)
	return nil
}

// Fail marks the session failed after a fatal render error or attempt
// exhaustion. Failed sessions keep their events; regenerate re-arms them.
func (p *RenderProcessor) Fail(ctx context.Context, msg queue.Message) {
	if err := p.stores.Sessions().MarkFailed(ctx, msg.SessionID); err != nil {
		slog.ErrorContext(ctx, "failed to mark session failed",
			"error", err,
			"session_id", msg.SessionID)
	}
}

// Release hands a claimed session back to completed so the retry (or a
// reclaimed duplicate) can claim it again.
func (p *RenderProcessor) Release(ctx context.Context, msg queue.Message) {
	released, err := p.stores.Sessions().Unclaim(ctx, msg.SessionID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to release session claim",
			"error", err,
			"session_id", msg.SessionID)
		return
	}
	if !released {
		// Never held the claim (failure before Claim) or the session
		// moved on. Nothing to undo either way.
		slog.DebugContext(ctx, "no claim to release", "session_id", msg.SessionID)
	}
}

func (p *RenderProcessor) logUnclaimable(ctx context.Context, msg queue.Message) {
	sess, err := p.stores.Sessions().GetByID(ctx, msg.SessionID)
	if err != nil {
		slog.WarnContext(ctx, "dropping render job for missing session",
			"session_id", msg.SessionID,
			"error", err)
		return
	}
	slog.InfoContext(ctx, "dropping render job, session not claimable",
		"session_id", msg.SessionID,
		"status", sess.Status)
}
