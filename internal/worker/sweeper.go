package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"replaycast.app/studio/common/logger"
	"replaycast.app/studio/internal/model"
	"replaycast.app/studio/internal/queue"
)

type SweeperConfig struct {
	Interval       time.Duration
	StaleThreshold time.Duration
	MinDuration    time.Duration
	BatchSize      int32
}

// Sweeper finalizes sessions whose recorder vanished without sending the
// end signal (killed tab, dropped laptop lid, lost network). A session
// counts as stale when its last heartbeat, or its start when it never
// heartbeated, is older than the threshold.
type Sweeper struct {
	stores   StoreProvider
	producer queue.Producer
	cfg      SweeperConfig

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewSweeper(stores StoreProvider, producer queue.Producer, cfg SweeperConfig) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{
		stores:    stores,
		producer:  producer,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run starts the sweep loop. Blocks until Stop() is called.
func (s *Sweeper) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "studio.worker.sweeper",
	})

	defer close(s.stoppedCh)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "sweeper started",
		"interval", s.cfg.Interval,
		"stale_threshold", s.cfg.StaleThreshold)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			slog.InfoContext(ctx, "sweeper stopping")
			return
		case <-ticker.C:
			if err := s.sweepOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "sweep cycle error", "error", err)
			}
		}
	}
}

// Stop signals the sweeper to stop gracefully.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.stoppedCh
}

func (s *Sweeper) sweepOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.cfg.StaleThreshold)
	stale, err := s.stores.Sessions().ListStale(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("listing stale sessions: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "sweeping stale sessions", "count", len(stale))

	for i := range stale {
		if err := s.sweepSession(ctx, &stale[i]); err != nil {
			slog.ErrorContext(ctx, "failed to sweep session",
				"error", err,
				"session_id", stale[i].ID,
				"session_token", stale[i].SessionToken)
			// Continue with other sessions
		}
	}

	return nil
}

func (s *Sweeper) sweepSession(ctx context.Context, sess *model.Session) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		SessionID:    logger.Ptr(sess.ID.String()),
		SessionToken: &sess.SessionToken,
	})

	// The last heartbeat is the best estimate of when the recorder died.
	// A session that never heartbeated gets the sweep time, which
	// overstates the duration but keeps ended_at sane.
	endedAt := time.Now().UTC()
	if sess.LastHeartbeatAt != nil {
		endedAt = *sess.LastHeartbeatAt
	}

	duration := endedAt.Sub(sess.StartedAt)
	if duration < 0 {
		duration = 0
	}

	completed, err := s.stores.Sessions().Complete(ctx, sess.ID, endedAt, int32(duration/time.Second), nil)
	if err != nil {
		return fmt.Errorf("completing stale session: %w", err)
	}
	if !completed {
		// A finalize signal beat us to it.
		slog.DebugContext(ctx, "stale session already finalized")
		return nil
	}

	queued := false
	if duration >= s.cfg.MinDuration && sess.EventCount > 0 {
		if err := s.producer.Enqueue(ctx, queue.RenderJob{
			SessionID:    sess.ID,
			ProjectID:    sess.ProjectID,
			SessionToken: sess.SessionToken,
			Attempt:      1,
		}); err != nil {
			return fmt.Errorf("enqueueing render for swept session: %w", err)
		}
		queued = true
	}

	slog.InfoContext(ctx, "stale session completed",
		"duration_seconds", int32(duration/time.Second),
		"event_count", sess.EventCount,
		"video_job_queued", queued)
	return nil
}
