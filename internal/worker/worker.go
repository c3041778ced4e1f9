package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"replaycast.app/studio/common/logger"
	"replaycast.app/studio/internal/queue"
	"replaycast.app/studio/internal/render"
)

type Config struct {
	Concurrency int
	MaxAttempts int
	JobTimeout  time.Duration
}

// Worker pulls render jobs off the stream and runs them on a bounded
// pool. Renders are long (real-time playback), so unlike a typical
// consumer loop the pool size, not the batch size, is the throughput
// knob.
type Worker struct {
	consumer  Consumer
	processor JobProcessor
	cfg       Config

	sem       chan struct{}
	wg        sync.WaitGroup
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, processor JobProcessor, cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Worker{
		consumer:  consumer,
		processor: processor,
		cfg:       cfg,
		sem:       make(chan struct{}, cfg.Concurrency),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	slog.InfoContext(ctx, "worker started",
		"concurrency", w.cfg.Concurrency,
		"job_timeout", w.cfg.JobTimeout,
		"max_attempts", w.cfg.MaxAttempts)

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping, draining jobs")
			w.wg.Wait()
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		select {
		case w.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		w.wg.Add(1)
		go func(msg queue.Message) {
			defer w.wg.Done()
			defer func() { <-w.sem }()

			if err := w.processMessageSafe(ctx, msg); err != nil {
				slog.ErrorContext(ctx, "render job failed",
					"error", err,
					"message_id", msg.ID,
					"session_id", msg.SessionID)
				w.handleFailedMessage(ctx, msg, err)
			}
		}(msg)
	}

	return nil
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in render job",
				"panic", r,
				"message_id", msg.ID,
				"session_id", msg.SessionID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// ProcessMessage runs one render job under the job timeout and settles
// the message. Exported so it can be reused by the reclaimer.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	// The producer stamps the enqueuing trace onto the message; resume it
	// so the render shows up under the finalize request's trace.
	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.process_message",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer sc.End()
	ctx = sc.Context()

	msgID := msg.ID
	attempt := int64(msg.Attempt)
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID:    &msgID,
		SessionID:    logger.Ptr(msg.SessionID.String()),
		SessionToken: &msg.SessionToken,
		Attempt:      &attempt,
	})

	slog.InfoContext(ctx, "processing render job",
		"message_id", msg.ID,
		"session_id", msg.SessionID,
		"attempt", msg.Attempt)

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	err := w.processor.Process(jobCtx, msg)

	switch {
	case err == nil:
		w.ack(ctx, msg)
		slog.InfoContext(ctx, "render job finished",
			"session_id", msg.SessionID,
			"duration_ms", time.Since(start).Milliseconds())
		return nil

	case render.IsFatal(err) || errors.Is(err, context.DeadlineExceeded):
		// Retrying cannot fix these; regenerate is the recovery path.
		sc.RecordError(err)
		slog.ErrorContext(ctx, "render failed permanently",
			"error", err,
			"session_id", msg.SessionID,
			"timed_out", errors.Is(err, context.DeadlineExceeded))
		w.processor.Fail(ctx, msg)
		w.ack(ctx, msg)
		return nil

	default:
		// Transient: hand the session back so a retry can claim it.
		sc.RecordError(err)
		w.processor.Release(ctx, msg)
		return err
	}
}

func (w *Worker) ack(ctx context.Context, msg queue.Message) {
	if err := w.consumer.Ack(ctx, msg); err != nil {
		// Message will be reclaimed; reprocessing is safe because claim
		// is a guarded transition.
		slog.WarnContext(ctx, "failed to ACK message",
			"error", err,
			"message_id", msg.ID)
	}
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "max attempts reached, sending to DLQ",
			"message_id", msg.ID,
			"session_id", msg.SessionID,
			"attempts", msg.Attempt)
		w.processor.Fail(ctx, msg)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed render job",
		"message_id", msg.ID,
		"session_id", msg.SessionID,
		"attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
