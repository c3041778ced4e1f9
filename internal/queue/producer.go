package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RenderJob asks a worker to turn one session's event stream into a
// replay video. Jobs are keyed by session id; the token and project id
// ride along so the worker can log and publish without extra lookups.
type RenderJob struct {
	SessionID    uuid.UUID
	ProjectID    uuid.UUID
	SessionToken string
	TraceID      *string
	Attempt      int
}

type Producer interface {
	Enqueue(ctx context.Context, job RenderJob) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, job RenderJob) error {
	attempt := job.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	fields := map[string]any{
		"session_id":    job.SessionID.String(),
		"project_id":    job.ProjectID.String(),
		"session_token": job.SessionToken,
		"attempt":       attempt,
		"enqueued_at":   time.Now().UnixMilli(),
	}

	if job.TraceID != nil && *job.TraceID != "" {
		fields["trace_id"] = *job.TraceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue render job: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued render job", "session_id", job.SessionID, "session_token", job.SessionToken, "attempt", attempt)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
