// Package staging holds recording sessions in Redis until they prove
// worth keeping. Nothing here is durable: every key carries a TTL and
// the whole tier can be lost with no effect beyond dropped recordings.
package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"replaycast.app/studio/internal/model"
)

var ErrNotFound = errors.New("pending session not found")

const (
	pendingSessionKeyPrefix = "pending_session:"
	pendingEventsKeyPrefix  = "pending_events:"
	finalizeLockKeyPrefix   = "session_end_processing:"
)

// PendingSession is the staged record written on session start. The
// durable row does not exist yet; this is all we know about the session
// until promotion.
type PendingSession struct {
	SessionToken string                `json:"session_token"`
	ProjectID    uuid.UUID             `json:"project_id"`
	Metadata     model.SessionMetadata `json:"metadata"`
}

type Store interface {
	CreatePending(ctx context.Context, rec PendingSession) error
	GetPending(ctx context.Context, token string) (*PendingSession, error)
	// DeletePending removes the pending record and its buffered events.
	DeletePending(ctx context.Context, token string) error

	// AppendEvents buffers raw event payloads and returns the new buffer
	// length. The buffer TTL is refreshed on every append.
	AppendEvents(ctx context.Context, token string, payloads []json.RawMessage) (int64, error)
	Events(ctx context.Context, token string) ([]json.RawMessage, error)

	// RefreshTTL extends both the pending record and the event buffer,
	// keeping a heartbeating session alive in staging.
	RefreshTTL(ctx context.Context, token string) error

	// TryAcquireFinalize takes the finalize lock for the token. False
	// means another finalize is already in flight. The lock is a race
	// dampener, not ownership: correctness rests on the durable unique
	// constraint, and the TTL bounds how long a crashed holder blocks.
	TryAcquireFinalize(ctx context.Context, token string) (bool, error)
	ReleaseFinalize(ctx context.Context, token string) error
}

type redisStore struct {
	client     *redis.Client
	pendingTTL time.Duration
	lockTTL    time.Duration
}

func NewRedisStore(client *redis.Client, pendingTTL, lockTTL time.Duration) Store {
	return &redisStore{
		client:     client,
		pendingTTL: pendingTTL,
		lockTTL:    lockTTL,
	}
}

func (s *redisStore) CreatePending(ctx context.Context, rec PendingSession) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling pending session: %w", err)
	}
	if err := s.client.Set(ctx, pendingSessionKeyPrefix+rec.SessionToken, payload, s.pendingTTL).Err(); err != nil {
		return fmt.Errorf("writing pending session: %w", err)
	}
	return nil
}

func (s *redisStore) GetPending(ctx context.Context, token string) (*PendingSession, error) {
	raw, err := s.client.Get(ctx, pendingSessionKeyPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading pending session: %w", err)
	}

	var rec PendingSession
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling pending session: %w", err)
	}
	return &rec, nil
}

func (s *redisStore) DeletePending(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, pendingSessionKeyPrefix+token, pendingEventsKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("deleting pending session: %w", err)
	}
	return nil
}

func (s *redisStore) AppendEvents(ctx context.Context, token string, payloads []json.RawMessage) (int64, error) {
	if len(payloads) == 0 {
		return s.client.LLen(ctx, pendingEventsKeyPrefix+token).Result()
	}

	values := make([]any, len(payloads))
	for i, p := range payloads {
		values[i] = []byte(p)
	}

	key := pendingEventsKeyPrefix + token
	length, err := s.client.RPush(ctx, key, values...).Result()
	if err != nil {
		return 0, fmt.Errorf("buffering events: %w", err)
	}
	// Refresh on every append so a recreated list (append racing the TTL
	// reaper) never lingers without an expiry.
	if err := s.client.Expire(ctx, key, s.pendingTTL).Err(); err != nil {
		return 0, fmt.Errorf("refreshing event buffer ttl: %w", err)
	}
	return length, nil
}

func (s *redisStore) Events(ctx context.Context, token string) ([]json.RawMessage, error) {
	raw, err := s.client.LRange(ctx, pendingEventsKeyPrefix+token, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading buffered events: %w", err)
	}

	events := make([]json.RawMessage, len(raw))
	for i, r := range raw {
		events[i] = json.RawMessage(r)
	}
	return events, nil
}

func (s *redisStore) RefreshTTL(ctx context.Context, token string) error {
	if err := s.client.Expire(ctx, pendingSessionKeyPrefix+token, s.pendingTTL).Err(); err != nil {
		return fmt.Errorf("refreshing pending session ttl: %w", err)
	}
	if err := s.client.Expire(ctx, pendingEventsKeyPrefix+token, s.pendingTTL).Err(); err != nil {
		return fmt.Errorf("refreshing event buffer ttl: %w", err)
	}
	return nil
}

func (s *redisStore) TryAcquireFinalize(ctx context.Context, token string) (bool, error) {
	acquired, err := s.client.SetNX(ctx, finalizeLockKeyPrefix+token, "1", s.lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring finalize lock: %w", err)
	}
	return acquired, nil
}

func (s *redisStore) ReleaseFinalize(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, finalizeLockKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("releasing finalize lock: %w", err)
	}
	return nil
}
