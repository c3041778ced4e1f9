package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"replaycast.app/studio/internal/model"
	"replaycast.app/studio/internal/store"
)

var ErrSessionNotFound = errors.New("session not found")

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

type ListSessionsParams struct {
	ProjectID uuid.UUID
	Status    *model.SessionStatus
	Limit     int32
	Offset    int32
}

type ListSessionsResult struct {
	Sessions []model.Session
	Total    int64
}

type SessionEventsResult struct {
	Session *model.Session
	Events  []model.Event
}

type SessionQueryService interface {
	List(ctx context.Context, params ListSessionsParams) (*ListSessionsResult, error)
	Get(ctx context.Context, projectID uuid.UUID, token string) (*model.Session, error)
	Events(ctx context.Context, projectID uuid.UUID, token string) (*SessionEventsResult, error)
}

type sessionQueryService struct {
	stores StoreProvider
}

func NewSessionQueryService(stores StoreProvider) SessionQueryService {
	return &sessionQueryService{stores: stores}
}

func (s *sessionQueryService) List(ctx context.Context, params ListSessionsParams) (*ListSessionsResult, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	sessions, err := s.stores.Sessions().List(ctx, params.ProjectID, params.Status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	total, err := s.stores.Sessions().Count(ctx, params.ProjectID, params.Status)
	if err != nil {
		return nil, fmt.Errorf("counting sessions: %w", err)
	}

	return &ListSessionsResult{Sessions: sessions, Total: total}, nil
}

func (s *sessionQueryService) Get(ctx context.Context, projectID uuid.UUID, token string) (*model.Session, error) {
	sess, err := s.stores.Sessions().GetByToken(ctx, projectID, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("fetching session: %w", err)
	}
	return sess, nil
}

func (s *sessionQueryService) Events(ctx context.Context, projectID uuid.UUID, token string) (*SessionEventsResult, error) {
	sess, err := s.Get(ctx, projectID, token)
	if err != nil {
		return nil, err
	}

	events, err := s.stores.Events().ListBySession(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}

	return &SessionEventsResult{Session: sess, Events: events}, nil
}
