package service

import (
	"log/slog"

	"replaycast.app/studio/core/config"
	"replaycast.app/studio/internal/queue"
	"replaycast.app/studio/internal/staging"
	"replaycast.app/studio/internal/store"
)

type Services struct {
	stores     *store.Stores
	txRunner   TxRunner
	staging    staging.Store
	producer   queue.Producer
	sessionCfg config.SessionConfig
	logger     *slog.Logger
}

func NewServices(stores *store.Stores, txRunner TxRunner, stagingStore staging.Store, producer queue.Producer, sessionCfg config.SessionConfig, logger *slog.Logger) *Services {
	return &Services{
		stores:     stores,
		txRunner:   txRunner,
		staging:    stagingStore,
		producer:   producer,
		sessionCfg: sessionCfg,
		logger:     logger,
	}
}

func (s *Services) Lifecycle() SessionLifecycleService {
	return NewSessionLifecycleService(s.stores, s.staging, s.logger)
}

func (s *Services) Ingest() IngestService {
	return NewIngestService(s.stores, s.txRunner, s.staging, s.logger)
}

func (s *Services) Finalize() FinalizeService {
	return NewFinalizeService(s.stores, s.txRunner, s.staging, s.producer, s.sessionCfg, s.logger)
}

func (s *Services) Queries() SessionQueryService {
	return NewSessionQueryService(s.stores)
}

func (s *Services) Video() VideoService {
	return NewVideoService(s.stores, s.producer, s.logger)
}
