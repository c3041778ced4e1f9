package service

import (
	"context"

	"github.com/jackc/pgx/v5"

	"replaycast.app/studio/core/db"
	"replaycast.app/studio/internal/store"
)

// StoreProvider hands out the stores a service operation needs. It is
// implemented by *store.Stores in production and by mocks in tests; TxRunner
// supplies a transaction-bound implementation to transactional callbacks.
type StoreProvider interface {
	Sessions() store.SessionStore
	Events() store.EventStore
	Projects() store.ProjectStore
}

// TxRunner runs functions within a transaction and provides stores bound to that transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}

type dbTxRunner struct {
	db *db.DB
}

// NewTxRunner builds a TxRunner backed by the core DB.
func NewTxRunner(db *db.DB) TxRunner {
	return &dbTxRunner{db: db}
}

func (r *dbTxRunner) WithTx(ctx context.Context, fn func(stores StoreProvider) error) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		stores := store.NewStores(tx)
		return fn(stores)
	})
}
