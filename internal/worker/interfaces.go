package worker

import (
	"context"

	"replaycast.app/studio/internal/queue"
	"replaycast.app/studio/internal/store"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// StoreProvider hands out the stores the worker needs. Implemented by
// *store.Stores in production and by mocks in tests.
type StoreProvider interface {
	Sessions() store.SessionStore
	Events() store.EventStore
}

// JobProcessor abstracts the render pipeline for testability. Process
// runs the job; Fail and Release move the session into its failure or
// retry state when the worker decides the job cannot complete.
type JobProcessor interface {
	Process(ctx context.Context, msg queue.Message) error
	Fail(ctx context.Context, msg queue.Message)
	Release(ctx context.Context, msg queue.Message)
}
