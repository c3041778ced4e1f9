package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"replaycast.app/studio/common/id"
	"replaycast.app/studio/core/config"
	"replaycast.app/studio/internal/model"
	"replaycast.app/studio/internal/service"
	"replaycast.app/studio/internal/staging"
	"replaycast.app/studio/internal/store"
)

var _ = Describe("FinalizeService", func() {
	var (
		svc       service.FinalizeService
		provider  *mockStoreProvider
		mockStage *mockStagingStore
		producer  *mockProducer
		ctx       context.Context
		projectID uuid.UUID
	)

	const token = "sess-tok-1"

	BeforeEach(func() {
		ctx = context.Background()
		projectID = uuid.New()
		provider = newMockStoreProvider()
		mockStage = &mockStagingStore{}
		producer = &mockProducer{}
		svc = service.NewFinalizeService(provider, &mockTxRunner{provider: provider}, mockStage, producer, config.SessionConfig{
			MinDuration: 30 * time.Second,
		}, nil)
		Expect(id.Init(1)).To(Succeed())
	})

	It("requires a session token", func() {
		_, err := svc.Finalize(ctx, service.FinalizeParams{ProjectID: projectID})
		Expect(err).To(HaveOccurred())
	})

	Context("when a durable row already exists", func() {
		It("treats a finalized row as an idempotent success", func() {
			sess := &model.Session{ID: uuid.New(), ProjectID: projectID, SessionToken: token, Status: model.SessionStatusReady}
			provider.sessions.getByTokenFn = func(_ context.Context, pid uuid.UUID, tok string) (*model.Session, error) {
				Expect(pid).To(Equal(projectID))
				Expect(tok).To(Equal(token))
				return sess, nil
			}
			lockTaken := false
			mockStage.tryAcquireFinalizeFn = func(context.Context, string) (bool, error) {
				lockTaken = true
				return true, nil
			}

			res, err := svc.Finalize(ctx, service.FinalizeParams{ProjectID: projectID, SessionToken: token})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(service.FinalizeOutcomeAlreadyFinal))
			Expect(res.Session).To(Equal(sess))
			Expect(lockTaken).To(BeFalse())
			Expect(producer.jobs).To(BeEmpty())
		})

		It("completes an active row and queues a render past the minimum duration", func() {
			sess := &model.Session{
				ID:           uuid.New(),
				ProjectID:    projectID,
				SessionToken: token,
				Status:       model.SessionStatusActive,
				StartedAt:    time.Now().UTC().Add(-60 * time.Second),
			}
			provider.sessions.getByTokenFn = func(context.Context, uuid.UUID, string) (*model.Session, error) {
				return sess, nil
			}
			finalCount := int32(42)
			provider.sessions.completeFn = func(_ context.Context, sid uuid.UUID, endedAt time.Time, durationSeconds int32, eventCount *int32) (bool, error) {
				Expect(sid).To(Equal(sess.ID))
				Expect(endedAt).To(BeTemporally("~", time.Now().UTC(), time.Second))
				Expect(durationSeconds).To(BeNumerically("~", 60, 2))
				Expect(eventCount).To(HaveValue(Equal(finalCount)))
				return true, nil
			}

			res, err := svc.Finalize(ctx, service.FinalizeParams{ProjectID: projectID, SessionToken: token, FinalEventCount: &finalCount})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(service.FinalizeOutcomeCompleted))
			Expect(res.VideoJobQueued).To(BeTrue())
			Expect(producer.jobs).To(HaveLen(1))
			Expect(producer.jobs[0].SessionID).To(Equal(sess.ID))
			Expect(producer.jobs[0].SessionToken).To(Equal(token))
			Expect(producer.jobs[0].Attempt).To(Equal(1))
		})

		It("completes a short active row without queuing a render", func() {
			sess := &model.Session{
				ID:           uuid.New(),
				ProjectID:    projectID,
				SessionToken: token,
				Status:       model.SessionStatusActive,
				StartedAt:    time.Now().UTC().Add(-5 * time.Second),
			}
			provider.sessions.getByTokenFn = func(context.Context, uuid.UUID, string) (*model.Session, error) {
				return sess, nil
			}

			res, err := svc.Finalize(ctx, service.FinalizeParams{ProjectID: projectID, SessionToken: token})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(service.FinalizeOutcomeCompleted))
			Expect(res.VideoJobQueued).To(BeFalse())
			Expect(producer.jobs).To(BeEmpty())
		})

		It("records the client end reason on the completion log", func() {
			var logs bytes.Buffer
			svc = service.NewFinalizeService(provider, &mockTxRunner{provider: provider}, mockStage, producer, config.SessionConfig{
				MinDuration: 30 * time.Second,
			}, slog.New(slog.NewTextHandler(&logs, nil)))

			sess := &model.Session{
				ID:           uuid.New(),
				ProjectID:    projectID,
				SessionToken: token,
				Status:       model.SessionStatusActive,
				StartedAt:    time.Now().UTC().Add(-60 * time.Second),
			}
			provider.sessions.getByTokenFn = func(context.Context, uuid.UUID, string) (*model.Session, error) {
				return sess, nil
			}

			reason := "tab_closed"
			_, err := svc.Finalize(ctx, service.FinalizeParams{ProjectID: projectID, SessionToken: token, Reason: &reason})
			Expect(err).NotTo(HaveOccurred())
			Expect(logs.String()).To(ContainSubstring("end_reason=tab_closed"))
		})

		It("reports already finalized when another finalizer wins the completion race", func() {
			sess := &model.Session{
				ID:           uuid.New(),
				ProjectID:    projectID,
				SessionToken: token,
				Status:       model.SessionStatusActive,
				StartedAt:    time.Now().UTC().Add(-60 * time.Second),
			}
			provider.sessions.getByTokenFn = func(context.Context, uuid.UUID, string) (*model.Session, error) {
				return sess, nil
			}
			provider.sessions.completeFn = func(context.Context, uuid.UUID, time.Time, int32, *int32) (bool, error) {
				return false, nil
			}

			res, err := svc.Finalize(ctx, service.FinalizeParams{ProjectID: projectID, SessionToken: token})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(service.FinalizeOutcomeAlreadyFinal))
			Expect(producer.jobs).To(BeEmpty())
		})
	})

	Context("when the finalize lock is contended", func() {
		It("backs off while another finalize is in flight", func() {
			mockStage.tryAcquireFinalizeFn = func(context.Context, string) (bool, error) {
				return false, nil
			}
			pendingRead := false
			mockStage.getPendingFn = func(context.Context, string) (*staging.PendingSession, error) {
				pendingRead = true
				return nil, staging.ErrNotFound
			}

			res, err := svc.Finalize(ctx, service.FinalizeParams{ProjectID: projectID, SessionToken: token})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(service.FinalizeOutcomeInFlight))
			Expect(pendingRead).To(BeFalse())
			Expect(mockStage.releaseCalls).To(BeZero())
		})

		It("adopts a row promoted while waiting for the lock", func() {
			calls := 0
			promoted := &model.Session{ID: uuid.New(), ProjectID: projectID, SessionToken: token, Status: model.SessionStatusCompleted}
			provider.sessions.getByTokenFn = func(context.Context, uuid.UUID, string) (*model.Session, error) {
				calls++
				if calls == 1 {
					return nil, store.ErrNotFound
				}
				return promoted, nil
			}

			res, err := svc.Finalize(ctx, service.FinalizeParams{ProjectID: projectID, SessionToken: token})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(service.FinalizeOutcomeAlreadyFinal))
			Expect(res.Session).To(Equal(promoted))
			Expect(mockStage.releaseCalls).To(Equal(1))
			Expect(producer.jobs).To(BeEmpty())
		})
	})

	Context("when only staging knows the token", func() {
		It("reports no pending for a token unknown everywhere", func() {
			res, err := svc.Finalize(ctx, service.FinalizeParams{ProjectID: projectID, SessionToken: token})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(service.FinalizeOutcomeNoPending))
			Expect(res.Session).To(BeNil())
			Expect(mockStage.releaseCalls).To(Equal(1))
		})

		It("discards a staged session with no start timestamp", func() {
			mockStage.getPendingFn = func(context.Context, string) (*staging.PendingSession, error) {
				return &staging.PendingSession{SessionToken: token, ProjectID: projectID}, nil
			}

			res, err := svc.Finalize(ctx, service.FinalizeParams{ProjectID: projectID, SessionToken: token})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(service.FinalizeOutcomeDiscarded))
			Expect(mockStage.deletePendingCalls).To(Equal(1))
			Expect(provider.sessions.createCalls).To(BeZero())
			Expect(producer.jobs).To(BeEmpty())
		})

		It("discards a staged session below the minimum duration", func() {
			startMS := time.Now().Add(-10 * time.Second).UnixMilli()
			mockStage.getPendingFn = func(context.Context, string) (*staging.PendingSession, error) {
				return &staging.PendingSession{
					SessionToken: token,
					ProjectID:    projectID,
					Metadata:     model.SessionMetadata{StartTimestampMS: startMS},
				}, nil
			}

			res, err := svc.Finalize(ctx, service.FinalizeParams{ProjectID: projectID, SessionToken: token})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(service.FinalizeOutcomeDiscarded))
			Expect(mockStage.deletePendingCalls).To(Equal(1))
			Expect(provider.sessions.createCalls).To(BeZero())
			Expect(producer.jobs).To(BeEmpty())
		})

		It("promotes a qualifying staged session with its buffered events", func() {
			startMS := int64(1_700_000_000_000)
			endMS := startMS + 45_000
			pageURL := "https://app.example.com/checkout"
			mockStage.getPendingFn = func(context.Context, string) (*staging.PendingSession, error) {
				return &staging.PendingSession{
					SessionToken: token,
					ProjectID:    projectID,
					Metadata: model.SessionMetadata{
						PageURL:          &pageURL,
						StartTimestampMS: startMS,
					},
				}, nil
			}
			mockStage.eventsFn = func(context.Context, string) ([]json.RawMessage, error) {
				return []json.RawMessage{
					json.RawMessage(`{"type":4,"timestamp":1700000000100}`),
					json.RawMessage(`{"type":2,"timestamp":1700000000200}`),
					json.RawMessage(`{"type":3,"timestamp":1700000000300}`),
				}, nil
			}

			var createdID uuid.UUID
			provider.sessions.createFn = func(_ context.Context, sess *model.Session) error {
				createdID = sess.ID
				Expect(sess.ProjectID).To(Equal(projectID))
				Expect(sess.SessionToken).To(Equal(token))
				Expect(sess.Status).To(Equal(model.SessionStatusCompleted))
				Expect(sess.StartedAt).To(Equal(time.UnixMilli(startMS).UTC()))
				Expect(sess.EndedAt).To(HaveValue(Equal(time.UnixMilli(endMS).UTC())))
				Expect(sess.DurationSeconds).To(HaveValue(Equal(int32(45))))
				Expect(sess.EventCount).To(Equal(int32(3)))
				Expect(sess.PageURL).To(HaveValue(Equal(pageURL)))
				return nil
			}
			var inserted []model.Event
			provider.events.insertBatchFn = func(_ context.Context, events []model.Event) error {
				inserted = events
				return nil
			}

			res, err := svc.Finalize(ctx, service.FinalizeParams{ProjectID: projectID, SessionToken: token, TimestampMS: endMS})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(service.FinalizeOutcomePromoted))
			Expect(res.VideoJobQueued).To(BeTrue())
			Expect(res.Session.ID).To(Equal(createdID))

			Expect(inserted).To(HaveLen(3))
			for i, ev := range inserted {
				Expect(ev.SessionID).To(Equal(createdID))
				Expect(ev.SequenceNumber).To(Equal(int32(i)))
				Expect(ev.ID).NotTo(BeZero())
			}
			Expect(inserted[0].EventType).To(Equal("4"))
			Expect(inserted[1].Timestamp).To(Equal(int64(1_700_000_000_200)))

			Expect(mockStage.deletePendingCalls).To(Equal(1))
			Expect(mockStage.releaseCalls).To(Equal(1))
			Expect(producer.jobs).To(HaveLen(1))
			Expect(producer.jobs[0].SessionID).To(Equal(createdID))
			Expect(producer.jobs[0].Attempt).To(Equal(1))
		})

		It("adopts the winner's row when the insert hits the unique constraint", func() {
			startMS := time.Now().Add(-2 * time.Minute).UnixMilli()
			mockStage.getPendingFn = func(context.Context, string) (*staging.PendingSession, error) {
				return &staging.PendingSession{
					SessionToken: token,
					ProjectID:    projectID,
					Metadata:     model.SessionMetadata{StartTimestampMS: startMS},
				}, nil
			}
			winner := &model.Session{ID: uuid.New(), ProjectID: projectID, SessionToken: token, Status: model.SessionStatusCompleted}
			calls := 0
			provider.sessions.getByTokenFn = func(context.Context, uuid.UUID, string) (*model.Session, error) {
				calls++
				if calls <= 2 {
					return nil, store.ErrNotFound
				}
				return winner, nil
			}
			provider.sessions.createFn = func(context.Context, *model.Session) error {
				return store.ErrDuplicate
			}

			res, err := svc.Finalize(ctx, service.FinalizeParams{ProjectID: projectID, SessionToken: token})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(service.FinalizeOutcomeAlreadyPromoted))
			Expect(res.Session).To(Equal(winner))
			Expect(res.VideoJobQueued).To(BeFalse())
			Expect(producer.jobs).To(BeEmpty())
			Expect(mockStage.deletePendingCalls).To(Equal(1))
		})

		It("propagates staging read failures", func() {
			mockStage.getPendingFn = func(context.Context, string) (*staging.PendingSession, error) {
				return nil, errors.New("redis gone")
			}

			_, err := svc.Finalize(ctx, service.FinalizeParams{ProjectID: projectID, SessionToken: token})
			Expect(err).To(MatchError(ContainSubstring("redis gone")))
			Expect(mockStage.releaseCalls).To(Equal(1))
		})
	})
})
