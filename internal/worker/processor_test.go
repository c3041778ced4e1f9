package worker_test

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"replaycast.app/studio/internal/model"
	"replaycast.app/studio/internal/queue"
	"replaycast.app/studio/internal/render"
	"replaycast.app/studio/internal/store"
	"replaycast.app/studio/internal/worker"
)

var _ = Describe("RenderProcessor", func() {
	var (
		processor *worker.RenderProcessor
		provider  *mockStoreProvider
		renderer  *mockRenderer
		publisher *mockPublisher
		ctx       context.Context
		msg       queue.Message
	)

	BeforeEach(func() {
		ctx = context.Background()
		provider = newMockStoreProvider()
		renderer = &mockRenderer{}
		publisher = &mockPublisher{}
		processor = worker.NewRenderProcessor(provider, renderer, publisher)
		msg = queue.Message{
			ID:           "1700000000000-0",
			SessionID:    uuid.New(),
			ProjectID:    uuid.New(),
			SessionToken: "sess-tok-proc",
			Attempt:      1,
		}
	})

	It("drops the message when the session cannot be claimed", func() {
		provider.sessions.claimFn = func(_ context.Context, id uuid.UUID) (bool, error) {
			Expect(id).To(Equal(msg.SessionID))
			return false, nil
		}
		rendered := false
		renderer.renderFn = func(context.Context, []model.Event, string) (*render.Result, error) {
			rendered = true
			return nil, nil
		}

		Expect(processor.Process(ctx, msg)).To(Succeed())
		Expect(rendered).To(BeFalse())
	})

	It("propagates claim failures", func() {
		provider.sessions.claimFn = func(context.Context, uuid.UUID) (bool, error) {
			return false, errors.New("connection refused")
		}

		err := processor.Process(ctx, msg)
		Expect(err).To(MatchError(ContainSubstring("claiming session")))
	})

	It("renders, publishes, and marks the session ready", func() {
		events := []model.Event{{SequenceNumber: 0}, {SequenceNumber: 1}}
		provider.events.listBySessionFn = func(_ context.Context, sid uuid.UUID) ([]model.Event, error) {
			Expect(sid).To(Equal(msg.SessionID))
			return events, nil
		}
		renderer.renderFn = func(_ context.Context, evs []model.Event, outputDir string) (*render.Result, error) {
			Expect(evs).To(HaveLen(2))
			Expect(outputDir).NotTo(BeEmpty())
			return &render.Result{
				VideoPath:     outputDir + "/replay.webm",
				ThumbnailPath: outputDir + "/thumbnail.jpg",
				KeyframesPath: outputDir + "/keyframes.json",
				DurationMS:    45_000,
				SizeBytes:     1 << 20,
			}, nil
		}
		var artifacts store.ArtifactUpdate
		provider.sessions.markReadyFn = func(_ context.Context, id uuid.UUID, a store.ArtifactUpdate) (bool, error) {
			Expect(id).To(Equal(msg.SessionID))
			artifacts = a
			return true, nil
		}

		Expect(processor.Process(ctx, msg)).To(Succeed())
		Expect(artifacts.VideoURL).To(Equal("https://cdn.example.com/video.webm"))
		Expect(artifacts.VideoDurationMS).To(Equal(int64(45_000)))
		Expect(artifacts.VideoSizeBytes).To(Equal(int64(1 << 20)))
		Expect(artifacts.GeneratedAt).To(BeTemporally("~", time.Now().UTC(), 5*time.Second))
		Expect(artifacts.ThumbnailURL).To(HaveValue(Equal("https://cdn.example.com/thumbnail.jpg")))
		Expect(artifacts.KeyframesURL).To(HaveValue(Equal("https://cdn.example.com/keyframes.json")))
	})

	It("passes render errors through for the worker to classify", func() {
		renderer.renderFn = func(context.Context, []model.Event, string) (*render.Result, error) {
			return nil, render.ErrPlayerNotReady
		}

		err := processor.Process(ctx, msg)
		Expect(err).To(MatchError(render.ErrPlayerNotReady))
	})

	It("treats a failed video upload as transient", func() {
		publisher.publishVideoFn = func(context.Context, string, uuid.UUID, uuid.UUID) (string, error) {
			return "", errors.New("bucket unavailable")
		}
		markCalled := false
		provider.sessions.markReadyFn = func(context.Context, uuid.UUID, store.ArtifactUpdate) (bool, error) {
			markCalled = true
			return true, nil
		}

		err := processor.Process(ctx, msg)
		Expect(err).To(MatchError(ContainSubstring("publishing video")))
		Expect(markCalled).To(BeFalse())
	})

	It("ships the replay without a thumbnail when its upload fails", func() {
		renderer.renderFn = func(_ context.Context, _ []model.Event, outputDir string) (*render.Result, error) {
			return &render.Result{
				VideoPath:     outputDir + "/replay.webm",
				ThumbnailPath: outputDir + "/thumbnail.jpg",
				DurationMS:    1000,
				SizeBytes:     2048,
			}, nil
		}
		publisher.publishThumbnailFn = func(context.Context, string, uuid.UUID, uuid.UUID) (string, error) {
			return "", errors.New("bucket unavailable")
		}
		var artifacts store.ArtifactUpdate
		provider.sessions.markReadyFn = func(_ context.Context, _ uuid.UUID, a store.ArtifactUpdate) (bool, error) {
			artifacts = a
			return true, nil
		}

		Expect(processor.Process(ctx, msg)).To(Succeed())
		Expect(artifacts.VideoURL).NotTo(BeEmpty())
		Expect(artifacts.ThumbnailURL).To(BeNil())
	})

	It("drops the result when the session drifted during the render", func() {
		provider.sessions.markReadyFn = func(context.Context, uuid.UUID, store.ArtifactUpdate) (bool, error) {
			return false, nil
		}

		Expect(processor.Process(ctx, msg)).To(Succeed())
	})

	Describe("Fail", func() {
		It("marks the session failed", func() {
			failed := false
			provider.sessions.markFailedFn = func(_ context.Context, id uuid.UUID) error {
				failed = true
				Expect(id).To(Equal(msg.SessionID))
				return nil
			}

			processor.Fail(ctx, msg)
			Expect(failed).To(BeTrue())
		})
	})

	Describe("Release", func() {
		It("hands the claim back", func() {
			released := false
			provider.sessions.unclaimFn = func(_ context.Context, id uuid.UUID) (bool, error) {
				released = true
				Expect(id).To(Equal(msg.SessionID))
				return true, nil
			}

			processor.Release(ctx, msg)
			Expect(released).To(BeTrue())
		})

		It("tolerates a claim that was never held", func() {
			provider.sessions.unclaimFn = func(context.Context, uuid.UUID) (bool, error) {
				return false, nil
			}

			processor.Release(ctx, msg)
		})
	})
})
