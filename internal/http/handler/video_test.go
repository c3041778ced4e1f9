package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"replaycast.app/studio/internal/http/handler"
	"replaycast.app/studio/internal/http/middleware"
	"replaycast.app/studio/internal/model"
	"replaycast.app/studio/internal/service"
	"replaycast.app/studio/internal/store"
)

var _ = Describe("VideoHandler", func() {
	var (
		router  *gin.Engine
		video   *mockVideoService
		queries *mockQueryService
		project *model.Project
		apiKey  string
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		video = &mockVideoService{}
		queries = &mockQueryService{}
		apiKey = "test-api-key"
		project = &model.Project{ID: uuid.New(), Name: "Test Project", APIKeyHash: middleware.HashAPIKey(apiKey)}
		projects := &mockProjectStore{
			getByAPIKeyHashFn: func(_ context.Context, hash string) (*model.Project, error) {
				if hash == project.APIKeyHash {
					return project, nil
				}
				return nil, store.ErrNotFound
			},
		}

		h := handler.NewVideoHandler(video, queries)
		sessions := router.Group("/api/v1/sessions")
		sessions.Use(middleware.APIKeyAuth(projects))
		{
			sessions.GET("/:token/video", h.Status)
			sessions.POST("/:token/regenerate-video", h.Regenerate)
		}
	})

	do := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("X-API-Key", apiKey)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	Describe("Status", func() {
		It("reports a published replay", func() {
			videoURL := "https://cdn.example.com/video.webm"
			generatedAt := time.Now().UTC().Add(-time.Minute)
			sizeBytes := int64(1 << 20)
			queries.getFn = func(_ context.Context, projectID uuid.UUID, token string) (*model.Session, error) {
				Expect(projectID).To(Equal(project.ID))
				Expect(token).To(Equal("sess-abc"))
				return &model.Session{
					SessionToken:     "sess-abc",
					Status:           model.SessionStatusReady,
					VideoURL:         &videoURL,
					VideoGeneratedAt: &generatedAt,
					VideoSizeBytes:   &sizeBytes,
				}, nil
			}

			w := do(http.MethodGet, "/api/v1/sessions/sess-abc/video")

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["hasVideo"]).To(BeTrue())
			Expect(resp["videoUrl"]).To(Equal(videoURL))
			Expect(resp["status"]).To(Equal("ready"))
		})

		It("reports a session still waiting on its render", func() {
			queries.getFn = func(context.Context, uuid.UUID, string) (*model.Session, error) {
				return &model.Session{SessionToken: "sess-abc", Status: model.SessionStatusProcessing}, nil
			}

			w := do(http.MethodGet, "/api/v1/sessions/sess-abc/video")

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["hasVideo"]).To(BeFalse())
			Expect(resp["status"]).To(Equal("processing"))
		})

		It("returns 404 for an unknown token", func() {
			w := do(http.MethodGet, "/api/v1/sessions/missing/video")
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("Regenerate", func() {
		It("queues a fresh render", func() {
			video.regenerateFn = func(_ context.Context, projectID uuid.UUID, token string) (*service.RegenerateResult, error) {
				Expect(projectID).To(Equal(project.ID))
				Expect(token).To(Equal("sess-abc"))
				return &service.RegenerateResult{VideoJobQueued: true}, nil
			}

			w := do(http.MethodPost, "/api/v1/sessions/sess-abc/regenerate-video")

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["accepted"]).To(BeTrue())
			Expect(resp["videoJobQueued"]).To(BeTrue())
		})

		It("returns 404 for an unknown token", func() {
			video.regenerateFn = func(context.Context, uuid.UUID, string) (*service.RegenerateResult, error) {
				return nil, service.ErrSessionNotFound
			}

			w := do(http.MethodPost, "/api/v1/sessions/missing/regenerate-video")
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("returns 409 while the session is still active", func() {
			video.regenerateFn = func(context.Context, uuid.UUID, string) (*service.RegenerateResult, error) {
				return nil, service.ErrSessionActive
			}

			w := do(http.MethodPost, "/api/v1/sessions/sess-abc/regenerate-video")
			Expect(w.Code).To(Equal(http.StatusConflict))
		})

		It("returns 409 while a render is in progress", func() {
			video.regenerateFn = func(context.Context, uuid.UUID, string) (*service.RegenerateResult, error) {
				return nil, service.ErrRenderInProgress
			}

			w := do(http.MethodPost, "/api/v1/sessions/sess-abc/regenerate-video")
			Expect(w.Code).To(Equal(http.StatusConflict))
		})

		It("returns 422 for a session with no events", func() {
			video.regenerateFn = func(context.Context, uuid.UUID, string) (*service.RegenerateResult, error) {
				return nil, service.ErrNoEventsToRender
			}

			w := do(http.MethodPost, "/api/v1/sessions/sess-abc/regenerate-video")
			Expect(w.Code).To(Equal(http.StatusUnprocessableEntity))
		})

		It("returns 500 on infrastructure failure", func() {
			video.regenerateFn = func(context.Context, uuid.UUID, string) (*service.RegenerateResult, error) {
				return nil, errors.New("redis gone")
			}

			w := do(http.MethodPost, "/api/v1/sessions/sess-abc/regenerate-video")
			Expect(w.Code).To(Equal(http.StatusInternalServerError))
		})
	})
})
