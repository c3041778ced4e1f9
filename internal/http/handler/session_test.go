package handler_test

import (
	"bytes"
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

var _ = Describe("SessionHandler", func() {
	var (
		router    *gin.Engine
		lifecycle *mockLifecycleService
		finalize  *mockFinalizeService
		queries   *mockQueryService
		projects  *mockProjectStore
		project   *model.Project
		apiKey    string
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		lifecycle = &mockLifecycleService{}
		finalize = &mockFinalizeService{}
		queries = &mockQueryService{}
		projects = &mockProjectStore{}
		apiKey = "test-api-key"
		project = &model.Project{ID: uuid.New(), Name: "Test Project", APIKeyHash: middleware.HashAPIKey(apiKey)}
		projects.getByAPIKeyHashFn = func(_ context.Context, hash string) (*model.Project, error) {
			if hash == project.APIKeyHash {
				return project, nil
			}
			return nil, store.ErrNotFound
		}

		h := handler.NewSessionHandler(lifecycle, finalize, queries)
		sessions := router.Group("/api/v1/sessions")
		sessions.Use(middleware.APIKeyAuth(projects))
		{
			sessions.POST("/start", h.Start)
			sessions.POST("/heartbeat", h.Heartbeat)
			sessions.POST("/end", h.End)
			sessions.GET("", h.List)
			sessions.GET("/:token", h.Get)
			sessions.GET("/:token/events", h.Events)
		}
	})

	do := func(method, path string, payload any) *httptest.ResponseRecorder {
		var body *bytes.Buffer
		if payload != nil {
			raw, err := json.Marshal(payload)
			Expect(err).NotTo(HaveOccurred())
			body = bytes.NewBuffer(raw)
		} else {
			body = bytes.NewBuffer(nil)
		}

		req := httptest.NewRequest(method, path, body)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-Key", apiKey)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	Describe("authentication", func() {
		It("returns 401 without an API key", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusUnauthorized))
		})

		It("returns 401 for an unknown API key", func() {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
			req.Header.Set("X-API-Key", "wrong-key")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusUnauthorized))
		})

		It("returns 500 when the key lookup fails", func() {
			projects.getByAPIKeyHashFn = func(context.Context, string) (*model.Project, error) {
				return nil, errors.New("connection refused")
			}

			req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
			req.Header.Set("X-API-Key", apiKey)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("Start", func() {
		It("stages the session for the authenticated project", func() {
			var got service.StartSessionParams
			lifecycle.startFn = func(_ context.Context, params service.StartSessionParams) (*service.StartSessionResult, error) {
				got = params
				return &service.StartSessionResult{SessionToken: params.SessionToken}, nil
			}

			w := do(http.MethodPost, "/api/v1/sessions/start", map[string]any{
				"sessionToken": "sess-abc",
				"userId":       "user-1",
				"metadata": map[string]any{
					"url":       "https://app.example.com/checkout",
					"screen":    map[string]int32{"width": 2560, "height": 1440},
					"timestamp": 1_700_000_000_000,
				},
			})

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(got.ProjectID).To(Equal(project.ID))
			Expect(got.SessionToken).To(Equal("sess-abc"))
			Expect(got.Metadata.UserID).To(HaveValue(Equal("user-1")))
			Expect(got.Metadata.PageURL).To(HaveValue(Equal("https://app.example.com/checkout")))
			Expect(got.Metadata.ScreenWidth).To(HaveValue(Equal(int32(2560))))
			Expect(got.Metadata.StartTimestampMS).To(Equal(int64(1_700_000_000_000)))

			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["accepted"]).To(BeTrue())
			Expect(resp["sessionToken"]).To(Equal("sess-abc"))
		})

		It("returns 400 without a session token", func() {
			w := do(http.MethodPost, "/api/v1/sessions/start", map[string]any{"userId": "user-1"})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 500 when staging fails", func() {
			lifecycle.startFn = func(context.Context, service.StartSessionParams) (*service.StartSessionResult, error) {
				return nil, errors.New("redis gone")
			}

			w := do(http.MethodPost, "/api/v1/sessions/start", map[string]any{"sessionToken": "sess-abc"})
			Expect(w.Code).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("Heartbeat", func() {
		It("relays the accepted verdict to the recorder", func() {
			lifecycle.heartbeatFn = func(_ context.Context, params service.HeartbeatParams) (*service.HeartbeatResult, error) {
				Expect(params.EventCount).To(Equal(int32(120)))
				return &service.HeartbeatResult{Accepted: false}, nil
			}

			w := do(http.MethodPost, "/api/v1/sessions/heartbeat", map[string]any{
				"sessionToken": "sess-abc",
				"eventCount":   120,
			})

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["accepted"]).To(BeFalse())
		})
	})

	Describe("End", func() {
		It("returns 200 whatever the finalize outcome", func() {
			finalize.finalizeFn = func(_ context.Context, params service.FinalizeParams) (*service.FinalizeResult, error) {
				Expect(params.ProjectID).To(Equal(project.ID))
				Expect(params.TimestampMS).To(Equal(int64(1_700_000_045_000)))
				Expect(params.FinalEventCount).To(HaveValue(Equal(int32(80))))
				return &service.FinalizeResult{Outcome: service.FinalizeOutcomePromoted, VideoJobQueued: true}, nil
			}

			w := do(http.MethodPost, "/api/v1/sessions/end", map[string]any{
				"sessionToken":    "sess-abc",
				"timestamp":       1_700_000_045_000,
				"finalEventCount": 80,
			})

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["accepted"]).To(BeTrue())
			Expect(resp["videoJobQueued"]).To(BeTrue())
		})

		It("returns 400 without a session token", func() {
			w := do(http.MethodPost, "/api/v1/sessions/end", map[string]any{"reason": "tab_closed"})
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("List", func() {
		It("returns summaries with the total count", func() {
			started := time.Now().UTC().Add(-time.Hour)
			videoURL := "https://cdn.example.com/video.webm"
			queries.listFn = func(_ context.Context, params service.ListSessionsParams) (*service.ListSessionsResult, error) {
				Expect(params.ProjectID).To(Equal(project.ID))
				Expect(params.Limit).To(Equal(int32(25)))
				Expect(params.Offset).To(Equal(int32(50)))
				Expect(params.Status).To(HaveValue(Equal(model.SessionStatusReady)))
				return &service.ListSessionsResult{
					Sessions: []model.Session{{
						SessionToken: "sess-abc",
						Status:       model.SessionStatusReady,
						StartedAt:    started,
						EventCount:   40,
						VideoURL:     &videoURL,
					}},
					Total: 73,
				}, nil
			}

			w := do(http.MethodGet, "/api/v1/sessions?status=ready&limit=25&offset=50", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["total"]).To(BeNumerically("==", 73))
			sessions := resp["sessions"].([]any)
			Expect(sessions).To(HaveLen(1))
			first := sessions[0].(map[string]any)
			Expect(first["sessionToken"]).To(Equal("sess-abc"))
			Expect(first["status"]).To(Equal("ready"))
			Expect(first["hasVideo"]).To(BeTrue())
		})

		It("returns 400 for an unknown status filter", func() {
			w := do(http.MethodGet, "/api/v1/sessions?status=bogus", nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 400 for a non-numeric limit", func() {
			w := do(http.MethodGet, "/api/v1/sessions?limit=lots", nil)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("Get", func() {
		It("returns the full session detail", func() {
			videoURL := "https://cdn.example.com/video.webm"
			durationMS := int64(45_000)
			queries.getFn = func(_ context.Context, projectID uuid.UUID, token string) (*model.Session, error) {
				Expect(projectID).To(Equal(project.ID))
				Expect(token).To(Equal("sess-abc"))
				return &model.Session{
					SessionToken:    "sess-abc",
					Status:          model.SessionStatusReady,
					StartedAt:       time.Now().UTC().Add(-time.Hour),
					EventCount:      40,
					VideoURL:        &videoURL,
					VideoDurationMS: &durationMS,
				}, nil
			}

			w := do(http.MethodGet, "/api/v1/sessions/sess-abc", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["sessionToken"]).To(Equal("sess-abc"))
			Expect(resp["videoUrl"]).To(Equal(videoURL))
			Expect(resp["videoDurationMs"]).To(BeNumerically("==", 45_000))
		})

		It("returns 404 for an unknown token", func() {
			w := do(http.MethodGet, "/api/v1/sessions/missing", nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("Events", func() {
		It("returns the session with its raw event stream", func() {
			queries.eventsFn = func(_ context.Context, _ uuid.UUID, token string) (*service.SessionEventsResult, error) {
				return &service.SessionEventsResult{
					Session: &model.Session{SessionToken: token, Status: model.SessionStatusReady, EventCount: 2},
					Events: []model.Event{
						{SequenceNumber: 0, EventType: "4", Timestamp: 1_700_000_000_100, Payload: json.RawMessage(`{"type":4}`)},
						{SequenceNumber: 1, EventType: "2", Timestamp: 1_700_000_000_200, Payload: json.RawMessage(`{"type":2}`)},
					},
				}, nil
			}

			w := do(http.MethodGet, "/api/v1/sessions/sess-abc/events", nil)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			events := resp["events"].([]any)
			Expect(events).To(HaveLen(2))
			first := events[0].(map[string]any)
			Expect(first["sequenceNumber"]).To(BeNumerically("==", 0))
			Expect(first["eventType"]).To(Equal("4"))
		})

		It("returns 404 for an unknown token", func() {
			w := do(http.MethodGet, "/api/v1/sessions/missing/events", nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})
})
