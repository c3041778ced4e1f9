package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

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

var _ = Describe("IngestHandler", func() {
	var (
		router  *gin.Engine
		ingest  *mockIngestService
		project *model.Project
		apiKey  string
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		ingest = &mockIngestService{}
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

		h := handler.NewIngestHandler(ingest)
		v1 := router.Group("/api/v1")
		v1.Use(middleware.APIKeyAuth(projects))
		v1.POST("/ingest", h.Ingest)
	})

	post := func(payload any) *httptest.ResponseRecorder {
		raw, err := json.Marshal(payload)
		Expect(err).NotTo(HaveOccurred())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", bytes.NewBuffer(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-Key", apiKey)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("forwards the batch with payloads intact", func() {
		var got service.IngestParams
		ingest.ingestFn = func(_ context.Context, params service.IngestParams) (*service.IngestResult, error) {
			got = params
			return &service.IngestResult{EventsReceived: len(params.Events)}, nil
		}

		w := post(map[string]any{
			"sessionToken": "sess-abc",
			"events": []map[string]any{
				{"type": 4, "timestamp": 1_700_000_000_100, "data": map[string]any{"href": "https://app.example.com"}},
				{"type": 3, "timestamp": 1_700_000_000_200},
			},
		})

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(got.ProjectID).To(Equal(project.ID))
		Expect(got.SessionToken).To(Equal("sess-abc"))
		Expect(got.Events).To(HaveLen(2))
		Expect(string(got.Events[0])).To(ContainSubstring(`"href"`))

		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["accepted"]).To(BeTrue())
		Expect(resp["eventsReceived"]).To(BeNumerically("==", 2))
		Expect(resp["sessionFinalized"]).To(BeFalse())
	})

	It("tells the recorder when its token is dead", func() {
		ingest.ingestFn = func(context.Context, service.IngestParams) (*service.IngestResult, error) {
			return &service.IngestResult{SessionFinalized: true}, nil
		}

		w := post(map[string]any{
			"sessionToken": "sess-abc",
			"events":       []map[string]any{{"type": 3}},
		})

		Expect(w.Code).To(Equal(http.StatusOK))
		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["sessionFinalized"]).To(BeTrue())
	})

	It("returns 400 without a session token", func() {
		w := post(map[string]any{"events": []map[string]any{{"type": 3}}})
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("returns 400 without an events field", func() {
		w := post(map[string]any{"sessionToken": "sess-abc"})
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("returns 500 when ingestion fails", func() {
		ingest.ingestFn = func(context.Context, service.IngestParams) (*service.IngestResult, error) {
			return nil, errors.New("redis gone")
		}

		w := post(map[string]any{
			"sessionToken": "sess-abc",
			"events":       []map[string]any{{"type": 3}},
		})

		Expect(w.Code).To(Equal(http.StatusInternalServerError))
	})
})
