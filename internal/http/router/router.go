package router

import (
	"github.com/gin-gonic/gin"

	"replaycast.app/studio/internal/http/handler"
	"replaycast.app/studio/internal/http/middleware"
	"replaycast.app/studio/internal/service"
	"replaycast.app/studio/internal/store"
)

func SetupRoutes(router *gin.Engine, services *service.Services, projects store.ProjectStore) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	v1.Use(middleware.APIKeyAuth(projects))
	{
		sessionHandler := handler.NewSessionHandler(services.Lifecycle(), services.Finalize(), services.Queries())
		videoHandler := handler.NewVideoHandler(services.Video(), services.Queries())
		SessionRouter(v1.Group("/sessions"), sessionHandler, videoHandler)

		ingestHandler := handler.NewIngestHandler(services.Ingest())
		IngestRouter(v1, ingestHandler)
	}
}
