package router

import (
	"github.com/gin-gonic/gin"

	"replaycast.app/studio/internal/http/handler"
)

func IngestRouter(router *gin.RouterGroup, handler *handler.IngestHandler) {
	router.POST("/ingest", handler.Ingest)
}
