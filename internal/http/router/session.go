package router

import (
	"github.com/gin-gonic/gin"

	"replaycast.app/studio/internal/http/handler"
)

func SessionRouter(router *gin.RouterGroup, sessions *handler.SessionHandler, videos *handler.VideoHandler) {
	router.POST("/start", sessions.Start)
	router.POST("/heartbeat", sessions.Heartbeat)
	router.POST("/end", sessions.End)

	router.GET("", sessions.List)
	router.GET("/:token", sessions.Get)
	router.GET("/:token/events", sessions.Events)
	router.GET("/:token/video", videos.Status)
	router.POST("/:token/regenerate-video", videos.Regenerate)
}
