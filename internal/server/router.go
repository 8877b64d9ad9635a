package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yungbote/mnemosyne-backend/internal/handlers"
)

type RouterConfig struct {
	DocumentHandler *handlers.DocumentHandler
	SessionHandler  *handlers.SessionHandler
	ChatHandler     *handlers.ChatHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "http://localhost:5174"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Documents
		api.POST("/documents", cfg.DocumentHandler.Upload)
		api.GET("/documents", cfg.DocumentHandler.List)
		api.GET("/documents/:blob_id", cfg.DocumentHandler.Get)
		api.DELETE("/documents/:blob_id", cfg.DocumentHandler.Delete)

		// Jobs
		api.GET("/jobs/:job_id", cfg.DocumentHandler.JobStatus)

		// Sessions
		api.POST("/sessions", cfg.SessionHandler.Create)
		api.GET("/sessions", cfg.SessionHandler.List)
		api.GET("/sessions/stale", cfg.SessionHandler.NeedingIngest)
		api.GET("/sessions/:session_id", cfg.SessionHandler.Get)
		api.DELETE("/sessions/:session_id", cfg.SessionHandler.Delete)
		api.PATCH("/sessions/:session_id", cfg.SessionHandler.Rename)
		api.POST("/sessions/:session_id/messages", cfg.SessionHandler.AddMessage)
		api.POST("/sessions/:session_id/ingest", cfg.SessionHandler.Ingest)
		api.GET("/sessions/:session_id/ingest", cfg.SessionHandler.IngestStatus)

		// Chat
		api.POST("/chat/prepare", cfg.ChatHandler.Prepare)
	}

	return router
}
