package router

import (
	"github.com/cuongbtq/scrape-dispatcher/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	healthHandler := handler.NewHealthHandler(deps)
	r.GET("/health", healthHandler.Health)

	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// GET /api/v1/user/videos?username= - Queue a job and wait for it
		v1.GET("/user/videos", jobHandler.GetUserVideos)

		// POST /api/v1/batch/videos - Queue a batch of jobs
		v1.POST("/batch/videos", jobHandler.BatchVideos)

		// GET /api/v1/jobs/:job_id - Get job status
		v1.GET("/jobs/:job_id", jobHandler.GetJob)

		// GET /api/v1/queue - Queue length, job counts and sessions
		v1.GET("/queue", jobHandler.GetQueue)

		sessions := v1.Group("/sessions")
		{
			// GET /api/v1/sessions/:slot - Session details for one slot
			sessions.GET("/:slot", jobHandler.GetSession)

			// POST /api/v1/sessions/:slot/rotate - Replace an idle slot's session
			sessions.POST("/:slot/rotate", jobHandler.RotateSession)
		}
	}

	return r
}
