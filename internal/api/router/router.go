package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Tim-0lu/env-can-wx-app/internal/api/handler"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "wx-api-service"

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": ServiceName,
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	downloadHandler := handler.NewDownloadHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// POST /api/v1/downloads/preview - Validate a selection
		v1.POST("/downloads/preview", downloadHandler.Preview)

		sessions := v1.Group("/sessions/:session_id")
		{
			// POST /api/v1/sessions/:session_id/downloads - Start a download
			sessions.POST("/downloads", downloadHandler.Submit)

			// GET /api/v1/sessions/:session_id/downloads - Poll download state
			sessions.GET("/downloads", downloadHandler.Snapshot)

			// DELETE /api/v1/sessions/:session_id/downloads - Abandon the download
			sessions.DELETE("/downloads", downloadHandler.Reset)
		}

		// GET /api/v1/jobs - List jobs with filtering and pagination
		v1.GET("/jobs", jobHandler.ListJobs)
	}

	// Artifact retrieval
	r.GET("/download/:filename", downloadHandler.Download)
	r.GET("/files/:filename", downloadHandler.ServeFile)

	return r
}
