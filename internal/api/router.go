package api

import (
	"github.com/gin-gonic/gin"

	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/api/handler"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/api/middleware"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/config"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/service"
	"github.com/EPFL-ENAC/co2-calculator-sub000/internal/storage"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	syncService *service.SyncService,
	objectStore storage.ObjectStorage,
	cfg *config.ServerConfig,
) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.CORS.AllowAllOrigins,
	}))

	// Create handlers
	healthHandler := handler.NewHealthHandler()
	syncHandler := handler.NewSyncHandler(syncService)
	uploadHandler := handler.NewUploadHandler(objectStore)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Sync jobs
		v1.POST("/sync", syncHandler.Create)
		v1.GET("/sync/jobs", syncHandler.History)
		v1.GET("/sync/jobs/:id", syncHandler.Status)
		v1.POST("/sync/jobs/:id/retry", syncHandler.Retry)

		// Source file uploads
		v1.POST("/uploads", uploadHandler.Upload)
	}

	return r
}
