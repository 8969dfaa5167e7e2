package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/assetforge/assetforge-backend/internal/handlers"
	"github.com/assetforge/assetforge-backend/internal/middleware"
	"github.com/assetforge/assetforge-backend/internal/utils"
)

type RouterConfig struct {
	AuthMiddleware *middleware.AuthMiddleware
	HealthHandler  *handlers.HealthHandler
	UploadHandler  *handlers.UploadHandler
	AssetHandler   *handlers.AssetHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("assetforge-backend"))

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			utils.GetEnv("FRONTEND_ORIGIN", "http://localhost:3000", nil),
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", cfg.HealthHandler.HealthCheck)

	// ===============
	// || Protected ||
	// ===============
	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())
	// Uploads
	api.POST("/uploads", cfg.UploadHandler.Initiate)
	api.POST("/uploads/:id/confirm", cfg.UploadHandler.Confirm)
	// Assets
	api.GET("/assets", cfg.AssetHandler.List)
	api.GET("/assets/:id", cfg.AssetHandler.Get)
	api.DELETE("/assets/:id", cfg.AssetHandler.Delete)
	api.GET("/assets/:id/download-url", cfg.AssetHandler.DownloadURL)
	api.GET("/assets/:id/preview-url", cfg.AssetHandler.PreviewURL)

	return router
}
