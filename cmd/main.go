package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/assetforge/assetforge-backend/internal/clients/redis"
	repoassets "github.com/assetforge/assetforge-backend/internal/data/repos/assets"
	repojobs "github.com/assetforge/assetforge-backend/internal/data/repos/jobs"
	"github.com/assetforge/assetforge-backend/internal/db"
	"github.com/assetforge/assetforge-backend/internal/handlers"
	"github.com/assetforge/assetforge-backend/internal/jobs"
	"github.com/assetforge/assetforge-backend/internal/middleware"
	"github.com/assetforge/assetforge-backend/internal/observability"
	"github.com/assetforge/assetforge-backend/internal/platform/gcs"
	"github.com/assetforge/assetforge-backend/internal/platform/logger"
	"github.com/assetforge/assetforge-backend/internal/platform/scanner"
	"github.com/assetforge/assetforge-backend/internal/server"
	"github.com/assetforge/assetforge-backend/internal/services"
	"github.com/assetforge/assetforge-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "assetforge-backend",
		Environment: utils.GetEnv("APP_ENV", "development", log),
		Version:     utils.GetEnv("APP_VERSION", "dev", log),
	})
	if otelShutdown != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	// Env
	log.Info("Loading environment variables from main...")
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Redis
	rdb, err := redis.NewClient(log)
	if err != nil {
		log.Error("Redis init failed", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Bucket + scanner backend
	bucketService, err := gcs.NewBucketService(log)
	if err != nil {
		log.Error("Could not init BucketService", "error", err)
		os.Exit(1)
	}
	scanBackend, err := scanner.NewBackendFromEnv(log)
	if err != nil {
		log.Error("Could not init scan backend", "error", err)
		os.Exit(1)
	}

	// Repos
	log.Info("Setting up Repos from main...")
	assetRepo := repoassets.NewAssetRepo(thePG, log)
	sessionRepo := repoassets.NewUploadSessionRepo(thePG, log)
	jobRepo := repojobs.NewJobRepo(thePG, log)

	// Services
	log.Info("Setting up Services from main...")
	quotaService := services.NewQuotaService(rdb, log)
	catalog := services.NewOwnerOnlyCatalog()
	uploadService := services.NewUploadService(thePG, log, bucketService, quotaService, catalog, assetRepo, sessionRepo, jobRepo)
	assetService := services.NewAssetService(thePG, log, bucketService, quotaService, catalog, assetRepo)
	accessService := services.NewAccessService(log, bucketService, catalog, assetRepo)

	// Background workers
	log.Info("Setting up job workers from main...")
	registry := jobs.NewRegistry()
	if err := registry.Register(jobs.NewScanHandler(log, assetRepo, bucketService, scanBackend)); err != nil {
		log.Error("Could not register scan handler", "error", err)
		os.Exit(1)
	}
	if err := registry.Register(jobs.NewDerivativeHandler(log, assetRepo, bucketService)); err != nil {
		log.Error("Could not register derivative handler", "error", err)
		os.Exit(1)
	}
	worker := jobs.NewWorker(log, jobRepo, registry, jobs.DefaultWorkerConfig())
	worker.Start(ctx)

	janitor := jobs.NewJanitor(thePG, log, bucketService, quotaService, assetRepo, sessionRepo)
	janitor.Start(ctx)

	// Handlers
	log.Info("Setting up handlers from main...")
	healthHandler := handlers.NewHealthHandler(thePG, rdb)
	uploadHandler := handlers.NewUploadHandler(uploadService)
	assetHandler := handlers.NewAssetHandler(assetService, accessService)

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(log, jwtSecretKey)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		AuthMiddleware: authMiddleware,
		HealthHandler:  healthHandler,
		UploadHandler:  uploadHandler,
		AssetHandler:   assetHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Server listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
