package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/rajinweb/contract-esign/internal/api"
	"github.com/rajinweb/contract-esign/internal/blob"
	"github.com/rajinweb/contract-esign/internal/config"
	"github.com/rajinweb/contract-esign/internal/db"
	"github.com/rajinweb/contract-esign/internal/notify"
	"github.com/rajinweb/contract-esign/internal/repository"
	"github.com/rajinweb/contract-esign/internal/services"
	"github.com/rajinweb/contract-esign/pkg/logger"
	"github.com/rajinweb/contract-esign/pkg/metrics"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	var cfg *config.Configuration
	var err error
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		cfg, err = config.LoadConfig(path)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	} else {
		cfg = config.InitializeDefaultConfig()
	}

	zapLogger, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	zap.ReplaceGlobals(zapLogger)

	config.LogConfig(zapLogger)

	database, err := db.Initialize(cfg)
	if err != nil {
		zapLogger.Fatal("Failed to initialize database", zap.Error(err))
	}

	metricsCollector := metrics.NewMetricsCollector()

	blobStore, err := blob.NewFileStore(cfg.Signing.BlobRoot)
	if err != nil {
		zapLogger.Fatal("Failed to initialize blob store", zap.Error(err))
	}

	sender := notify.NewLogSender(zapLogger)
	dispatcher, err := notify.NewDispatcher(sender, cfg.Signing.NotifyWorkers, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to initialize notification dispatcher", zap.Error(err))
	}
	defer dispatcher.Release()

	docRepo := repository.NewGormDocumentRepository(database)
	eventRepo := repository.NewGormEventRepository(database)
	fieldRepo := repository.NewGormFieldRecordRepository(database)

	tokenService := services.NewTokenService(docRepo, cfg.Security, zapLogger)
	versionService := services.NewVersionService(docRepo, blobStore, cfg.Signing.BlobBucket, zapLogger, metricsCollector)
	fieldService := services.NewFieldService(fieldRepo, zapLogger)
	signingService := services.NewSigningService(
		docRepo, eventRepo, fieldService, versionService, tokenService,
		dispatcher, cfg.Signing.LinkExpiry, cfg.Signing.RequireApproverCompletion,
		zapLogger, metricsCollector,
	)

	router := api.NewRouter(zapLogger, metricsCollector, versionService, signingService, tokenService)
	router.SetupRoutes()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Server.Port
	}
	go func() {
		if err := router.Run(":" + port); err != nil {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	zapLogger.Info("Server started", zap.String("port", port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	sqlDB, err := database.DB()
	if err == nil {
		sqlDB.Close()
	}
	zapLogger.Info("Server gracefully stopped")
}
