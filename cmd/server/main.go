package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/advisory-crm/policy-dispatch/internal/config"
	"github.com/advisory-crm/policy-dispatch/internal/db"
	"github.com/advisory-crm/policy-dispatch/internal/engine"
	"github.com/advisory-crm/policy-dispatch/internal/repository"
	"github.com/advisory-crm/policy-dispatch/internal/router"
	"github.com/advisory-crm/policy-dispatch/internal/services"
	"github.com/advisory-crm/policy-dispatch/internal/storage"
	"github.com/advisory-crm/policy-dispatch/internal/utils"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger := utils.NewLogger(cfg.LogLevel)

	// Initialize database
	database, err := db.NewSQLiteDB(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	defer database.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.DatabasePath); err != nil {
		logger.Fatal("Failed to run migrations", "error", err)
	}

	// Initialize collaborators
	policyRepo := repository.NewRepository(database)

	docStorage, err := storage.NewS3Storage(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize S3 storage", "error", err)
	}

	analysisEngine := engine.NewClient(cfg.AnalysisAPIURL, cfg.WebhookSecret, cfg.DispatchTimeout, logger)

	policyService := services.NewService(policyRepo, docStorage, analysisEngine, cfg, logger)

	// Setup HTTP router
	handler := router.NewRouter(policyService, cfg, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	go func() {
		logger.Info("Starting server", "port", cfg.Port, "callback_base", cfg.AppURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}
