package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/medisync/server/internal/config"
	"github.com/medisync/server/internal/database"
	"github.com/medisync/server/internal/repositories"
	"github.com/medisync/server/internal/services"
)

func main() {
	ctx := context.Background()

	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database connections
	postgresPool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create postgres pool: %v", err)
	}
	defer postgresPool.Close()

	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to create redis client: %v", err)
	}
	defer redisClient.Close()

	// Wire repositories and sync services
	queueRepo := repositories.NewPostgresSyncQueueRepository(postgresPool)
	conflictRepo := repositories.NewPostgresSyncConflictRepository(postgresPool)
	watermarkRepo := repositories.NewPostgresWatermarkRepository(postgresPool)
	deviceRepo := repositories.NewPostgresDeviceRepository(postgresPool)
	entityRepo := repositories.NewPostgresEntityStateRepository(postgresPool)
	lockRepo := repositories.NewRedisSyncLockRepository(redisClient)

	conflictService := services.NewConflictService(conflictRepo, queueRepo)
	syncService := services.NewSyncService(
		queueRepo,
		conflictRepo,
		watermarkRepo,
		deviceRepo,
		lockRepo,
		conflictService,
		entityRepo,
		entityRepo,
		cfg.MinSyncInterval,
	)

	scheduler := services.NewSyncScheduler(syncService, queueRepo, cfg.SyncInterval, cfg.SyncWorkers, cfg.SyncBatchSize)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("Failed to start sync scheduler: %v", err)
	}
	defer scheduler.Stop()

	// Initialize HTTP Server
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	// Health check endpoints
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Start Server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	// graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		scheduler.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("Starting server on port %s", cfg.ServerPort)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server stopped gracefully")
}
