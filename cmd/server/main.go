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

	"clipsync/internal/api"
	"clipsync/internal/collab"
	"clipsync/internal/config"
	"clipsync/internal/db"
	"clipsync/internal/repository"
	"clipsync/internal/services"
	"clipsync/internal/sync"
	"clipsync/internal/telemetry"
)

/*
LEARNING: GRACEFUL SHUTDOWN PATTERN WITH OBSERVABILITY

This main function demonstrates:
1. Service initialization and dependency injection
2. Concurrent server and worker pool management
3. Distributed tracing with Jaeger
4. Graceful shutdown handling (listening for SIGINT/SIGTERM)
5. Proper resource cleanup order
*/

// idleSweepInterval is how often quiet collaborators are flagged idle.
const idleSweepInterval = 30 * time.Second

func main() {
	log.Println("🚀 Starting ClipSync timeline collaboration server...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Initialize Jaeger tracing first so all operations are traced
	jaegerShutdown, err := telemetry.InitJaeger("clipsync", cfg.JaegerEndpoint)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	// Initialize GORM database
	database, err := db.NewGorm(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Initialize repositories
	opRepo := repository.NewOperationRepository(database.DB)

	// Persistence worker pool keeps database writes off the websocket path
	persistService := services.NewPersistService(
		opRepo,
		cfg.PersistWorkers,
		cfg.PersistQueueSize,
	)
	persistService.Start()

	// Session manager owns one authoritative replica per timeline
	sessionManager := sync.NewSessionManager(collab.ResolutionStrategy(cfg.ConflictStrategy))
	sessionManager.SetPersister(persistService)

	wsHandler := sync.NewWebSocketHandler(sessionManager)

	// Periodic presence sweep
	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(idleSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepDone:
				return
			case now := <-ticker.C:
				sessionManager.SweepIdle(now.UTC())
			}
		}
	}()

	// Initialize handlers with dependency injection
	handler := api.NewHandler(sessionManager, wsHandler, opRepo, persistService)
	router := api.SetupRoutes(handler)

	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in a goroutine so shutdown signals are handled
	// concurrently
	go func() {
		log.Printf("🌐 Server listening on http://%s", addr)
		log.Printf("📚 Endpoints:")
		log.Printf("   GET /api/health                     - Liveness and queue depth")
		log.Printf("   GET /api/sessions                   - List live sessions")
		log.Printf("   GET /api/sessions/:id               - Session detail")
		log.Printf("   GET /api/sessions/:id/operations    - Operation history")
		log.Printf("   GET /api/sessions/:id/timeline      - Materialized timeline")
		log.Printf("   WS  /ws/session/:id                 - Join a session")
		log.Println()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n🛑 Shutting down server...")

	// Give the server 30 seconds to finish existing requests
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	close(sweepDone)

	// Close websocket fan-out before the persistence pool so no new writes
	// arrive while it drains
	sessionManager.Shutdown()
	persistService.Shutdown()

	log.Println("✓ Server shutdown complete")
}
