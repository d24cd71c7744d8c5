package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vimcodex/vimcodex/internal/bridge/api"
	"github.com/vimcodex/vimcodex/internal/bridge/streaming"
	"github.com/vimcodex/vimcodex/internal/common/config"
	"github.com/vimcodex/vimcodex/internal/common/logger"
	"github.com/vimcodex/vimcodex/internal/engine/dispatcher"
	"github.com/vimcodex/vimcodex/internal/events"
	"github.com/vimcodex/vimcodex/internal/history"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting codex bridge...")

	// 3. Initialize event bus (NATS when configured, in-process otherwise)
	eventBus, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer busCleanup()

	// 4. Initialize history store
	store, err := buildHistoryStore(cfg)
	if err != nil {
		log.Fatal("Failed to initialize history store", zap.Error(err))
	}
	defer store.Close()
	log.Info("Initialized history store", zap.String("backend", cfg.History.Backend))

	// 5. Initialize dispatcher (owns the agent session)
	disp := dispatcher.New(cfg.Agent, store, eventBus, nil, log)

	// 6. Initialize streaming hub and feed it the transcript
	hub := streaming.NewHub(log)
	disp.Subscribe(hub.Broadcast)

	// 7. Setup HTTP server with Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(api.Recovery(log))
	engine.Use(api.RequestLogger(log))
	engine.Use(api.ErrorHandler(log))
	engine.Use(api.CORS())

	// 8. Register API routes
	v1 := engine.Group("/api/v1")
	api.SetupRoutes(v1, disp, log)

	handler := api.NewHandler(disp, log)
	engine.GET("/health", handler.HealthCheck)

	// 9. WebSocket transcript stream
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	engine.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("WebSocket upgrade failed", zap.Error(err))
			return
		}
		client := streaming.NewClient(hub, conn, log)
		hub.Register(client)
		go client.WritePump()
		go client.ReadPump()
	})

	// 10. Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 11. Start server in goroutine
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 12. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down codex bridge...")

	// 13. Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Stop the agent session within its grace period
	if err := disp.Shutdown(shutdownCtx); err != nil {
		log.Error("Session shutdown error", zap.Error(err))
	}

	log.Info("Codex bridge stopped")
}

// buildHistoryStore selects the transcript persistence backend
func buildHistoryStore(cfg *config.Config) (history.Store, error) {
	switch cfg.History.Backend {
	case "sqlite":
		return history.NewSQLiteStore(cfg.History.Path)
	default:
		return history.NewMemoryStore(cfg.History.MaxPerSession), nil
	}
}
