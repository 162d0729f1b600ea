package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"relevance-service/internal/config"
	"relevance-service/internal/events"
	"relevance-service/internal/handler"
	"relevance-service/internal/middleware"
	"relevance-service/internal/providers"
	"relevance-service/internal/repository"
	"relevance-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Bootstrap logger until the configured one is available
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}

	// Load configuration
	cfg, err := config.LoadConfig("")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger, err = config.NewLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("Starting Relevance Service...")

	// Initialize repository
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		logger.Fatal("Failed to create data directory", zap.Error(err))
	}
	if cfg.Server.DataDir != "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			logger.Fatal("Failed to create files directory", zap.Error(err))
		}
		logger.Info("API file paths confined", zap.String("data_dir", cfg.Server.DataDir))
	}

	store, err := repository.NewStore(cfg.Database.Path, logger)
	if err != nil {
		logger.Fatal("Failed to initialize repository", zap.Error(err))
	}
	defer store.Close()

	if n, err := store.FailInterruptedJobs(context.Background()); err != nil {
		logger.Warn("Failed to mark interrupted jobs", zap.Error(err))
	} else if n > 0 {
		logger.Info("Marked interrupted jobs as failed", zap.Int64("count", n))
	}

	// Optional Postgres mirror of relevant entries
	var sinks []service.ResultSink
	if cfg.Postgres.URL != "" {
		db, err := repository.NewPostgresDB(cfg.Postgres.URL, logger)
		if err != nil {
			logger.Fatal("Failed to connect to postgres", zap.Error(err))
		}
		defer db.Close()

		if err := repository.MigratePostgres(db, logger); err != nil {
			logger.Fatal("Failed to migrate postgres", zap.Error(err))
		}
		sinks = append(sinks, repository.NewPostgresSink(db, cfg.Scoring.Columns, logger))
	}

	// Event handlers: logs always, Redis when configured
	handlers := []events.Handler{events.NewLogHandler(logger)}
	if cfg.Redis.Addr != "" {
		rdb, err := events.NewRedisClient(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		handlers = append(handlers, events.NewRedisPublisher(rdb, cfg.Redis.Channel, logger))
	}

	// Initialize services
	registry := providers.NewRegistry(logger)
	scorer := service.NewScorer(registry, cfg.Retry, logger)
	jobs := service.NewJobManager(scorer, store, logger, handlers...)

	// Initialize HTTP handler
	apiHandler := handler.NewHandler(jobs, scorer, store, cfg, logger, sinks...)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Register routes
	var guards []gin.HandlerFunc
	if cfg.Server.JWTSecret != "" {
		guards = append(guards, middleware.AuthMiddleware([]byte(cfg.Server.JWTSecret), logger))
		logger.Info("JWT authentication enabled for /api/v1")
	}
	apiHandler.RegisterRoutes(router, guards...)

	// Start server
	serverAddr := fmt.Sprintf(":%s", cfg.Server.Port)
	logger.Info("Server starting", zap.String("address", serverAddr))

	// Graceful shutdown
	srv := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Relevance Service is running",
		zap.String("port", cfg.Server.Port),
		zap.String("active_provider", cfg.ActiveProvider),
		zap.Strings("providers", registry.IDs()))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Running jobs stop at the next record boundary
	if err := jobs.Shutdown(ctx); err != nil {
		logger.Warn("Jobs did not stop in time", zap.Error(err))
	}

	logger.Info("Server exited")
}
