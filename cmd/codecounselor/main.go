package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tmcclell/CodeCounselor/internal/cache"
	"github.com/tmcclell/CodeCounselor/internal/config"
	"github.com/tmcclell/CodeCounselor/internal/handlers"
	"github.com/tmcclell/CodeCounselor/internal/httpserver"
	"github.com/tmcclell/CodeCounselor/internal/llm"
	"github.com/tmcclell/CodeCounselor/internal/metrics"
	"github.com/tmcclell/CodeCounselor/internal/prompt"
	"github.com/tmcclell/CodeCounselor/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("codecounselor exited with error: %v", err)
	}
}

func run() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration error", zap.Error(err))
		return err
	}

	logger.Info("loaded config",
		zap.String("host", cfg.Host),
		zap.String("port", cfg.Port),
		zap.String("endpoint", cfg.Endpoint),
		zap.String("deployment", cfg.Deployment),
		zap.String("api_version", cfg.APIVersion),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.Duration("stream_timeout", cfg.StreamTimeout),
	)

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.CacheBackend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.RedisAddr),
		)
	}

	// ----- Status cache (memoizes the /health upstream probe) -----
	statusCache := cache.NewStatusCache(cache.Config{
		Backend: cfg.CacheBackend,
		TTL:     cfg.ProbeTTL,
		Prefix:  "codecounselor",
	}, redisClient)
	statusCache = cache.NewLoggingStatusCache(statusCache)

	// ----- Persona prompt -----
	template, err := prompt.LoadTemplate(cfg.PromptPath)
	if err != nil {
		logger.Warn("persona template not loaded, using fallback",
			zap.String("path", cfg.PromptPath),
			zap.Error(err),
		)
		template = prompt.FallbackTemplate
	}
	prompts := prompt.NewBuilder(template)

	// ----- Completion client -----
	llmClient, err := llm.NewClient(llm.Config{
		Endpoint:      cfg.Endpoint,
		APIKey:        cfg.APIKey,
		Deployment:    cfg.Deployment,
		APIVersion:    cfg.APIVersion,
		StreamTimeout: cfg.StreamTimeout,
	}, logger)
	if err != nil {
		return err
	}
	if closer, ok := llmClient.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// ----- Handlers -----
	chatHandler := handlers.NewChatHandler(prompts, llmClient)
	healthHandler := handlers.NewHealthHandler(
		statusCache,
		cfg.ProbeTTL,
		llmClient,
		cache.BuildProbeKey(cfg.Endpoint, cfg.Deployment, cfg.APIVersion, cfg.VersionID),
	)
	debugHandler := handlers.NewDebugHandler(cfg)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, chatHandler, healthHandler, debugHandler, cfg.StaticDir)

	// ----- HTTP server -----
	// WriteTimeout must outlast the longest completion stream.
	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.StreamTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting codecounselor",
		zap.String("addr", srv.Addr),
		zap.String("deployment", cfg.Deployment),
	)

	// Start server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
