package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/applykit/applykit-engine/pkg/cache"
	"github.com/applykit/applykit-engine/pkg/config"
	"github.com/applykit/applykit-engine/pkg/handlers"
	"github.com/applykit/applykit-engine/pkg/llm"
	"github.com/applykit/applykit-engine/pkg/logging"
	"github.com/applykit/applykit-engine/pkg/metrics"
	"github.com/applykit/applykit-engine/pkg/retry"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("provider", cfg.Inference.Provider),
		zap.String("model", cfg.Inference.Model),
		zap.String("fallback_model", cfg.Inference.FallbackModel),
		zap.String("cache_dir", cfg.Cache.Dir),
		zap.String("metrics_dir", cfg.Metrics.Dir))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Service failed", zap.Error(err))
	}
}

// run builds every component explicitly and wires them together. There are
// no global accessors: each dependency is constructed once here and passed
// down, so tests can substitute fakes at every seam.
func run(cfg *config.Config, logger *zap.Logger) error {
	cacheStore, err := cache.NewStore(cache.Config{
		Dir:            cfg.Cache.Dir,
		MemoryCapacity: cfg.Cache.MemoryCapacity,
	}, logger)
	if err != nil {
		return err
	}
	if removed := cacheStore.CleanupExpired(); removed > 0 {
		logger.Info("Removed expired cache entries on startup", zap.Int("removed", removed))
	}

	metricsStore, err := metrics.New(metrics.Config{
		Dir:           cfg.Metrics.Dir,
		RetentionDays: cfg.Metrics.RetentionDays,
	}, logger)
	if err != nil {
		return err
	}

	sampler := metrics.NewSampler(metrics.SamplerConfig{
		Path:     filepath.Join(cfg.Metrics.Dir, "system_metrics.json"),
		Interval: cfg.Metrics.SampleInterval(),
		Window:   cfg.Metrics.SystemWindow(),
	}, logger)
	metricsStore.SetSystemSource(sampler)
	sampler.Start()
	defer sampler.Stop()

	provider, err := buildProvider(cfg, logger)
	if err != nil {
		return err
	}

	initCtx, cancelInit := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancelInit()
	if err := retry.Do(initCtx, nil, func() error {
		return provider.Initialize(initCtx)
	}); err != nil {
		// A cold local model server is not fatal; the client retries per call.
		logger.Warn("Provider not ready at startup", zap.String("error", logging.SanitizeError(err)))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Provider shutdown failed", zap.Error(err))
		}
	}()

	client, err := llm.NewClient(provider, cacheStore, metricsStore, llm.ClientConfig{
		PrimaryModel:    cfg.Inference.Model,
		FallbackModel:   cfg.Inference.FallbackModel,
		MaxRetries:      cfg.Inference.MaxRetries,
		Timeout:         cfg.Inference.Timeout(),
		DefaultCacheTTL: cfg.Cache.TTL(),
	}, logger)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	healthHandler := handlers.NewHealthHandler(cfg, logger)
	healthHandler.RegisterRoutes(mux)
	statusHandler := handlers.NewStatusHandler(metricsStore, sampler, client, logger)
	statusHandler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting applykit-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		logger.Warn("HTTP drain failed", zap.Error(err))
	}

	metricsStore.Flush()
	return nil
}

func buildProvider(cfg *config.Config, logger *zap.Logger) (llm.Provider, error) {
	switch cfg.Inference.Provider {
	case "anthropic":
		return llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey: cfg.Inference.APIKey,
			Model:  cfg.Inference.Model,
		}, logger)
	default:
		return llm.NewOpenAIProvider(llm.OpenAIConfig{
			Endpoint: cfg.Inference.Endpoint,
			Model:    cfg.Inference.Model,
			APIKey:   cfg.Inference.APIKey,
		}, logger)
	}
}
