package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/chi-demo/middleware"
	"github.com/tendant/webq/pkg/webq/api"
	"github.com/tendant/webq/pkg/webq/config"
)

// Settings are the process level knobs. Storage and conversion settings are read by
// config.WithEnv using the WEBQ_ prefix.
type Settings struct {
	ApiKeySHA256    string        `env:"WEBQ_API_KEY_SHA256"`
	LogFormat       string        `env:"WEBQ_LOG_FORMAT" env-default:"text"`
	AutoMigrate     bool          `env:"WEBQ_AUTO_MIGRATE" env-default:"true"`
	OwnerCacheSize  int           `env:"WEBQ_OWNER_CACHE_SIZE" env-default:"1024"`
	OwnerCacheTTL   time.Duration `env:"WEBQ_OWNER_CACHE_TTL" env-default:"5m"`
	ShutdownTimeout time.Duration `env:"WEBQ_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

func newLogger(format string) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func main() {
	var settings Settings
	if err := cleanenv.ReadEnv(&settings); err != nil {
		slog.Error("Failed to read configuration", "err", err)
		os.Exit(1)
	}
	logger := newLogger(settings.LogFormat)
	slog.SetDefault(logger)

	serverConfig, err := config.Load(
		config.WithEnv("WEBQ_"),
		config.WithAutoMigrate(settings.AutoMigrate),
		config.WithOwnerCache(settings.OwnerCacheSize, settings.OwnerCacheTTL),
	)
	if err != nil {
		logger.Error("Failed to load server configuration", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	svc, cleanup, err := serverConfig.BuildService(ctx, logger)
	if err != nil {
		logger.Error("Failed to build service", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(api.RequestIDMiddleware)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(api.MetricsMiddleware)

	app.RoutesHealthz(r)
	app.RoutesHealthzReady(r)
	r.Handle("/metrics", promhttp.Handler())

	handler := api.NewHandler(svc, logger)
	var apiKeyMiddleware func(http.Handler) http.Handler
	if settings.ApiKeySHA256 != "" {
		apiKeyMiddleware, err = middleware.ApiKeyMiddleware(middleware.ApiKeyConfig{
			APIKeys: map[string]string{"webq": settings.ApiKeySHA256},
		})
		if err != nil {
			logger.Error("Failed initialize API Key middleware", "err", err)
			return
		}
	} else {
		logger.Warn("WEBQ_API_KEY_SHA256 is not set, API is unprotected")
	}
	r.Route("/api/v1", func(r chi.Router) {
		if apiKeyMiddleware != nil {
			r.Use(apiKeyMiddleware)
		}
		r.Mount("/", handler.Routes())
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", serverConfig.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("webq server starting",
			"port", serverConfig.Port,
			"env", serverConfig.Environment,
			"database", serverConfig.DatabaseType,
			"content_store", serverConfig.ContentStore.Type,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "err", err)
	}
}
