// Package main is the entry point for the AI builder platform server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"aibuilder/config"
	"aibuilder/internal/cache"
	"aibuilder/internal/deploy"
	"aibuilder/internal/providers"
	"aibuilder/internal/server"
	"aibuilder/internal/storage"
	"aibuilder/internal/tasks"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Logging is configured before anything else so startup errors are
	// structured too. "text" picks the tinted handler for development.
	cfg, err := config.Load()
	if err != nil {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
		return err
	}
	setupLogging(cfg.LogFormat)

	ctx := context.Background()

	store, err := storage.New(ctx, storage.Config{
		Type:        cfg.Storage.Type,
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresURL: cfg.Storage.PostgresURL,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()
	slog.Info("storage ready", "type", cfg.Storage.Type)

	deployCache, err := cache.New(cache.Config{
		Type:     cfg.Cache.Type,
		RedisURL: cfg.Cache.RedisURL,
		TTL:      time.Duration(cfg.Cache.TTLSeconds) * time.Second,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = deployCache.Close()
	}()

	cerebras, err := providers.New(providers.Cerebras, cfg.Cerebras.APIKey, cfg.Cerebras.BaseURL)
	if err != nil {
		return err
	}
	sambanova, err := providers.New(providers.SambaNova, cfg.SambaNova.APIKey, cfg.SambaNova.BaseURL)
	if err != nil {
		return err
	}
	taskHandler := tasks.NewHandler(providers.NewSet(cerebras, sambanova))

	engine := deploy.NewEngine(store, deployCache, taskHandler, cfg.Server.SiteURL)

	if cfg.Server.MasterKey == "" {
		slog.Warn("MASTER_KEY not set, management API is unauthenticated")
	}

	srv := server.New(store, engine, taskHandler, &server.Config{
		MasterKey:       cfg.Server.MasterKey,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
	})

	// Graceful shutdown on SIGINT/SIGTERM
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	slog.Info("starting server", "address", addr, "site_url", cfg.Server.SiteURL)

	if err := srv.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return err
	}
	return nil
}

func setupLogging(format string) {
	var handler slog.Handler
	if format == "text" {
		handler = tint.NewHandler(os.Stdout, &tint.Options{TimeFormat: time.Kitchen})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	}
	slog.SetDefault(slog.New(handler))
}
