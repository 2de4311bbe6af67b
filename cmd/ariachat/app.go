package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ariachat/internal/artifact"
	"ariachat/internal/chat"
	"ariachat/internal/config"
	"ariachat/internal/domain"
	"ariachat/internal/memory"
	"ariachat/internal/metrics"
	"ariachat/internal/remote"
)

// loadConfig reads the config file; with fallback set a missing or invalid
// file yields the defaults.
func loadConfig(fallback bool) (*config.Config, string, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !fallback {
			return nil, cfgPath, fmt.Errorf("load config: %w", err)
		}
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
		cfg.Storage.DBPath = config.ExpandPath(cfg.Storage.DBPath)
	}
	return cfg, cfgPath, nil
}

// setupLogger replaces the global logger according to the general section.
// The returned func closes the log file, if any.
func setupLogger(cfg *config.Config) (func() error, error) {
	var level slog.Level
	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	closeFn := func() error { return nil }
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closeFn = f.Close
	}

	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return closeFn, nil
}

// openStore builds the configured chat store and makes sure its collection exists.
func openStore(ctx context.Context, cfg *config.Config) (domain.ChatStore, func() error, error) {
	switch cfg.Storage.Backend {
	case "remote":
		store := artifact.New(artifact.Options{
			BaseURL: cfg.Storage.ArtifactURL,
			Token:   cfg.Service.Token,
			UserID:  cfg.Service.UserID,
			Timeout: time.Duration(cfg.Storage.TimeoutSec) * time.Second,
			Logger:  logger,
		})
		if err := store.EnsureCollection(ctx); err != nil {
			return nil, nil, fmt.Errorf("artifact store: %w", err)
		}
		return store, func() error { return nil }, nil
	default:
		store, err := memory.NewSQLiteStore(cfg.Storage.DBPath, cfg.Service.UserID, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("chat store: %w", err)
		}
		return store, store.Close, nil
	}
}

func openLibrary(ctx context.Context, cfg *config.Config) (*chat.Library, func() error, error) {
	store, closeFn, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return chat.NewLibrary(store, cfg.Service.UserID, logger), closeFn, nil
}

func connectService(ctx context.Context, cfg *config.Config) (*remote.Client, error) {
	client := remote.NewClient(remote.Options{
		URL:         cfg.Service.URL,
		Token:       cfg.Service.Token,
		ServiceID:   cfg.Service.ServiceID,
		DialTimeout: time.Duration(cfg.Service.DialTimeoutSec) * time.Second,
		Logger:      logger,
	})
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to chat service: %w", err)
	}
	return client, nil
}

func extensions(cfg *config.Config) []domain.Extension {
	out := make([]domain.Extension, 0, len(cfg.Chat.Extensions))
	for _, id := range cfg.Chat.Extensions {
		out = append(out, domain.Extension{ID: id})
	}
	return out
}

// serveMetrics exposes the collector until ctx is done.
func serveMetrics(ctx context.Context, cfg *config.Config) {
	if !cfg.Metrics.Enabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Endpoint, metrics.Collector.Handler())
	srv := &http.Server{
		Addr:              cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Listen, "path", cfg.Metrics.Endpoint)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "err", err)
		}
	}()
}
