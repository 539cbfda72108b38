package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/stevemurr/simple-storage-server/config"
	"github.com/stevemurr/simple-storage-server/handler"
	"github.com/stevemurr/simple-storage-server/storage"
	"github.com/stevemurr/simple-storage-server/store"
)

const appName = "simple-storage-server"

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// cleanReadyTimeout bounds how long -clean waits for a networked backend.
const cleanReadyTimeout = time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func run() error {
	cli := parseFlags()
	if cli.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := store.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	backend, err := store.New(cfg.StoreConfig(), logger)
	if err != nil {
		return fmt.Errorf("create store (backend=%s): %w", cfg.Store.Backend, err)
	}
	defer backend.Close()

	s := storage.New(store.Instrument(backend, metrics), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cli.Clean {
		return runClean(ctx, backend, s, logger)
	}

	h := handler.New(s, handler.Options{
		APIPath:      cfg.APIPath,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Gatherer:     reg,
		Logger:       logger,
	})
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler.Wrap(handler.RateLimit(h, cfg.RateLimit, cfg.RateBurst), cfg.AllowedOrigins, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Simple Storage Server starting",
		"addr", srv.Addr,
		"store", cfg.Store.Backend,
		"data_dir", cfg.Store.DataDir,
		"routes", h.String())
	return serve(ctx, srv, cli.ShutdownTimeout, logger)
}

// loadConfig reads the configuration and applies the log flags on top.
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

// serve runs srv until ctx is cancelled, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Simple Storage Server shutdown complete")
	return nil
}

// runClean removes every document once the backend is reachable.
func runClean(ctx context.Context, backend store.Store, s *storage.Storage, logger *slog.Logger) error {
	if r, ok := backend.(*store.Reconnecting); ok {
		waitCtx, cancel := context.WithTimeout(ctx, cleanReadyTimeout)
		defer cancel()
		if err := r.Wait(waitCtx); err != nil {
			return fmt.Errorf("backend not ready: %w", err)
		}
	}
	if err := s.Clean(ctx); err != nil {
		return fmt.Errorf("clean: %w", err)
	}
	logger.Info("All documents removed")
	return nil
}
