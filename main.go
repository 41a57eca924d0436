package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TWRT/taskboard/internal/api"
	"github.com/TWRT/taskboard/internal/client/blob"
	"github.com/TWRT/taskboard/internal/config"
	"github.com/TWRT/taskboard/internal/metrics"
	"github.com/TWRT/taskboard/internal/repository"
)

func main() {
	configFile := flag.String("config", "", "path to taskboard.yaml")
	flag.Parse()

	cfg, err := config.LoadServer(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger(os.Stderr)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(cfg *config.Server, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repository.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()
	logger.Info("database ready", slog.String("path", cfg.DBPath))

	opts := api.Options{
		JWTSecret: cfg.JWT.Secret,
		TokenTTL:  cfg.JWT.TTL,
		Metrics:   metrics.New(),
		Logger:    logger,
	}

	switch cfg.Blob.Backend {
	case config.BackendS3:
		store, err := blob.NewS3Store(ctx, cfg.Blob.S3(), logger)
		if err != nil {
			return err
		}
		opts.Blobs = store
		logger.Info("blob store: s3", slog.String("bucket", cfg.Blob.Bucket), slog.String("region", cfg.Blob.Region))
	default:
		store, err := blob.NewLocalStore(cfg.Blob.LocalDir, cfg.Blob.PublicURL, logger)
		if err != nil {
			return err
		}
		opts.Blobs = store
		opts.Files = store.Handler()
		logger.Info("blob store: local", slog.String("dir", cfg.Blob.LocalDir))
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.SetupRouter(db, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
