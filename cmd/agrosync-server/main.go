// Command agrosync-server runs the reference authoritative server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kalnberzina/agrosync/internal/server"
	"github.com/kalnberzina/agrosync/internal/server/blobstore"
	"github.com/kalnberzina/agrosync/internal/server/metastore"
)

func main() {
	listen := flag.String("listen", envOrDefault("AGROSYNC_LISTEN", "0.0.0.0:8640"), "Listen address")
	dataDir := flag.String("data-dir", envOrDefault("AGROSYNC_DATA_DIR", "/var/lib/agrosync-server"), "Data directory")
	token := flag.String("token", os.Getenv("AGROSYNC_TOKEN"), "Bearer token clients must present")
	logLevel := flag.String("log-level", envOrDefault("AGROSYNC_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", envOrDefault("AGROSYNC_LOG_FORMAT", "json"), "Log format (json, text)")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if *logFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	if *token == "" {
		logger.Error("a bearer token is required; set --token or AGROSYNC_TOKEN")
		os.Exit(1)
	}

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		logger.Error("failed to create data directory", "error", err, "path", *dataDir)
		os.Exit(1)
	}

	meta, err := metastore.New(filepath.Join(*dataDir, "meta.db"))
	if err != nil {
		logger.Error("failed to open metastore", "error", err)
		os.Exit(1)
	}
	defer meta.Close()

	blobs, err := blobstore.NewFSStore(filepath.Join(*dataDir, "blobs"))
	if err != nil {
		logger.Error("failed to open blobstore", "error", err)
		os.Exit(1)
	}

	cfg := server.DefaultConfig()
	cfg.Token = *token

	srv := &http.Server{
		Addr:         *listen,
		Handler:      server.Handler(meta, blobs, cfg, logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting agrosync-server", "listen", *listen, "data_dir", *dataDir)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("server stopped")
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
