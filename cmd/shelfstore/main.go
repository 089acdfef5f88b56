// Package main is the entry point for the ShelfStore versioned object storage server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shelfstore/shelfstore/internal/config"
	"github.com/shelfstore/shelfstore/internal/engine"
	"github.com/shelfstore/shelfstore/internal/logging"
	"github.com/shelfstore/shelfstore/internal/metadata"
	"github.com/shelfstore/shelfstore/internal/metrics"
	"github.com/shelfstore/shelfstore/internal/server"
	"github.com/shelfstore/shelfstore/internal/storage"
)

func main() {
	configPath := flag.String("config", "shelfstore.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 9000)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	shutdownTimeout := flag.Int("shutdown-timeout", 0, "graceful shutdown timeout in seconds (default: from config or 30)")
	maxObjectSize := flag.Int64("max-object-size", 0, "maximum object size in bytes (default: from config or 5368709120)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file values.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *shutdownTimeout != 0 {
		cfg.Server.ShutdownTimeout = *shutdownTimeout
	}
	if *maxObjectSize != 0 {
		cfg.Server.MaxObjectSize = *maxObjectSize
	}

	// Initialize structured logging.
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	metrics.Register()

	// Crash-only design: every startup is recovery. SQLite WAL auto-recovers
	// on open, and orphan temp blobs are swept below.

	// Initialize the version metadata store.
	var metaStore metadata.Store
	switch cfg.Metadata.Engine {
	case "memory":
		metaStore = metadata.NewMemoryStore()
		slog.Info("Metadata store initialized", "engine", "memory")
	default:
		dbPath := cfg.Metadata.SQLite.Path
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create metadata directory: %v\n", err)
			os.Exit(1)
		}
		sqliteStore, err := metadata.NewSQLiteStore(dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize metadata store: %v\n", err)
			os.Exit(1)
		}
		metaStore = sqliteStore
		slog.Info("Metadata store initialized", "engine", "sqlite", "path", dbPath)
	}
	defer metaStore.Close()

	// Initialize the blob storage backend.
	var blobStore storage.BlobStore
	switch cfg.Storage.Backend {
	case "memory":
		blobStore = storage.NewMemoryBackend()
		slog.Info("Storage backend initialized", "backend", "memory")
	default:
		storageRoot := cfg.Storage.Local.RootDir
		if err := os.MkdirAll(storageRoot, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create storage root directory: %v\n", err)
			os.Exit(1)
		}
		localBackend, err := storage.NewLocalBackend(storageRoot)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize storage backend: %v\n", err)
			os.Exit(1)
		}
		// Crash-only recovery: clean orphan temp files from incomplete writes.
		if err := localBackend.CleanTempFiles(); err != nil {
			slog.Warn("Failed to clean temp files", "error", err)
		}
		blobStore = localBackend
		slog.Info("Storage backend initialized", "backend", "local", "root", storageRoot)
	}

	eng := engine.New(metaStore, blobStore,
		engine.WithRegion(cfg.Server.Region),
		engine.WithMaxBatchItems(cfg.Engine.MaxBatchItems),
		engine.WithMaxListVersions(cfg.Engine.MaxListVersions),
	)

	srv := server.New(cfg, eng)
	addr := cfg.Addr()

	// Start the server in a goroutine so we can handle shutdown signals.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("ShelfStore listening", "addr", addr)
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// SIGTERM/SIGINT handler: stop accepting connections, wait for in-flight
	// requests with a timeout, then exit. No cleanup -- crash-only design.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		// Give in-flight requests time to complete.
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
}
