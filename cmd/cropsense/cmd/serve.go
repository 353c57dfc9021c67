package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/verdanthq/cropsense/internal/api"
	"github.com/verdanthq/cropsense/internal/config"
	"github.com/verdanthq/cropsense/internal/trace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the diagnosis HTTP API",
	Long: `Start the HTTP API that accepts image uploads and returns graded
diagnoses. Completed analyses are recorded in a local SQLite audit store
and can be fetched back by trace ID.

Examples:
  # Start with defaults (:8080)
  cropsense serve

  # Start on a custom address
  cropsense serve --addr 127.0.0.1:3000`,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "",
		"listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := buildLogger(cfg, os.Stdout)

	store, err := buildTables(cfg)
	if err != nil {
		return err
	}

	pipe, err := buildPipeline(cfg, store, logger)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Trace.DBPath), 0o755); err != nil {
		return fmt.Errorf("creating trace directory: %w", err)
	}
	auditStore, err := trace.NewStore(cfg.Trace.DBPath)
	if err != nil {
		return fmt.Errorf("opening audit store: %w", err)
	}
	defer func() {
		if closeErr := auditStore.Close(); closeErr != nil {
			logger.Warn("closing audit store failed", "error", closeErr)
		}
	}()

	registryOpts := []trace.RegistryOption{trace.WithAuditStore(auditStore)}
	if cfg.Trace.Retention > 0 {
		registryOpts = append(registryOpts, trace.WithMaxTraces(cfg.Trace.Retention))
	}
	registry := trace.NewRegistry(logger, registryOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tables.Watch && cfg.Tables.OverridePath != "" {
		watcher, err := config.NewTableWatcher(cfg.Tables.OverridePath, store, logger)
		if err != nil {
			logger.Warn("table watcher unavailable", "error", err)
		} else {
			go watcher.Run(ctx)
		}
	}

	serverOpts := []api.ServerOption{api.WithAuditStore(auditStore)}
	if cfg.Server.RequestTimeout != "" {
		d, err := time.ParseDuration(cfg.Server.RequestTimeout)
		if err != nil {
			return fmt.Errorf("parsing server.request_timeout: %w", err)
		}
		serverOpts = append(serverOpts, api.WithRequestTimeout(d))
	}
	server := api.NewServer(pipe, registry, store, logger, serverOpts...)

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	logger.Info("starting server", "addr", addr, "version", appVersion)
	return server.ListenAndServe(ctx, addr)
}
