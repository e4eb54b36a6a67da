// Package main is the entry point for the workbench binary.
// It wires the SQLite connection pool, the rate-limited PII engine and the
// admin HTTP server together.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/datacloak/workbench/pkg/config"
	"github.com/datacloak/workbench/pkg/dispatch"
	"github.com/datacloak/workbench/pkg/engine"
	"github.com/datacloak/workbench/pkg/engine/native"
	"github.com/datacloak/workbench/pkg/engine/sidecar"
	"github.com/datacloak/workbench/pkg/logging"
	"github.com/datacloak/workbench/pkg/storage"
	"github.com/datacloak/workbench/pkg/telemetry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for workbench
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "workbench",
		Short: "PII detection and masking workbench",
		Long: `A service that detects, masks and audits personally identifiable
information. Text flows through a rate-limited engine queue, results are
persisted through a bounded SQLite connection pool, and an admin HTTP
server exposes health, stats and Prometheus metrics.`,
		RunE: runServer,
	}

	rootCmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.Flags().String("listen", "", "Admin server listen address (overrides config)")
	rootCmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().String("log-format", "", "Log format (json, text)")

	return rootCmd
}

// runServer is the main entry point for the workbench command
func runServer(cmd *cobra.Command, _ []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	listenAddr, err := cmd.Flags().GetString("listen")
	if err != nil {
		return fmt.Errorf("failed to get listen flag: %w", err)
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return fmt.Errorf("failed to get log-level flag: %w", err)
	}
	logFormat, err := cmd.Flags().GetString("log-format")
	if err != nil {
		return fmt.Errorf("failed to get log-format flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.AdminAddress = listenAddr
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	logger := logging.SetupLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: "workbench",
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		logger.Error("Failed to set up telemetry", "error", err)
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("Telemetry shutdown error", "error", err)
		}
	}()

	// Database pool
	lazyPool := storage.NewLazyPool(logger)
	if err := lazyPool.Init(storage.Config{
		Path:           cfg.Database.Path,
		MaxConnections: cfg.Database.MaxConnections,
		AcquireTimeout: cfg.Database.AcquireTimeout(),
	}); err != nil {
		logger.Error("Failed to initialize database pool", "error", err)
		return err
	}
	defer func() {
		if err := lazyPool.Close(); err != nil {
			logger.Error("Failed to close database pool", "error", err)
		}
	}()

	// Engine adapter
	adapter, rulesProvider, err := buildAdapter(cfg, logger)
	if err != nil {
		logger.Error("Failed to build engine adapter", "error", err)
		return err
	}
	if rulesProvider != nil {
		defer func() { _ = rulesProvider.Close() }()
	}

	dispatcher := dispatch.New(dispatch.Config{MinInterval: cfg.Engine.MinInterval()}, logger)

	svc, err := engine.NewService(adapter, dispatcher, engine.ServiceOptions{
		Binding: cfg.Engine.Binding,
		Vault:   storage.NewMemoryTokenVault(),
		Audit:   storage.NewAuditStore(lazyPool),
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	if err := svc.Initialize(ctx); err != nil {
		logger.Error("Failed to initialize engine", "error", err)
		return err
	}
	defer func() {
		if err := svc.Destroy(); err != nil {
			logger.Error("Failed to destroy engine", "error", err)
		}
	}()

	logger.Info("Starting workbench",
		"admin_address", cfg.Server.AdminAddress,
		"binding", cfg.Engine.Binding,
		"engine_version", svc.Version(),
		"db_path", cfg.Database.Path,
		"max_connections", cfg.Database.MaxConnections,
	)

	server := newAdminServer(cfg.Server.AdminAddress, svc, lazyPool)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		logger.Error("Admin server error", "error", err)
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", "error", err)
		return err
	}

	logger.Info("Workbench stopped")
	return nil
}

// buildAdapter constructs the engine adapter for the configured binding.
// For the native binding a custom rule registry is wired to the rules file
// watcher so rule changes apply without a restart.
func buildAdapter(cfg *config.Config, logger *slog.Logger) (engine.Adapter, *config.RulesProvider, error) {
	switch cfg.Engine.Binding {
	case "sidecar":
		adapter, err := sidecar.New(sidecar.Config{
			Command: cfg.Engine.Sidecar.Command,
			WorkDir: cfg.Engine.Sidecar.WorkDir,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return adapter, nil, nil

	default:
		registry := native.NewRegistry()
		eng, err := native.New(native.Config{
			EmailValidation: native.EmailValidation(cfg.Engine.EmailValidation),
			CardValidation:  native.CardValidation(cfg.Engine.CardValidation),
			MaxTextLength:   cfg.Engine.MaxTextLength,
			Registry:        registry,
		})
		if err != nil {
			return nil, nil, err
		}

		if cfg.Engine.RulesFile == "" {
			return eng, nil, nil
		}

		provider, err := config.NewRulesProvider(cfg.Engine.RulesFile, logger)
		if err != nil {
			return nil, nil, err
		}
		go func() {
			for rules := range provider.Subscribe() {
				if err := registry.ReplaceAll(rules); err != nil {
					logger.Error("Failed to apply detection rules", "error", err)
				}
			}
		}()
		return eng, provider, nil
	}
}

// newAdminServer builds the admin HTTP server with health, stats and
// metrics endpoints.
func newAdminServer(addr string, svc *engine.Service, lazyPool *storage.LazyPool) *http.Server {
	metrics := telemetry.NewMetrics(lazyPool, svc)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !svc.Available() {
			http.Error(w, "engine unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		poolStats, err := lazyPool.Stats()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"pool":     poolStats,
			"dispatch": svc.Stats(),
		})
	})

	return &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(mux, "workbench.admin"),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
