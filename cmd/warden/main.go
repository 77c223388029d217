// Package main provides the entry point for mcp-warden
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ck-labs/mcp-warden/internal/manager"
	"github.com/ck-labs/mcp-warden/internal/upstream"
	"github.com/ck-labs/mcp-warden/pkg/admin"
	"github.com/ck-labs/mcp-warden/pkg/config"
	werrors "github.com/ck-labs/mcp-warden/pkg/errors"
	"github.com/ck-labs/mcp-warden/pkg/health"
)

// Version information (set by build process)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "warden",
		Short: "mcp-warden - Supervised connection manager for MCP tool servers",
		Long: "mcp-warden maintains a supervised pool of connections to external MCP tool servers " +
			"with health monitoring, circuit breaking, a unified tool catalog, and hot configuration reload.",
		RunE: runWarden,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config.yaml", "Path to configuration file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mcp-warden %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newValidateCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newValidateCommand checks a config file without starting anything.
func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewLoader().LoadFromFile(configFile)
			if err != nil {
				return err
			}
			fmt.Printf("Configuration OK: %d servers defined\n", len(cfg.Servers))
			return nil
		},
	}
}

func runWarden(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	loader := config.NewLoader()
	cfg, err := loader.LoadFromFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Starting mcp-warden",
		zap.String("version", Version),
		zap.String("commit", GitCommit),
		zap.String("build_time", BuildTime),
		zap.String("config_file", configFile),
		zap.Int("server_count", len(cfg.Servers)),
	)

	connector := upstream.NewConnector(logger, cfg.Manager.ClientName, cfg.Manager.ClientVersion)
	mgr := manager.New(logger, connector, nil)

	discover := func(ctx context.Context, handle manager.Handle) ([]manager.Tool, error) {
		sh, ok := handle.(*upstream.SessionHandle)
		if !ok {
			return nil, fmt.Errorf("handle does not expose an MCP session")
		}
		return upstream.DiscoverTools(ctx, sh.Session())
	}

	// Bring up the configured servers. A failing server is reported and
	// skipped; the rest of the pool still starts.
	bootServers(ctx, logger, mgr, cfg.Servers)
	registerMissingTools(ctx, logger, mgr, discover, cfg.Servers)

	// Health surface.
	healthChecker := health.NewHealthChecker(logger)
	events := health.NewEventLog(0, logger)
	healthChecker.SetEventLog(events)
	healthChecker.SetAlerter(health.NewAlerter(logger, 0))
	health.RegisterManagerChecks(healthChecker, mgr)
	healthChecker.RegisterCheck("config", func(ctx context.Context) (health.Status, string) {
		return health.StatusHealthy, "configuration loaded and valid"
	})
	go healthChecker.StartPeriodicChecks(ctx, 30*time.Second)

	// Hot reload: SIGHUP, admin endpoint, and optional file watch all
	// funnel through the reload manager; the callback reconciles the
	// connection pool against the new server set.
	reloadManager := config.NewReloadManager(configFile, loader, cfg, logger)
	reloadManager.AddCallback(func(oldConfig, newConfig *config.Config) error {
		if err := mgr.ReloadConfiguration(ctx, toManagerConfigs(newConfig.Servers)); err != nil {
			return err
		}
		registerMissingTools(ctx, logger, mgr, discover, newConfig.Servers)
		return nil
	})
	if err := reloadManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reload manager: %w", err)
	}
	defer reloadManager.Stop()
	if cfg.Manager.WatchConfig {
		if err := reloadManager.WatchFile(); err != nil {
			logger.Warn("Config file watching disabled", zap.Error(err))
		}
	}

	// Admin HTTP API.
	api := admin.NewAPI(logger, mgr, admin.ToolDiscoverer(discover)).
		WithHealth(healthChecker, events).
		WithReload(
			admin.NewReloadHandler(reloadManager),
			admin.NewConfigDiffHandler(reloadManager, configFile, loader),
		)

	httpServer := &http.Server{
		Addr:         cfg.Admin.Addr,
		Handler:      api.Routes(),
		ReadTimeout:  cfg.Admin.Timeouts.Read,
		WriteTimeout: cfg.Admin.Timeouts.Write,
		IdleTimeout:  cfg.Admin.Timeouts.Idle,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Admin API listening", zap.String("addr", cfg.Admin.Addr))
		var err error
		if cfg.Admin.TLS.CertFile != "" {
			err = httpServer.ListenAndServeTLS(cfg.Admin.TLS.CertFile, cfg.Admin.TLS.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		logger.Error("Admin API failed", zap.Error(err))
	case <-sigChan:
		logger.Info("Shutdown signal received, starting graceful shutdown")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Admin API shutdown failed", zap.Error(err))
	}
	if err := mgr.Close(); err != nil {
		logger.Error("Connection manager shutdown failed", zap.Error(err))
	}

	logger.Info("mcp-warden stopped")
	return nil
}

// bootServers starts every configured server, logging and skipping
// failures so one bad server cannot prevent startup.
func bootServers(ctx context.Context, logger *zap.Logger, mgr *manager.Manager, servers []config.ServerConfig) {
	for _, sc := range servers {
		if _, err := mgr.StartConnection(ctx, toManagerConfig(sc)); err != nil {
			logger.Error("Failed to start server",
				zap.String("server_id", sc.ID),
				zap.Error(err),
			)
			continue
		}
		logger.Info("Server started",
			zap.String("server_id", sc.ID),
			zap.String("type", sc.Type),
		)
	}
}

// registerMissingTools discovers and registers tool lists for connected
// servers that have none yet, retrying transient transport failures.
func registerMissingTools(ctx context.Context, logger *zap.Logger, mgr *manager.Manager, discover admin.ToolDiscoverer, servers []config.ServerConfig) {
	retryCfg := werrors.DefaultRetryConfig()
	retryCfg.ShouldRetry = werrors.IsRetryableError

	for _, sc := range servers {
		if _, err := mgr.GetServerTools(sc.ID); err == nil {
			continue
		}
		info, err := mgr.GetConnection(sc.ID)
		if err != nil {
			continue
		}

		var tools []manager.Tool
		result := werrors.Retry(ctx, retryCfg, func(ctx context.Context) error {
			var derr error
			tools, derr = discover(ctx, info.Handle)
			return derr
		})
		if result.LastError != nil {
			logger.Warn("Tool discovery failed",
				zap.String("server_id", sc.ID),
				zap.Int("attempts", result.Attempts),
				zap.Error(result.LastError),
			)
			continue
		}
		if err := mgr.RegisterTools(sc.ID, tools); err != nil {
			logger.Warn("Tool registration failed",
				zap.String("server_id", sc.ID),
				zap.Error(err),
			)
			continue
		}
		logger.Info("Registered server tools",
			zap.String("server_id", sc.ID),
			zap.Int("tool_count", len(tools)),
		)
	}
}

func toManagerConfig(sc config.ServerConfig) manager.ServerConfig {
	return manager.ServerConfig{
		ID:                sc.ID,
		Type:              sc.Type,
		Command:           sc.Command,
		URL:               sc.URL,
		Env:               sc.Env,
		HeartbeatInterval: sc.HeartbeatInterval,
		MaxFailures:       sc.MaxFailures,
		FailureWindow:     sc.FailureWindow,
		ConnectTimeout:    sc.ConnectTimeout,
	}
}

func toManagerConfigs(servers []config.ServerConfig) []manager.ServerConfig {
	out := make([]manager.ServerConfig, 0, len(servers))
	for _, sc := range servers {
		out = append(out, toManagerConfig(sc))
	}
	return out
}
