// Copyright (c) 2025, the debridarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/debridarr/debridarr/internal/api"
	"github.com/debridarr/debridarr/internal/auth"
	"github.com/debridarr/debridarr/internal/buildinfo"
	"github.com/debridarr/debridarr/internal/config"
	"github.com/debridarr/debridarr/internal/database"
	"github.com/debridarr/debridarr/internal/debrid"
	"github.com/debridarr/debridarr/internal/domain"
	"github.com/debridarr/debridarr/internal/metrics"
	"github.com/debridarr/debridarr/internal/models"
	"github.com/debridarr/debridarr/internal/monitor"
	"github.com/debridarr/debridarr/internal/notify"
	"github.com/debridarr/debridarr/internal/router"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "debridarr",
		Short: "Local companion daemon for premium debrid downloading",
		Long: `debridarr - a local daemon that mediates between browser UI surfaces
and a premium debrid service: link unrestricting, torrent management,
device authentication and completion notifications.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand(buildinfo.Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/debridarr/ or %APPDATA%\\debridarr\\). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for database and other files (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(configDir, dataDir, logPath)
		app.runServer()
	}

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of debridarr",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the daemon.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/debridarr/config.toml
- Windows: %APPDATA%\debridarr\config.toml

You can specify either a directory path or a direct file path:
- Directory: debridarr generate-config --config-dir /path/to/config/
- File: debridarr generate-config --config-dir /path/to/myconfig.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var configPath string
			if configDir != "" {
				if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
					configPath = configDir
				} else if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
					configPath = configDir
				} else {
					configPath = filepath.Join(configDir, "config.toml")
				}
			} else {
				defaultDir := config.GetDefaultConfigDir()
				configPath = filepath.Join(defaultDir, "config.toml")
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

type Application struct {
	configDir string
	dataDir   string
	logPath   string
}

func NewApplication(configDir, dataDir, logPath string) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
	}
}

func (app *Application) runServer() {
	// Initialize configuration
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	// Override with CLI flags if provided
	if app.dataDir != "" {
		os.Setenv("DEBRIDARR__DATA_DIR", app.dataDir)
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		os.Setenv("DEBRIDARR__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}

	cfg.ApplyLogConfig()

	log.Info().Str("version", buildinfo.Version).Str("data_dir", cfg.GetDataDir()).Msg("Starting debridarr")

	// Initialize database
	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	// Initialize stores
	credentialStore, err := models.NewCredentialStore(db, cfg.GetEncryptionKey())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize credential store")
	}
	settingsStore := models.NewSettingsStore(db)
	cacheStore := models.NewAPICacheStore(db)

	// Metrics are registered regardless; the scrape endpoint only starts
	// when enabled.
	collector := metrics.NewCollector()

	// Event stream for UI surfaces
	eventStream := notify.NewEventStream()
	collector.RegisterSubscriberGauge(eventStream.Subscribers)
	notifier := notify.WithObserver(eventStream, collector.ObserveEvent)

	// Auth: OAuth client, token manager, device flow
	oauthClient := debrid.NewAuthClient(cfg.Config.OAuthURL, cfg.Config.ClientID)
	authManager := auth.NewManager(credentialStore, oauthClient)

	deviceFlow := auth.NewDeviceFlow(oauthClient, authManager)
	deviceFlow.OnResult(func(status auth.FlowStatus) {
		notifier.Publish(notify.Event{Type: notify.EventAuth, Data: status})
	})

	// Rate-limited API gateway
	apiClient := debrid.NewClient(debrid.Options{
		BaseURL:    cfg.Config.APIURL,
		Tokens:     authManager,
		RateBudget: cfg.Config.RateBudget,
		Observe:    collector.ObserveAPIRequest,
	})
	collector.RegisterBudgetGauge(apiClient.PendingBudget)

	// Torrent monitor
	engine := monitor.NewEngine(apiClient, settingsStore, notifier, time.Duration(cfg.Config.PollInterval)*time.Second)
	defer engine.Stop()

	// Rate budget and poll cadence follow config file edits without a restart.
	cfg.RegisterReloadListener(func(newCfg *domain.Config) {
		apiClient.SetRateBudget(newCfg.RateBudget)
		engine.SetInterval(time.Duration(newCfg.PollInterval) * time.Second)
	})

	// Message dispatcher
	dispatcher := router.New(apiClient, authManager, deviceFlow, engine, settingsStore, cacheStore, notifier)

	// Every poll tick feeds the metrics and refreshes the active tab's counter
	// so it tracks the transfer count without a UI round trip.
	engine.SetObserver(func(active int, err error) {
		collector.ObservePollTick(active, err)
		if err == nil {
			notifier.Publish(notify.Event{Type: notify.EventBadge, Data: dispatcher.Badge()})
		}
	})

	// Resume where we left off: wake the poller if transfers are active and
	// warm the slow-changing caches.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 60*time.Second)
	go func() {
		defer startupCancel()
		engine.EvaluateAndAdjust(startupCtx)
		dispatcher.Warm(startupCtx)
	}()

	// Start server in goroutine
	httpServer := api.NewServer(&api.Dependencies{
		Config:     cfg,
		Version:    buildinfo.Version,
		Dispatcher: dispatcher,
		Stream:     eventStream,
	})

	errorChannel := make(chan error)
	serverReady := make(chan struct{}, 1)
	go func() {
		if err := httpServer.ListenAndServeReady(serverReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorChannel <- err
		}
	}()

	select {
	case <-serverReady:
	case err := <-errorChannel:
		log.Fatal().Err(err).Msg("failed to start HTTP server")
	}

	var metricsServer *metrics.Server
	if cfg.Config.MetricsEnabled {
		metricsServer = metrics.NewServer(collector, cfg.Config.MetricsHost, cfg.Config.MetricsPort)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errorChannel <- err
			}
		}()
	}

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down server", sig.String())
	case err := <-errorChannel:
		log.Error().Err(err).Msg("got unexpected error from server")
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("got error during graceful http shutdown")
		os.Exit(1)
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("got error during metrics server shutdown")
		}
	}
}
