// Package setup bootstraps the application: configuration, logging and
// the whitelist store.
package setup

import (
	"context"
	"log"

	"go.uber.org/zap"

	"github.com/gatewarden/gatewarden/internal/setup/config"
	"github.com/gatewarden/gatewarden/internal/setup/telemetry"
	"github.com/gatewarden/gatewarden/internal/whitelist"
)

// App bundles all core dependencies and services needed by the application.
type App struct {
	Config     *config.Config          // Application configuration
	Settings   *config.RuntimeSettings // Runtime-mutable moderation toggles
	Logger     *zap.Logger             // Main application logger
	Store      *whitelist.Store        // Whitelist persistence
	LogManager *telemetry.Manager      // Log management system
}

// InitializeApp bootstraps all application dependencies in the correct
// order, ensuring each component has its required dependencies available.
func InitializeApp(ctx context.Context, logDir string) (*App, error) {
	// Load app configuration
	cfg, configDir, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	// A --log-dir flag overrides the configured directory
	if logDir == "" {
		logDir = cfg.Debug.LogDir
	}

	// Logging system is initialized next to capture setup issues
	logManager := telemetry.NewManager(ctx, logDir, &cfg.Debug, &cfg.Loki)

	logger, err := logManager.GetLogger()
	if err != nil {
		return nil, err
	}

	logger.Info("Loaded configuration",
		zap.String("configDir", configDir),
		zap.String("instanceID", logManager.GetInstanceID()))

	// Whitelist store loads or creates its backing file
	store := whitelist.New(cfg.Storage.WhitelistFile, logger)

	settings := config.NewRuntimeSettings(&cfg.Moderation)

	return &App{
		Config:     cfg,
		Settings:   settings,
		Logger:     logger,
		Store:      store,
		LogManager: logManager,
	}, nil
}

// Cleanup ensures graceful shutdown of all components in reverse
// initialization order. Logs but does not fail on cleanup errors.
func (s *App) Cleanup(context.Context) {
	// Sync buffered logs before shutdown
	if err := s.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	// Stop telemetry manager to flush Loki logs
	s.LogManager.Stop()
}
