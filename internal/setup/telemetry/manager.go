// Package telemetry builds the logging stack: per-session log
// directories, line-capped files, an in-memory tail for diagnostics,
// and optional Loki shipping.
package telemetry

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gatewarden/gatewarden/internal/setup/config"
	"github.com/gatewarden/gatewarden/internal/setup/telemetry/logger"
	"github.com/gatewarden/gatewarden/internal/setup/telemetry/loki"
)

// Manager handles the creation and management of log files and directories.
// It keeps timestamped session directories and retains a bounded tail of
// recent lines in memory.
type Manager struct {
	lokiPusher        *loki.Pusher
	ring              *logger.Ring
	instanceID        string // Unique identifier for this program instance
	currentSessionDir string // Path to the current session's log directory
	logDir            string // Base directory for all logs
	level             string // Logging level (debug, info, warn, error)
	maxLogsToKeep     int    // Maximum number of log sessions to retain
	maxLogLines       int    // Maximum number of lines to keep in each log file
}

// NewManager creates a new Manager instance.
func NewManager(ctx context.Context, logDir string, debugCfg *config.Debug, lokiCfg *config.Loki) *Manager {
	instanceID := uuid.New().String()

	manager := &Manager{
		ring:          logger.NewRing(debugCfg.RingSize),
		instanceID:    instanceID,
		logDir:        logDir,
		level:         debugCfg.LogLevel,
		maxLogsToKeep: debugCfg.MaxLogsToKeep,
		maxLogLines:   debugCfg.MaxLogLines,
	}

	// Initialize Loki pusher if enabled
	if lokiCfg.Enabled && lokiCfg.URL != "" {
		baseLabels := make(map[string]string)
		maps.Copy(baseLabels, lokiCfg.Labels)

		baseLabels["component"] = "bot"
		baseLabels["instance_id"] = instanceID

		lokiConfigWithLabels := *lokiCfg
		lokiConfigWithLabels.Labels = baseLabels
		manager.lokiPusher = loki.NewPusher(ctx, lokiConfigWithLabels)
	}

	return manager
}

// Stop gracefully shuts down the telemetry manager.
// This should be called on application shutdown to ensure logs are flushed.
func (lm *Manager) Stop() {
	if lm.lokiPusher != nil {
		lm.lokiPusher.Stop()
	}
}

// GetInstanceID returns the unique instance identifier for this program run.
func (lm *Manager) GetInstanceID() string {
	return lm.instanceID
}

// GetCurrentSessionDir returns the current session directory.
func (lm *Manager) GetCurrentSessionDir() string {
	return lm.currentSessionDir
}

// RecentLogs returns up to n of the most recent log lines, oldest first.
func (lm *Manager) RecentLogs(n int) []string {
	return lm.ring.Last(n)
}

// GetLogger initializes the application logger with console, file, ring
// and optional Loki sinks.
func (lm *Manager) GetLogger() (*zap.Logger, error) {
	if err := lm.setupLogDirectories(); err != nil {
		return nil, err
	}

	zapLevel, err := zapcore.ParseLevel(lm.level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	logPath := filepath.Join(lm.currentSessionDir, "bot.log")

	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cannot open log file %s: %w", logPath, err)
	}

	capped := logger.NewLineCapWriter(file, lm.maxLogLines, logPath)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), zapLevel),
		zapcore.NewCore(encoder, zapcore.AddSync(capped), zapLevel),
		zapcore.NewCore(encoder, zapcore.AddSync(lm.ring), zapLevel),
	}

	if lm.lokiPusher != nil {
		lokiLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
			return lvl >= zapLevel
		})
		cores = append(cores, loki.NewCore(lokiLevel, lm.lokiPusher))
	}

	return zap.New(
		zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Development(),
	), nil
}

// setupLogDirectories creates and manages the log directory structure.
// It ensures the base directory exists, rotates old logs, and creates a new session directory.
func (lm *Manager) setupLogDirectories() error {
	if err := os.MkdirAll(lm.logDir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	if err := lm.rotateLogSessions(); err != nil {
		return fmt.Errorf("failed to rotate log sessions: %w", err)
	}

	lm.currentSessionDir = filepath.Join(lm.logDir, time.Now().Format("2006-01-02_15-04-05"))
	if err := os.MkdirAll(lm.currentSessionDir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	return nil
}

// rotateLogSessions maintains the log directory by removing old sessions.
// Keeps only the most recent sessions based on maxLogsToKeep.
func (lm *Manager) rotateLogSessions() error {
	sessions, err := filepath.Glob(filepath.Join(lm.logDir, "*"))
	if err != nil {
		return err
	}

	if len(sessions) <= lm.maxLogsToKeep {
		return nil // No rotation needed
	}

	// Sort sessions by modification time (oldest first)
	sort.Slice(sessions, func(i, j int) bool {
		iInfo, _ := os.Stat(sessions[i])
		jInfo, _ := os.Stat(sessions[j])

		return iInfo.ModTime().Before(jInfo.ModTime())
	})

	toDelete := len(sessions) - lm.maxLogsToKeep
	for i := 0; i < toDelete; i++ {
		if err := os.RemoveAll(sessions[i]); err != nil {
			return err
		}
	}

	return nil
}
