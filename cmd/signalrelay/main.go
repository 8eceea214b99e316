package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signalrelay/internal/config"
	"signalrelay/internal/constants"
	"signalrelay/internal/database"
	"signalrelay/internal/models"
	"signalrelay/internal/retry"
	"signalrelay/internal/routing"
	"signalrelay/internal/scheduler"
	"signalrelay/internal/tracing"
	"signalrelay/internal/versioning"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	configPath = flag.String("config", "config.json", "Path to configuration file (optional; env-only when missing)")
	envFile    = flag.String("env-file", ".env", "Path to an optional .env file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("signalrelay %s\n", buildInfo())
		os.Exit(0)
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		logrus.Fatalf("Failed to load env file: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func buildInfo() versioning.Info {
	return versioning.NewInfo(Version, GitCommit, BuildTime)
}

// resolveConfigPath drops a missing default config file so the relay can
// run from the environment alone.
func resolveConfigPath(path string, logger *logrus.Logger) string {
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		logger.WithField("path", path).Warn("Config file not found, using defaults and environment")
		return ""
	}
	return path
}

func applyLogLevel(logger *logrus.Logger, level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", level)
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	info := buildInfo()
	logger.WithFields(logrus.Fields{
		"version":     info.Build,
		"api_version": info.API.String(),
		"build":       info.BuildTime,
		"commit":      info.Commit,
	}).Info("Starting signalrelay")

	path := resolveConfigPath(*configPath, logger)
	watcher := config.NewWatcher(path, logger)
	cfg, err := watcher.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyLogLevel(logger, cfg.LogLevel)

	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	db, err := openDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	table, err := routing.NewTable(cfg.Connectors, cfg.Roles)
	if err != nil {
		return fmt.Errorf("failed to build routing table: %w", err)
	}
	logger.WithField("connectors", table.ConnectorCount()).Info("Routing table loaded")

	svc, err := newServices(db, table, table, cfg.Queue.MaxAttempts, logger)
	if err != nil {
		return err
	}
	auth := newAuthenticator(cfg.Auth, logger)

	watcher.OnChange(func(next *models.Config) {
		if err := table.Reload(next.Connectors, next.Roles); err != nil {
			logger.WithError(err).Error("Routing reload rejected, keeping previous table")
			return
		}
		auth.Update(next.Auth)
		applyLogLevel(logger, next.LogLevel)
		logger.WithField("connectors", table.ConnectorCount()).Info("Routing table reloaded")
	})
	if path != "" {
		go func() {
			if err := watcher.Start(ctx); err != nil {
				logger.WithError(err).Warn("Configuration watcher stopped")
			}
		}()
	}

	maintenance := scheduler.New(cfg.Maintenance, []scheduler.Queue{svc.mirror.Queue(), svc.roles.Queue()}, logger)
	if err := maintenance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start maintenance: %w", err)
	}
	defer maintenance.Stop()

	server := NewServer(cfg.Server, svc, auth, logger)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// openDatabase retries the initial connection with exponential backoff
func openDatabase(ctx context.Context, cfg models.DatabaseConfig, logger *logrus.Logger) (*database.Database, error) {
	var db *database.Database
	backoff := retry.NewBackoff(retry.DefaultBackoffConfig())

	err := backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(ctx, cfg, logger)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	return db, nil
}
