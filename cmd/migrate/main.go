package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"signalrelay/internal/config"
	"signalrelay/internal/database"
	"signalrelay/internal/migrations"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	envFile := flag.String("env-file", ".env", "Path to an optional .env file")
	dsn := flag.String("dsn", "", "Database DSN; overrides config and DATABASE_DSN")
	status := flag.Bool("status", false, "Show applied and pending migrations without applying them")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := config.LoadDotEnv(*envFile); err != nil {
		logger.Fatalf("Failed to load env file: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *dsn, *status, logger); err != nil {
		logger.Fatalf("Migration failed: %v", err)
	}
}

func run(ctx context.Context, configPath, dsn string, statusOnly bool, logger *logrus.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if dsn != "" {
		cfg.Database.DSN = dsn
	}

	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	pending, err := pendingMigrations(ctx, db)
	if err != nil {
		return err
	}

	if statusOnly {
		applied, err := db.AppliedMigrations(ctx)
		if err != nil {
			return err
		}
		for _, m := range applied {
			fmt.Printf("applied  %s  %s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04:05Z07:00"))
		}
		for _, version := range pending {
			fmt.Printf("pending  %s\n", version)
		}
		return nil
	}

	if len(pending) == 0 {
		logger.Info("Database schema is up to date")
		return nil
	}

	logger.WithField("pending", pending).Info("Applying migrations")
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("Database schema updated")
	return nil
}

func pendingMigrations(ctx context.Context, db *database.Database) ([]string, error) {
	all, err := migrations.All()
	if err != nil {
		return nil, err
	}
	applied, err := db.AppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	done := make(map[string]struct{}, len(applied))
	for _, m := range applied {
		done[m.Version] = struct{}{}
	}
	var pending []string
	for _, m := range all {
		if _, ok := done[m.Version]; !ok {
			pending = append(pending, m.Version)
		}
	}
	return pending, nil
}
