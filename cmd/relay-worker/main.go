// Command relay-worker claims mirror and role-sync jobs from the relay and
// performs them against the Discord API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"signalrelay/internal/config"
	"signalrelay/internal/constants"
	"signalrelay/pkg/workerclient"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

func main() {
	envFile := flag.String("env-file", ".env", "Path to an optional .env file")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		logrus.Fatalf("Failed to load env file: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Worker error: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := loadWorkerConfig()
	if err != nil {
		return err
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	logger.SetLevel(level)

	session, err := discordgo.New("Bot " + cfg.DiscordBotToken)
	if err != nil {
		return fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Client = &http.Client{Timeout: cfg.HTTPTimeout}

	client := workerclient.NewClientWithLogger(cfg.RelayURL, cfg.RelayToken, cfg.WorkerID,
		&http.Client{Timeout: cfg.HTTPTimeout}, logger)

	logger.WithField(constants.LogFieldWorkerID, cfg.WorkerID).Info("Starting relay worker")
	return NewWorker(cfg, client, session, logger).Run(ctx)
}
