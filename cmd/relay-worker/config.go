package main

import (
	"fmt"
	"os"
	"time"

	"signalrelay/internal/mirror"
	"signalrelay/internal/rolesync"

	"github.com/caarlos0/env/v11"
)

// workerConfig is read from the environment only; the worker has no config file
type workerConfig struct {
	RelayURL        string        `env:"RELAY_URL,required,notEmpty"`
	RelayToken      string        `env:"RELAY_WORKER_TOKEN,required,notEmpty"`
	DiscordBotToken string        `env:"DISCORD_BOT_TOKEN,required,notEmpty"`
	WorkerID        string        `env:"WORKER_ID"`
	Queues          []string      `env:"WORKER_QUEUES" envSeparator:"," envDefault:"mirror,role-sync"`
	ClaimLimit      int           `env:"WORKER_CLAIM_LIMIT" envDefault:"5"`
	PollInterval    time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"2s"`
	HTTPTimeout     time.Duration `env:"WORKER_HTTP_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
}

func loadWorkerConfig() (*workerConfig, error) {
	cfg, err := env.ParseAs[workerConfig]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse worker environment: %w", err)
	}

	if cfg.WorkerID == "" {
		host, _ := os.Hostname()
		cfg.WorkerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	for _, q := range cfg.Queues {
		if q != mirror.QueueName && q != rolesync.QueueName {
			return nil, fmt.Errorf("unknown queue %q in WORKER_QUEUES", q)
		}
	}
	if len(cfg.Queues) == 0 {
		return nil, fmt.Errorf("WORKER_QUEUES must name at least one queue")
	}
	if cfg.ClaimLimit < 1 {
		return nil, fmt.Errorf("WORKER_CLAIM_LIMIT must be at least 1")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("WORKER_POLL_INTERVAL must be positive")
	}
	return &cfg, nil
}
