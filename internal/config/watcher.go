package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"signalrelay/internal/models"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const reloadDebounce = 200 * time.Millisecond

// Watcher reloads the config file when it changes and notifies callbacks.
// A file that fails validation is logged and the previous config kept.
type Watcher struct {
	path      string
	logger    *logrus.Logger
	mu        sync.RWMutex
	config    *models.Config
	callbacks []func(*models.Config)
}

func NewWatcher(path string, logger *logrus.Logger) *Watcher {
	return &Watcher{path: path, logger: logger}
}

// Load performs the initial load; Start calls it when no config is held yet.
func (w *Watcher) Load() (*models.Config, error) {
	cfg, err := Load(w.path)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.config = cfg
	w.mu.Unlock()
	return cfg, nil
}

// Start watches the file's directory until ctx is done. Editors often
// replace the file rather than write it, so the directory is watched.
func (w *Watcher) Start(ctx context.Context) error {
	if w.Config() == nil {
		if _, err := w.Load(); err != nil {
			return err
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	abs, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	w.logger.WithField("path", w.path).Info("Configuration watcher started")

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Configuration watcher stopping")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				debounce = time.After(reloadDebounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Configuration watcher error")

		case <-debounce:
			debounce = nil
			w.reload()
		}
	}
}

// Config returns the current configuration
func (w *Watcher) Config() *models.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// OnChange registers a callback run after each successful reload
func (w *Watcher) OnChange(callback func(*models.Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.WithError(err).Error("Failed to reload configuration; keeping previous")
		return
	}

	w.mu.Lock()
	old := w.config
	w.config = cfg
	callbacks := make([]func(*models.Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Info("Configuration reloaded")
	logChanges(w.logger, old, cfg)

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.WithField("panic", r).Error("Config change callback panicked")
				}
			}()
			cb(cfg)
		}()
	}
}

func logChanges(logger *logrus.Logger, old, cfg *models.Config) {
	if old == nil {
		return
	}
	if len(old.Connectors) != len(cfg.Connectors) {
		logger.WithFields(logrus.Fields{"old": len(old.Connectors), "new": len(cfg.Connectors)}).Info("Connector count changed")
	}
	if len(old.Roles) != len(cfg.Roles) {
		logger.WithFields(logrus.Fields{"old": len(old.Roles), "new": len(cfg.Roles)}).Info("Role mapping count changed")
	}
	if old.LogLevel != cfg.LogLevel {
		logger.WithFields(logrus.Fields{"old": old.LogLevel, "new": cfg.LogLevel}).Info("Log level changed")
	}
}
