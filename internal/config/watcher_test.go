package config

import (
	"context"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"signalrelay/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestWatcher_StartFailsOnInvalidConfig(t *testing.T) {
	w := NewWatcher(writeConfig(t, `{"server": {"port": -1}}`), quietLogger())
	err := w.Start(context.Background())
	assert.Error(t, err)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := writeConfig(t, validConfig)
	w := NewWatcher(path, quietLogger())
	_, err := w.Load()
	require.NoError(t, err)

	var calls atomic.Int32
	var latest atomic.Pointer[models.Config]
	w.OnChange(func(cfg *models.Config) {
		latest.Store(cfg)
		calls.Add(1)
	})
	w.OnChange(func(*models.Config) { panic("callback failure is contained") })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	updated := strings.Replace(validConfig, `"dst-a", "dst-b"`, `"dst-c"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	require.Eventually(t, func() bool { return calls.Load() > 0 }, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, []string{"dst-c"}, latest.Load().Connectors[0].Routes[0].TargetChannelIDs)
	assert.Equal(t, []string{"dst-c"}, w.Config().Connectors[0].Routes[0].TargetChannelIDs)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcher_InvalidReloadKeepsPrevious(t *testing.T) {
	path := writeConfig(t, validConfig)
	w := NewWatcher(path, quietLogger())
	_, err := w.Load()
	require.NoError(t, err)

	var calls atomic.Int32
	w.OnChange(func(*models.Config) { calls.Add(1) })

	require.NoError(t, os.WriteFile(path, []byte(`{"queue": {"max_attempts": 0}}`), 0o600))
	w.reload()

	assert.Zero(t, calls.Load())
	assert.Equal(t, 5, w.Config().Queue.MaxAttempts)
}
