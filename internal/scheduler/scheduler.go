// Package scheduler runs queue housekeeping on a cron schedule: retention
// of completed jobs and the stale-lease and depth gauges.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"signalrelay/internal/metrics"
	"signalrelay/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Queue is the maintenance surface of a job queue
type Queue interface {
	Name() string
	Stats(ctx context.Context) (*models.QueueStats, error)
	PruneFinished(ctx context.Context, cutoff time.Time) (int64, error)
	CountStaleProcessing(ctx context.Context, claimedBefore time.Time) (int, error)
}

type Scheduler struct {
	cfg    models.MaintenanceConfig
	queues []Queue
	logger *logrus.Logger
	cron   *cron.Cron
	now    func() time.Time

	mu      sync.Mutex
	baseCtx context.Context
}

func New(cfg models.MaintenanceConfig, queues []Queue, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		queues: queues,
		logger: logger,
		cron:   cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		now:    time.Now,
	}
}

// Start registers the maintenance job and starts the cron runner. Jobs run
// with ctx; cancel it and call Stop to shut down.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Info("Queue maintenance is disabled")
		return nil
	}

	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		if err := s.RunOnce(s.context()); err != nil {
			s.logger.WithError(err).Error("Queue maintenance failed")
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.WithField("schedule", s.cfg.Schedule).Info("Queue maintenance scheduled")
	return nil
}

// Stop waits for a running maintenance pass to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// RunOnce performs one maintenance pass over every queue. A failing queue
// does not stop the others; their errors are joined.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := s.now().UTC()
	retention := time.Duration(s.cfg.CompletedRetentionDays) * 24 * time.Hour
	staleAfter := time.Duration(s.cfg.StaleProcessingMinutes) * time.Minute

	var errs []error
	for _, q := range s.queues {
		if err := s.maintain(ctx, q, now.Add(-retention), now.Add(-staleAfter)); err != nil {
			metrics.IncrementCounter(metrics.MaintenanceErrorsTotal, map[string]string{"queue": q.Name()}, "Failed maintenance passes")
			errs = append(errs, err)
		}
	}
	metrics.IncrementCounter(metrics.MaintenanceRunsTotal, nil, "Maintenance passes")
	return errors.Join(errs...)
}

func (s *Scheduler) maintain(ctx context.Context, q Queue, pruneBefore, staleBefore time.Time) error {
	labels := map[string]string{"queue": q.Name()}

	pruned, err := q.PruneFinished(ctx, pruneBefore)
	if err != nil {
		return err
	}

	stale, err := q.CountStaleProcessing(ctx, staleBefore)
	if err != nil {
		return err
	}
	metrics.SetGauge(metrics.QueueStaleProcessing, float64(stale), labels, "Jobs processing longer than the stale threshold")

	stats, err := q.Stats(ctx)
	if err != nil {
		return err
	}
	for status, n := range map[models.JobStatus]int{
		models.JobPending:    stats.Pending,
		models.JobProcessing: stats.Processing,
		models.JobCompleted:  stats.Completed,
		models.JobFailed:     stats.Failed,
	} {
		metrics.SetGauge(metrics.QueueDepth, float64(n), map[string]string{"queue": q.Name(), "status": string(status)}, "Jobs per queue and status")
	}

	entry := s.logger.WithFields(logrus.Fields{
		"queue":            q.Name(),
		"pruned":           pruned,
		"stale_processing": stale,
		"pending":          stats.Pending,
		"failed":           stats.Failed,
	})
	if stale > 0 {
		entry.Warn("Jobs stuck in processing; leases never expire and need an operator")
	} else {
		entry.Debug("Queue maintenance pass complete")
	}
	return nil
}
