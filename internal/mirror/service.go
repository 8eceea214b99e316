// Package mirror turns merged signals into mirror jobs and records where
// each message was delivered.
package mirror

import (
	"context"
	"time"

	"signalrelay/internal/database"
	"signalrelay/internal/models"
	"signalrelay/internal/queue"

	"github.com/sirupsen/logrus"
)

// Router resolves forwarding configuration for a connector
type Router interface {
	ForwardingEnabled(tenantKey, connectorID string) bool
	Targets(tenantKey, connectorID, sourceChannelID string) []string
}

// Skip reasons reported by FanOut
const (
	SkipForwardingDisabled = "forwarding_disabled"
	SkipNoTargets          = "no_targets"
)

// FanOutResult counts the jobs produced for one merged signal
type FanOutResult struct {
	Enqueued   int    `json:"enqueued"`
	Deduped    int    `json:"deduped"`
	Skipped    bool   `json:"skipped"`
	SkipReason string `json:"skipReason,omitempty"`
}

// ClaimedJob is a leased mirror job plus the current downstream mapping, so
// the worker can choose between create, edit and delete.
type ClaimedJob struct {
	*queue.Job[models.MirrorPayload]
	Mapping *models.MirroredSignal `json:"mapping,omitempty"`
}

type Service struct {
	db     *database.Database
	queue  *queue.Queue[models.MirrorPayload]
	router Router
	logger *logrus.Logger
}

func NewService(db *database.Database, router Router, maxAttempts int, logger *logrus.Logger) (*Service, error) {
	s := &Service{db: db, router: router, logger: logger}

	q, err := queue.New[models.MirrorPayload](db, adapter{}, queue.Config[models.MirrorPayload]{
		MaxAttempts: maxAttempts,
		OnComplete:  s.onComplete,
	}, logger)
	if err != nil {
		return nil, err
	}
	s.queue = q
	return s, nil
}

// Queue exposes the underlying job queue for maintenance and stats
func (s *Service) Queue() *queue.Queue[models.MirrorPayload] {
	return s.queue
}

// FanOut enqueues one job per distinct target channel of the signal's
// source channel. The payload is built from the merged signal, not the raw event.
func (s *Service) FanOut(ctx context.Context, sig *models.Signal, eventType models.EventType, now time.Time) (*FanOutResult, error) {
	if !s.router.ForwardingEnabled(sig.TenantKey, sig.ConnectorID) {
		return &FanOutResult{Skipped: true, SkipReason: SkipForwardingDisabled}, nil
	}

	targets := distinct(s.router.Targets(sig.TenantKey, sig.ConnectorID, sig.SourceChannelID))
	if len(targets) == 0 {
		return &FanOutResult{Skipped: true, SkipReason: SkipNoTargets}, nil
	}

	result := &FanOutResult{}
	for _, target := range targets {
		res, err := s.queue.Enqueue(ctx, buildPayload(sig, eventType, target), now)
		if err != nil {
			return result, err
		}
		if res.Deduped {
			result.Deduped++
		} else {
			result.Enqueued++
		}
	}
	return result, nil
}

func buildPayload(sig *models.Signal, eventType models.EventType, target string) models.MirrorPayload {
	attachments := sig.Attachments
	if attachments == nil {
		attachments = []models.AttachmentRef{}
	}
	return models.MirrorPayload{
		TenantKey:       sig.TenantKey,
		ConnectorID:     sig.ConnectorID,
		SourceMessageID: sig.SourceMessageID,
		SourceChannelID: sig.SourceChannelID,
		SourceGuildID:   sig.SourceGuildID,
		SourceThreadID:  sig.SourceThreadID,
		TargetChannelID: target,
		EventType:       eventType,
		Content:         sig.Content,
		Attachments:     attachments,
		CreatedAt:       sig.CreatedAt,
		EditedAt:        sig.EditedAt,
		DeletedAt:       sig.DeletedAt,
	}
}

func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Claim leases mirror jobs and attaches each job's current mapping. The
// mapping is read in the lease transaction, so a failed read leaves the jobs
// pending.
func (s *Service) Claim(ctx context.Context, limit int, workerID string, now time.Time) ([]*ClaimedJob, error) {
	mappings := make(map[string]*models.MirroredSignal)
	jobs, err := s.queue.ClaimWith(ctx, limit, workerID, now, func(ctx context.Context, tx *database.Tx, job *queue.Job[models.MirrorPayload]) error {
		mapping, err := getMapping(ctx, tx, keyOf(job.Payload))
		if err != nil {
			return err
		}
		mappings[job.ID] = mapping
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*ClaimedJob, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, &ClaimedJob{Job: job, Mapping: mappings[job.ID]})
	}
	return out, nil
}

// Complete finishes a mirror job; success updates the mapping in the same transaction
func (s *Service) Complete(ctx context.Context, jobID, claimToken string, outcome queue.Outcome, now time.Time) (*queue.CompleteResult, error) {
	return s.queue.Complete(ctx, jobID, claimToken, outcome, now)
}

func (s *Service) onComplete(ctx context.Context, tx *database.Tx, job *queue.Job[models.MirrorPayload], outcome queue.Outcome, now time.Time) error {
	recorded, err := recordDelivery(ctx, tx, job.Payload, outcome.ResultMetadata, now)
	if err != nil {
		return err
	}
	if !recorded {
		s.logger.WithFields(logrus.Fields{
			"job_id":            job.ID,
			"source_message_id": job.Payload.SourceMessageID,
			"target_channel_id": job.Payload.TargetChannelID,
		}).Warn("Mirror job completed without a mirroredMessageId")
	}
	return nil
}
