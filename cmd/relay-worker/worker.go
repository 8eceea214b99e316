package main

import (
	"context"
	"fmt"
	"time"

	"signalrelay/internal/constants"
	"signalrelay/internal/metrics"
	"signalrelay/internal/mirror"
	"signalrelay/internal/models"
	"signalrelay/internal/queue"
	"signalrelay/internal/rolesync"
	"signalrelay/pkg/circuitbreaker"
	"signalrelay/pkg/workerclient"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

// Worker claims jobs from the relay and performs them against Discord
type Worker struct {
	client  workerclient.Client
	discord discordAPI
	breaker *circuitbreaker.Breaker
	queues  []string
	limit   int
	poll    time.Duration
	logger  *logrus.Logger
}

func NewWorker(cfg *workerConfig, client workerclient.Client, discord discordAPI, logger *logrus.Logger) *Worker {
	return &Worker{
		client:  client,
		discord: discord,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:      "discord",
			IsFailure: isDiscordOutage,
		}, logger),
		queues: cfg.Queues,
		limit:  cfg.ClaimLimit,
		poll:   cfg.PollInterval,
		logger: logger,
	}
}

// Run polls until ctx is done. It only sleeps when a full pass over the
// queues found no work.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.WithField("queues", w.queues).Info("Worker started")
	for {
		handled, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.WithError(err).Warn("Worker pass failed")
		}
		if handled > 0 && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			w.logger.Info("Worker stopping")
			return nil
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and handles one batch per queue and returns how many jobs
// were handled.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	handled := 0
	for _, name := range w.queues {
		if ctx.Err() != nil {
			return handled, nil
		}
		var (
			n   int
			err error
		)
		switch name {
		case mirror.QueueName:
			n, err = w.runMirror(ctx)
		case rolesync.QueueName:
			n, err = w.runRoleSync(ctx)
		default:
			err = fmt.Errorf("unknown queue %q", name)
		}
		handled += n
		if err != nil {
			return handled, fmt.Errorf("%s: %w", name, err)
		}
	}
	return handled, nil
}

func (w *Worker) runMirror(ctx context.Context) (int, error) {
	jobs, err := w.client.ClaimMirror(ctx, w.limit)
	if err != nil {
		return 0, fmt.Errorf("claim failed: %w", err)
	}
	for _, job := range jobs {
		outcome := w.deliverMirror(ctx, job)
		w.complete(ctx, mirror.QueueName, job.ID, job.ClaimToken, outcome)
	}
	return len(jobs), nil
}

func (w *Worker) runRoleSync(ctx context.Context) (int, error) {
	jobs, err := w.client.ClaimRoleSync(ctx, w.limit)
	if err != nil {
		return 0, fmt.Errorf("claim failed: %w", err)
	}
	for _, job := range jobs {
		outcome := w.applyRole(ctx, job.Payload)
		w.complete(ctx, rolesync.QueueName, job.ID, job.ClaimToken, outcome)
	}
	return len(jobs), nil
}

// complete reports an outcome. A failed report leaves the job in processing
// on the relay, where the stale-lease gauge surfaces it.
func (w *Worker) complete(ctx context.Context, queueName, jobID, claimToken string, outcome queue.Outcome) {
	result := "success"
	if !outcome.Success {
		result = "failure"
	}
	metrics.IncrementCounter(metrics.WorkerJobsTotal, map[string]string{"queue": queueName, "result": result}, "Jobs handled by the delivery worker")

	entry := w.logger.WithFields(logrus.Fields{
		constants.LogFieldQueue: queueName,
		constants.LogFieldJobID: jobID,
	})
	if !outcome.Success {
		entry.WithField("error", outcome.Error).Warn("Job delivery failed")
	}

	if _, err := w.client.Complete(ctx, queueName, jobID, claimToken, outcome); err != nil {
		entry.WithError(err).Error("Failed to report job completion")
	}
}

func failed(err error) queue.Outcome {
	return queue.Outcome{Success: false, Error: describe(err)}
}

// liveMapping returns the downstream message id to edit or delete, if any
func liveMapping(job *mirror.ClaimedJob) string {
	if job.Mapping == nil || job.Mapping.DeletedAt != nil {
		return ""
	}
	return job.Mapping.MirroredMessageID
}

func (w *Worker) deliverMirror(ctx context.Context, job *mirror.ClaimedJob) queue.Outcome {
	p := job.Payload
	existing := liveMapping(job)

	if p.EventType == models.EventDelete {
		if existing == "" {
			return queue.Outcome{Success: true}
		}
		err := w.breaker.Execute(ctx, func(context.Context) error {
			return w.discord.ChannelMessageDelete(p.TargetChannelID, existing)
		})
		if err != nil && !isGone(err) {
			return failed(err)
		}
		return queue.Outcome{Success: true, ResultMetadata: map[string]interface{}{"mirroredMessageId": existing}}
	}

	content := renderMirror(p)
	var msg *discordgo.Message
	err := w.breaker.Execute(ctx, func(context.Context) error {
		var err error
		if existing != "" {
			msg, err = w.discord.ChannelMessageEditComplex(
				discordgo.NewMessageEdit(p.TargetChannelID, existing).SetContent(content))
			if err == nil || !isGone(err) {
				return err
			}
			// The mirrored message was removed downstream; post a fresh one.
		}
		msg, err = w.discord.ChannelMessageSendComplex(p.TargetChannelID, mirrorMessage(content))
		return err
	})
	if err != nil {
		return failed(err)
	}

	return queue.Outcome{Success: true, ResultMetadata: map[string]interface{}{
		"mirroredMessageId": msg.ID,
		"mirroredGuildId":   msg.GuildID,
	}}
}

func (w *Worker) applyRole(ctx context.Context, p models.RoleSyncPayload) queue.Outcome {
	err := w.breaker.Execute(ctx, func(context.Context) error {
		if p.Action == models.RoleGrant {
			return w.discord.GuildMemberRoleAdd(p.GuildID, p.DiscordUserID, p.RoleID)
		}
		return w.discord.GuildMemberRoleRemove(p.GuildID, p.DiscordUserID, p.RoleID)
	})
	if err != nil {
		// a member who left the guild has no role to revoke
		if p.Action == models.RoleRevoke && isGone(err) {
			return queue.Outcome{Success: true}
		}
		return failed(err)
	}
	return queue.Outcome{Success: true}
}
