// Package webhooks is the idempotency ledger for payment provider events.
package webhooks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"signalrelay/internal/constants"
	"signalrelay/internal/database"
	appErrors "signalrelay/internal/errors"
	"signalrelay/internal/metrics"
	"signalrelay/internal/models"
	"signalrelay/internal/privacy"
	"signalrelay/internal/rolesync"

	"github.com/sirupsen/logrus"
)

// RoleFanOut is the role-sync step run for subscription events
type RoleFanOut interface {
	FanOut(ctx context.Context, tr rolesync.Transition, now time.Time) (*rolesync.FanOutResult, error)
}

// RecordResult reports whether this receipt was the first one
type RecordResult struct {
	Inserted     bool                 `json:"inserted"`
	Status       models.WebhookStatus `json:"status"`
	AttemptCount int                  `json:"attemptCount"`
}

// ProcessResult is the outcome of handling one delivery
type ProcessResult struct {
	Inserted  bool                   `json:"inserted"`
	Duplicate bool                   `json:"duplicate"`
	Status    models.WebhookStatus   `json:"status"`
	RoleSync  *rolesync.FanOutResult `json:"roleSync,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

type Ledger struct {
	db     *database.Database
	roles  RoleFanOut
	logger *logrus.Logger
}

func NewLedger(db *database.Database, roles RoleFanOut, logger *logrus.Logger) *Ledger {
	return &Ledger{db: db, roles: roles, logger: logger}
}

func validate(ev models.WebhookEvent) error {
	if strings.TrimSpace(ev.Provider) == "" {
		return appErrors.NewValidationError("provider", "", "is required")
	}
	if strings.TrimSpace(ev.EventID) == "" {
		return appErrors.NewValidationError("event_id", "", "is required")
	}
	return nil
}

// Record inserts the event on first receipt. A duplicate receipt changes
// nothing and returns the stored status.
func (l *Ledger) Record(ctx context.Context, ev models.WebhookEvent, now time.Time) (*RecordResult, error) {
	if err := validate(ev); err != nil {
		return nil, err
	}

	payload, err := l.db.EncryptPayload(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt webhook payload: %w", err)
	}

	nowMs := database.ToMillis(now)
	res, err := l.db.Exec(ctx, insertEvent,
		ev.Provider, ev.EventID, ev.EventType, ev.UserID, ev.DiscordUserID, ev.Tier,
		string(ev.SubscriptionStatus), payload, nowMs, nowMs,
	)
	if err != nil {
		return nil, appErrors.NewDatabaseError("record webhook event", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read insert result: %w", err)
	}

	stored, err := l.Get(ctx, ev.Provider, ev.EventID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, appErrors.NewNotFoundError("webhook event", ev.Provider+"/"+ev.EventID)
	}

	return &RecordResult{Inserted: inserted == 1, Status: stored.Status, AttemptCount: stored.AttemptCount}, nil
}

// MarkProcessed is terminal; later calls for a processed event are no-ops.
func (l *Ledger) MarkProcessed(ctx context.Context, provider, eventID string, now time.Time) error {
	nowMs := database.ToMillis(now)
	if _, err := l.db.Exec(ctx, markProcessed, nowMs, nowMs, provider, eventID); err != nil {
		return appErrors.NewDatabaseError("mark webhook processed", err)
	}
	return nil
}

// MarkFailed records a failed attempt; the event may be processed on redelivery.
func (l *Ledger) MarkFailed(ctx context.Context, provider, eventID string, cause error, now time.Time) error {
	msg := ""
	if cause != nil {
		msg = appErrors.TruncateMessage(cause.Error(), constants.MaxLastErrorLength)
	}
	if _, err := l.db.Exec(ctx, markFailed, database.NullString(msg), database.ToMillis(now), provider, eventID); err != nil {
		return appErrors.NewDatabaseError("mark webhook failed", err)
	}
	return nil
}

// Get returns the stored event with its payload decrypted, or nil
func (l *Ledger) Get(ctx context.Context, provider, eventID string) (*models.WebhookEvent, error) {
	var (
		ev          models.WebhookEvent
		subStatus   string
		lastError   sql.NullString
		processedAt sql.NullInt64
		createdAt   int64
		updatedAt   int64
	)
	err := l.db.QueryRow(ctx, selectEvent, provider, eventID).Scan(
		&ev.Provider, &ev.EventID, &ev.EventType, &ev.UserID, &ev.DiscordUserID, &ev.Tier,
		&subStatus, &ev.Payload, &ev.Status, &ev.AttemptCount, &lastError,
		&processedAt, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, appErrors.NewDatabaseError("get webhook event", err)
	}

	if ev.Payload, err = l.db.DecryptPayload(ev.Payload); err != nil {
		return nil, fmt.Errorf("failed to decrypt webhook payload: %w", err)
	}
	ev.SubscriptionStatus = models.SubscriptionStatus(subStatus)
	ev.LastError = lastError.String
	ev.ProcessedAt = database.TimePtr(processedAt)
	ev.CreatedAt = database.FromMillis(createdAt)
	ev.UpdatedAt = database.FromMillis(updatedAt)
	return &ev, nil
}

// Process records the event and, unless it was already processed, runs the
// role-sync fan-out for it. Validation failures mark the event failed and
// are returned in the result; storage failures are returned as errors so
// the provider redelivers.
func (l *Ledger) Process(ctx context.Context, ev models.WebhookEvent, now time.Time) (*ProcessResult, error) {
	rec, err := l.Record(ctx, ev, now)
	if err != nil {
		return nil, err
	}

	fields := privacy.MaskFields(logrus.Fields{
		constants.LogFieldProvider:      ev.Provider,
		constants.LogFieldEventID:       ev.EventID,
		constants.LogFieldUserID:        ev.UserID,
		constants.LogFieldDiscordUserID: ev.DiscordUserID,
		"event_type":                    ev.EventType,
	})
	if rec.Status == models.WebhookProcessed {
		metrics.IncrementCounter(metrics.WebhookEventsTotal, map[string]string{"provider": ev.Provider, "result": "duplicate"}, "Webhook deliveries by result")
		l.logger.WithFields(fields).Debug("Webhook event already processed")
		return &ProcessResult{Inserted: rec.Inserted, Duplicate: true, Status: rec.Status}, nil
	}

	result := &ProcessResult{Inserted: rec.Inserted, Duplicate: !rec.Inserted}
	if ev.SubscriptionStatus != "" {
		roleSync, err := l.roles.FanOut(ctx, rolesync.Transition{
			UserID:        ev.UserID,
			DiscordUserID: ev.DiscordUserID,
			Tier:          ev.Tier,
			Status:        ev.SubscriptionStatus,
			Source:        ev.Provider + ":" + ev.EventID,
		}, now)
		if err != nil {
			if markErr := l.MarkFailed(ctx, ev.Provider, ev.EventID, err, now); markErr != nil {
				l.logger.WithError(markErr).WithFields(fields).Error("Failed to mark webhook event failed")
			}
			metrics.IncrementCounter(metrics.WebhookEventsTotal, map[string]string{"provider": ev.Provider, "result": "failed"}, "Webhook deliveries by result")
			if appErrors.HasCode(err, appErrors.ErrCodeValidationFailed) {
				l.logger.WithError(err).WithFields(fields).Warn("Webhook event rejected")
				result.Status = models.WebhookFailed
				result.Error = err.Error()
				return result, nil
			}
			return nil, err
		}
		result.RoleSync = roleSync
	}

	if err := l.MarkProcessed(ctx, ev.Provider, ev.EventID, now); err != nil {
		return nil, err
	}
	result.Status = models.WebhookProcessed
	metrics.IncrementCounter(metrics.WebhookEventsTotal, map[string]string{"provider": ev.Provider, "result": "processed"}, "Webhook deliveries by result")
	l.logger.WithFields(fields).Info("Processed webhook event")
	return result, nil
}
