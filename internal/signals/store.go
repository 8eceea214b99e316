package signals

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"signalrelay/internal/database"
	appErrors "signalrelay/internal/errors"
	"signalrelay/internal/models"

	"github.com/sirupsen/logrus"
)

// Result describes the effect of one ApplyEvent call. Signal is the merged
// row, or the unchanged stored row when the event was ignored.
type Result struct {
	Outcome   models.MergeOutcome
	EventType models.EventType
	Signal    *models.Signal
}

// Store owns the canonical signals table
type Store struct {
	db     *database.Database
	logger *logrus.Logger
}

func NewStore(db *database.Database, logger *logrus.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// ApplyEvent merges one connector event into the canonical row for its
// source message. Validation failures return an AppError with code
// VALIDATION_FAILED and leave the store untouched.
func (s *Store) ApplyEvent(ctx context.Context, tenantKey, connectorID string, ev Event, now time.Time) (*Result, error) {
	if tenantKey == "" || connectorID == "" {
		return nil, appErrors.NewValidationError("tenant_key", tenantKey, "tenant and connector are required")
	}

	parsed, err := parseEvent(ev)
	if err != nil {
		return nil, err
	}
	key := models.SignalKey{TenantKey: tenantKey, ConnectorID: connectorID, SourceMessageID: parsed.sourceMessageID}
	now = now.UTC()

	var result *Result
	for attempt := 0; attempt < 2; attempt++ {
		err = s.db.WithTx(ctx, "apply signal event", func(tx *database.Tx) error {
			var txErr error
			result, txErr = s.applyInTx(ctx, tx, key, parsed, now)
			return txErr
		})
		// A concurrent first insert of the same message; retry as a patch.
		if database.IsUniqueViolation(err) {
			continue
		}
		break
	}
	if err != nil {
		return nil, appErrors.NewDatabaseError("apply signal event", err)
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_key":        tenantKey,
		"connector_id":      connectorID,
		"source_message_id": parsed.sourceMessageID,
		"event_type":        parsed.eventType,
		"outcome":           result.Outcome,
	}).Debug("Applied signal event")

	return result, nil
}

func (s *Store) applyInTx(ctx context.Context, tx *database.Tx, key models.SignalKey, ev *parsedEvent, now time.Time) (*Result, error) {
	existing, err := getSignal(ctx, tx, key, tx.ForUpdate())
	if err != nil {
		return nil, err
	}

	if existing == nil {
		sig := newSignal(key, ev, now)
		if err := insertSignalRow(ctx, tx, sig); err != nil {
			return nil, err
		}
		return &Result{Outcome: models.OutcomeAccepted, EventType: ev.eventType, Signal: sig}, nil
	}

	if existing.Deleted() && ev.eventType != models.EventDelete {
		if !ev.effectiveTime().After(*existing.DeletedAt) {
			return &Result{Outcome: models.OutcomeIgnored, EventType: ev.eventType, Signal: existing}, nil
		}
	}

	merged := mergeSignal(existing, ev, now)
	if err := updateSignalRow(ctx, tx, merged); err != nil {
		return nil, err
	}
	return &Result{Outcome: models.OutcomeDeduped, EventType: ev.eventType, Signal: merged}, nil
}

func newSignal(key models.SignalKey, ev *parsedEvent, now time.Time) *models.Signal {
	sig := &models.Signal{
		SignalKey:       key,
		SourceChannelID: ev.sourceChannelID,
		SourceGuildID:   ev.sourceGuildID,
		SourceThreadID:  ev.sourceThreadID,
		Content:         ev.content,
		Attachments:     ev.attachments,
		CreatedAt:       ev.createdAt,
		EditedAt:        ev.editedAt,
		DeletedAt:       ev.deletedAt,
		UpdatedAt:       now,
	}
	if ev.eventType == models.EventDelete && sig.DeletedAt == nil {
		sig.DeletedAt = &now
	}
	return sig
}

// mergeSignal applies the patch rules for an event against an existing row
func mergeSignal(existing *models.Signal, ev *parsedEvent, now time.Time) *models.Signal {
	merged := *existing
	merged.UpdatedAt = now
	if ev.sourceChannelID != "" {
		merged.SourceChannelID = ev.sourceChannelID
	}
	if ev.sourceGuildID != "" {
		merged.SourceGuildID = ev.sourceGuildID
	}
	if ev.sourceThreadID != "" {
		merged.SourceThreadID = ev.sourceThreadID
	}

	if ev.eventType == models.EventDelete {
		deletedAt := now
		if ev.deletedAt != nil {
			deletedAt = *ev.deletedAt
		}
		merged.DeletedAt = laterOf(existing.DeletedAt, &deletedAt)
		if ev.content != "" {
			merged.Content = ev.content
		}
		if len(ev.attachments) > 0 {
			merged.Attachments = ev.attachments
		}
		return &merged
	}

	merged.Content = ev.content
	if len(ev.attachments) > 0 {
		merged.Attachments = ev.attachments
	}

	editedAt := ev.editedAt
	if editedAt == nil && ev.eventType == models.EventUpdate {
		editedAt = &now
	}
	merged.EditedAt = laterOf(existing.EditedAt, editedAt)

	if ev.deletedAt != nil {
		merged.DeletedAt = laterOf(existing.DeletedAt, ev.deletedAt)
	}
	return &merged
}

// laterOf returns the later of two optional instants; nil loses.
func laterOf(current, candidate *time.Time) *time.Time {
	if candidate == nil {
		return current
	}
	if current == nil || candidate.After(*current) {
		t := *candidate
		return &t
	}
	return current
}

// Get returns the stored signal, or nil when none exists
func (s *Store) Get(ctx context.Context, key models.SignalKey) (*models.Signal, error) {
	var sig *models.Signal
	err := s.db.WithTx(ctx, "get signal", func(tx *database.Tx) error {
		var err error
		sig, err = getSignal(ctx, tx, key, "")
		return err
	})
	if err != nil {
		return nil, appErrors.NewDatabaseError("get signal", err)
	}
	return sig, nil
}

func getSignal(ctx context.Context, tx *database.Tx, key models.SignalKey, lock string) (*models.Signal, error) {
	var (
		sig         models.Signal
		attachments string
		createdAt   int64
		updatedAt   int64
		editedAt    sql.NullInt64
		deletedAt   sql.NullInt64
	)

	err := tx.QueryRow(ctx, selectSignal+lock, key.TenantKey, key.ConnectorID, key.SourceMessageID).Scan(
		&sig.TenantKey, &sig.ConnectorID, &sig.SourceMessageID, &sig.SourceChannelID,
		&sig.SourceGuildID, &sig.SourceThreadID, &sig.Content, &attachments,
		&createdAt, &editedAt, &deletedAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load signal: %w", err)
	}

	if err := json.Unmarshal([]byte(attachments), &sig.Attachments); err != nil {
		return nil, fmt.Errorf("failed to decode attachments: %w", err)
	}
	if sig.Attachments == nil {
		sig.Attachments = []models.AttachmentRef{}
	}
	sig.CreatedAt = database.FromMillis(createdAt)
	sig.UpdatedAt = database.FromMillis(updatedAt)
	sig.EditedAt = database.TimePtr(editedAt)
	sig.DeletedAt = database.TimePtr(deletedAt)
	return &sig, nil
}

func insertSignalRow(ctx context.Context, tx *database.Tx, sig *models.Signal) error {
	attachments, err := encodeAttachments(sig.Attachments)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, insertSignal,
		sig.TenantKey, sig.ConnectorID, sig.SourceMessageID, sig.SourceChannelID,
		sig.SourceGuildID, sig.SourceThreadID, sig.Content, attachments,
		database.ToMillis(sig.CreatedAt), database.NullMillis(sig.EditedAt),
		database.NullMillis(sig.DeletedAt), database.ToMillis(sig.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert signal: %w", err)
	}
	return nil
}

func updateSignalRow(ctx context.Context, tx *database.Tx, sig *models.Signal) error {
	attachments, err := encodeAttachments(sig.Attachments)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, updateSignal,
		sig.SourceChannelID, sig.SourceGuildID, sig.SourceThreadID,
		sig.Content, attachments, database.NullMillis(sig.EditedAt),
		database.NullMillis(sig.DeletedAt), database.ToMillis(sig.UpdatedAt),
		sig.TenantKey, sig.ConnectorID, sig.SourceMessageID,
	)
	if err != nil {
		return fmt.Errorf("failed to update signal: %w", err)
	}
	return nil
}

func encodeAttachments(attachments []models.AttachmentRef) (string, error) {
	if attachments == nil {
		attachments = []models.AttachmentRef{}
	}
	data, err := json.Marshal(attachments)
	if err != nil {
		return "", fmt.Errorf("failed to encode attachments: %w", err)
	}
	return string(data), nil
}
