package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"signalrelay/internal/database"
	"signalrelay/internal/models"
)

// MappingKey identifies the downstream copy of one message in one channel
type MappingKey struct {
	TenantKey       string
	ConnectorID     string
	SourceMessageID string
	TargetChannelID string
}

func keyOf(p models.MirrorPayload) MappingKey {
	return MappingKey{
		TenantKey:       p.TenantKey,
		ConnectorID:     p.ConnectorID,
		SourceMessageID: p.SourceMessageID,
		TargetChannelID: p.TargetChannelID,
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMapping(row rowScanner) (*models.MirroredSignal, error) {
	var (
		m          models.MirroredSignal
		lastMirror int64
		deletedAt  sql.NullInt64
	)
	err := row.Scan(&m.TenantKey, &m.ConnectorID, &m.SourceMessageID, &m.TargetChannelID,
		&m.MirroredMessageID, &m.MirroredGuildID, &lastMirror, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load mirrored signal: %w", err)
	}
	m.LastMirroredAt = database.FromMillis(lastMirror)
	m.DeletedAt = database.TimePtr(deletedAt)
	return &m, nil
}

func args(k MappingKey) []interface{} {
	return []interface{}{k.TenantKey, k.ConnectorID, k.SourceMessageID, k.TargetChannelID}
}

// GetMapping returns the mapping for key, or nil
func (s *Service) GetMapping(ctx context.Context, k MappingKey) (*models.MirroredSignal, error) {
	return scanMapping(s.db.QueryRow(ctx, selectMapping, args(k)...))
}

func getMapping(ctx context.Context, tx *database.Tx, k MappingKey) (*models.MirroredSignal, error) {
	return scanMapping(tx.QueryRow(ctx, selectMapping, args(k)...))
}

// recordDelivery applies a successful mirror job to the mapping table
func recordDelivery(ctx context.Context, tx *database.Tx, p models.MirrorPayload, metadata map[string]interface{}, now time.Time) (bool, error) {
	k := keyOf(p)
	nowMs := database.ToMillis(now)

	if p.EventType == models.EventDelete {
		_, err := tx.Exec(ctx, tombstoneMapping, append([]interface{}{nowMs, nowMs}, args(k)...)...)
		if err != nil {
			return false, fmt.Errorf("failed to tombstone mirrored signal: %w", err)
		}
		return true, nil
	}

	messageID := metadataString(metadata, "mirroredMessageId")
	if messageID == "" {
		// Worker reported success without downstream ids; keep what we have.
		_, err := tx.Exec(ctx, touchMapping, append([]interface{}{nowMs}, args(k)...)...)
		if err != nil {
			return false, fmt.Errorf("failed to touch mirrored signal: %w", err)
		}
		return false, nil
	}

	_, err := tx.Exec(ctx, upsertMapping, k.TenantKey, k.ConnectorID, k.SourceMessageID, k.TargetChannelID,
		messageID, metadataString(metadata, "mirroredGuildId"), nowMs)
	if err != nil {
		return false, fmt.Errorf("failed to upsert mirrored signal: %w", err)
	}
	return true, nil
}

func metadataString(metadata map[string]interface{}, key string) string {
	if metadata == nil {
		return ""
	}
	switch v := metadata[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}
