package catalog

import (
	"strings"
	"time"

	appErrors "signalrelay/internal/errors"
	"signalrelay/internal/models"
	"signalrelay/internal/signals"
)

// Catalog event types carried in ingest batches next to message events
const (
	EventGuildUpsert   = "guild_upsert"
	EventChannelUpsert = "channel_upsert"
	EventThreadUpsert  = "thread_upsert"
	EventChannelDelete = "channel_delete"
	EventThreadDelete  = "thread_delete"
)

// IsCatalogEvent reports whether eventType belongs to the catalog
func IsCatalogEvent(eventType string) bool {
	switch eventType {
	case EventGuildUpsert, EventChannelUpsert, EventThreadUpsert, EventChannelDelete, EventThreadDelete:
		return true
	}
	return false
}

// Event is a guild, channel or thread change reported by a connector
type Event struct {
	EventType       string `json:"event_type"`
	GuildID         string `json:"guild_id,omitempty"`
	ChannelID       string `json:"channel_id,omitempty"`
	ParentChannelID string `json:"parent_channel_id,omitempty"`
	Name            string `json:"name,omitempty"`
	Archived        bool   `json:"archived,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

func (ev Event) kind() models.ChannelKind {
	if ev.EventType == EventThreadUpsert || ev.EventType == EventThreadDelete {
		return models.KindThread
	}
	return models.KindChannel
}

func (ev Event) isDelete() bool {
	return ev.EventType == EventChannelDelete || ev.EventType == EventThreadDelete
}

// updatedAt falls back to the receive time when the connector omits it
func (ev Event) updatedAt(now time.Time) (time.Time, error) {
	if strings.TrimSpace(ev.UpdatedAt) == "" {
		return now.UTC(), nil
	}
	t, err := signals.ParseTimestamp(ev.UpdatedAt)
	if err != nil {
		return time.Time{}, appErrors.NewValidationError("updated_at", ev.UpdatedAt, "invalid timestamp")
	}
	return t, nil
}

func validate(ev Event) error {
	if !IsCatalogEvent(ev.EventType) {
		return appErrors.NewValidationError("event_type", ev.EventType, "unrecognized catalog event type")
	}
	if ev.EventType == EventGuildUpsert {
		if strings.TrimSpace(ev.GuildID) == "" {
			return appErrors.NewValidationError("guild_id", "", "is required")
		}
		return nil
	}
	if strings.TrimSpace(ev.ChannelID) == "" {
		return appErrors.NewValidationError("channel_id", "", "is required")
	}
	if ev.EventType == EventThreadUpsert && strings.TrimSpace(ev.ParentChannelID) == "" {
		return appErrors.NewValidationError("parent_channel_id", "", "is required for threads")
	}
	return nil
}
