package models

import "time"

// EventType is the kind of change carried by an ingest event
type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Valid reports whether t is one of the message event types
func (t EventType) Valid() bool {
	switch t {
	case EventCreate, EventUpdate, EventDelete:
		return true
	}
	return false
}

// MergeOutcome classifies what applying an event did to the canonical row
type MergeOutcome string

const (
	OutcomeAccepted MergeOutcome = "accepted"
	OutcomeDeduped  MergeOutcome = "deduped"
	OutcomeIgnored  MergeOutcome = "ignored"
)

// AttachmentRef is a sanitized reference to a file attached to a source message
type AttachmentRef struct {
	AttachmentID string `json:"attachmentId,omitempty"`
	URL          string `json:"url"`
	Name         string `json:"name,omitempty"`
	ContentType  string `json:"contentType,omitempty"`
	Size         *int64 `json:"size,omitempty"`
}

// SignalKey identifies one source message within a tenant and connector
type SignalKey struct {
	TenantKey       string `json:"tenantKey"`
	ConnectorID     string `json:"connectorId"`
	SourceMessageID string `json:"sourceMessageId"`
}

// Signal is the canonical persisted record for one source message
type Signal struct {
	SignalKey
	SourceChannelID string          `json:"sourceChannelId"`
	SourceGuildID   string          `json:"sourceGuildId,omitempty"`
	SourceThreadID  string          `json:"sourceThreadId,omitempty"`
	Content         string          `json:"content"`
	Attachments     []AttachmentRef `json:"attachments"`
	CreatedAt       time.Time       `json:"createdAt"`
	EditedAt        *time.Time      `json:"editedAt,omitempty"`
	DeletedAt       *time.Time      `json:"deletedAt,omitempty"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Deleted reports whether the row is tombstoned
func (s *Signal) Deleted() bool {
	return s.DeletedAt != nil
}
