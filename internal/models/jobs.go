package models

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a queue job
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition can happen
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Reasons returned by a complete call that did not change state
const (
	ReasonJobNotFound        = "job_not_found"
	ReasonJobNotProcessing   = "job_not_processing"
	ReasonClaimTokenMismatch = "claim_token_mismatch"
)

// JobRecord is the untyped row shared by every job table
type JobRecord struct {
	ID            string          `json:"id"`
	DedupeKey     string          `json:"dedupeKey"`
	Status        JobStatus       `json:"status"`
	AttemptCount  int             `json:"attemptCount"`
	MaxAttempts   int             `json:"maxAttempts"`
	RunAfter      time.Time       `json:"runAfter"`
	ClaimToken    string          `json:"claimToken,omitempty"`
	ClaimWorkerID string          `json:"claimWorkerId,omitempty"`
	ClaimedAt     *time.Time      `json:"claimedAt,omitempty"`
	LastAttemptAt *time.Time      `json:"lastAttemptAt,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// MirrorPayload is the work item for mirroring one source message to one target channel
type MirrorPayload struct {
	TenantKey       string          `json:"tenantKey"`
	ConnectorID     string          `json:"connectorId"`
	SourceMessageID string          `json:"sourceMessageId"`
	SourceChannelID string          `json:"sourceChannelId"`
	SourceGuildID   string          `json:"sourceGuildId,omitempty"`
	SourceThreadID  string          `json:"sourceThreadId,omitempty"`
	TargetChannelID string          `json:"targetChannelId"`
	EventType       EventType       `json:"eventType"`
	Content         string          `json:"content"`
	Attachments     []AttachmentRef `json:"attachments"`
	CreatedAt       time.Time       `json:"createdAt"`
	EditedAt        *time.Time      `json:"editedAt,omitempty"`
	DeletedAt       *time.Time      `json:"deletedAt,omitempty"`
}

// RoleAction is either a grant or a revoke of a managed role
type RoleAction string

const (
	RoleGrant  RoleAction = "grant"
	RoleRevoke RoleAction = "revoke"
)

// RoleSyncPayload is the work item for one role change on one member
type RoleSyncPayload struct {
	UserID        string     `json:"userId"`
	DiscordUserID string     `json:"discordUserId"`
	GuildID       string     `json:"guildId"`
	RoleID        string     `json:"roleId"`
	Action        RoleAction `json:"action"`
	Source        string     `json:"source"`
}

// MirroredSignal records where a source message was mirrored to
type MirroredSignal struct {
	TenantKey         string     `json:"tenantKey"`
	ConnectorID       string     `json:"connectorId"`
	SourceMessageID   string     `json:"sourceMessageId"`
	TargetChannelID   string     `json:"targetChannelId"`
	MirroredMessageID string     `json:"mirroredMessageId"`
	MirroredGuildID   string     `json:"mirroredGuildId,omitempty"`
	LastMirroredAt    time.Time  `json:"lastMirroredAt"`
	DeletedAt         *time.Time `json:"deletedAt,omitempty"`
}

// QueueStats counts jobs per status in one queue
type QueueStats struct {
	Queue      string `json:"queue"`
	Pending    int    `json:"pending"`
	Processing int    `json:"processing"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
}
