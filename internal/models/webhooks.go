package models

import "time"

// WebhookStatus is the processing state of a ledger entry
type WebhookStatus string

const (
	WebhookReceived  WebhookStatus = "received"
	WebhookProcessed WebhookStatus = "processed"
	WebhookFailed    WebhookStatus = "failed"
)

// SubscriptionStatus is the projected billing state of a user
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionInactive SubscriptionStatus = "inactive"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
)

// Valid reports whether s is a known subscription status
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionActive, SubscriptionInactive, SubscriptionCanceled, SubscriptionPastDue:
		return true
	}
	return false
}

// WebhookEvent is one payment-provider notification, already verified and
// projected by the upstream receiver.
type WebhookEvent struct {
	Provider           string             `json:"provider"`
	EventID            string             `json:"eventId"`
	EventType          string             `json:"eventType"`
	UserID             string             `json:"userId,omitempty"`
	DiscordUserID      string             `json:"discordUserId,omitempty"`
	Tier               string             `json:"tier,omitempty"`
	SubscriptionStatus SubscriptionStatus `json:"status,omitempty"`
	Payload            string             `json:"payload,omitempty"`
	Status             WebhookStatus      `json:"processingStatus"`
	AttemptCount       int                `json:"attemptCount"`
	LastError          string             `json:"lastError,omitempty"`
	ProcessedAt        *time.Time         `json:"processedAt,omitempty"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}
