package signals

import (
	"encoding/json"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"signalrelay/internal/constants"
	appErrors "signalrelay/internal/errors"
	"signalrelay/internal/models"
)

// Event is one message change as sent by a connector
type Event struct {
	EventType       models.EventType `json:"event_type"`
	SourceMessageID string           `json:"source_message_id"`
	SourceChannelID string           `json:"source_channel_id"`
	SourceGuildID   string           `json:"source_guild_id,omitempty"`
	SourceThreadID  string           `json:"source_thread_id,omitempty"`
	CreatedAt       string           `json:"created_at"`
	EditedAt        *string          `json:"edited_at,omitempty"`
	DeletedAt       *string          `json:"deleted_at,omitempty"`
	Content         string           `json:"content"`
	Attachments     []RawAttachment  `json:"attachments,omitempty"`
}

// RawAttachment is an attachment before sanitization. Size arrives as a
// number or a numeric string depending on the connector.
type RawAttachment struct {
	AttachmentID string          `json:"attachment_id,omitempty"`
	URL          string          `json:"url"`
	Name         string          `json:"name,omitempty"`
	ContentType  string          `json:"content_type,omitempty"`
	Size         json.RawMessage `json:"size,omitempty"`
}

// parsedEvent is an Event with validated timestamps and sanitized attachments
type parsedEvent struct {
	eventType       models.EventType
	sourceMessageID string
	sourceChannelID string
	sourceGuildID   string
	sourceThreadID  string
	createdAt       time.Time
	editedAt        *time.Time
	deletedAt       *time.Time
	content         string
	attachments     []models.AttachmentRef
}

// effectiveTime is the instant the event describes, used by the tombstone guard
func (p *parsedEvent) effectiveTime() time.Time {
	if p.editedAt != nil {
		return *p.editedAt
	}
	return p.createdAt
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an ISO-8601 timestamp. Values without a zone are UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func parseEvent(ev Event) (*parsedEvent, error) {
	if !ev.EventType.Valid() {
		return nil, appErrors.NewValidationError("event_type", string(ev.EventType), "unrecognized event type")
	}
	if strings.TrimSpace(ev.SourceMessageID) == "" {
		return nil, appErrors.NewValidationError("source_message_id", "", "is required")
	}

	createdAt, err := ParseTimestamp(ev.CreatedAt)
	if err != nil {
		return nil, appErrors.NewValidationError("created_at", ev.CreatedAt, "invalid timestamp")
	}

	p := &parsedEvent{
		eventType:       ev.EventType,
		sourceMessageID: ev.SourceMessageID,
		sourceChannelID: ev.SourceChannelID,
		sourceGuildID:   ev.SourceGuildID,
		sourceThreadID:  ev.SourceThreadID,
		createdAt:       createdAt,
		content:         ev.Content,
		attachments:     SanitizeAttachments(ev.Attachments),
	}

	if p.editedAt, err = parseOptional("edited_at", ev.EditedAt); err != nil {
		return nil, err
	}
	if p.deletedAt, err = parseOptional("deleted_at", ev.DeletedAt); err != nil {
		return nil, err
	}
	return p, nil
}

func parseOptional(field string, value *string) (*time.Time, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	t, err := ParseTimestamp(*value)
	if err != nil {
		return nil, appErrors.NewValidationError(field, *value, "invalid timestamp")
	}
	return &t, nil
}

// SanitizeAttachments drops attachments without an http(s) URL and
// normalizes the rest. The result is never nil.
func SanitizeAttachments(raw []RawAttachment) []models.AttachmentRef {
	out := make([]models.AttachmentRef, 0, len(raw))
	for _, a := range raw {
		if !isHTTPURL(a.URL) {
			continue
		}
		ref := models.AttachmentRef{
			AttachmentID: strings.TrimSpace(a.AttachmentID),
			URL:          strings.TrimSpace(a.URL),
			Name:         truncateRunes(strings.TrimSpace(a.Name), constants.MaxAttachmentNameLength),
			ContentType:  strings.ToLower(strings.TrimSpace(a.ContentType)),
			Size:         coerceSize(a.Size),
		}
		out = append(out, ref)
	}
	return out
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// coerceSize accepts a JSON number or numeric string; fractions are floored.
func coerceSize(raw json.RawMessage) *int64 {
	if len(raw) == 0 {
		return nil
	}

	text := strings.TrimSpace(string(raw))
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		text = strings.TrimSpace(s)
	}
	if text == "" || text == "null" {
		return nil
	}

	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		if n < 0 {
			return nil
		}
		return &n
	}

	// float64(math.MaxInt64) rounds up to 2^63, which does not fit
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f >= math.MaxInt64 {
		return nil
	}
	size := int64(math.Floor(f))
	return &size
}
