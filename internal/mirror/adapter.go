package mirror

import (
	"signalrelay/internal/models"
)

// QueueName is the route and metrics name of the mirror queue
const QueueName = "mirror"

type adapter struct{}

func (adapter) Name() string  { return QueueName }
func (adapter) Table() string { return "mirror_jobs" }

// DedupeKey is (tenant, connector, message, target channel, event type)
func (adapter) DedupeKey(p models.MirrorPayload) []string {
	return []string{p.TenantKey, p.ConnectorID, p.SourceMessageID, p.TargetChannelID, string(p.EventType)}
}
