package constants

// Standard log field names. Use these keys in every logging call so that
// log queries work across components.
const (
	LogFieldTenantKey       = "tenant_key"
	LogFieldConnectorID     = "connector_id"
	LogFieldSourceMessageID = "source_message_id"
	LogFieldQueue           = "queue"
	LogFieldJobID           = "job_id"
	LogFieldWorkerID        = "worker_id"
	LogFieldProvider        = "provider"
	LogFieldEventID         = "event_id"
	LogFieldUserID          = "user_id"
	LogFieldDiscordUserID   = "discord_user_id"

	LogFieldRequestID  = "request_id"
	LogFieldTraceID    = "trace_id"
	LogFieldMethod     = "method"
	LogFieldRoute      = "route"
	LogFieldURL        = "url"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldUserAgent  = "user_agent"
	LogFieldDuration   = "duration_ms"
	LogFieldSize       = "size_bytes"
	LogFieldComponent  = "component"
)
