package constants

// Job queue defaults
const (
	DefaultJobMaxAttempts    = 8
	DefaultClaimLimit        = 1
	MaxClaimLimit            = 20
	DefaultJobBackoffBaseSec = 5
	DefaultJobBackoffMaxSec  = 900
	MaxLastErrorLength       = 2000
)

// Ingest limits
const (
	MaxAttachmentNameLength = 180
	MaxIngestBatchSize      = 500
	MaxRequestBodyBytes     = 5 << 20
)

// Identifier limits for path segments and worker ids
const (
	MaxIdentifierLength = 128
	MaxProviderLength   = 32
)

// Default server and maintenance values
const (
	DefaultServerPort             = 8082
	DefaultHTTPTimeoutSec         = 30
	DefaultDatabaseRetryAttempts  = 3
	DefaultGracefulShutdownSec    = 30
	DefaultBackoffInitialMs       = 500
	DefaultBackoffMaxSec          = 5
	DefaultServerReadTimeoutSec   = 15
	DefaultServerWriteTimeoutSec  = 15
	DefaultServerIdleTimeoutSec   = 60
	DefaultCompletedRetentionDays = 14
	DefaultStaleProcessingMinutes = 30
	DefaultMaintenanceSchedule    = "0 */5 * * * *"
	DefaultDatabaseOpTimeoutSec   = 10
	DefaultWorkerPollIntervalSec  = 2
	DefaultWorkerHTTPTimeoutSec   = 15
)

// Database defaults
const (
	DefaultSQLiteDSN = "file:signalrelay.db"
)

// Privacy settings
const (
	DefaultIDMaskLength = 6
)
