package model

import "time"

// Shared defaults used by the service and the dashboard binaries.
const (
	DefaultMaxEvents     = 10000
	DefaultWindow        = 60 * time.Second
	DefaultPruneInterval = time.Second
	DefaultPollInterval  = 2 * time.Second
	DefaultTailBuffer    = 1000
	DefaultScanLines     = 100
	DefaultRecentCount   = 10
)

// Well-known source names and event kinds.
const (
	SourceLogMonitor = "log_monitor"

	KindLogEntry = "log_entry"
	KindLogError = "log_error"
	KindStartup  = "startup"
)
