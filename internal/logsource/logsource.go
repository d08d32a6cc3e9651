// Package logsource adapts line inputs to a single channel-based interface.
package logsource

import "github.com/networkbuster/compositor/internal/model"

// LogSource is a unified interface for all line input sources (TCP, stdin).
type LogSource interface {
	Lines() <-chan model.IngestEnvelope // read-only channel of log lines
	Stop()                              // graceful shutdown
	Name() string                       // "tcp", "stdin"
}
