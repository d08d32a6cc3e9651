package ingest

import (
	"github.com/networkbuster/compositor/internal/compositor"
	"github.com/networkbuster/compositor/internal/model"
)

// EntryForwarder publishes tailer entries on the log monitor source.
type EntryForwarder struct {
	source *compositor.Source
}

// NewEntryForwarder registers the log monitor source on reg.
func NewEntryForwarder(reg SourceRegistry) *EntryForwarder {
	return &EntryForwarder{source: reg.RegisterSource(model.SourceLogMonitor)}
}

// Source returns the adapter entries are emitted on.
func (f *EntryForwarder) Source() *compositor.Source { return f.source }

// Forward emits one entry as log_error or log_entry. It has the tailer's
// entry callback signature.
func (f *EntryForwarder) Forward(e model.LogEntry) {
	f.source.Emit(KindForLevel(e.Level), EntryPayload(e))
}

// EntryPayload is the event payload for a tailer entry.
func EntryPayload(e model.LogEntry) map[string]any {
	return map[string]any{
		"file":    e.FilePath,
		"content": Truncate(e.Content, MaxContentLength),
		"line":    e.LineNumber,
		"level":   levelValue(e.Level),
	}
}
