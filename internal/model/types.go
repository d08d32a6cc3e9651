package model

import (
	"maps"
	"slices"
	"time"
)

// Event is one observed occurrence accepted by the compositor.
// Values are copied on every hand-off; Data is cloned so that holders of a
// copy cannot reach the compositor's own map.
type Event struct {
	ID        string         `json:"id"`
	Source    string         `json:"source"`
	Kind      string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Clone returns a copy of e whose Data shares nothing with e.
func (e Event) Clone() Event {
	out := e
	if e.Data != nil {
		out.Data = CloneData(e.Data)
	}
	return out
}

// CloneData deep-copies a JSON-shaped payload. Nested maps and slices are
// copied; other values are kept as they are.
func CloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneData(t)
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return slices.Clone(t)
	case map[string]string:
		return maps.Clone(t)
	default:
		return v
	}
}

// Level is the severity class derived from a log line.
type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
	LevelDebug   Level = "debug"
	LevelNone    Level = ""
)

// LogEntry is one line observed by the tailer.
type LogEntry struct {
	FilePath   string
	LineNumber int // 1-based, relative to the last truncation of the file
	Content    string
	Timestamp  time.Time
	Level      Level
}

func (e LogEntry) IsError() bool   { return e.Level == LevelError }
func (e LogEntry) IsWarning() bool { return e.Level == LevelWarning }

// Snapshot is a point-in-time read of the compositor.
type Snapshot struct {
	Timestamp       time.Time        `json:"timestamp"`
	Sources         map[string]int64 `json:"sources"`
	EventTypes      map[string]int64 `json:"event_types"`
	TotalEvents     int64            `json:"total_events"`
	EventsPerSecond float64          `json:"events_per_second"`
	RecentEvents    []Event          `json:"recent_events"`
}

// Stats summarizes compositor state.
type Stats struct {
	TotalEvents     int64   `json:"total_events"`
	EventsInMemory  int     `json:"events_in_memory"`
	EventsInWindow  int     `json:"events_in_window"`
	EventsPerSecond float64 `json:"events_per_second"`
	SourcesCount    int     `json:"sources_count"`
	EventTypesCount int     `json:"event_types_count"`
	Running         bool    `json:"running"`
}

// SourceSummary describes one registered source adapter.
type SourceSummary struct {
	Name       string `json:"name"`
	Enabled    bool   `json:"enabled"`
	EventCount int64  `json:"event_count"`
}

// TailStats summarizes tailer activity.
type TailStats struct {
	TotalEntries   int64 `json:"total_entries"`
	Errors         int64 `json:"errors"`
	Warnings       int64 `json:"warnings"`
	FilesMonitored int   `json:"files_monitored"`
}

// KeyCount is a grouped count read back from the event store.
type KeyCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}
