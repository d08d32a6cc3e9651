package model

// EventReader is the read contract shared by the HTTP API and socket RPC.
type EventReader interface {
	Snapshot(recent int) Snapshot
	Stats() Stats
	RecentEvents(count int, source, kind string) []Event
	TypeDistribution() map[string]float64
	SourcesSummary() []SourceSummary
}

// EventWriter persists batches of events.
type EventWriter interface {
	InsertEventBatch(events []Event) error
}

// HistoryQuerier answers questions about persisted events, including those
// already evicted from the in-memory buffer.
type HistoryQuerier interface {
	TotalEventCount() (int64, error)
	CountsBySource() ([]KeyCount, error)
	CountsByType() ([]KeyCount, error)
	RecentStoredEvents(limit int, source, kind string) ([]Event, error)
}
