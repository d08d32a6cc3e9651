package compositor

import (
	"maps"
	"sort"

	"github.com/networkbuster/compositor/internal/model"
)

// Snapshot returns a consistent read of counts, rate and the last recent
// events. Only references are copied under the lock; payloads are cloned
// afterwards.
func (c *Compositor) Snapshot(recent int) model.Snapshot {
	c.mu.Lock()
	now := c.now()
	c.pruneLocked(now)
	snap := model.Snapshot{
		Timestamp:       now,
		Sources:         maps.Clone(c.sourceCounts),
		EventTypes:      maps.Clone(c.typeCounts),
		TotalEvents:     c.total,
		EventsPerSecond: c.rateLocked(),
	}
	var recentEvents []model.Event
	if recent > 0 {
		recentEvents = c.events.Last(recent)
	}
	c.mu.Unlock()

	snap.RecentEvents = cloneEvents(recentEvents)
	return snap
}

// RecentEvents returns up to count most recent events, oldest first,
// optionally filtered by source and kind. Empty filters match everything.
func (c *Compositor) RecentEvents(count int, source, kind string) []model.Event {
	if count <= 0 {
		return []model.Event{}
	}

	c.mu.Lock()
	all := c.events.Last(-1)
	c.mu.Unlock()

	filtered := all[:0]
	for _, ev := range all {
		if source != "" && ev.Source != source {
			continue
		}
		if kind != "" && ev.Kind != kind {
			continue
		}
		filtered = append(filtered, ev)
	}
	if len(filtered) > count {
		filtered = filtered[len(filtered)-count:]
	}
	return cloneEvents(filtered)
}

// TypeDistribution returns each kind's share of all events in percent.
func (c *Compositor) TypeDistribution() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]float64, len(c.typeCounts))
	if c.total == 0 {
		return out
	}
	for kind, n := range c.typeCounts {
		out[kind] = float64(n) / float64(c.total) * 100
	}
	return out
}

// Stats returns buffer sizes, totals and the current rate.
func (c *Compositor) Stats() model.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(c.now())
	return model.Stats{
		TotalEvents:     c.total,
		EventsInMemory:  c.events.Len(),
		EventsInWindow:  len(c.windowEvents),
		EventsPerSecond: c.rateLocked(),
		SourcesCount:    len(c.sources),
		EventTypesCount: len(c.typeCounts),
		Running:         c.running.Load(),
	}
}

// SourcesSummary lists registered sources sorted by name.
func (c *Compositor) SourcesSummary() []model.SourceSummary {
	c.mu.Lock()
	sources := make([]*Source, 0, len(c.sources))
	for _, s := range c.sources {
		sources = append(sources, s)
	}
	c.mu.Unlock()

	sort.Slice(sources, func(i, j int) bool { return sources[i].name < sources[j].name })
	out := make([]model.SourceSummary, 0, len(sources))
	for _, s := range sources {
		out = append(out, model.SourceSummary{
			Name:       s.name,
			Enabled:    s.Enabled(),
			EventCount: s.EmittedCount(),
		})
	}
	return out
}

func cloneEvents(events []model.Event) []model.Event {
	out := make([]model.Event, len(events))
	for i, ev := range events {
		out[i] = ev.Clone()
	}
	return out
}
