package compositor

import (
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// TestProperty_CountersAndBuffer checks that for any emit sequence the
// cumulative counters agree with each other and the buffer holds exactly the
// last min(N, capacity) events in emit order.
func TestProperty_CountersAndBuffer(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 20).Draw(t, "capacity")
		clock := newFakeClock()
		c := New(Config{MaxEvents: capacity, Window: 10 * time.Second, Clock: clock.Now})

		sourceNames := []string{"a", "b", "c"}
		kinds := []string{"x", "y"}
		n := rapid.IntRange(0, 60).Draw(t, "n")

		type emitted struct{ source, kind string }
		var all []emitted
		for i := 0; i < n; i++ {
			s := rapid.SampledFrom(sourceNames).Draw(t, fmt.Sprintf("source%d", i))
			k := rapid.SampledFrom(kinds).Draw(t, fmt.Sprintf("kind%d", i))
			c.RegisterSource(s).Emit(k, map[string]any{"seq": i})
			all = append(all, emitted{s, k})
			clock.Advance(time.Duration(rapid.IntRange(0, 3000).Draw(t, fmt.Sprintf("gap%d", i))) * time.Millisecond)
		}

		snap := c.Snapshot(capacity)
		var sumSources, sumTypes int64
		for _, v := range snap.Sources {
			sumSources += v
		}
		for _, v := range snap.EventTypes {
			sumTypes += v
		}
		if sumSources != snap.TotalEvents || sumTypes != snap.TotalEvents || snap.TotalEvents != int64(n) {
			t.Fatalf("counters disagree: sources=%d types=%d total=%d n=%d", sumSources, sumTypes, snap.TotalEvents, n)
		}

		wantLen := min(n, capacity)
		if len(snap.RecentEvents) != wantLen {
			t.Fatalf("buffer has %d events, want %d", len(snap.RecentEvents), wantLen)
		}
		offset := n - wantLen
		for i, ev := range snap.RecentEvents {
			want := all[offset+i]
			if ev.Data["seq"] != offset+i || ev.Source != want.source || ev.Kind != want.kind {
				t.Fatalf("buffer[%d] = %+v, want seq %d from %s/%s", i, ev, offset+i, want.source, want.kind)
			}
		}

		stats := c.Stats()
		if stats.EventsInWindow > n {
			t.Fatalf("window holds %d events, more than emitted %d", stats.EventsInWindow, n)
		}
		if snap.EventsPerSecond < 0 {
			t.Fatalf("negative rate %v", snap.EventsPerSecond)
		}
	})
}
