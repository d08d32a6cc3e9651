package duckdb

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/networkbuster/compositor/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore(\"\") failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testEvent(id, source, kind string, ts time.Time) model.Event {
	return model.Event{
		ID:        id,
		Source:    source,
		Kind:      kind,
		Data:      map[string]any{"content": "line " + id},
		Timestamp: ts,
	}
}

func insertTestEvents(t *testing.T, store *Store, events []model.Event) {
	t.Helper()
	if err := store.InsertEventBatch(events); err != nil {
		t.Fatalf("InsertEventBatch failed: %v", err)
	}
}

func TestInsertEventBatch(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()

	insertTestEvents(t, store, []model.Event{
		testEvent("a", "log_monitor", model.KindLogEntry, now),
		testEvent("b", "log_monitor", model.KindLogError, now),
		testEvent("c", "stdin", model.KindLogEntry, now),
	})

	count, err := store.TotalEventCount()
	if err != nil {
		t.Fatalf("TotalEventCount: %v", err)
	}
	if count != 3 {
		t.Errorf("TotalEventCount = %d, want 3", count)
	}
}

func TestInsertEventBatch_DuplicateIDsIgnored(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	ev := testEvent("dup", "stdin", model.KindLogEntry, now)

	insertTestEvents(t, store, []model.Event{ev})
	insertTestEvents(t, store, []model.Event{ev, testEvent("other", "stdin", model.KindLogEntry, now)})

	count, err := store.TotalEventCount()
	if err != nil {
		t.Fatalf("TotalEventCount: %v", err)
	}
	if count != 2 {
		t.Errorf("TotalEventCount = %d, want 2", count)
	}
}

func TestInsertEventBatch_Empty(t *testing.T) {
	store := newTestStore(t)
	if err := store.InsertEventBatch(nil); err != nil {
		t.Fatalf("InsertEventBatch(nil) = %v", err)
	}
}

func TestCountsBySourceAndType(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	insertTestEvents(t, store, []model.Event{
		testEvent("1", "log_monitor", model.KindLogEntry, now),
		testEvent("2", "log_monitor", model.KindLogError, now),
		testEvent("3", "log_monitor", model.KindLogEntry, now),
		testEvent("4", "stdin", model.KindLogEntry, now),
	})

	bySource, err := store.CountsBySource()
	if err != nil {
		t.Fatalf("CountsBySource: %v", err)
	}
	wantSource := []model.KeyCount{{Key: "log_monitor", Count: 3}, {Key: "stdin", Count: 1}}
	if fmt.Sprint(bySource) != fmt.Sprint(wantSource) {
		t.Errorf("CountsBySource = %v, want %v", bySource, wantSource)
	}

	byType, err := store.CountsByType()
	if err != nil {
		t.Fatalf("CountsByType: %v", err)
	}
	wantType := []model.KeyCount{{Key: model.KindLogEntry, Count: 3}, {Key: model.KindLogError, Count: 1}}
	if fmt.Sprint(byType) != fmt.Sprint(wantType) {
		t.Errorf("CountsByType = %v, want %v", byType, wantType)
	}
}

func TestRecentStoredEvents(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var events []model.Event
	for i := 0; i < 5; i++ {
		kind := model.KindLogEntry
		if i%2 == 1 {
			kind = model.KindLogError
		}
		events = append(events, testEvent(fmt.Sprintf("e%d", i), "log_monitor", kind, base.Add(time.Duration(i)*time.Second)))
	}
	events = append(events, testEvent("s0", "stdin", model.KindLogEntry, base.Add(10*time.Second)))
	insertTestEvents(t, store, events)

	tests := []struct {
		name   string
		limit  int
		source string
		kind   string
		want   []string
	}{
		{name: "latest overall", limit: 2, want: []string{"e4", "s0"}},
		{name: "by source", limit: 3, source: "log_monitor", want: []string{"e2", "e3", "e4"}},
		{name: "by type", limit: 10, kind: model.KindLogError, want: []string{"e1", "e3"}},
		{name: "source and type", limit: 10, source: "stdin", kind: model.KindLogError, want: nil},
		{name: "zero limit", limit: 0, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.RecentStoredEvents(tt.limit, tt.source, tt.kind)
			if err != nil {
				t.Fatalf("RecentStoredEvents: %v", err)
			}
			var ids []string
			for _, ev := range got {
				ids = append(ids, ev.ID)
			}
			if fmt.Sprint(ids) != fmt.Sprint(tt.want) {
				t.Errorf("ids = %v, want %v", ids, tt.want)
			}
		})
	}
}

func TestRecentStoredEvents_RestoresData(t *testing.T) {
	store := newTestStore(t)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	insertTestEvents(t, store, []model.Event{{
		ID:        "x",
		Source:    "log_monitor",
		Kind:      model.KindLogError,
		Data:      map[string]any{"file": "/var/log/app.log", "line": 7, "level": "error"},
		Timestamp: ts,
	}})

	got, err := store.RecentStoredEvents(1, "", "")
	if err != nil {
		t.Fatalf("RecentStoredEvents: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	ev := got[0]
	if ev.Data["file"] != "/var/log/app.log" || ev.Data["line"] != float64(7) || ev.Data["level"] != "error" {
		t.Errorf("data = %v", ev.Data)
	}
	if !ev.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", ev.Timestamp, ts)
	}
}

func TestDeleteBefore(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	insertTestEvents(t, store, []model.Event{
		testEvent("old1", "stdin", model.KindLogEntry, now.Add(-48*time.Hour)),
		testEvent("old2", "stdin", model.KindLogEntry, now.Add(-25*time.Hour)),
		testEvent("new", "stdin", model.KindLogEntry, now),
	})

	deleted, err := store.DeleteBefore(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("DeleteBefore: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	count, err := store.TotalEventCount()
	if err != nil {
		t.Fatalf("TotalEventCount: %v", err)
	}
	if count != 1 {
		t.Errorf("TotalEventCount = %d, want 1", count)
	}
}

func TestInsertStatement_DedupesWithinBatch(t *testing.T) {
	now := time.Now()
	query, args := insertStatement([]model.Event{
		testEvent("a", "stdin", model.KindLogEntry, now),
		testEvent("a", "stdin", model.KindLogEntry, now),
		testEvent("b", "stdin", model.KindLogEntry, now),
	})
	if got := strings.Count(query, "(?, ?, ?, ?, ?)"); got != 2 {
		t.Fatalf("row groups = %d, want 2", got)
	}
	if len(args) != 10 {
		t.Fatalf("args = %d, want 10", len(args))
	}
}
