package duckdb

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/networkbuster/compositor/internal/journal"
	"github.com/networkbuster/compositor/internal/model"
)

func TestInsertBuffer_AddAndStop(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store)

	for i := 0; i < 10; i++ {
		buf.Add(testEvent(fmt.Sprintf("ev-%d", i), "stdin", model.KindLogEntry, time.Now()))
	}

	// Stop should flush all pending events
	buf.Stop()

	count, err := store.TotalEventCount()
	if err != nil {
		t.Fatalf("TotalEventCount: %v", err)
	}
	if count != 10 {
		t.Errorf("after Stop, TotalEventCount = %d, want 10", count)
	}
	if buf.Flushed() != 10 {
		t.Errorf("Flushed = %d, want 10", buf.Flushed())
	}
}

func TestInsertBuffer_BatchThreshold(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store, InsertBufferConfig{BatchSize: 50, FlushInterval: time.Hour})

	for i := 0; i < 120; i++ {
		buf.Add(testEvent(fmt.Sprintf("ev-%d", i), "stdin", model.KindLogEntry, time.Now()))
	}

	// Two full batches flush without waiting for the ticker.
	deadline := time.Now().Add(5 * time.Second)
	for buf.Flushed() < 100 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if buf.Flushed() < 100 {
		t.Fatalf("Flushed = %d before Stop, want >= 100", buf.Flushed())
	}

	buf.Stop()

	count, err := store.TotalEventCount()
	if err != nil {
		t.Fatalf("TotalEventCount: %v", err)
	}
	if count != 120 {
		t.Errorf("TotalEventCount = %d, want 120", count)
	}
}

func TestInsertBuffer_ConcurrentAdd(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store)

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				buf.Add(testEvent(fmt.Sprintf("g%d-%d", g, i), "stdin", model.KindLogEntry, time.Now()))
			}
		}(g)
	}
	wg.Wait()
	buf.Stop()

	count, err := store.TotalEventCount()
	if err != nil {
		t.Fatalf("TotalEventCount: %v", err)
	}
	if count != 1000 {
		t.Errorf("after concurrent Add, TotalEventCount = %d, want 1000", count)
	}
}

func TestInsertBuffer_StopIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store)
	buf.Add(testEvent("only", "stdin", model.KindLogEntry, time.Now()))

	buf.Stop()
	buf.Stop()
}

func TestInsertBuffer_Callback(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store)

	if err := buf.Callback(testEvent("cb", "stdin", model.KindLogEntry, time.Now())); err != nil {
		t.Fatalf("Callback: %v", err)
	}
	buf.Stop()

	got, err := store.RecentStoredEvents(5, "", "")
	if err != nil {
		t.Fatalf("RecentStoredEvents: %v", err)
	}
	if len(got) != 1 || got[0].ID != "cb" {
		t.Fatalf("stored = %+v, want [cb]", got)
	}
}

func TestInsertBuffer_JournalCommitsAfterFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.journal")
	j, err := journal.Open(path)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}

	store := newTestStore(t)
	buf := NewInsertBuffer(store, InsertBufferConfig{Journal: j})
	for i := 0; i < 3; i++ {
		buf.Add(testEvent(fmt.Sprintf("j%d", i), "stdin", model.KindLogEntry, time.Now()))
	}
	buf.Stop()

	reopened, err := journal.Open(path)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer reopened.Close()

	var pending int
	if err := reopened.Replay(func(uint64, model.Event) error { pending++; return nil }); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if pending != 0 {
		t.Errorf("uncommitted entries after flush = %d, want 0", pending)
	}
}

func TestInsertBuffer_ReplayJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.journal")
	j, err := journal.Open(path)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	// Entries written but never flushed, as after a crash.
	for i := 0; i < 4; i++ {
		if _, err := j.Append(testEvent(fmt.Sprintf("r%d", i), "stdin", model.KindLogEntry, time.Now())); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	store := newTestStore(t)
	// One entry already reached the store before the crash.
	insertTestEvents(t, store, []model.Event{testEvent("r0", "stdin", model.KindLogEntry, time.Now())})

	buf := NewInsertBuffer(store, InsertBufferConfig{Journal: j})
	n, err := buf.ReplayJournal(j)
	if err != nil {
		t.Fatalf("ReplayJournal: %v", err)
	}
	if n != 4 {
		t.Errorf("replayed = %d, want 4", n)
	}
	buf.Stop()

	count, err := store.TotalEventCount()
	if err != nil {
		t.Fatalf("TotalEventCount: %v", err)
	}
	if count != 4 {
		t.Errorf("TotalEventCount = %d, want 4", count)
	}
}
