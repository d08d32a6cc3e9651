package duckdb

import (
	"sync"
	"testing"
	"time"
)

type fakeExpirer struct {
	mu      sync.Mutex
	cutoffs []time.Time
}

func (f *fakeExpirer) DeleteBefore(cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return 1, nil
}

func (f *fakeExpirer) calls() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.cutoffs...)
}

func TestRetentionCleaner_Disabled(t *testing.T) {
	store := newTestStore(t)
	if rc := NewRetentionCleaner(store, RetentionConfig{RetentionDays: 0}); rc != nil {
		t.Fatal("expected nil cleaner when retention is 0")
	}
}

func TestRetentionCleaner_StartupCleanupUsesCutoff(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	fe := &fakeExpirer{}
	rc := newRetentionCleaner(fe, func() time.Time { return now }, RetentionConfig{RetentionDays: 7, Interval: time.Hour})
	defer rc.Stop()

	calls := fe.calls()
	if len(calls) != 1 {
		t.Fatalf("cleanup calls = %d, want 1", len(calls))
	}
	want := now.Add(-7 * 24 * time.Hour)
	if !calls[0].Equal(want) {
		t.Errorf("cutoff = %v, want %v", calls[0], want)
	}
}

func TestRetentionCleaner_Ticks(t *testing.T) {
	fe := &fakeExpirer{}
	rc := newRetentionCleaner(fe, time.Now, RetentionConfig{RetentionDays: 1, Interval: 10 * time.Millisecond})

	deadline := time.Now().Add(2 * time.Second)
	for len(fe.calls()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	rc.Stop()
	n := len(fe.calls())
	if n < 3 {
		t.Fatalf("cleanup calls = %d, want >= 3", n)
	}
	if got := rc.Removed(); got != int64(n) {
		t.Fatalf("Removed = %d, want %d", got, n)
	}
}

func TestRetentionCleaner_StopIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	rc := NewRetentionCleaner(store, RetentionConfig{RetentionDays: 1})
	rc.Stop()
	rc.Stop()
}
