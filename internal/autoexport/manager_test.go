package autoexport

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeExporter struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (f *fakeExporter) Export(path, format string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.paths = append(f.paths, path)
	return 1, os.WriteFile(path, []byte(format), 0644)
}

func (f *fakeExporter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.paths)
}

type fakeSnapshotter struct {
	dbPath string
}

func (f *fakeSnapshotter) DBPath() string { return f.dbPath }

func (f *fakeSnapshotter) SnapshotTo(dstPath string) error {
	return os.WriteFile(dstPath, []byte("db"), 0644)
}

func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

func TestNewManager_Disabled(t *testing.T) {
	t.Parallel()

	m, err := NewManager(&fakeExporter{}, nil, Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	if m != nil {
		t.Fatal("expected nil manager when disabled")
	}
}

func TestNewManager_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		snap Snapshotter
		cfg  Config
	}{
		{name: "missing dir", cfg: Config{Enabled: true}},
		{name: "bad format", cfg: Config{Enabled: true, Dir: t.TempDir(), Format: "csv"}},
		{name: "snapshot without store", cfg: Config{Enabled: true, Dir: t.TempDir(), SnapshotDB: true}},
		{name: "snapshot of in-memory store", snap: &fakeSnapshotter{}, cfg: Config{Enabled: true, Dir: t.TempDir(), SnapshotDB: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewManager(&fakeExporter{}, tt.snap, tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRunOnce_NamesAndPrunes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	exp := &fakeExporter{}
	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	m, err := newManager(exp, nil, Config{Enabled: true, Dir: dir, Format: "NDJSON", KeepLast: 2}, steppingClock(start))
	if err != nil {
		t.Fatalf("newManager: %v", err)
	}

	var last string
	for i := 0; i < 3; i++ {
		if last, err = m.RunOnce(); err != nil {
			t.Fatalf("RunOnce #%d: %v", i+1, err)
		}
	}
	if want := filepath.Join(dir, "events-20260501-080003.ndjson"); last != want {
		t.Errorf("last path = %q, want %q", last, want)
	}

	files, err := filepath.Glob(filepath.Join(dir, "events-*.ndjson"))
	if err != nil {
		t.Fatalf("glob exports: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("export files = %v, want 2", files)
	}
	if _, err := os.Stat(filepath.Join(dir, "events-20260501-080001.ndjson")); !os.IsNotExist(err) {
		t.Errorf("oldest export was not pruned: %v", err)
	}
}

func TestRunOnce_WithSnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m, err := newManager(&fakeExporter{}, &fakeSnapshotter{dbPath: "/data/events.duckdb"},
		Config{Enabled: true, Dir: dir, SnapshotDB: true}, steppingClock(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("newManager: %v", err)
	}
	if _, err := m.RunOnce(); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	for _, name := range []string{"events-20260501-080001.json", "events-20260501-080001.duckdb"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
}

func TestRunOnce_ExportError(t *testing.T) {
	t.Parallel()

	m, err := newManager(&fakeExporter{err: errors.New("disk full")}, nil, Config{Enabled: true, Dir: t.TempDir()}, time.Now)
	if err != nil {
		t.Fatalf("newManager: %v", err)
	}
	if _, err := m.RunOnce(); err == nil {
		t.Fatal("expected export error")
	}
}

func TestManager_LoopAndStop(t *testing.T) {
	t.Parallel()

	exp := &fakeExporter{}
	m, err := NewManager(exp, nil, Config{Enabled: true, Dir: t.TempDir(), Interval: 10 * time.Millisecond, KeepLast: 100})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for exp.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	m.Stop()
	m.Stop()
	if exp.count() < 1 {
		t.Fatal("loop never exported")
	}
}
