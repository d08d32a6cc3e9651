// Package autoexport writes the compositor buffer to disk on a fixed
// interval and keeps a bounded number of recent files.
package autoexport

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultInterval is used when Config.Interval is zero.
	DefaultInterval = 5 * time.Minute
	// DefaultKeepLast is used when Config.KeepLast is zero.
	DefaultKeepLast = 24
	defaultFormat   = "json"

	filePrefix = "events-"
	nameLayout = "20060102-150405"
)

// Manager runs periodic exports.
type Manager struct {
	exporter Exporter
	snap     Snapshotter
	cfg      Config
	now      func() time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewManager validates cfg and starts the export loop. It returns nil when
// exports are disabled. snap may be nil.
func NewManager(exporter Exporter, snap Snapshotter, cfg Config) (*Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	m, err := newManager(exporter, snap, cfg, time.Now)
	if err != nil {
		return nil, err
	}

	m.wg.Add(1)
	go m.loop()
	return m, nil
}

func newManager(exporter Exporter, snap Snapshotter, cfg Config, now func() time.Time) (*Manager, error) {
	if exporter == nil {
		return nil, fmt.Errorf("autoexport: nil exporter")
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("autoexport: dir is required when export is enabled")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.KeepLast <= 0 {
		cfg.KeepLast = DefaultKeepLast
	}
	cfg.Format = strings.ToLower(strings.TrimSpace(cfg.Format))
	if cfg.Format == "" {
		cfg.Format = defaultFormat
	}
	if cfg.Format != "json" && cfg.Format != "ndjson" {
		return nil, fmt.Errorf("autoexport: unknown format %q", cfg.Format)
	}
	if cfg.SnapshotDB {
		if snap == nil || strings.TrimSpace(snap.DBPath()) == "" {
			return nil, fmt.Errorf("autoexport: database snapshots need an on-disk db-path")
		}
	} else {
		snap = nil
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("autoexport: create dir: %w", err)
	}

	return &Manager{
		exporter: exporter,
		snap:     snap,
		cfg:      cfg,
		now:      now,
		done:     make(chan struct{}),
	}, nil
}

func (m *Manager) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.RunOnce(); err != nil {
				log.Printf("autoexport: periodic export failed: %v", err)
			}
		case <-m.done:
			return
		}
	}
}

// RunOnce writes one export, an optional database snapshot, and prunes old
// files. It returns the export path.
func (m *Manager) RunOnce() (string, error) {
	stamp := m.now().UTC().Format(nameLayout)
	path := filepath.Join(m.cfg.Dir, filePrefix+stamp+"."+m.cfg.Format)

	n, err := m.exporter.Export(path, m.cfg.Format)
	if err != nil {
		return "", fmt.Errorf("autoexport: export: %w", err)
	}
	log.Printf("autoexport: wrote %d events to %s", n, path)

	if m.snap != nil {
		dbPath := filepath.Join(m.cfg.Dir, filePrefix+stamp+".duckdb")
		if err := m.snap.SnapshotTo(dbPath); err != nil {
			return path, fmt.Errorf("autoexport: snapshot: %w", err)
		}
	}

	for _, ext := range []string{"json", "ndjson", "duckdb"} {
		if err := pruneOld(m.cfg.Dir, ext, m.cfg.KeepLast); err != nil {
			return path, fmt.Errorf("autoexport: prune: %w", err)
		}
	}
	return path, nil
}

// Stop terminates the export loop. It is safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
	})
}

func pruneOld(dir, ext string, keepLast int) error {
	if keepLast <= 0 {
		return nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, filePrefix+"*."+ext))
	if err != nil {
		return err
	}
	if len(matches) <= keepLast {
		return nil
	}

	// Names embed the timestamp, so lexical order is chronological.
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))

	for _, oldPath := range matches[keepLast:] {
		if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
