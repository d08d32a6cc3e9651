// Package tailer follows log files and directories and turns newly appended
// lines into classified log entries.
package tailer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/networkbuster/compositor/internal/logparse"
	"github.com/networkbuster/compositor/internal/model"
	"github.com/networkbuster/compositor/internal/ringbuf"
)

// ErrPathNotFound is returned when a watch or scan path does not exist.
var ErrPathNotFound = errors.New("tailer: path not found")

// Mode selects how file changes are detected.
type Mode string

const (
	ModeAuto   Mode = "auto"   // notify, falling back to poll
	ModeNotify Mode = "notify" // file-system notifications only
	ModePoll   Mode = "poll"   // fixed-interval polling
)

// ParseMode validates a mode name. Empty means auto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeNotify, ModePoll:
		return m, nil
	default:
		return "", fmt.Errorf("tailer: unknown mode %q", s)
	}
}

const (
	// DefaultMaxScanFiles caps files read by one ScanExistingLogs call.
	DefaultMaxScanFiles = 10
	// DefaultStopGrace bounds how long Stop waits for the observation loop.
	DefaultStopGrace = 2 * time.Second
)

// Config holds tunable parameters for the tailer.
type Config struct {
	MaxEntries   int
	PollInterval time.Duration
	Mode         Mode
	Classifier   *logparse.Classifier
	MaxScanFiles int
	StopGrace    time.Duration
}

// EntryCallback receives each new entry. It runs on the tailer goroutine.
type EntryCallback func(model.LogEntry)

type fileState struct {
	offset int64
	lines  int
}

// Tailer observes watched paths and records new lines.
type Tailer struct {
	maxEntries   int
	pollInterval time.Duration
	mode         Mode
	classifier   *logparse.Classifier
	maxScanFiles int
	stopGrace    time.Duration

	// mu guards the watched set and the entry buffer.
	mu      sync.Mutex
	watched map[string]bool // path -> is directory
	entries *ringbuf.Ring[model.LogEntry]

	// readMu serializes file reads and guards per-file offsets.
	readMu sync.Mutex
	files  map[string]*fileState

	cbMu    sync.RWMutex
	onEntry EntryCallback
	onError EntryCallback

	total    atomic.Int64
	errors   atomic.Int64
	warnings atomic.Int64

	runMu   sync.Mutex
	running atomic.Bool
	source  ChangeSource
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a tailer. Zero config fields fall back to defaults.
func New(conf ...Config) *Tailer {
	t := &Tailer{
		maxEntries:   model.DefaultTailBuffer,
		pollInterval: model.DefaultPollInterval,
		mode:         ModeAuto,
		maxScanFiles: DefaultMaxScanFiles,
		stopGrace:    DefaultStopGrace,
		watched:      make(map[string]bool),
		files:        make(map[string]*fileState),
	}
	if len(conf) > 0 {
		c := conf[0]
		if c.MaxEntries > 0 {
			t.maxEntries = c.MaxEntries
		}
		if c.PollInterval > 0 {
			t.pollInterval = c.PollInterval
		}
		if c.Mode != "" {
			t.mode = c.Mode
		}
		t.classifier = c.Classifier
		if c.MaxScanFiles > 0 {
			t.maxScanFiles = c.MaxScanFiles
		}
		if c.StopGrace > 0 {
			t.stopGrace = c.StopGrace
		}
	}
	if t.classifier == nil {
		t.classifier = logparse.NewClassifier()
	}
	t.entries = ringbuf.New[model.LogEntry](t.maxEntries)
	return t
}

// SetEntryCallback sets the callback invoked for every new entry.
func (t *Tailer) SetEntryCallback(fn EntryCallback) {
	t.cbMu.Lock()
	t.onEntry = fn
	t.cbMu.Unlock()
}

// SetErrorCallback sets the callback invoked for error-level entries.
func (t *Tailer) SetErrorCallback(fn EntryCallback) {
	t.cbMu.Lock()
	t.onError = fn
	t.cbMu.Unlock()
}

func normalizePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// AddWatchPath registers a file or directory. Directories are watched
// recursively. Content already in the files is not replayed; use
// ScanExistingLogs for that. Paths added while running are observed
// immediately.
func (t *Tailer) AddWatchPath(path string) error {
	p, err := normalizePath(path)
	if err != nil {
		return fmt.Errorf("tailer: resolve %s: %w", path, err)
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrPathNotFound, path)
		}
		return fmt.Errorf("tailer: stat %s: %w", path, err)
	}

	t.mu.Lock()
	t.watched[p] = info.IsDir()
	t.mu.Unlock()

	for _, f := range listLogFiles(p) {
		t.seedOffset(f)
	}

	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.source != nil {
		if err := t.source.Add(p); err != nil {
			log.Printf("tailer: observe %s: %v", p, err)
		}
	}
	return nil
}

// RemoveWatchPath stops observing path. It reports whether path was watched.
func (t *Tailer) RemoveWatchPath(path string) bool {
	p, err := normalizePath(path)
	if err != nil {
		return false
	}

	t.mu.Lock()
	_, ok := t.watched[p]
	delete(t.watched, p)
	t.mu.Unlock()
	if !ok {
		return false
	}

	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.source != nil {
		_ = t.source.Remove(p)
	}
	return true
}

// WatchedPaths returns the registered paths sorted.
func (t *Tailer) WatchedPaths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.watched))
	for p := range t.watched {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// isWatched reports whether file is a watched file or lies below a watched
// directory.
func (t *Tailer) isWatched(file string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for p, isDir := range t.watched {
		if p == file || (isDir && within(p, file)) {
			return true
		}
	}
	return false
}

func (t *Tailer) newChangeSource() (ChangeSource, error) {
	switch t.mode {
	case ModePoll:
		return newPollSource(t.pollInterval), nil
	case ModeNotify:
		return newNotifySource()
	default:
		src, err := newNotifySource()
		if err != nil {
			log.Printf("tailer: notifications unavailable, polling every %s: %v", t.pollInterval, err)
			return newPollSource(t.pollInterval), nil
		}
		return src, nil
	}
}

// Start begins observing the watched paths. It is a no-op when running.
func (t *Tailer) Start() error {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.running.Load() {
		return nil
	}

	src, err := t.newChangeSource()
	if err != nil {
		return err
	}
	for _, p := range t.WatchedPaths() {
		if err := src.Add(p); err != nil {
			log.Printf("tailer: observe %s: %v", p, err)
		}
	}

	t.source = src
	t.done = make(chan struct{})
	t.running.Store(true)
	t.wg.Add(1)
	go t.run(src.Changes(), t.done)
	return nil
}

// Stop ends observation and waits up to the stop grace period for the loop
// to exit. Recorded entries are kept.
func (t *Tailer) Stop() {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if !t.running.Load() {
		return
	}

	close(t.done)
	if err := t.source.Close(); err != nil {
		log.Printf("tailer: close change source: %v", err)
	}
	t.source = nil

	exited := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(exited)
	}()
	select {
	case <-exited:
	case <-time.After(t.stopGrace):
		log.Printf("tailer: observation loop still busy after %s", t.stopGrace)
	}
	t.running.Store(false)
}

// Running reports whether observation is active.
func (t *Tailer) Running() bool { return t.running.Load() }

func (t *Tailer) run(changes <-chan string, done <-chan struct{}) {
	defer t.wg.Done()
	for {
		select {
		case <-done:
			return
		case path, ok := <-changes:
			if !ok {
				return
			}
			t.handleChange(path)
		}
	}
}

// handleChange reads complete lines appended to path since the last read.
// Errors are logged and dropped; the next change retries the file.
func (t *Tailer) handleChange(path string) {
	if !logparse.IsLogFile(path) || !t.isWatched(path) {
		return
	}

	t.readMu.Lock()
	entries, err := t.readNewLines(path)
	t.readMu.Unlock()
	if err != nil {
		log.Printf("tailer: read %s: %v", path, err)
	}
	for _, e := range entries {
		t.record(e)
	}
}

// readNewLines must be called with readMu held.
func (t *Tailer) readNewLines(path string) ([]model.LogEntry, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			delete(t.files, path)
			return nil, nil
		}
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, nil
	}

	st := t.files[path]
	if st == nil {
		st = &fileState{}
		t.files[path] = st
	}
	if info.Size() < st.offset {
		st.offset = 0
		st.lines = 0
	}
	if info.Size() == st.offset {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := f.Seek(st.offset, io.SeekStart); err != nil {
		return nil, err
	}

	var entries []model.LogEntry
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			// A trailing line without its newline is left for the next read.
			if err == io.EOF {
				return entries, nil
			}
			return entries, err
		}
		st.offset += int64(len(line))
		st.lines++
		if e, ok := t.makeEntry(path, st.lines, line); ok {
			entries = append(entries, e)
		}
	}
}

func (t *Tailer) makeEntry(path string, lineNumber int, raw string) (model.LogEntry, bool) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return model.LogEntry{}, false
	}
	return model.LogEntry{
		FilePath:   path,
		LineNumber: lineNumber,
		Content:    content,
		Timestamp:  time.Now(),
		Level:      t.classifier.Classify(content),
	}, true
}

// seedOffset marks the current content of a newly watched file as seen.
func (t *Tailer) seedOffset(path string) {
	t.readMu.Lock()
	defer t.readMu.Unlock()
	if _, ok := t.files[path]; ok {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	st := &fileState{}
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			break
		}
		st.offset += int64(len(line))
		st.lines++
	}
	t.files[path] = st
}

func (t *Tailer) record(e model.LogEntry) {
	t.mu.Lock()
	t.entries.Push(e)
	t.mu.Unlock()

	t.total.Add(1)
	switch e.Level {
	case model.LevelError:
		t.errors.Add(1)
	case model.LevelWarning:
		t.warnings.Add(1)
	}

	t.cbMu.RLock()
	onEntry, onError := t.onEntry, t.onError
	t.cbMu.RUnlock()

	if onEntry != nil {
		invoke(onEntry, e)
	}
	if e.IsError() && onError != nil {
		invoke(onError, e)
	}
}

func invoke(fn EntryCallback, e model.LogEntry) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("tailer: entry callback panic for %s:%d: %v", e.FilePath, e.LineNumber, r)
		}
	}()
	fn(e)
}

// Entries returns up to count most recent entries, oldest first, optionally
// restricted to one level.
func (t *Tailer) Entries(count int, level model.Level) []model.LogEntry {
	if count <= 0 {
		return []model.LogEntry{}
	}
	t.mu.Lock()
	all := t.entries.Last(-1)
	t.mu.Unlock()

	if level != model.LevelNone {
		filtered := all[:0]
		for _, e := range all {
			if e.Level == level {
				filtered = append(filtered, e)
			}
		}
		all = filtered
	}
	if len(all) > count {
		all = all[len(all)-count:]
	}
	return all
}

// Errors returns up to count most recent error entries.
func (t *Tailer) Errors(count int) []model.LogEntry {
	return t.Entries(count, model.LevelError)
}

// ClearEntries drops buffered entries and resets entry counters. Read offsets
// are kept so cleared content is not read again.
func (t *Tailer) ClearEntries() {
	t.mu.Lock()
	t.entries.Clear()
	t.mu.Unlock()
	t.total.Store(0)
	t.errors.Store(0)
	t.warnings.Store(0)
}

// Stats returns entry counters and the number of watched paths.
func (t *Tailer) Stats() model.TailStats {
	t.mu.Lock()
	n := len(t.watched)
	t.mu.Unlock()
	return model.TailStats{
		TotalEntries:   t.total.Load(),
		Errors:         t.errors.Load(),
		Warnings:       t.warnings.Load(),
		FilesMonitored: n,
	}
}
