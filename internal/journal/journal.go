// Package journal keeps an append-only JSONL record of accepted events so that
// events not yet written to the store survive a restart.
package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/networkbuster/compositor/internal/model"
)

const (
	defaultFileMode = 0644
	defaultDirMode  = 0755
)

type record struct {
	ID        string         `json:"id"`
	Source    string         `json:"source"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

type entry struct {
	Seq   uint64 `json:"seq"`
	Event record `json:"event"`
}

func toRecord(ev model.Event) record {
	data := maps.Clone(ev.Data)
	if data == nil {
		data = map[string]any{}
	}
	return record{
		ID:        ev.ID,
		Source:    ev.Source,
		EventType: ev.Kind,
		Data:      data,
		Timestamp: ev.Timestamp,
	}
}

func (r record) event() model.Event {
	return model.Event{
		ID:        r.ID,
		Source:    r.Source,
		Kind:      r.EventType,
		Data:      r.Data,
		Timestamp: r.Timestamp,
	}
}

// Journal provides a durable append-only log of events.
// It stores one JSON entry per line and tracks commit progress in a sidecar file.
type Journal struct {
	mu         sync.Mutex
	path       string
	commitPath string
	file       *os.File
	nextSeq    uint64
	committed  uint64
}

// Open creates or opens a journal at path. On startup it compacts committed
// entries and ignores a partially written trailing line.
func Open(path string) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), defaultDirMode); err != nil {
		return nil, fmt.Errorf("journal: mkdir: %w", err)
	}

	commitPath := path + ".commit"
	committed, err := readCommitted(commitPath)
	if err != nil {
		return nil, err
	}

	maxSeq, err := compactCommitted(path, committed)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, defaultFileMode)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}

	return &Journal{
		path:       path,
		commitPath: commitPath,
		file:       f,
		nextSeq:    max(maxSeq, committed) + 1,
		committed:  committed,
	}, nil
}

// Append persists one event and returns its sequence number.
func (j *Journal) Append(ev model.Event) (uint64, error) {
	return j.AppendBatch([]model.Event{ev})
}

// AppendBatch persists events with a single sync and returns the sequence
// number of the last one.
func (j *Journal) AppendBatch(events []model.Event) (uint64, error) {
	if len(events) == 0 {
		return 0, errors.New("journal: empty batch")
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return 0, errors.New("journal: closed")
	}

	var buf bytes.Buffer
	seq := j.nextSeq
	for _, ev := range events {
		line, err := json.Marshal(entry{Seq: seq, Event: toRecord(ev)})
		if err != nil {
			return 0, fmt.Errorf("journal: marshal entry: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
		seq++
	}

	if _, err := j.file.Write(buf.Bytes()); err != nil {
		return 0, fmt.Errorf("journal: write entry: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return 0, fmt.Errorf("journal: sync entry: %w", err)
	}
	j.nextSeq = seq
	return seq - 1, nil
}

// Commit marks all entries up to seq as committed.
func (j *Journal) Commit(seq uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if seq <= j.committed {
		return nil
	}
	if err := writeCommitted(j.commitPath, seq); err != nil {
		return err
	}
	j.committed = seq
	return nil
}

// Committed returns the highest committed sequence number.
func (j *Journal) Committed() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.committed
}

// Replay calls fn for each uncommitted entry in sequence order.
func (j *Journal) Replay(fn func(seq uint64, ev model.Event) error) error {
	if fn == nil {
		return errors.New("journal: replay callback is nil")
	}

	j.mu.Lock()
	path := j.path
	committed := j.committed
	j.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("journal: open for replay: %w", err)
	}
	defer f.Close()

	var cbErr error
	err = scanEntries(f, func(_ []byte, e entry) bool {
		if e.Seq <= committed {
			return true
		}
		if cbErr = fn(e.Seq, e.Event.event()); cbErr != nil {
			return false
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("journal: replay read: %w", err)
	}
	return cbErr
}

// Close closes the underlying journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// scanEntries calls fn for every complete, well-formed entry until fn returns
// false. It stops silently at a partial trailing line or the first malformed
// line so recovery stays deterministic after a torn write.
func scanEntries(r io.Reader, fn func(line []byte, e entry) bool) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if len(line) == 0 || line[len(line)-1] != '\n' {
			return nil
		}
		var e entry
		if json.Unmarshal(line, &e) != nil {
			return nil
		}
		if !fn(line, e) {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}

func readCommitted(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("journal: read commit file: %w", err)
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("journal: parse commit seq: %w", err)
	}
	return seq, nil
}

// writeFileSynced writes data to tmp, syncs it and renames it over path.
func writeFileSynced(path, tmp string, write func(*os.File) error) error {
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_RDWR, defaultFileMode)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func writeCommitted(path string, seq uint64) error {
	payload := []byte(strconv.FormatUint(seq, 10) + "\n")
	err := writeFileSynced(path, path+".tmp", func(f *os.File) error {
		_, err := f.Write(payload)
		return err
	})
	if err != nil {
		return fmt.Errorf("journal: write commit file: %w", err)
	}
	return nil
}

// compactCommitted rewrites the journal keeping only uncommitted entries and
// returns the highest sequence number seen.
func compactCommitted(path string, committed uint64) (uint64, error) {
	src, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, defaultFileMode)
	if err != nil {
		return 0, fmt.Errorf("journal: open source for compact: %w", err)
	}
	defer src.Close()

	var maxSeq uint64
	err = writeFileSynced(path, path+".compact", func(dst *os.File) error {
		var werr error
		serr := scanEntries(src, func(line []byte, e entry) bool {
			maxSeq = max(maxSeq, e.Seq)
			if e.Seq > committed {
				if _, werr = dst.Write(line); werr != nil {
					return false
				}
			}
			return true
		})
		if serr != nil {
			return serr
		}
		return werr
	})
	if err != nil {
		return 0, fmt.Errorf("journal: compact: %w", err)
	}
	return maxSeq, nil
}
