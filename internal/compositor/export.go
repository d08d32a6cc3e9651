package compositor

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/networkbuster/compositor/internal/model"
)

// Export formats.
const (
	FormatJSON   = "json"
	FormatNDJSON = "ndjson"
)

// ErrUnknownFormat is returned for export formats other than json and ndjson.
var ErrUnknownFormat = errors.New("compositor: unknown export format")

// ExportRecord is the persisted shape of one event.
type ExportRecord struct {
	ID        string         `json:"id,omitempty"`
	Source    string         `json:"source"`
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

// NewExportRecord converts an event to its persisted shape.
func NewExportRecord(ev model.Event) ExportRecord {
	data := ev.Data
	if data == nil {
		data = map[string]any{}
	}
	return ExportRecord{
		ID:        ev.ID,
		Source:    ev.Source,
		EventType: ev.Kind,
		Data:      data,
		Timestamp: ev.Timestamp.Format(time.RFC3339Nano),
	}
}

// ValidFormat reports whether format is accepted by Export.
func ValidFormat(format string) bool {
	return format == FormatJSON || format == FormatNDJSON
}

// Export writes the currently buffered events (not the cumulative history) to
// path and returns how many were written. An empty format means json. The
// file is replaced atomically.
func (c *Compositor) Export(path, format string) (int, error) {
	if format == "" {
		format = FormatJSON
	}
	if !ValidFormat(format) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	c.mu.Lock()
	events := c.events.Last(-1)
	c.mu.Unlock()

	if err := writeFileAtomic(path, func(w io.Writer) error {
		return WriteEvents(w, events, format)
	}); err != nil {
		return 0, fmt.Errorf("compositor: export: %w", err)
	}
	return len(events), nil
}

// WriteEvents encodes events to w as a JSON array or newline-delimited JSON.
func WriteEvents(w io.Writer, events []model.Event, format string) error {
	records := make([]ExportRecord, 0, len(events))
	for _, ev := range events {
		records = append(records, NewExportRecord(ev))
	}

	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal events: %w", err)
		}
		data = append(data, '\n')
		_, err = w.Write(data)
		return err
	case FormatNDJSON:
		enc := json.NewEncoder(w)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return fmt.Errorf("encode event: %w", err)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func writeFileAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
