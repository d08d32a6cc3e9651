package tailer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/networkbuster/compositor/internal/model"
	"github.com/networkbuster/compositor/internal/ringbuf"
)

type numberedLine struct {
	number int
	text   string
}

// ScanExistingLogs ingests up to maxLines lines from the end of each log file
// at path without waiting for a change. A directory contributes at most the
// configured number of files. Scanned files are marked as read so later
// changes only report new lines. It returns how many entries were recorded.
func (t *Tailer) ScanExistingLogs(path string, maxLines int) (int, error) {
	p, err := normalizePath(path)
	if err != nil {
		return 0, fmt.Errorf("tailer: resolve %s: %w", path, err)
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrPathNotFound, path)
		}
		return 0, fmt.Errorf("tailer: stat %s: %w", path, err)
	}
	if maxLines <= 0 {
		maxLines = model.DefaultScanLines
	}

	files := listLogFiles(p)
	if len(files) > t.maxScanFiles {
		files = files[:t.maxScanFiles]
	}

	recorded := 0
	for _, f := range files {
		t.readMu.Lock()
		entries, err := t.readTail(f, maxLines)
		t.readMu.Unlock()
		if err != nil {
			log.Printf("tailer: scan %s: %v", f, err)
			continue
		}
		for _, e := range entries {
			t.record(e)
		}
		recorded += len(entries)
	}
	return recorded, nil
}

// readTail must be called with readMu held.
func (t *Tailer) readTail(path string, maxLines int) ([]model.LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tail := ringbuf.New[numberedLine](maxLines)
	st := &fileState{}
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if err == io.EOF {
			// An unterminated last line stays unread until its writer
			// finishes it.
			break
		}
		if err != nil {
			return nil, err
		}
		st.offset += int64(len(line))
		st.lines++
		tail.Push(numberedLine{number: st.lines, text: line})
	}
	t.files[path] = st

	var entries []model.LogEntry
	for _, l := range tail.Last(-1) {
		if e, ok := t.makeEntry(path, l.number, l.text); ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}
