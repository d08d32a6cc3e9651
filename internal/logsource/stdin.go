package logsource

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/networkbuster/compositor/internal/model"
)

const (
	// DefaultStdinBuffer is the default channel buffer size for stdin lines.
	DefaultStdinBuffer = 50_000

	// DefaultStdinMaxLineSize is the default maximum size (in bytes) of a single stdin line.
	DefaultStdinMaxLineSize = 1024 * 1024 // 1MB

	stdinName = "stdin"
)

// StdinConfig holds tunable parameters for the stdin source.
type StdinConfig struct {
	BufferSize  int
	MaxLineSize int
}

// StdinSource reads newline-delimited lines from stdin. Lines closes on EOF,
// on a read error or on Stop, whichever comes first.
type StdinSource struct {
	ch     chan model.IngestEnvelope
	ctx    context.Context
	cancel context.CancelFunc

	// sendMu orders sends against the close in Stop.
	sendMu sync.Mutex
	closed bool

	read atomic.Int64
}

// NewStdinSource starts reading os.Stdin in the background.
func NewStdinSource(ctx context.Context, conf ...StdinConfig) *StdinSource {
	return newStdinSourceWithReader(ctx, os.Stdin, conf...)
}

func newStdinSourceWithReader(ctx context.Context, r io.Reader, conf ...StdinConfig) *StdinSource {
	cfg := StdinConfig{BufferSize: DefaultStdinBuffer, MaxLineSize: DefaultStdinMaxLineSize}
	if len(conf) > 0 {
		if conf[0].BufferSize > 0 {
			cfg.BufferSize = conf[0].BufferSize
		}
		if conf[0].MaxLineSize > 0 {
			cfg.MaxLineSize = conf[0].MaxLineSize
		}
	}

	s := &StdinSource{ch: make(chan model.IngestEnvelope, cfg.BufferSize)}
	s.ctx, s.cancel = context.WithCancel(ctx)

	go s.scan(r, cfg.MaxLineSize)
	go func() {
		<-s.ctx.Done()
		s.closeLines()
	}()
	return s
}

// scan may stay blocked in Read after Stop; its later sends are discarded.
func (s *StdinSource) scan(r io.Reader, maxLineSize int) {
	defer s.cancel()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if !s.send(line) {
			return
		}
	}

	switch err := scanner.Err(); {
	case err == nil:
	case errors.Is(err, bufio.ErrTooLong):
		log.Printf("logsource: stdin line longer than %d bytes, stopping stdin input", maxLineSize)
	default:
		log.Printf("logsource: stdin read: %v", err)
	}
}

func (s *StdinSource) send(line string) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- model.IngestEnvelope{Source: stdinName, Line: line}:
		s.read.Add(1)
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *StdinSource) closeLines() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *StdinSource) Lines() <-chan model.IngestEnvelope { return s.ch }

// Stop ends the source and closes Lines. It is safe to call more than once.
func (s *StdinSource) Stop() {
	s.cancel()
	s.closeLines()
}

func (s *StdinSource) Name() string { return stdinName }

// LinesRead returns how many lines were delivered on Lines.
func (s *StdinSource) LinesRead() int64 { return s.read.Load() }
