// Package tcpserver accepts newline-delimited log lines over TCP.
package tcpserver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/networkbuster/compositor/internal/model"
)

const (
	// DefaultAddr is used when no listen address is configured.
	DefaultAddr = "127.0.0.1:4000"
	// DefaultLineChannelSize bounds the received-line channel.
	DefaultLineChannelSize = 100_000
	// DefaultMaxLineSize is the longest accepted line in bytes.
	DefaultMaxLineSize = 1 << 20
	// DefaultSourceName tags lines received by the server.
	DefaultSourceName = "tcp"
)

// ServerConfig holds tunable parameters for the TCP server.
type ServerConfig struct {
	LineChannelSize int
	MaxLineSize     int
	SourceName      string
}

// Stats counts server activity since Start.
type Stats struct {
	Connections int64 `json:"connections"`
	Open        int64 `json:"open"`
	Lines       int64 `json:"lines"`
	Oversized   int64 `json:"oversized"`
}

// Server listens for newline-delimited lines and publishes them as
// source-tagged envelopes on Lines.
type Server struct {
	addr        string
	sourceName  string
	maxLineSize int
	lineChan    chan model.IngestEnvelope

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	connections atomic.Int64
	open        atomic.Int64
	lines       atomic.Int64
	oversized   atomic.Int64
}

// NewServer creates a server bound to addr, or DefaultAddr when empty.
func NewServer(addr string, conf ...ServerConfig) *Server {
	cfg := ServerConfig{
		LineChannelSize: DefaultLineChannelSize,
		MaxLineSize:     DefaultMaxLineSize,
		SourceName:      DefaultSourceName,
	}
	if len(conf) > 0 {
		if conf[0].LineChannelSize > 0 {
			cfg.LineChannelSize = conf[0].LineChannelSize
		}
		if conf[0].MaxLineSize > 0 {
			cfg.MaxLineSize = conf[0].MaxLineSize
		}
		if conf[0].SourceName != "" {
			cfg.SourceName = conf[0].SourceName
		}
	}
	if addr == "" {
		addr = DefaultAddr
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:        addr,
		sourceName:  cfg.SourceName,
		maxLineSize: cfg.MaxLineSize,
		lineChan:    make(chan model.IngestEnvelope, cfg.LineChannelSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start binds the listener and begins accepting connections.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("tcpserver: listen %s: %w", s.addr, err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.accept()
	return nil
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("tcpserver: accept: %v", err)
			continue
		}
		s.connections.Add(1)
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	s.open.Add(1)
	defer s.open.Add(-1)
	defer conn.Close()

	stop := context.AfterFunc(s.ctx, func() { _ = conn.Close() })
	defer stop()

	r := bufio.NewReaderSize(conn, 64*1024)
	for {
		line, err := s.readLine(r)
		if line != "" {
			s.lines.Add(1)
			select {
			case s.lineChan <- model.IngestEnvelope{Source: s.sourceName, Line: line}:
			case <-s.ctx.Done():
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && s.ctx.Err() == nil {
				log.Printf("tcpserver: read from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}
	}
}

// readLine returns the next line without its terminator. Lines longer than
// maxLineSize are discarded up to the next newline and reported as empty.
func (s *Server) readLine(r *bufio.Reader) (string, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > s.maxLineSize+2 {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if tooLong {
			s.oversized.Add(1)
			log.Printf("tcpserver: discarded line over %d bytes from %s", s.maxLineSize, s.sourceName)
			return "", err
		}
		buf = bytes.TrimRight(buf, "\r\n")
		return string(buf), err
	}
}

// Stop closes the listener and every open connection, then closes Lines.
// It is safe to call more than once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.cancel()
		if s.listener != nil {
			s.listener.Close()
		}
		s.wg.Wait()
		close(s.lineChan)
	})
	return nil
}

// Lines returns the channel of received lines.
func (s *Server) Lines() <-chan model.IngestEnvelope {
	return s.lineChan
}

// SourceName returns the tag attached to received lines.
func (s *Server) SourceName() string { return s.sourceName }

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() Stats {
	return Stats{
		Connections: s.connections.Load(),
		Open:        s.open.Load(),
		Lines:       s.lines.Load(),
		Oversized:   s.oversized.Load(),
	}
}

// Addr returns the bound address after Start and the configured one before.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
