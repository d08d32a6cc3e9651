package socketrpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/networkbuster/compositor/internal/model"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// handler answers one method. params is the raw request params.
type handler func(r model.EventReader, params json.RawMessage) (any, *RPCError)

var handlers = map[string]handler{
	MethodSnapshot: func(r model.EventReader, params json.RawMessage) (any, *RPCError) {
		var p snapshotParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return r.Snapshot(p.Recent), nil
	},
	MethodStats: func(r model.EventReader, _ json.RawMessage) (any, *RPCError) {
		return r.Stats(), nil
	},
	MethodRecentEvents: func(r model.EventReader, params json.RawMessage) (any, *RPCError) {
		var p recentParams
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return r.RecentEvents(p.Count, p.Source, p.Type), nil
	},
	MethodTypeDistribution: func(r model.EventReader, _ json.RawMessage) (any, *RPCError) {
		return r.TypeDistribution(), nil
	},
	MethodSources: func(r model.EventReader, _ json.RawMessage) (any, *RPCError) {
		return r.SourcesSummary(), nil
	},
}

// decodeParams accepts absent or null params as the zero value.
func decodeParams(params json.RawMessage, dest any) *RPCError {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, dest); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}

// Server serves a model.EventReader to dashboard clients over a Unix socket.
// Each connection carries newline-delimited JSON-RPC 2.0 requests.
type Server struct {
	socketPath string
	reader     model.EventReader

	listener net.Listener
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// NewServer creates a server for reader. Call Start to listen.
func NewServer(socketPath string, reader model.EventReader) *Server {
	return &Server{
		socketPath: socketPath,
		reader:     reader,
		quit:       make(chan struct{}),
		conns:      make(map[net.Conn]struct{}),
	}
}

// Start listens on the socket path. A leftover socket file nobody answers
// on is replaced; a live one is an error.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("socketrpc: mkdir: %w", err)
	}
	if err := s.clearStaleSocket(); err != nil {
		return err
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("socketrpc: listen: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	log.Printf("socketrpc: listening on %s", s.socketPath)
	return nil
}

func (s *Server) clearStaleSocket() error {
	if _, err := os.Stat(s.socketPath); err != nil {
		return nil
	}
	conn, err := net.DialTimeout("unix", s.socketPath, 500*time.Millisecond)
	if err == nil {
		conn.Close()
		return fmt.Errorf("socketrpc: another server is already listening on %s", s.socketPath)
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("socketrpc: remove stale socket: %w", err)
	}
	return nil
}

// Stop closes the listener and every open connection, waits for handlers
// and removes the socket file. It is safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
		s.connMu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.connMu.Unlock()
		s.wg.Wait()
		os.Remove(s.socketPath)
	})
}

func (s *Server) stopping() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.stopping() {
				return
			}
			log.Printf("socketrpc: accept: %v", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// track registers conn and reports false when Stop already swept.
func (s *Server) track(conn net.Conn) bool {
	s.connMu.Lock()
	s.conns[conn] = struct{}{}
	s.connMu.Unlock()
	return !s.stopping()
}

func (s *Server) untrack(conn net.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
	conn.Close()
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	if !s.track(conn) {
		return
	}

	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for !s.stopping() {
		var req Request
		err := dec.Decode(&req)
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return
		}
		var resp Response
		if err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
				return
			}
			resp = Response{JSONRPC: "2.0", Error: &RPCError{Code: codeParseError, Message: "parse error"}}
			if syntaxErr != nil {
				// The decoder cannot resync after a syntax error.
				_ = enc.Encode(resp)
				return
			}
		} else {
			resp = s.dispatch(req)
		}
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	h, ok := handlers[req.Method]
	if !ok {
		resp.Error = &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
		return resp
	}
	result, rerr := h(s.reader, req.Params)
	if rerr != nil {
		resp.Error = rerr
		return resp
	}
	data, err := json.Marshal(result)
	if err != nil {
		resp.Error = &RPCError{Code: codeInternalError, Message: err.Error()}
		return resp
	}
	resp.Result = data
	return resp
}
