package socketrpc

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// JSON-RPC 2.0 Method Reference
//
// The socket RPC server exposes model.EventReader over a Unix domain socket.
//
//   Method             Params                                   Result
//   ────────────────   ──────────────────────────────────────   ─────────────────────
//   Snapshot           {Recent: int}                            model.Snapshot
//   Stats              (none)                                   model.Stats
//   RecentEvents       {Count: int, Source: string, Type: str}  []model.Event
//   TypeDistribution   (none)                                   map[string]float64
//   Sources            (none)                                   []model.SourceSummary
//
// Params may be empty or null; missing fields take their zero value.
//
// Error codes follow JSON-RPC 2.0:
//   -32700  Parse error (malformed JSON)
//   -32601  Method not found
//   -32602  Invalid params
//   -32603  Internal error (marshal failure)

// Method names.
const (
	MethodSnapshot         = "Snapshot"
	MethodStats            = "Stats"
	MethodRecentEvents     = "RecentEvents"
	MethodTypeDistribution = "TypeDistribution"
	MethodSources          = "Sources"
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

type snapshotParams struct {
	Recent int
}

type recentParams struct {
	Count  int
	Source string
	Type   string
}

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/networkbuster/compositor.sock, falling back to
// ~/.local/state/networkbuster/compositor.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "networkbuster", "compositor.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "networkbuster-compositor.sock")
	}
	return filepath.Join(home, ".local", "state", "networkbuster", "compositor.sock")
}
