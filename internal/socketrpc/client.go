package socketrpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/networkbuster/compositor/internal/model"
)

const (
	// DefaultDialTimeout bounds connecting to the socket.
	DefaultDialTimeout = 5 * time.Second
	// DefaultCallTimeout bounds one request/response exchange.
	DefaultCallTimeout = 30 * time.Second
)

// ErrClientClosed is returned by calls made after Close.
var ErrClientClosed = errors.New("socketrpc: client closed")

// Client is a read-only view of a remote compositor. Calls are serialized
// over one connection and each response must echo its request id.
type Client struct {
	callTimeout time.Duration

	mu     sync.Mutex
	conn   net.Conn
	enc    *json.Encoder
	dec    *json.Decoder
	lastID int
	closed bool
}

// Dial connects to the server listening on socketPath.
func Dial(socketPath string) (*Client, error) {
	return DialTimeout(socketPath, DefaultDialTimeout, DefaultCallTimeout)
}

// DialTimeout is Dial with explicit connect and per-call timeouts.
func DialTimeout(socketPath string, dial, call time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, dial)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial %s: %w", socketPath, err)
	}
	return &Client{
		callTimeout: call,
		conn:        conn,
		enc:         json.NewEncoder(conn),
		dec:         json.NewDecoder(conn),
	}, nil
}

// Close closes the connection. Later calls return ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func (c *Client) call(method string, params, dest any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("socketrpc: %s: encode params: %w", method, err)
	}
	c.lastID++
	req := Request{JSONRPC: "2.0", ID: c.lastID, Method: method, Params: raw}

	if c.callTimeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.callTimeout))
		defer c.conn.SetDeadline(time.Time{})
	}
	if err := c.enc.Encode(req); err != nil {
		return fmt.Errorf("socketrpc: %s: send: %w", method, err)
	}

	var resp Response
	if err := c.dec.Decode(&resp); err != nil {
		return fmt.Errorf("socketrpc: %s: read: %w", method, err)
	}
	if resp.ID != req.ID {
		return fmt.Errorf("socketrpc: %s: response id %d, want %d", method, resp.ID, req.ID)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, dest); err != nil {
		return fmt.Errorf("socketrpc: %s: decode result: %w", method, err)
	}
	return nil
}

// Snapshot returns counts, the rate and up to recent latest events.
func (c *Client) Snapshot(recent int) (model.Snapshot, error) {
	var snap model.Snapshot
	err := c.call(MethodSnapshot, snapshotParams{Recent: recent}, &snap)
	return snap, err
}

// Stats returns the compositor summary.
func (c *Client) Stats() (model.Stats, error) {
	var stats model.Stats
	err := c.call(MethodStats, nil, &stats)
	return stats, err
}

// RecentEvents returns up to count events, optionally filtered by source
// and type.
func (c *Client) RecentEvents(count int, source, kind string) ([]model.Event, error) {
	var events []model.Event
	err := c.call(MethodRecentEvents, recentParams{Count: count, Source: source, Type: kind}, &events)
	return events, err
}

// TypeDistribution returns each event type's share of all events, in percent.
func (c *Client) TypeDistribution() (map[string]float64, error) {
	var dist map[string]float64
	err := c.call(MethodTypeDistribution, nil, &dist)
	return dist, err
}

// Sources returns the registered source adapters.
func (c *Client) Sources() ([]model.SourceSummary, error) {
	var sources []model.SourceSummary
	err := c.call(MethodSources, nil, &sources)
	return sources, err
}
