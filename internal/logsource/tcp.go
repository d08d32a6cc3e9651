package logsource

import (
	"log"

	"github.com/networkbuster/compositor/internal/model"
	"github.com/networkbuster/compositor/internal/tcpserver"
)

// TCPSource exposes a started tcpserver.Server as a LogSource. Its name is
// the server's source tag.
type TCPSource struct {
	server *tcpserver.Server
}

// NewTCPSource wraps server, which must already be started.
func NewTCPSource(server *tcpserver.Server) *TCPSource {
	return &TCPSource{server: server}
}

func (t *TCPSource) Lines() <-chan model.IngestEnvelope { return t.server.Lines() }

// Stop closes the listener and open connections, then Lines.
func (t *TCPSource) Stop() {
	if err := t.server.Stop(); err != nil {
		log.Printf("logsource: stop tcp server: %v", err)
	}
}

func (t *TCPSource) Name() string { return t.server.SourceName() }

// Addr returns the address the server listens on.
func (t *TCPSource) Addr() string { return t.server.Addr() }
