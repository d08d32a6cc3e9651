package main

import (
	"time"

	"github.com/networkbuster/compositor/internal/autoexport"
	"github.com/networkbuster/compositor/internal/duckdb"
	"github.com/networkbuster/compositor/internal/forward"
	"github.com/networkbuster/compositor/internal/model"
)

const (
	defaultMaxEvents           = model.DefaultMaxEvents
	defaultWindow              = model.DefaultWindow
	defaultPruneInterval       = model.DefaultPruneInterval
	defaultPollInterval        = model.DefaultPollInterval
	defaultTailBuffer          = model.DefaultTailBuffer
	defaultScanLines           = model.DefaultScanLines
	defaultBindHost            = "127.0.0.1"
	defaultTCPPort             = 4000
	defaultAPIPort             = 3000
	defaultMuxBufferSize       = DefaultMuxBuffer
	defaultQueryTimeout        = duckdb.DefaultQueryTimeout
	defaultInsertBatchSize     = duckdb.DefaultBatchSize
	defaultInsertFlushInterval = duckdb.DefaultFlushInterval
	defaultInsertFlushQueue    = duckdb.DefaultFlushQueueSize
	defaultEventRetention      = 30 // days, 0 = disabled
	defaultExportInterval      = autoexport.DefaultInterval
	defaultExportKeepLast      = autoexport.DefaultKeepLast
	defaultExportFormat        = "json"
	defaultNATSSubject         = forward.DefaultSubject
)

// appConfig is the service's runtime configuration, read once at startup.
type appConfig struct {
	MaxEvents     int           `mapstructure:"max-events"`
	Window        time.Duration `mapstructure:"window"`
	PruneInterval time.Duration `mapstructure:"prune-interval"`

	PollInterval time.Duration `mapstructure:"poll-interval"`
	TailBuffer   int           `mapstructure:"tail-buffer"`
	TailMode     string        `mapstructure:"tail-mode"`
	Watch        []string      `mapstructure:"watch"`
	ScanLines    int           `mapstructure:"scan-lines"`
	LevelsFile   string        `mapstructure:"levels-file"`

	Processor     string `mapstructure:"processor"`
	Host          string `mapstructure:"host"`
	TCPEnabled    bool   `mapstructure:"tcp-enabled"`
	TCPPort       int    `mapstructure:"tcp-port"`
	TCPAddr       string `mapstructure:"tcp-addr"`
	MuxBufferSize int    `mapstructure:"mux-buffer-size"`

	// The API is unauthenticated and can add tail paths, so api-addr
	// should stay on loopback unless the network is trusted.
	APIEnabled bool   `mapstructure:"api-enabled"`
	APIPort    int    `mapstructure:"api-port"`
	APIAddr    string `mapstructure:"api-addr"`
	SocketPath string `mapstructure:"socket-path"`

	DBPath              string        `mapstructure:"db-path"`
	QueryTimeout        time.Duration `mapstructure:"query-timeout"`
	InsertBatchSize     int           `mapstructure:"insert-batch-size"`
	InsertFlushInterval time.Duration `mapstructure:"insert-flush-interval"`
	InsertFlushQueue    int           `mapstructure:"insert-flush-queue-size"`
	JournalEnabled      bool          `mapstructure:"journal-enabled"`
	JournalPath         string        `mapstructure:"journal-path"`
	EventRetention      int           `mapstructure:"event-retention"`

	ExportEnabled    bool          `mapstructure:"export-enabled"`
	ExportInterval   time.Duration `mapstructure:"export-interval"`
	ExportDir        string        `mapstructure:"export-dir"`
	ExportFormat     string        `mapstructure:"export-format"`
	ExportKeepLast   int           `mapstructure:"export-keep-last"`
	ExportSnapshotDB bool          `mapstructure:"export-snapshot-db"`

	NATSURL     string `mapstructure:"nats-url"`
	NATSSubject string `mapstructure:"nats-subject"`

	ConfigPath string `mapstructure:"-"` // not from config file
}
