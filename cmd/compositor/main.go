package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/networkbuster/compositor/internal/compositor"
	"github.com/networkbuster/compositor/internal/ingest"
	"github.com/networkbuster/compositor/internal/socketrpc"
	"github.com/networkbuster/compositor/internal/tailer"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/compositor/config.yml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("NetworkBuster Compositor\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := runServer(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	dataDir := filepath.Join(home, ".local", "share", "compositor")

	v := viper.New()
	v.SetEnvPrefix("COMPOSITOR")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("max-events", defaultMaxEvents)
	v.SetDefault("window", defaultWindow)
	v.SetDefault("prune-interval", defaultPruneInterval)
	v.SetDefault("poll-interval", defaultPollInterval)
	v.SetDefault("tail-buffer", defaultTailBuffer)
	v.SetDefault("tail-mode", string(tailer.ModeAuto))
	v.SetDefault("watch", []string{})
	v.SetDefault("scan-lines", defaultScanLines)
	v.SetDefault("levels-file", "")
	v.SetDefault("processor", ingest.ProcessorModeParse)
	v.SetDefault("host", defaultBindHost)
	v.SetDefault("tcp-enabled", true)
	v.SetDefault("tcp-port", defaultTCPPort)
	v.SetDefault("mux-buffer-size", defaultMuxBufferSize)
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("db-path", filepath.Join(dataDir, "events.duckdb"))
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("insert-batch-size", defaultInsertBatchSize)
	v.SetDefault("insert-flush-interval", defaultInsertFlushInterval)
	v.SetDefault("insert-flush-queue-size", defaultInsertFlushQueue)
	v.SetDefault("journal-enabled", true)
	v.SetDefault("journal-path", filepath.Join(dataDir, "events.journal"))
	v.SetDefault("event-retention", defaultEventRetention)
	v.SetDefault("export-enabled", false)
	v.SetDefault("export-interval", defaultExportInterval)
	v.SetDefault("export-dir", filepath.Join(dataDir, "exports"))
	v.SetDefault("export-format", defaultExportFormat)
	v.SetDefault("export-keep-last", defaultExportKeepLast)
	v.SetDefault("export-snapshot-db", false)
	v.SetDefault("nats-url", "")
	v.SetDefault("nats-subject", defaultNATSSubject)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "compositor", "config.yml"))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		cfg.ConfigPath = ""
	}

	if err := validateConfig(&cfg); err != nil {
		return cfg, err
	}

	cfg.DBPath = expandHome(home, cfg.DBPath)
	cfg.JournalPath = expandHome(home, cfg.JournalPath)
	cfg.ExportDir = expandHome(home, cfg.ExportDir)
	cfg.LevelsFile = expandHome(home, cfg.LevelsFile)
	cfg.SocketPath = expandHome(home, cfg.SocketPath)
	for i, p := range cfg.Watch {
		cfg.Watch[i] = expandHome(home, p)
	}

	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = defaultBindHost
	}
	cfg.Host = host
	if cfg.TCPAddr == "" {
		cfg.TCPAddr = net.JoinHostPort(host, strconv.Itoa(cfg.TCPPort))
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(host, strconv.Itoa(cfg.APIPort))
	}

	return cfg, nil
}

func validateConfig(cfg *appConfig) error {
	if cfg.TCPPort <= 0 || cfg.TCPPort > 65535 {
		return fmt.Errorf("invalid tcp-port: %d", cfg.TCPPort)
	}
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	if cfg.MaxEvents <= 0 {
		return fmt.Errorf("invalid max-events: %d", cfg.MaxEvents)
	}
	if cfg.Window <= 0 {
		return fmt.Errorf("invalid window: %s", cfg.Window)
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("invalid poll-interval: %s", cfg.PollInterval)
	}
	if cfg.ScanLines < 0 {
		return fmt.Errorf("invalid scan-lines: %d", cfg.ScanLines)
	}
	if cfg.EventRetention < 0 {
		return fmt.Errorf("invalid event-retention: %d", cfg.EventRetention)
	}
	if _, err := tailer.ParseMode(cfg.TailMode); err != nil {
		return fmt.Errorf("invalid tail-mode: %q", cfg.TailMode)
	}
	switch cfg.Processor {
	case "", ingest.ProcessorModeParse, ingest.ProcessorModePassthrough:
	default:
		return fmt.Errorf("invalid processor: %q", cfg.Processor)
	}
	if cfg.ExportEnabled {
		if cfg.ExportInterval <= 0 {
			return fmt.Errorf("invalid export-interval: %s", cfg.ExportInterval)
		}
		if cfg.ExportKeepLast < 0 {
			return fmt.Errorf("invalid export-keep-last: %d", cfg.ExportKeepLast)
		}
		if !compositor.ValidFormat(cfg.ExportFormat) {
			return fmt.Errorf("invalid export-format: %q", cfg.ExportFormat)
		}
		if cfg.ExportSnapshotDB && cfg.DBPath == "" {
			return errors.New("export-snapshot-db requires db-path")
		}
	}
	return nil
}

func expandHome(home, path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
