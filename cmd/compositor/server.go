package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/networkbuster/compositor/internal/autoexport"
	"github.com/networkbuster/compositor/internal/compositor"
	"github.com/networkbuster/compositor/internal/duckdb"
	"github.com/networkbuster/compositor/internal/forward"
	"github.com/networkbuster/compositor/internal/httpserver"
	"github.com/networkbuster/compositor/internal/ingest"
	"github.com/networkbuster/compositor/internal/journal"
	"github.com/networkbuster/compositor/internal/logparse"
	"github.com/networkbuster/compositor/internal/model"
	"github.com/networkbuster/compositor/internal/socketrpc"
	"github.com/networkbuster/compositor/internal/tailer"
)

// shutdownGrace bounds a graceful stop after the first signal.
const shutdownGrace = 10 * time.Second

// runServer wires the pipeline and blocks until a signal arrives or every
// line input has closed.
func runServer(cfg appConfig) error {
	cleanupLogger := configureRuntimeLogger()
	defer cleanupLogger()

	classifier, err := buildClassifier(cfg.LevelsFile)
	if err != nil {
		return err
	}

	comp := compositor.New(compositor.Config{
		MaxEvents:     cfg.MaxEvents,
		Window:        cfg.Window,
		PruneInterval: cfg.PruneInterval,
	})
	comp.Start()
	defer comp.Stop()

	// Optional history store. Subscribers are attached before any producer
	// starts so the startup event and scanned lines are persisted too.
	var store *duckdb.Store
	if cfg.DBPath != "" {
		store, err = duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
		if err != nil {
			return fmt.Errorf("failed to initialize DuckDB: %w", err)
		}
		defer store.Close()

		var eventJournal *journal.Journal
		if cfg.JournalEnabled {
			eventJournal, err = journal.Open(cfg.JournalPath)
			if err != nil {
				return fmt.Errorf("failed to open event journal: %w", err)
			}
			defer eventJournal.Close()
		}

		insertBuffer := duckdb.NewInsertBuffer(store, duckdb.InsertBufferConfig{
			BatchSize:      cfg.InsertBatchSize,
			FlushInterval:  cfg.InsertFlushInterval,
			FlushQueueSize: cfg.InsertFlushQueue,
			Journal:        eventJournal,
		})
		defer insertBuffer.Stop()

		if eventJournal != nil {
			n, err := insertBuffer.ReplayJournal(eventJournal)
			if err != nil {
				return fmt.Errorf("failed to replay event journal: %w", err)
			}
			if n > 0 {
				log.Printf("journal: replaying %d uncommitted events", n)
			}
		}
		comp.AddCallback(insertBuffer.Callback)

		retentionCleaner := duckdb.NewRetentionCleaner(store, duckdb.RetentionConfig{
			RetentionDays: cfg.EventRetention,
		})
		if retentionCleaner != nil {
			defer retentionCleaner.Stop()
		}
	}

	natsStatus := ""
	if cfg.NATSURL != "" {
		conn, err := forward.Connect(cfg.NATSURL)
		if err != nil {
			log.Printf("forward: connect %s: %v", cfg.NATSURL, err)
			natsStatus = "unavailable"
		} else {
			defer conn.Close()
			fwd := forward.New(conn, forward.Config{Subject: cfg.NATSSubject})
			defer fwd.Stop()
			comp.AddCallback(fwd.Callback)
			natsStatus = fwd.Subject()
		}
	}

	comp.RegisterSource(model.SourceLogMonitor).Emit(model.KindStartup, map[string]any{
		"message": "NetworkBuster started",
		"version": version,
	})

	// File tailing.
	mode, _ := tailer.ParseMode(cfg.TailMode)
	tail := tailer.New(tailer.Config{
		MaxEntries:   cfg.TailBuffer,
		PollInterval: cfg.PollInterval,
		Mode:         mode,
		Classifier:   classifier,
	})
	tail.SetEntryCallback(ingest.NewEntryForwarder(comp).Forward)
	for _, path := range cfg.Watch {
		if err := tail.AddWatchPath(path); err != nil {
			log.Printf("tailer: watch %s: %v", path, err)
			continue
		}
		if cfg.ScanLines > 0 {
			if _, err := tail.ScanExistingLogs(path, cfg.ScanLines); err != nil {
				log.Printf("tailer: scan %s: %v", path, err)
			}
		}
	}
	if err := tail.Start(); err != nil {
		return fmt.Errorf("failed to start tailer: %w", err)
	}
	defer tail.Stop()

	var snap autoexport.Snapshotter
	if store != nil {
		snap = store
	}
	exportManager, err := autoexport.NewManager(comp, snap, autoexport.Config{
		Enabled:    cfg.ExportEnabled,
		Interval:   cfg.ExportInterval,
		Dir:        cfg.ExportDir,
		Format:     cfg.ExportFormat,
		KeepLast:   cfg.ExportKeepLast,
		SnapshotDB: cfg.ExportSnapshotDB,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize exports: %w", err)
	}
	if exportManager != nil {
		defer exportManager.Stop()
	}

	if cfg.APIEnabled {
		deps := httpserver.Deps{Compositor: comp, Tailer: tail, ExportDir: cfg.ExportDir}
		if store != nil {
			deps.History = store
		}
		apiServer := httpserver.NewServer(cfg.APIAddr, deps)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer apiServer.Stop()
	}

	sockServer := socketrpc.NewServer(cfg.SocketPath, comp)
	if err := sockServer.Start(); err != nil {
		log.Printf("socketrpc: failed to start: %v", err)
	} else {
		defer sockServer.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		deadline := time.NewTimer(shutdownGrace)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		cleanupSocket(cfg.SocketPath)
		os.Exit(1)
	}()

	sources := buildSources(ctx, buildInputPlugins(InputPluginConfig{
		TCPEnabled: cfg.TCPEnabled,
		TCPAddr:    cfg.TCPAddr,
		BufferSize: cfg.MuxBufferSize,
	}), log.Printf)

	mux := NewSourceMultiplexer(ctx, sources, cfg.MuxBufferSize)
	mux.Start()

	processor, err := ingest.NewEnvelopeProcessor(cfg.Processor, comp, classifier, "")
	if err != nil {
		mux.Stop()
		return err
	}

	printStartupBanner(cfg, bannerInfo{
		inputs:    mux.SourceNames(),
		processor: processor.Name(),
		watching:  len(tail.WatchedPaths()),
		nats:      natsStatus,
	})

	g, gctx := errgroup.WithContext(ctx)

	if mux.HasSources() {
		g.Go(func() error {
			for env := range mux.Lines() {
				processor.ProcessEnvelope(env)
			}
			log.Printf("server: line inputs closed after %d lines", mux.Merged())
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("server: errgroup exited with error: %v", err)
	}

	cancel()
	mux.Stop()
	return nil
}

func buildClassifier(levelsFile string) (*logparse.Classifier, error) {
	if levelsFile == "" {
		return logparse.NewClassifier(), nil
	}
	groups, err := logparse.LoadKeywordGroups(levelsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load levels file: %w", err)
	}
	return logparse.NewClassifier(groups...), nil
}

func cleanupSocket(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}

func configureRuntimeLogger() func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	home, err := os.UserHomeDir()
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logDir := filepath.Join(home, ".local", "state", "compositor")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	f, err := os.OpenFile(filepath.Join(logDir, "compositor.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	log.SetOutput(f)
	return func() {
		log.SetOutput(os.Stderr)
		_ = f.Close()
	}
}

type bannerInfo struct {
	inputs    []string
	processor string
	watching  int
	nats      string
}

func printStartupBanner(cfg appConfig, info bannerInfo) {
	fmt.Println(renderStartupBanner(cfg, info))
}

func renderStartupBanner(cfg appConfig, info bannerInfo) string {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	on := green.Render("●")
	off := dim.Render("●")
	row := func(enabled bool, label, value string) string {
		mark, text := off, dim.Render(value)
		if enabled {
			mark, text = on, cyan.Render(value)
		}
		return fmt.Sprintf("    %s  %-14s %s", mark, label, text)
	}
	status := func(enabled bool, value string) string {
		if enabled {
			return value
		}
		return "disabled"
	}

	separator := dim.Render("    ─────────────────────────────────")
	lines := []string{
		"",
		cyan.Bold(true).Render("    NetworkBuster Compositor"),
		"    " + dim.Render("v"+version),
		"",
		separator,
		"",
		bold.Render("    Inputs"),
		"",
		row(cfg.TCPEnabled, "TCP Ingest", status(cfg.TCPEnabled, cfg.TCPAddr)),
		row(slices.Contains(info.inputs, "stdin"), "Stdin", status(slices.Contains(info.inputs, "stdin"), "piped")),
		row(info.watching > 0, "Watched Paths", fmt.Sprintf("%d", info.watching)),
		row(true, "Processor", info.processor),
		"",
		bold.Render("    Outputs"),
		"",
		row(cfg.APIEnabled, "HTTP API", status(cfg.APIEnabled, cfg.APIAddr)),
		row(true, "Unix Socket", shortenPath(cfg.SocketPath)),
		row(cfg.DBPath != "", "History", status(cfg.DBPath != "", shortenPath(cfg.DBPath))),
		row(cfg.ExportEnabled, "Exports", status(cfg.ExportEnabled, shortenPath(cfg.ExportDir))),
		row(info.nats != "" && info.nats != "unavailable", "NATS", status(info.nats != "", info.nats)),
		"",
	}
	if cfg.ConfigPath != "" {
		lines = append(lines, row(true, "Config File", shortenPath(cfg.ConfigPath)))
	} else {
		lines = append(lines, row(false, "Config File", "default (no file)"))
	}
	lines = append(lines,
		"",
		separator,
		"",
		"    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"),
		"",
	)
	return strings.Join(lines, "\n")
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
