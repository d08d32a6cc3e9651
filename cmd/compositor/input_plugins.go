package main

import (
	"context"
	"fmt"
	"os"

	"github.com/networkbuster/compositor/internal/logsource"
	"github.com/networkbuster/compositor/internal/tcpserver"
)

// NamedLogSource aliases the shared line-input abstraction.
type NamedLogSource = logsource.LogSource

// InputSourcePlugin builds one raw line input for the source multiplexer.
type InputSourcePlugin interface {
	Name() string
	Enabled() bool
	Build(ctx context.Context) (NamedLogSource, error)
}

// InputPluginConfig selects which line inputs run.
type InputPluginConfig struct {
	TCPEnabled bool
	TCPAddr    string
	BufferSize int
}

func buildInputPlugins(cfg InputPluginConfig) []InputSourcePlugin {
	return []InputSourcePlugin{
		tcpInputPlugin{addr: cfg.TCPAddr, enabled: cfg.TCPEnabled},
		stdinInputPlugin{bufferSize: cfg.BufferSize},
	}
}

// buildSources starts every enabled plugin. A plugin that fails to start is
// logged and skipped.
func buildSources(ctx context.Context, plugins []InputSourcePlugin, logf func(string, ...any)) []NamedLogSource {
	sources := make([]NamedLogSource, 0, len(plugins))
	for _, plugin := range plugins {
		if !plugin.Enabled() {
			continue
		}
		src, err := plugin.Build(ctx)
		if err != nil {
			logf("input: %s: %v", plugin.Name(), err)
			continue
		}
		sources = append(sources, src)
	}
	return sources
}

type tcpInputPlugin struct {
	addr    string
	enabled bool
}

func (p tcpInputPlugin) Name() string { return "tcp" }

func (p tcpInputPlugin) Enabled() bool { return p.enabled }

func (p tcpInputPlugin) Build(_ context.Context) (NamedLogSource, error) {
	server := tcpserver.NewServer(p.addr)
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("start tcp server: %w", err)
	}
	return logsource.NewTCPSource(server), nil
}

type stdinInputPlugin struct {
	bufferSize int
}

func (p stdinInputPlugin) Name() string { return "stdin" }

// Enabled is true only when stdin is piped.
func (p stdinInputPlugin) Enabled() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

func (p stdinInputPlugin) Build(ctx context.Context) (NamedLogSource, error) {
	return logsource.NewStdinSource(ctx, logsource.StdinConfig{BufferSize: p.bufferSize}), nil
}
