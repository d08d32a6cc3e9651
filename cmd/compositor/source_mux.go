package main

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/networkbuster/compositor/internal/model"
)

// DefaultMuxBuffer is the default channel buffer size for the source multiplexer.
const DefaultMuxBuffer = 50_000

// SourceMultiplexer merges the raw line inputs into one stream for the
// envelope processor. The output closes once every input has closed.
type SourceMultiplexer struct {
	ctx    context.Context
	cancel context.CancelFunc

	sources []NamedLogSource
	lines   chan model.IngestEnvelope
	merged  atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewSourceMultiplexer(parent context.Context, sources []NamedLogSource, buffer int) *SourceMultiplexer {
	if buffer <= 0 {
		buffer = DefaultMuxBuffer
	}
	ctx, cancel := context.WithCancel(parent)
	return &SourceMultiplexer{
		ctx:     ctx,
		cancel:  cancel,
		sources: sources,
		lines:   make(chan model.IngestEnvelope, buffer),
	}
}

func (m *SourceMultiplexer) Start() {
	m.startOnce.Do(func() {
		if len(m.sources) == 0 {
			m.closeOutput()
			return
		}
		for _, src := range m.sources {
			m.wg.Add(1)
			go m.forward(src)
		}
		go func() {
			m.wg.Wait()
			m.closeOutput()
		}()
	})
}

// Stop stops every input and waits for the forwarders to exit.
func (m *SourceMultiplexer) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		for _, src := range m.sources {
			src.Stop()
		}
		m.wg.Wait()
		m.closeOutput()
	})
}

func (m *SourceMultiplexer) HasSources() bool { return len(m.sources) > 0 }

// SourceNames lists the inputs in start order.
func (m *SourceMultiplexer) SourceNames() []string {
	names := make([]string, 0, len(m.sources))
	for _, src := range m.sources {
		names = append(names, src.Name())
	}
	return names
}

func (m *SourceMultiplexer) Lines() <-chan model.IngestEnvelope { return m.lines }

// Merged returns how many lines were handed to the output channel.
func (m *SourceMultiplexer) Merged() int64 { return m.merged.Load() }

func (m *SourceMultiplexer) forward(src NamedLogSource) {
	defer m.wg.Done()

	in := src.Lines()
	for {
		select {
		case <-m.ctx.Done():
			return
		case env, ok := <-in:
			if !ok {
				return
			}
			if env.Line == "" {
				continue
			}
			if env.Source == "" {
				env.Source = src.Name()
			}
			select {
			case m.lines <- env:
				m.merged.Add(1)
			case <-m.ctx.Done():
				return
			}
		}
	}
}

func (m *SourceMultiplexer) closeOutput() {
	m.closeOnce.Do(func() { close(m.lines) })
}
