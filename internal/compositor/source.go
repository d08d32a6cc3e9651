package compositor

import (
	"sync"
	"sync/atomic"
)

// Source is a named channel through which one producer injects events.
// Emits on a single Source are recorded in call order.
type Source struct {
	name string
	comp *Compositor

	mu      sync.Mutex
	enabled atomic.Bool
	emitted atomic.Int64
}

func newSource(name string, comp *Compositor) *Source {
	s := &Source{name: name, comp: comp}
	s.enabled.Store(true)
	return s
}

// Name returns the source name.
func (s *Source) Name() string { return s.name }

// Emit forwards one event to the compositor. A disabled source drops it
// silently. Callbacks run after the source lock is released, so they may
// emit on the same source.
func (s *Source) Emit(kind string, data map[string]any) {
	s.mu.Lock()
	if !s.enabled.Load() {
		s.mu.Unlock()
		s.comp.metrics.dropped(s.name)
		return
	}
	s.emitted.Add(1)
	ev := s.comp.record(s.name, kind, data)
	s.mu.Unlock()

	s.comp.notify(ev)
}

func (s *Source) Enable()  { s.enabled.Store(true) }
func (s *Source) Disable() { s.enabled.Store(false) }

// Enabled reports whether Emit currently forwards events.
func (s *Source) Enabled() bool { return s.enabled.Load() }

// EmittedCount returns how many events this source has forwarded.
func (s *Source) EmittedCount() int64 { return s.emitted.Load() }
