package compositor

import (
	"fmt"
	"log"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/networkbuster/compositor/internal/model"
	"github.com/networkbuster/compositor/internal/ringbuf"
)

// Config holds tunable parameters for the compositor.
type Config struct {
	MaxEvents     int
	Window        time.Duration
	PruneInterval time.Duration
	// Clock overrides time.Now, mainly for tests.
	Clock func() time.Time
}

// Callback receives a private copy of every accepted event. A returned error
// or a panic is logged and does not affect other callbacks.
type Callback func(model.Event) error

// CallbackID identifies a registered callback for removal.
type CallbackID uint64

type registeredCallback struct {
	id CallbackID
	fn Callback
}

// Compositor is the in-memory sink for all producers. It keeps a bounded
// buffer of recent events, cumulative counts by source and type, and a
// time-bounded window used for the events-per-second rate.
type Compositor struct {
	maxEvents     int
	window        time.Duration
	pruneInterval time.Duration
	now           func() time.Time

	// mu guards the buffers, counters and the source table.
	mu           sync.Mutex
	events       *ringbuf.Ring[model.Event]
	windowEvents []time.Time
	sourceCounts map[string]int64
	typeCounts   map[string]int64
	total        int64
	sources      map[string]*Source

	cbMu      sync.RWMutex
	callbacks []registeredCallback
	nextCB    CallbackID

	runMu   sync.Mutex
	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	metrics *Metrics

	failureCount   atomic.Int64
	lastFailureLog atomic.Int64
}

// New creates a compositor. Zero config fields fall back to the model defaults.
func New(conf ...Config) *Compositor {
	maxEvents := model.DefaultMaxEvents
	window := model.DefaultWindow
	pruneInterval := model.DefaultPruneInterval
	clock := time.Now
	if len(conf) > 0 {
		if conf[0].MaxEvents > 0 {
			maxEvents = conf[0].MaxEvents
		}
		if conf[0].Window > 0 {
			window = conf[0].Window
		}
		if conf[0].PruneInterval > 0 {
			pruneInterval = conf[0].PruneInterval
		}
		if conf[0].Clock != nil {
			clock = conf[0].Clock
		}
	}

	c := &Compositor{
		maxEvents:     maxEvents,
		window:        window,
		pruneInterval: pruneInterval,
		now:           clock,
		events:        ringbuf.New[model.Event](maxEvents),
		sourceCounts:  make(map[string]int64),
		typeCounts:    make(map[string]int64),
		sources:       make(map[string]*Source),
	}
	c.metrics = newMetrics(c)
	return c
}

// RegisterSource returns the source registered under name, creating it on
// first use.
func (c *Compositor) RegisterSource(name string) *Source {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.sources[name]; ok {
		return s
	}
	s := newSource(name, c)
	c.sources[name] = s
	if _, ok := c.sourceCounts[name]; !ok {
		c.sourceCounts[name] = 0
	}
	return s
}

// UnregisterSource removes name from the source table. Events it already
// emitted stay buffered and counted.
func (c *Compositor) UnregisterSource(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sources[name]; !ok {
		return false
	}
	delete(c.sources, name)
	return true
}

// Source returns a registered source by name.
func (c *Compositor) Source(name string) (*Source, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sources[name]
	return s, ok
}

// ReceiveEvent records one event and notifies every callback. It is the only
// ingestion entry point; sources call it from Emit.
func (c *Compositor) ReceiveEvent(source, kind string, data map[string]any) model.Event {
	ev := c.record(source, kind, data)
	c.notify(ev)
	return ev.Clone()
}

// record buffers and counts one event. The returned event owns its payload.
func (c *Compositor) record(source, kind string, data map[string]any) model.Event {
	ev := model.Event{
		ID:     uuid.NewString(),
		Source: source,
		Kind:   kind,
		Data:   model.CloneData(data),
	}
	if ev.Data == nil {
		ev.Data = map[string]any{}
	}

	c.mu.Lock()
	ev.Timestamp = c.now()
	c.events.Push(ev)
	c.windowEvents = append(c.windowEvents, ev.Timestamp)
	c.total++
	c.sourceCounts[source]++
	c.typeCounts[kind]++
	c.mu.Unlock()

	c.metrics.received(source, kind)
	return ev
}

// AddCallback registers fn for every future event.
func (c *Compositor) AddCallback(fn Callback) CallbackID {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.nextCB++
	c.callbacks = append(c.callbacks, registeredCallback{id: c.nextCB, fn: fn})
	return c.nextCB
}

// RemoveCallback unregisters a callback. It reports whether id was registered.
func (c *Compositor) RemoveCallback(id CallbackID) bool {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	for i, cb := range c.callbacks {
		if cb.id == id {
			c.callbacks = slices.Delete(c.callbacks, i, i+1)
			return true
		}
	}
	return false
}

func (c *Compositor) notify(ev model.Event) {
	c.cbMu.RLock()
	cbs := slices.Clone(c.callbacks)
	c.cbMu.RUnlock()

	for _, cb := range cbs {
		if err := invokeCallback(cb.fn, ev.Clone()); err != nil {
			c.metrics.subscriberFailed()
			c.logSubscriberFailure(cb.id, err)
		}
	}
}

func invokeCallback(fn Callback, ev model.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	return fn(ev)
}

// logSubscriberFailure logs at most once per 10 seconds.
func (c *Compositor) logSubscriberFailure(id CallbackID, err error) {
	count := c.failureCount.Add(1)
	now := time.Now().Unix()
	last := c.lastFailureLog.Load()
	if now-last >= 10 && c.lastFailureLog.CompareAndSwap(last, now) {
		log.Printf("compositor: callback %d failed (%d failures so far): %v", id, count, err)
	}
}

// pruneLocked drops window entries that are not strictly within the last
// window at now. c.mu must be held.
func (c *Compositor) pruneLocked(now time.Time) {
	cutoff := now.Add(-c.window)
	i := 0
	for i < len(c.windowEvents) && !c.windowEvents[i].After(cutoff) {
		i++
	}
	if i == len(c.windowEvents) {
		c.windowEvents = nil
		return
	}
	c.windowEvents = c.windowEvents[i:]
}

func (c *Compositor) rateLocked() float64 {
	return float64(len(c.windowEvents)) / c.window.Seconds()
}

// EventsPerSecond returns the number of events in the rate window divided by
// the window length in seconds.
func (c *Compositor) EventsPerSecond() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(c.now())
	return c.rateLocked()
}

// Clear resets buffers and counters. Registered sources and callbacks stay.
func (c *Compositor) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events.Clear()
	c.windowEvents = nil
	c.sourceCounts = make(map[string]int64, len(c.sources))
	for name := range c.sources {
		c.sourceCounts[name] = 0
	}
	c.typeCounts = make(map[string]int64)
	c.total = 0
}

// Start runs the background rate-window pruning loop. It is a no-op when
// already running.
func (c *Compositor) Start() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running.Load() {
		return
	}
	c.done = make(chan struct{})
	c.running.Store(true)
	c.wg.Add(1)
	go c.maintain(c.done)
}

// Stop terminates the pruning loop and waits for it. Buffered data is kept.
func (c *Compositor) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if !c.running.Load() {
		return
	}
	close(c.done)
	c.wg.Wait()
	c.running.Store(false)
}

// Running reports whether the pruning loop is active.
func (c *Compositor) Running() bool { return c.running.Load() }

func (c *Compositor) maintain(done <-chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.pruneLocked(c.now())
			c.mu.Unlock()
		case <-done:
			return
		}
	}
}

// Metrics returns the compositor's Prometheus collectors.
func (c *Compositor) Metrics() *Metrics { return c.metrics }

func (c *Compositor) bufferedLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events.Len()
}
