package compositor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// MaxLabelValues caps the distinct source and type label values.
	// Later values are counted under OverflowLabel.
	MaxLabelValues = 100
	// OverflowLabel replaces label values past MaxLabelValues.
	OverflowLabel = "other"

	maxLabelLen = 64
)

// labelSet admits at most limit distinct values.
type labelSet struct {
	mu    sync.Mutex
	limit int
	seen  map[string]struct{}
}

func newLabelSet(limit int) *labelSet {
	return &labelSet{limit: limit, seen: make(map[string]struct{})}
}

func (l *labelSet) value(v string) string {
	if len(v) > maxLabelLen {
		return OverflowLabel
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[v]; ok {
		return v
	}
	if len(l.seen) >= l.limit {
		return OverflowLabel
	}
	l.seen[v] = struct{}{}
	return v
}

// Metrics holds the Prometheus collectors for one compositor. Each
// compositor owns its registry so isolated instances never collide.
type Metrics struct {
	registry           *prometheus.Registry
	eventsTotal        *prometheus.CounterVec
	droppedTotal       *prometheus.CounterVec
	subscriberFailures prometheus.Counter

	sources *labelSet
	kinds   *labelSet
}

func newMetrics(c *Compositor) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		sources:  newLabelSet(MaxLabelValues),
		kinds:    newLabelSet(MaxLabelValues),
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "compositor_events_total",
			Help: "Total number of events accepted by the compositor",
		}, []string{"source", "type"}),
		droppedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "compositor_events_dropped_total",
			Help: "Total number of events dropped by disabled sources",
		}, []string{"source"}),
		subscriberFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "compositor_subscriber_failures_total",
			Help: "Total number of callback invocations that failed or panicked",
		}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "compositor_events_per_second",
		Help: "Events per second over the rate window",
	}, c.EventsPerSecond)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "compositor_buffered_events",
		Help: "Number of events currently held in the bounded buffer",
	}, func() float64 { return float64(c.bufferedLen()) })

	return m
}

// Registry returns the registry holding the compositor collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) received(source, kind string) {
	m.eventsTotal.WithLabelValues(m.sources.value(source), m.kinds.value(kind)).Inc()
}

func (m *Metrics) dropped(source string) {
	m.droppedTotal.WithLabelValues(m.sources.value(source)).Inc()
}

func (m *Metrics) subscriberFailed() {
	m.subscriberFailures.Inc()
}
