// Package forward republishes compositor events to a NATS subject.
package forward

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/networkbuster/compositor/internal/compositor"
	"github.com/networkbuster/compositor/internal/model"
)

const (
	// DefaultSubject is the NATS subject events are published to.
	DefaultSubject = "compositor.events"
	// DefaultQueueSize bounds events waiting to be published.
	DefaultQueueSize = 1000
)

// ErrQueueFull is returned by Callback when the publisher falls behind.
var ErrQueueFull = errors.New("forward: queue is full")

// Publisher is the subset of *nats.Conn used by the forwarder.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Config configures a Forwarder.
type Config struct {
	Subject   string
	QueueSize int
}

// Forwarder publishes events from a bounded queue on its own goroutine, so
// compositor callbacks never wait on the network.
type Forwarder struct {
	pub     Publisher
	subject string
	queue   chan model.Event

	published atomic.Int64
	failed    atomic.Int64
	lastLog   atomic.Int64

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New starts a forwarder publishing through pub.
func New(pub Publisher, conf ...Config) *Forwarder {
	subject := DefaultSubject
	size := DefaultQueueSize
	if len(conf) > 0 {
		if conf[0].Subject != "" {
			subject = conf[0].Subject
		}
		if conf[0].QueueSize > 0 {
			size = conf[0].QueueSize
		}
	}

	f := &Forwarder{
		pub:     pub,
		subject: subject,
		queue:   make(chan model.Event, size),
		done:    make(chan struct{}),
	}
	f.wg.Add(1)
	go f.sendLoop()
	return f
}

// Connect dials a NATS server with reconnects enabled.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("networkbuster-compositor"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("forward: nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("forward: nats reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("forward: connect %s: %w", url, err)
	}
	return nc, nil
}

// Subject returns the subject events are published to.
func (f *Forwarder) Subject() string { return f.subject }

// Callback queues ev for publishing. It matches compositor.Callback.
func (f *Forwarder) Callback(ev model.Event) error {
	select {
	case <-f.done:
		return nil
	default:
	}
	select {
	case f.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

func (f *Forwarder) sendLoop() {
	defer f.wg.Done()
	for {
		select {
		case ev := <-f.queue:
			f.publish(ev)
		case <-f.done:
			// Drain whatever is already queued.
			for {
				select {
				case ev := <-f.queue:
					f.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (f *Forwarder) publish(ev model.Event) {
	payload, err := json.Marshal(compositor.NewExportRecord(ev))
	if err == nil {
		err = f.pub.Publish(f.subject, payload)
	}
	if err != nil {
		n := f.failed.Add(1)
		now := time.Now().Unix()
		last := f.lastLog.Load()
		if now-last >= 10 && f.lastLog.CompareAndSwap(last, now) {
			log.Printf("forward: publish to %s failed (%d failures so far): %v", f.subject, n, err)
		}
		return
	}
	f.published.Add(1)
}

// Published returns how many events were published.
func (f *Forwarder) Published() int64 { return f.published.Load() }

// Failed returns how many publishes failed.
func (f *Forwarder) Failed() int64 { return f.failed.Load() }

// Stop publishes queued events and stops the send loop.
func (f *Forwarder) Stop() {
	f.stopOnce.Do(func() {
		close(f.done)
		f.wg.Wait()
	})
}
var _ Publisher = (*nats.Conn)(nil)
