package duckdb

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/networkbuster/compositor/internal/journal"
	"github.com/networkbuster/compositor/internal/model"
)

const (
	// DefaultFlushQueueSize is the number of batches that can be queued for async flushing.
	DefaultFlushQueueSize = 64
	// DefaultBatchSize is the pending-event count that triggers an immediate flush.
	DefaultBatchSize = 2000
	// DefaultFlushInterval is how often pending events are flushed.
	DefaultFlushInterval = 100 * time.Millisecond
)

type journaledEvent struct {
	seq   uint64
	event model.Event
}

type durableJournal interface {
	Append(ev model.Event) (uint64, error)
	Commit(seq uint64) error
	Close() error
}

// InsertBuffer batches events and flushes them to the store asynchronously.
// Add never blocks on database writes; batches go to a flush goroutine.
type InsertBuffer struct {
	writer        model.EventWriter
	mu            sync.Mutex
	pending       []journaledEvent
	flushChan     chan []journaledEvent
	maxBatch      int
	flushInterval time.Duration
	done          chan struct{}
	wg            sync.WaitGroup
	tickWg        sync.WaitGroup
	stopOnce      sync.Once
	journal       durableJournal

	flushed atomic.Int64

	// backpressureCount tracks inline flushes for throttled logging.
	backpressureCount atomic.Int64
	lastBPLog         atomic.Int64 // unix timestamp of last backpressure log
}

// InsertBufferConfig holds tunable parameters for the insert buffer.
type InsertBufferConfig struct {
	BatchSize      int
	FlushInterval  time.Duration
	FlushQueueSize int
	Journal        *journal.Journal
}

// NewInsertBuffer creates a new insert buffer that flushes to writer.
func NewInsertBuffer(writer model.EventWriter, conf ...InsertBufferConfig) *InsertBuffer {
	batchSize := DefaultBatchSize
	flushInterval := DefaultFlushInterval
	flushQueueSize := DefaultFlushQueueSize
	var j durableJournal
	if len(conf) > 0 {
		if conf[0].BatchSize > 0 {
			batchSize = conf[0].BatchSize
		}
		if conf[0].FlushInterval > 0 {
			flushInterval = conf[0].FlushInterval
		}
		if conf[0].FlushQueueSize > 0 {
			flushQueueSize = conf[0].FlushQueueSize
		}
		if conf[0].Journal != nil {
			j = conf[0].Journal
		}
	}

	b := &InsertBuffer{
		writer:        writer,
		pending:       make([]journaledEvent, 0, batchSize),
		flushChan:     make(chan []journaledEvent, flushQueueSize),
		maxBatch:      batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
		journal:       j,
	}

	b.wg.Add(1)
	go b.flushWorker()

	b.wg.Add(1)
	b.tickWg.Add(1)
	go b.tickLoop()

	return b
}

// tickLoop periodically drains the pending buffer.
func (b *InsertBuffer) tickLoop() {
	defer b.wg.Done()
	defer b.tickWg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.drainPending()
		case <-b.done:
			b.drainPending() // final drain
			return
		}
	}
}

// logBackpressure emits a throttled warning (at most once per 10 seconds) when
// the flush channel is full and an inline flush is triggered.
func (b *InsertBuffer) logBackpressure() {
	count := b.backpressureCount.Add(1)
	now := time.Now().Unix()
	last := b.lastBPLog.Load()
	if now-last >= 10 && b.lastBPLog.CompareAndSwap(last, now) {
		log.Printf("duckdb: backpressure, %d inline flushes so far (store falling behind)", count)
	}
}

func (b *InsertBuffer) takePending() []journaledEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil
	}
	batch := b.pending
	b.pending = make([]journaledEvent, 0, b.maxBatch)
	return batch
}

// drainPending hands pending events to the flush worker.
func (b *InsertBuffer) drainPending() {
	if batch := b.takePending(); batch != nil {
		b.enqueue(batch, "tick")
	}
}

// enqueue sends batch to the flush worker, flushing inline when the queue is
// full.
func (b *InsertBuffer) enqueue(batch []journaledEvent, origin string) {
	select {
	case b.flushChan <- batch:
	default:
		b.logBackpressure()
		if err := b.flushBatch(batch); err != nil {
			log.Printf("duckdb: flush error (%s, inline): %v", origin, err)
		}
	}
}

// flushWorker processes batches from the flush channel.
func (b *InsertBuffer) flushWorker() {
	defer b.wg.Done()
	for batch := range b.flushChan {
		if err := b.flushBatch(batch); err != nil {
			log.Printf("duckdb: flush error: %v", err)
		}
	}
}

// Add queues an event for batch insertion. With a journal configured the
// event is made durable first; journal failures are retried until Stop.
func (b *InsertBuffer) Add(ev model.Event) {
	seq := uint64(0)
	if b.journal != nil {
		for {
			var err error
			seq, err = b.journal.Append(ev)
			if err == nil {
				break
			}
			log.Printf("duckdb: journal append failed, retrying: %v", err)
			select {
			case <-b.done:
				return
			case <-time.After(200 * time.Millisecond):
			}
		}
	}
	b.addJournaled(journaledEvent{seq: seq, event: ev})
}

func (b *InsertBuffer) addJournaled(item journaledEvent) {
	b.mu.Lock()
	b.pending = append(b.pending, item)
	var batch []journaledEvent
	if len(b.pending) >= b.maxBatch {
		batch = b.pending
		b.pending = make([]journaledEvent, 0, b.maxBatch)
	}
	b.mu.Unlock()

	if batch != nil {
		b.enqueue(batch, "batch-full")
	}
}

// Callback adapts Add to the compositor callback signature.
func (b *InsertBuffer) Callback(ev model.Event) error {
	b.Add(ev)
	return nil
}

// ReplayJournal queues every uncommitted journal entry for insertion without
// appending it again. It returns how many entries were queued.
func (b *InsertBuffer) ReplayJournal(j *journal.Journal) (int, error) {
	n := 0
	err := j.Replay(func(seq uint64, ev model.Event) error {
		b.addJournaled(journaledEvent{seq: seq, event: ev})
		n++
		return nil
	})
	return n, err
}

// Flushed returns how many events were written to the store.
func (b *InsertBuffer) Flushed() int64 { return b.flushed.Load() }

// Stop flushes remaining events and waits for all writes to complete.
// It is safe to call more than once.
func (b *InsertBuffer) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		// tickLoop's final drain must finish before flushChan closes.
		b.tickWg.Wait()
		close(b.flushChan)
		b.wg.Wait()
		if b.journal != nil {
			if err := b.journal.Close(); err != nil {
				log.Printf("duckdb: journal close error: %v", err)
			}
		}
	})
}

func (b *InsertBuffer) flushBatch(batch []journaledEvent) error {
	if len(batch) == 0 {
		return nil
	}

	events := make([]model.Event, 0, len(batch))
	var maxSeq uint64
	for _, item := range batch {
		events = append(events, item.event)
		maxSeq = max(maxSeq, item.seq)
	}

	if err := b.writer.InsertEventBatch(events); err != nil {
		return err
	}
	b.flushed.Add(int64(len(events)))

	if b.journal != nil && maxSeq > 0 {
		if err := b.journal.Commit(maxSeq); err != nil {
			return fmt.Errorf("journal commit seq=%d: %w", maxSeq, err)
		}
	}
	return nil
}
