package duckdb

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	// DefaultRetentionInterval is how often expired events are deleted.
	DefaultRetentionInterval = time.Hour
	// DefaultRetentionDays applies when no RetentionConfig is given.
	DefaultRetentionDays = 30
)

// RetentionConfig holds configuration for the retention cleaner.
type RetentionConfig struct {
	RetentionDays int
	Interval      time.Duration
}

type expirer interface {
	DeleteBefore(cutoff time.Time) (int64, error)
}

// RetentionCleaner deletes stored events older than a fixed age, once at
// construction and then on every interval.
type RetentionCleaner struct {
	store    expirer
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	removed int64
}

// NewRetentionCleaner returns nil when RetentionDays is zero or negative.
func NewRetentionCleaner(store *Store, conf ...RetentionConfig) *RetentionCleaner {
	return newRetentionCleaner(store, time.Now, conf...)
}

func newRetentionCleaner(store expirer, now func() time.Time, conf ...RetentionConfig) *RetentionCleaner {
	cfg := RetentionConfig{RetentionDays: DefaultRetentionDays, Interval: DefaultRetentionInterval}
	if len(conf) > 0 {
		cfg.RetentionDays = conf[0].RetentionDays
		if conf[0].Interval > 0 {
			cfg.Interval = conf[0].Interval
		}
	}
	if cfg.RetentionDays <= 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	rc := &RetentionCleaner{
		store:    store,
		maxAge:   time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval: cfg.Interval,
		now:      now,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	rc.sweep()
	go rc.run(ctx)
	return rc
}

func (rc *RetentionCleaner) run(ctx context.Context) {
	defer close(rc.done)
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rc.sweep()
		}
	}
}

func (rc *RetentionCleaner) sweep() {
	cutoff := rc.now().Add(-rc.maxAge)
	n, err := rc.store.DeleteBefore(cutoff)
	if err != nil {
		log.Printf("duckdb: retention sweep failed: %v", err)
		return
	}
	if n == 0 {
		return
	}
	rc.mu.Lock()
	rc.removed += n
	rc.mu.Unlock()
	log.Printf("duckdb: retention removed %d events before %s", n, cutoff.UTC().Format(time.RFC3339))
}

// Removed reports how many events the cleaner has deleted so far.
func (rc *RetentionCleaner) Removed() int64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.removed
}

// Stop ends the sweep loop and waits for an in-flight sweep. It is safe to
// call more than once.
func (rc *RetentionCleaner) Stop() {
	rc.once.Do(func() {
		rc.cancel()
		<-rc.done
	})
}
