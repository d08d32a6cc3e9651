package forward

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/networkbuster/compositor/internal/compositor"
	"github.com/networkbuster/compositor/internal/model"
)

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
	block    chan struct{}
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

func TestForwarder_PublishesExportShape(t *testing.T) {
	pub := &fakePublisher{}
	f := New(pub)

	ts := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	ev := model.Event{ID: "id-1", Source: "log_monitor", Kind: model.KindLogError, Data: map[string]any{"file": "a.log"}, Timestamp: ts}
	if err := f.Callback(ev); err != nil {
		t.Fatalf("Callback: %v", err)
	}
	f.Stop()

	if pub.count() != 1 {
		t.Fatalf("published %d messages, want 1", pub.count())
	}
	if pub.subjects[0] != DefaultSubject {
		t.Errorf("subject = %q, want %q", pub.subjects[0], DefaultSubject)
	}
	var rec compositor.ExportRecord
	if err := json.Unmarshal(pub.payloads[0], &rec); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if rec.ID != "id-1" || rec.Source != "log_monitor" || rec.EventType != model.KindLogError || rec.Data["file"] != "a.log" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Timestamp != ts.Format(time.RFC3339Nano) {
		t.Errorf("timestamp = %q", rec.Timestamp)
	}
	if f.Published() != 1 {
		t.Errorf("Published = %d, want 1", f.Published())
	}
}

func TestForwarder_CustomSubject(t *testing.T) {
	pub := &fakePublisher{}
	f := New(pub, Config{Subject: "nb.events"})
	_ = f.Callback(model.Event{ID: "x", Source: "s", Kind: "k"})
	f.Stop()

	if f.Subject() != "nb.events" || pub.count() != 1 || pub.subjects[0] != "nb.events" {
		t.Fatalf("subjects = %v", pub.subjects)
	}
}

func TestForwarder_QueueFull(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{})}
	f := New(pub, Config{QueueSize: 1})

	var full bool
	for i := 0; i < 10; i++ {
		if err := f.Callback(model.Event{ID: "q", Source: "s", Kind: "k"}); errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
	}
	close(pub.block)
	f.Stop()
	if !full {
		t.Fatal("expected ErrQueueFull while the publisher is blocked")
	}
}

func TestForwarder_PublishErrorsCounted(t *testing.T) {
	pub := &fakePublisher{err: errors.New("no responders")}
	f := New(pub)
	for i := 0; i < 3; i++ {
		_ = f.Callback(model.Event{ID: "e", Source: "s", Kind: "k"})
	}
	f.Stop()

	if f.Failed() != 3 || f.Published() != 0 {
		t.Fatalf("Failed = %d, Published = %d, want 3 and 0", f.Failed(), f.Published())
	}
}

func TestForwarder_AsCompositorCallback(t *testing.T) {
	pub := &fakePublisher{}
	f := New(pub)
	c := compositor.New()
	c.AddCallback(f.Callback)

	src := c.RegisterSource("stdin")
	src.Emit(model.KindLogEntry, map[string]any{"content": "hello"})
	f.Stop()

	if pub.count() != 1 {
		t.Fatalf("published %d, want 1", pub.count())
	}
}

func TestForwarder_CallbackAfterStop(t *testing.T) {
	f := New(&fakePublisher{})
	f.Stop()
	f.Stop()
	if err := f.Callback(model.Event{ID: "late"}); err != nil {
		t.Fatalf("Callback after Stop = %v, want nil", err)
	}
}
