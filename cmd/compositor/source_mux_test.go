package main

import (
	"context"
	"testing"
	"time"

	"github.com/networkbuster/compositor/internal/model"
)

type fakeSource struct {
	name    string
	lines   chan model.IngestEnvelope
	stopped chan struct{}
}

func newFakeSource(name string, buffer int) *fakeSource {
	return &fakeSource{
		name:    name,
		lines:   make(chan model.IngestEnvelope, buffer),
		stopped: make(chan struct{}),
	}
}

func (s *fakeSource) Lines() <-chan model.IngestEnvelope { return s.lines }
func (s *fakeSource) Name() string                       { return s.name }

func (s *fakeSource) Stop() {
	select {
	case <-s.stopped:
	default:
		close(s.stopped)
		close(s.lines)
	}
}

func drain(t *testing.T, mux *SourceMultiplexer) []model.IngestEnvelope {
	t.Helper()
	var got []model.IngestEnvelope
	timeout := time.After(2 * time.Second)
	for {
		select {
		case env, ok := <-mux.Lines():
			if !ok {
				return got
			}
			got = append(got, env)
		case <-timeout:
			t.Fatalf("timed out draining multiplexer, got %+v", got)
		}
	}
}

func TestSourceMultiplexer_MergesAllSources(t *testing.T) {
	t.Parallel()

	a := newFakeSource("tcp", 4)
	b := newFakeSource("stdin", 4)
	mux := NewSourceMultiplexer(context.Background(), []NamedLogSource{a, b}, 16)
	mux.Start()
	defer mux.Stop()

	a.lines <- model.IngestEnvelope{Source: "tcp", Line: "alpha"}
	a.lines <- model.IngestEnvelope{Source: "tcp", Line: ""}
	b.lines <- model.IngestEnvelope{Line: "beta"}
	a.Stop()
	b.Stop()

	got := drain(t, mux)
	if len(got) != 2 {
		t.Fatalf("got %d envelopes, want 2 (empty lines dropped): %+v", len(got), got)
	}
	bySource := map[string]string{}
	for _, env := range got {
		bySource[env.Source] = env.Line
	}
	if bySource["tcp"] != "alpha" {
		t.Errorf("tcp line = %q, want alpha", bySource["tcp"])
	}
	if bySource["stdin"] != "beta" {
		t.Errorf("untagged line should take the input name, got %+v", bySource)
	}
	if mux.Merged() != 2 {
		t.Errorf("Merged = %d, want 2", mux.Merged())
	}
}

func TestSourceMultiplexer_NoSourcesClosesImmediately(t *testing.T) {
	t.Parallel()

	mux := NewSourceMultiplexer(context.Background(), nil, 0)
	mux.Start()
	if mux.HasSources() {
		t.Fatal("HasSources should be false")
	}
	if got := drain(t, mux); len(got) != 0 {
		t.Fatalf("got %+v, want nothing", got)
	}
	mux.Stop()
}

func TestSourceMultiplexer_StopInvokesSourceStop(t *testing.T) {
	t.Parallel()

	src := newFakeSource("tcp", 1)
	mux := NewSourceMultiplexer(context.Background(), []NamedLogSource{src}, 8)
	mux.Start()
	mux.Stop()
	mux.Stop()

	select {
	case <-src.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("expected source Stop() to be called")
	}
	if names := mux.SourceNames(); len(names) != 1 || names[0] != "tcp" {
		t.Fatalf("SourceNames = %v", names)
	}
}
