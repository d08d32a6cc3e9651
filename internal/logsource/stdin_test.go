package logsource

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestStdinSourceStopClosesLines(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer func() { _ = w.Close() }()

	src := newStdinSourceWithReader(context.Background(), r)
	src.Stop()

	select {
	case _, ok := <-src.Lines():
		if ok {
			t.Fatal("expected lines channel to be closed after Stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for lines channel to close")
	}
}

func TestStdinSourceStopIsIdempotent(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer func() { _ = w.Close() }()

	src := newStdinSourceWithReader(context.Background(), r)
	src.Stop()
	src.Stop()
}

func TestStdinSourceReadsNonEmptyLines(t *testing.T) {
	r := strings.NewReader("alpha\n\nbeta\n")
	src := newStdinSourceWithReader(context.Background(), r, StdinConfig{BufferSize: 4})
	defer src.Stop()

	var got []string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case env, ok := <-src.Lines():
			if !ok {
				if len(got) != 2 || got[0] != "alpha" || got[1] != "beta" {
					t.Fatalf("lines = %q, want [alpha beta]", got)
				}
				return
			}
			if env.Source != "stdin" {
				t.Fatalf("source = %q, want stdin", env.Source)
			}
			got = append(got, env.Line)
		case <-timeout:
			t.Fatal("timed out reading lines")
		}
	}
}

func TestStdinSourceTrimsCarriageReturns(t *testing.T) {
	src := newStdinSourceWithReader(context.Background(), strings.NewReader("one\r\n\r\ntwo"))
	defer src.Stop()

	var got []string
	for env := range src.Lines() {
		got = append(got, env.Line)
	}
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("lines = %q, want [one two]", got)
	}
	if src.LinesRead() != 2 {
		t.Fatalf("LinesRead = %d, want 2", src.LinesRead())
	}
}

func TestStdinSourceParentCancelClosesLines(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	src := newStdinSourceWithReader(ctx, r)
	cancel()

	select {
	case _, ok := <-src.Lines():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("parent cancel did not close Lines")
	}
}
