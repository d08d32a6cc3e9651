package socketrpc_test

import (
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/networkbuster/compositor/internal/compositor"
	"github.com/networkbuster/compositor/internal/model"
	"github.com/networkbuster/compositor/internal/socketrpc"
)

func startTestServer(t *testing.T) (string, *compositor.Compositor) {
	t.Helper()
	comp := compositor.New()
	sockPath := filepath.Join(t.TempDir(), "test.sock")
	srv := socketrpc.NewServer(sockPath, comp)
	if err := srv.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(srv.Stop)
	return sockPath, comp
}

func dialTest(t *testing.T, sockPath string) *socketrpc.Client {
	t.Helper()
	client, err := socketrpc.Dial(sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRoundtrip(t *testing.T) {
	sockPath, comp := startTestServer(t)
	client := dialTest(t, sockPath)

	src := comp.RegisterSource("log_monitor")
	src.Emit(model.KindLogEntry, map[string]any{"file": "a.log", "line": 1})
	src.Emit(model.KindLogError, map[string]any{"file": "a.log", "line": 2})
	comp.RegisterSource("stdin").Emit(model.KindLogEntry, map[string]any{"content": "x"})

	t.Run("Snapshot", func(t *testing.T) {
		snap, err := client.Snapshot(2)
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if snap.TotalEvents != 3 || snap.Sources["log_monitor"] != 2 || snap.EventTypes[model.KindLogEntry] != 2 {
			t.Errorf("snapshot = %+v", snap)
		}
		if len(snap.RecentEvents) != 2 || snap.RecentEvents[1].Source != "stdin" {
			t.Errorf("recent = %+v", snap.RecentEvents)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		st, err := client.Stats()
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if st.TotalEvents != 3 || st.SourcesCount != 2 || st.EventTypesCount != 2 {
			t.Errorf("stats = %+v", st)
		}
	})

	t.Run("RecentEvents", func(t *testing.T) {
		events, err := client.RecentEvents(10, "log_monitor", model.KindLogError)
		if err != nil {
			t.Fatalf("RecentEvents: %v", err)
		}
		if len(events) != 1 || events[0].Data["line"] != float64(2) {
			t.Errorf("events = %+v", events)
		}
		if events[0].ID == "" || events[0].Timestamp.IsZero() {
			t.Errorf("event lost identity fields: %+v", events[0])
		}
	})

	t.Run("TypeDistribution", func(t *testing.T) {
		dist, err := client.TypeDistribution()
		if err != nil {
			t.Fatalf("TypeDistribution: %v", err)
		}
		var sum float64
		for _, pct := range dist {
			sum += pct
		}
		if len(dist) != 2 || sum < 99.99 || sum > 100.01 {
			t.Errorf("distribution = %v", dist)
		}
	})

	t.Run("Sources", func(t *testing.T) {
		sources, err := client.Sources()
		if err != nil {
			t.Fatalf("Sources: %v", err)
		}
		if len(sources) != 2 {
			t.Errorf("sources = %+v, want 2", sources)
		}
	})
}

func TestStaleSocketIsReplaced(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "stale.sock")

	first := socketrpc.NewServer(sockPath, compositor.New())
	if err := first.Start(); err != nil {
		t.Fatalf("start first: %v", err)
	}
	if err := socketrpc.NewServer(sockPath, compositor.New()).Start(); err == nil {
		t.Fatal("expected error while another server is listening")
	}
	first.Stop()
	first.Stop()

	second := socketrpc.NewServer(sockPath, compositor.New())
	if err := second.Start(); err != nil {
		t.Fatalf("start second: %v", err)
	}
	defer second.Stop()

	client := dialTest(t, sockPath)
	if _, err := client.Stats(); err != nil {
		t.Fatalf("Stats: %v", err)
	}
}

func TestStopClosesIdleClients(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "idle.sock")
	srv := socketrpc.NewServer(sockPath, compositor.New())
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	client := dialTest(t, sockPath)
	if _, err := client.Stats(); err != nil {
		t.Fatalf("Stats: %v", err)
	}

	srv.Stop()
	if _, err := client.Stats(); err == nil {
		t.Fatal("expected error after server stop")
	}
}

func TestClientClose(t *testing.T) {
	sockPath, _ := startTestServer(t)
	client, err := socketrpc.Dial(sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := client.Stats(); !errors.Is(err, socketrpc.ErrClientClosed) {
		t.Fatalf("Stats after Close = %v, want ErrClientClosed", err)
	}
}

func TestMalformedRequestGetsParseError(t *testing.T) {
	sockPath, _ := startTestServer(t)
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := conn.Write([]byte("{not json\n")); err != nil {
		t.Fatal(err)
	}
	var resp socketrpc.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != -32700 {
		t.Fatalf("response = %+v, want parse error", resp)
	}
}
