package ingest

import (
	"testing"

	"github.com/networkbuster/compositor/internal/compositor"
	"github.com/networkbuster/compositor/internal/model"
)

func TestProcessor_JSONLineBecomesPayload(t *testing.T) {
	t.Parallel()

	comp := compositor.New()
	p := NewProcessor(comp, nil, "stdin")

	r := p.ProcessEnvelope(model.IngestEnvelope{Source: "tcp", Line: `{"message":"upstream timeout","host":"web1","code":504}`})
	if r == nil {
		t.Fatal("expected a result")
	}
	if r.Kind != model.KindLogEntry || r.Level != model.LevelNone {
		t.Errorf("kind/level = %q/%q", r.Kind, r.Level)
	}

	ev := comp.RecentEvents(1, "tcp", "")[0]
	if ev.Data["host"] != "web1" || ev.Data["code"] != float64(504) || ev.Data["message"] != "upstream timeout" {
		t.Errorf("payload = %v", ev.Data)
	}
}

func TestProcessor_JSONClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		line     string
		wantKind string
	}{
		{name: "explicit level wins", line: `{"level":"info","msg":"error budget fine"}`, wantKind: model.KindLogEntry},
		{name: "message classified", line: `{"msg":"fatal: out of memory"}`, wantKind: model.KindLogError},
		{name: "numeric level", line: `{"level":50,"msg":"boom"}`, wantKind: model.KindLogError},
		{name: "explicit kind", line: `{"event_type":"deploy","level":"error"}`, wantKind: "deploy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProcessor(nil, nil, "stdin")
			r := p.ProcessLine(tt.line)
			if r == nil {
				t.Fatal("expected a result")
			}
			if r.Kind != tt.wantKind {
				t.Fatalf("kind = %q, want %q", r.Kind, tt.wantKind)
			}
		})
	}
}

func TestProcessor_PlainLine(t *testing.T) {
	t.Parallel()

	comp := compositor.New()
	p := NewProcessor(comp, nil, "stdin")
	p.ProcessLine("WARNING: disk at 91%")

	ev := comp.RecentEvents(1, "stdin", "")[0]
	if ev.Kind != model.KindLogEntry || ev.Data["level"] != "warning" || ev.Data["content"] != "WARNING: disk at 91%" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestProcessor_MultiLineJSONPerSource(t *testing.T) {
	t.Parallel()

	comp := compositor.New()
	p := NewProcessor(comp, nil, "stdin")

	lines := []model.IngestEnvelope{
		{Source: "tcp", Line: "{"},
		{Source: "stdin", Line: "plain from stdin"},
		{Source: "tcp", Line: `  "msg": "critical {nested} text",`},
		{Source: "tcp", Line: `  "tags": ["a", "b"]`},
		{Source: "tcp", Line: "}"},
	}
	var results []*ProcessResult
	for _, env := range lines {
		if r := p.ProcessEnvelope(env); r != nil {
			results = append(results, r)
		}
	}

	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Source != "stdin" {
		t.Errorf("first result source = %q, want stdin", results[0].Source)
	}
	tcp := results[1]
	if tcp.Source != "tcp" || tcp.Kind != model.KindLogError || tcp.Data["msg"] != "critical {nested} text" {
		t.Errorf("tcp result = %+v", tcp)
	}
	if n := comp.Stats().TotalEvents; n != 2 {
		t.Errorf("TotalEvents = %d, want 2", n)
	}
}

func TestCountJSONDepth(t *testing.T) {
	t.Parallel()
	tests := []struct {
		line string
		want int
	}{
		{line: "{", want: 1},
		{line: "}", want: -1},
		{line: `{"a": [1, 2]}`, want: 0},
		{line: `"brace in string {"`, want: 0},
		{line: `"escaped quote \" {"`, want: 0},
		{line: `{"nested": {`, want: 2},
	}
	for _, tt := range tests {
		if got := CountJSONDepth(tt.line); got != tt.want {
			t.Errorf("CountJSONDepth(%q) = %d, want %d", tt.line, got, tt.want)
		}
	}
}
