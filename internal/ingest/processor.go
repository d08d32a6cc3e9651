package ingest

import (
	"maps"
	"strings"
	"sync"

	"github.com/networkbuster/compositor/internal/logparse"
	"github.com/networkbuster/compositor/internal/model"
)

// maxPendingJSON bounds a multi-line JSON object held while waiting for its
// closing brace. Larger input is emitted as plain content.
const maxPendingJSON = 1 << 20

// jsonAccumulator collects a JSON object spread over several lines.
type jsonAccumulator struct {
	buf   strings.Builder
	depth int
}

// Processor decodes JSON object lines into event payloads and classifies the
// rest as plain log lines. Multi-line JSON objects are accumulated per source
// so interleaved inputs do not corrupt each other.
type Processor struct {
	reg        SourceRegistry
	classifier *logparse.Classifier

	mu         sync.Mutex
	sourceName string
	pending    map[string]*jsonAccumulator
}

// NewProcessor creates a new parsing processor.
func NewProcessor(reg SourceRegistry, classifier *logparse.Classifier, sourceName string) *Processor {
	if classifier == nil {
		classifier = logparse.NewClassifier()
	}
	return &Processor{
		reg:        reg,
		classifier: classifier,
		sourceName: sourceName,
		pending:    make(map[string]*jsonAccumulator),
	}
}

func (p *Processor) Name() string { return ProcessorModeParse }

// ProcessEnvelope processes one source-tagged line. It returns nil when the
// line is empty or was absorbed into an unfinished multi-line JSON object.
func (p *Processor) ProcessEnvelope(env model.IngestEnvelope) *ProcessResult {
	p.mu.Lock()
	source := env.Source
	if source == "" {
		source = p.sourceName
	}
	text, complete := p.accumulate(source, env.Line)
	p.mu.Unlock()

	if !complete || strings.TrimSpace(text) == "" {
		return nil
	}
	result := p.processEntry(source, text)
	emit(p.reg, result)
	return result
}

// ProcessLine processes an untagged line using the processor source name.
func (p *Processor) ProcessLine(line string) *ProcessResult {
	return p.ProcessEnvelope(model.IngestEnvelope{Line: line})
}

// accumulate must be called with mu held. It returns the text to process and
// whether it is complete.
func (p *Processor) accumulate(source, line string) (string, bool) {
	acc := p.pending[source]
	if acc == nil {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "{") {
			return line, true
		}
		depth := CountJSONDepth(line)
		if depth <= 0 {
			return line, true
		}
		acc = &jsonAccumulator{depth: depth}
		acc.buf.WriteString(line)
		acc.buf.WriteString("\n")
		p.pending[source] = acc
		return "", false
	}

	acc.buf.WriteString(line)
	acc.buf.WriteString("\n")
	acc.depth += CountJSONDepth(line)
	if acc.depth > 0 && acc.buf.Len() <= maxPendingJSON {
		return "", false
	}
	delete(p.pending, source)
	return strings.TrimSpace(acc.buf.String()), true
}

func (p *Processor) processEntry(source, text string) *ProcessResult {
	if raw, ok := ParseJSONObject(text); ok {
		return p.processJSON(source, raw)
	}

	content := sanitizeLogMessage(strings.TrimSpace(text))
	level := p.classifier.Classify(content)
	return &ProcessResult{
		Source: source,
		Kind:   KindForLevel(level),
		Data: map[string]any{
			"content": Truncate(content, MaxContentLength),
			"level":   levelValue(level),
		},
		Level: level,
	}
}

func (p *Processor) processJSON(source string, raw map[string]any) *ProcessResult {
	level, explicit := ExtractLevel(raw)
	if !explicit {
		if msg := ExtractMessage(raw); msg != "" {
			level = p.classifier.Classify(msg)
		}
	}
	kind := ExtractKind(raw)
	if kind == "" {
		kind = KindForLevel(level)
	}
	return &ProcessResult{
		Source: source,
		Kind:   kind,
		Data:   maps.Clone(raw),
		Level:  level,
	}
}

// CountJSONDepth counts the net change in JSON nesting depth for a line.
func CountJSONDepth(line string) int {
	depth := 0
	inString := false
	escaped := false

	for _, char := range line {
		if escaped {
			escaped = false
			continue
		}

		switch char {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
			}
		}
	}

	return depth
}

// SetSourceName updates the source name used for untagged lines.
func (p *Processor) SetSourceName(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sourceName = name
}
